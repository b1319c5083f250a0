package server

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/taskhub/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/taskhub/backend/internal/tasks"
	"github.com/MarcoPoloResearchLab/taskhub/backend/internal/users"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const testSigningSecret = "router-test-secret"

type stubGenerator struct {
	text string
	err  error
}

func (g *stubGenerator) Generate(_ context.Context, _ string) (string, error) {
	if g.err != nil {
		return "", g.err
	}
	return g.text, nil
}

type testEnvironment struct {
	handler    http.Handler
	db         *gorm.DB
	sessions   *auth.SessionManager
	generator  *stubGenerator
	dispatcher *TaskEventDispatcher
}

func newTestEnvironment(t *testing.T, name string) *testEnvironment {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&users.User{}, &tasks.Task{}); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}

	resolver, err := users.NewResolver(users.ResolverConfig{Database: db})
	if err != nil {
		t.Fatalf("failed to create resolver: %v", err)
	}
	tasksService, err := tasks.NewService(tasks.ServiceConfig{Database: db})
	if err != nil {
		t.Fatalf("failed to create tasks service: %v", err)
	}
	sessions, err := auth.NewSessionManager(auth.SessionManagerConfig{
		SigningSecret: []byte(testSigningSecret),
		Issuer:        "taskhub-auth",
		TokenTTL:      time.Hour,
	})
	if err != nil {
		t.Fatalf("failed to create session manager: %v", err)
	}

	generator := &stubGenerator{}
	dispatcher := NewTaskEventDispatcher()

	handler, err := NewHTTPHandler(Dependencies{
		SessionValidator: sessions,
		Resolver:         resolver,
		TasksService:     tasksService,
		Generator:        generator,
		Dispatcher:       dispatcher,
		Logger:           zap.NewNop(),
	})
	if err != nil {
		t.Fatalf("failed to build handler: %v", err)
	}

	return &testEnvironment{
		handler:    handler,
		db:         db,
		sessions:   sessions,
		generator:  generator,
		dispatcher: dispatcher,
	}
}

func (env *testEnvironment) mintToken(t *testing.T, externalID, email string) string {
	t.Helper()
	token, _, err := env.sessions.IssueToken(externalID, email)
	if err != nil {
		t.Fatalf("failed to mint token: %v", err)
	}
	return token
}
