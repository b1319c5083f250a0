package users

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func openTestDB(t *testing.T, name string) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&User{}); err != nil {
		t.Fatalf("failed to migrate user schema: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	// Single connection, as in production, so concurrent resolutions race on
	// the unique index rather than on sqlite's file lock.
	sqlDB.SetMaxOpenConns(1)
	return db
}

func newTestResolver(t *testing.T, db *gorm.DB) *Resolver {
	t.Helper()
	resolver, err := NewResolver(ResolverConfig{
		Database: db,
		Clock: func() time.Time {
			return time.Unix(1, 0)
		},
	})
	if err != nil {
		t.Fatalf("failed to create resolver: %v", err)
	}
	return resolver
}

func TestResolveOrCreateIsIdempotent(t *testing.T) {
	db := openTestDB(t, "resolver_idempotent")
	resolver := newTestResolver(t, db)
	ref := NewIdentityRef("u1", "a@x.com")

	first, err := resolver.ResolveOrCreate(context.Background(), ref)
	if err != nil {
		t.Fatalf("first resolve failed: %v", err)
	}
	if first.ID == 0 {
		t.Fatal("expected generated user id")
	}

	second, err := resolver.ResolveOrCreate(context.Background(), ref)
	if err != nil {
		t.Fatalf("second resolve failed: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("expected same user id on repeat resolution, got %d then %d", first.ID, second.ID)
	}

	var count int64
	if err := db.Model(&User{}).Count(&count).Error; err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected exactly one user row, got %d", count)
	}
}

func TestResolveStrictNeverCreates(t *testing.T) {
	db := openTestDB(t, "resolver_strict")
	resolver := newTestResolver(t, db)

	_, err := resolver.Resolve(context.Background(), NewIdentityRef("unknown", "nobody@x.com"))
	if !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}

	var count int64
	if err := db.Model(&User{}).Count(&count).Error; err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 0 {
		t.Fatalf("strict mode must not insert, found %d rows", count)
	}
}

func TestResolveRequiresIdentityReference(t *testing.T) {
	db := openTestDB(t, "resolver_empty_ref")
	resolver := newTestResolver(t, db)

	if _, err := resolver.Resolve(context.Background(), NewIdentityRef("  ", "")); !errors.Is(err, ErrMissingIdentity) {
		t.Fatalf("expected ErrMissingIdentity, got %v", err)
	}
	if _, err := resolver.ResolveOrCreate(context.Background(), IdentityRef{}); !errors.Is(err, ErrMissingIdentity) {
		t.Fatalf("expected ErrMissingIdentity, got %v", err)
	}
}

func TestResolveOrCreateRequiresBothFields(t *testing.T) {
	db := openTestDB(t, "resolver_incomplete")
	resolver := newTestResolver(t, db)

	_, err := resolver.ResolveOrCreate(context.Background(), NewIdentityRef("u1", ""))
	if !errors.Is(err, ErrIncompleteIdentity) {
		t.Fatalf("expected ErrIncompleteIdentity, got %v", err)
	}
}

func TestResolveMatchesByEitherField(t *testing.T) {
	db := openTestDB(t, "resolver_either")
	resolver := newTestResolver(t, db)

	created, err := resolver.ResolveOrCreate(context.Background(), NewIdentityRef("u1", "a@x.com"))
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	byHandle, err := resolver.Resolve(context.Background(), NewIdentityRef("u1", ""))
	if err != nil || byHandle.ID != created.ID {
		t.Fatalf("lookup by external id failed: id=%d err=%v", byHandle.ID, err)
	}

	byEmail, err := resolver.Resolve(context.Background(), NewIdentityRef("", "a@x.com"))
	if err != nil || byEmail.ID != created.ID {
		t.Fatalf("lookup by email failed: id=%d err=%v", byEmail.ID, err)
	}
}

func TestResolveOrCreateReusesRowMatchedByEmail(t *testing.T) {
	db := openTestDB(t, "resolver_email_drift")
	resolver := newTestResolver(t, db)

	created, err := resolver.ResolveOrCreate(context.Background(), NewIdentityRef("u1", "a@x.com"))
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	// Same email asserted under a different handle resolves to the existing
	// row, first match wins; no second row is inserted.
	drifted, err := resolver.ResolveOrCreate(context.Background(), NewIdentityRef("u2", "a@x.com"))
	if err != nil {
		t.Fatalf("drifted resolve failed: %v", err)
	}
	if drifted.ID != created.ID {
		t.Fatalf("expected existing row, got id %d want %d", drifted.ID, created.ID)
	}

	var count int64
	if err := db.Model(&User{}).Count(&count).Error; err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected one user row, got %d", count)
	}
}

func TestResolveOrCreateSurvivesConcurrentInserts(t *testing.T) {
	db := openTestDB(t, "resolver_race")
	resolver := newTestResolver(t, db)
	ref := NewIdentityRef("race-user", "race@x.com")

	const racers = 8
	results := make([]int64, racers)
	failures := make([]error, racers)

	var wg sync.WaitGroup
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			user, err := resolver.ResolveOrCreate(context.Background(), ref)
			results[slot] = user.ID
			failures[slot] = err
		}(i)
	}
	wg.Wait()

	for slot, err := range failures {
		if err != nil {
			t.Fatalf("racer %d failed: %v", slot, err)
		}
	}
	for slot, id := range results {
		if id != results[0] {
			t.Fatalf("racer %d observed id %d, racer 0 observed %d", slot, id, results[0])
		}
	}

	var count int64
	if err := db.Model(&User{}).Count(&count).Error; err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected exactly one user row after race, got %d", count)
	}
}
