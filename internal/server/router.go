package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/taskhub/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/taskhub/backend/internal/suggest"
	"github.com/MarcoPoloResearchLab/taskhub/backend/internal/tasks"
	"github.com/MarcoPoloResearchLab/taskhub/backend/internal/users"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	identityContextKey  = "taskhub_identity"
	requestIDContextKey = "taskhub_request_id"

	heartbeatInterval = 25 * time.Second
)

var (
	errMissingSessionValidator = errors.New("session validator dependency required")
	errMissingResolver         = errors.New("identity resolver dependency required")
	errMissingTasksService     = errors.New("tasks service dependency required")
	errMissingGenerator        = errors.New("suggestion generator dependency required")
	errInvalidAuthorization    = errors.New("authorization header missing or invalid")
)

// SessionValidator validates provider-issued session tokens.
type SessionValidator interface {
	ValidateToken(token string) (auth.SessionClaims, error)
}

// Generator produces raw suggestion text for a topic.
type Generator interface {
	Generate(ctx context.Context, topic string) (string, error)
}

// Dependencies wires the HTTP surface to its collaborators.
type Dependencies struct {
	SessionValidator SessionValidator
	Resolver         *users.Resolver
	TasksService     *tasks.Service
	Generator        Generator
	Dispatcher       *TaskEventDispatcher
	IDProvider       IDProvider
	Logger           *zap.Logger
}

// NewHTTPHandler builds the Gin router for the task API.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.SessionValidator == nil {
		return nil, errMissingSessionValidator
	}
	if deps.Resolver == nil {
		return nil, errMissingResolver
	}
	if deps.TasksService == nil {
		return nil, errMissingTasksService
	}
	if deps.Generator == nil {
		return nil, errMissingGenerator
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	dispatcher := deps.Dispatcher
	if dispatcher == nil {
		dispatcher = NewTaskEventDispatcher()
	}
	idProvider := deps.IDProvider
	if idProvider == nil {
		idProvider = NewUUIDProvider()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestIDMiddleware(idProvider))
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		sessions:     deps.SessionValidator,
		resolver:     deps.Resolver,
		tasksService: deps.TasksService,
		generator:    deps.Generator,
		dispatcher:   dispatcher,
		logger:       logger,
	}

	router.GET("/healthz", handler.handleHealthz)

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.GET("/tasks", handler.handleListTasks)
	protected.POST("/tasks", handler.handleCreateTask)
	protected.PATCH("/tasks/:id", handler.handleUpdateTask)
	protected.DELETE("/tasks/:id", handler.handleDeleteTask)
	protected.GET("/tasks/events", handler.handleTaskEvents)
	protected.POST("/suggestions", handler.handleSuggestions)

	return router, nil
}

type httpHandler struct {
	sessions     SessionValidator
	resolver     *users.Resolver
	tasksService *tasks.Service
	generator    Generator
	dispatcher   *TaskEventDispatcher
	logger       *zap.Logger
}

type taskPayload struct {
	ID        int64   `json:"id"`
	Title     string  `json:"title"`
	Completed bool    `json:"completed"`
	Category  *string `json:"category"`
	UserID    int64   `json:"user_id"`
	CreatedAt string  `json:"created_at"`
}

func toTaskPayload(task tasks.Task) taskPayload {
	return taskPayload{
		ID:        task.ID,
		Title:     task.Title,
		Completed: task.Completed,
		Category:  task.Category,
		UserID:    task.UserID,
		CreatedAt: task.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func (h *httpHandler) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// authorizeRequest validates the session token and stashes the identity
// reference. Resolution against the store happens per handler, because read
// and write paths use different modes.
func (h *httpHandler) authorizeRequest(c *gin.Context) {
	token := bearerToken(c)
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	claims, err := h.sessions.ValidateToken(token)
	if err != nil {
		h.logger.Warn("session token validation failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(identityContextKey, users.NewIdentityRef(claims.UserID, claims.UserEmail))
	c.Next()
}

// bearerToken extracts the session token from the Authorization header, with
// a query fallback for EventSource clients that cannot set headers.
func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	}
	return strings.TrimSpace(c.Query("access_token"))
}

func (h *httpHandler) identityRef(c *gin.Context) (users.IdentityRef, bool) {
	value, ok := c.Get(identityContextKey)
	if !ok {
		return users.IdentityRef{}, false
	}
	ref, ok := value.(users.IdentityRef)
	return ref, ok
}

type listTasksResponse struct {
	Tasks      []taskPayload `json:"tasks"`
	Categories []string      `json:"categories"`
	Progress   int           `json:"progress"`
}

func (h *httpHandler) handleListTasks(c *gin.Context) {
	ref, ok := h.identityRef(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	user, err := h.resolver.Resolve(c.Request.Context(), ref)
	if err != nil {
		h.writeResolveError(c, err)
		return
	}

	items, err := h.tasksService.List(c.Request.Context(), user.ID)
	if err != nil {
		h.writeTaskError(c, err)
		return
	}

	response := listTasksResponse{
		Tasks:      make([]taskPayload, 0, len(items)),
		Categories: tasks.DerivedCategories(items),
		Progress:   tasks.Progress(items),
	}
	for _, item := range items {
		response.Tasks = append(response.Tasks, toTaskPayload(item))
	}

	c.JSON(http.StatusOK, response)
}

type createTaskPayload struct {
	Title     string `json:"title"`
	Completed bool   `json:"completed"`
	Category  string `json:"category"`
}

func (h *httpHandler) handleCreateTask(c *gin.Context) {
	ref, ok := h.identityRef(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var request createTaskPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	if strings.TrimSpace(request.Title) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_title"})
		return
	}

	user, err := h.resolver.ResolveOrCreate(c.Request.Context(), ref)
	if err != nil {
		h.writeResolveError(c, err)
		return
	}

	created, err := h.tasksService.Create(c.Request.Context(), user.ID, request.Title, request.Completed, request.Category)
	if err != nil {
		h.writeTaskError(c, err)
		return
	}

	h.dispatcher.Publish(TaskEvent{
		UserID:    created.UserID,
		EventType: TaskEventCreated,
		TaskID:    created.ID,
		Timestamp: created.CreatedAt,
	})

	c.JSON(http.StatusCreated, toTaskPayload(created))
}

type updateTaskPayload struct {
	Completed *bool   `json:"completed"`
	Title     *string `json:"title"`
	Category  *string `json:"category"`
}

func (h *httpHandler) handleUpdateTask(c *gin.Context) {
	taskID, ok := parseTaskID(c)
	if !ok {
		return
	}

	var request updateTaskPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	updated, err := h.tasksService.Update(c.Request.Context(), taskID, tasks.Patch{
		Completed: request.Completed,
		Title:     request.Title,
		Category:  request.Category,
	})
	if err != nil {
		h.writeTaskError(c, err)
		return
	}

	h.dispatcher.Publish(TaskEvent{
		UserID:    updated.UserID,
		EventType: TaskEventUpdated,
		TaskID:    updated.ID,
		Timestamp: time.Now().UTC(),
	})

	c.JSON(http.StatusOK, toTaskPayload(updated))
}

func (h *httpHandler) handleDeleteTask(c *gin.Context) {
	taskID, ok := parseTaskID(c)
	if !ok {
		return
	}

	removed, err := h.tasksService.Delete(c.Request.Context(), taskID)
	if err != nil {
		h.writeTaskError(c, err)
		return
	}

	h.dispatcher.Publish(TaskEvent{
		UserID:    removed.UserID,
		EventType: TaskEventDeleted,
		TaskID:    removed.ID,
		Timestamp: time.Now().UTC(),
	})

	c.JSON(http.StatusOK, toTaskPayload(removed))
}

type suggestionsRequestPayload struct {
	Topic string `json:"topic"`
}

type suggestionsResponsePayload struct {
	Candidates []suggest.Candidate `json:"candidates"`
}

func (h *httpHandler) handleSuggestions(c *gin.Context) {
	var request suggestionsRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.Topic) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing_topic"})
		return
	}

	raw, err := h.generator.Generate(c.Request.Context(), request.Topic)
	if err != nil {
		h.writeSuggestError(c, err)
		return
	}

	candidates, err := suggest.ToCandidates(raw)
	if err != nil {
		h.writeSuggestError(c, err)
		return
	}

	c.JSON(http.StatusOK, suggestionsResponsePayload{Candidates: candidates})
}

func (h *httpHandler) handleTaskEvents(c *gin.Context) {
	ref, ok := h.identityRef(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	user, err := h.resolver.Resolve(c.Request.Context(), ref)
	if err != nil {
		h.writeResolveError(c, err)
		return
	}

	stream, cleanup := h.dispatcher.Subscribe(c.Request.Context(), user.ID)
	defer cleanup()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	c.Stream(func(w io.Writer) bool {
		select {
		case event, open := <-stream:
			if !open {
				return false
			}
			c.SSEvent(event.EventType, gin.H{
				"task_id":   event.TaskID,
				"timestamp": event.Timestamp.UTC().Format(time.RFC3339),
			})
			return true
		case <-heartbeat.C:
			c.SSEvent(realtimeEventHeartbeat, gin.H{
				"timestamp": time.Now().UTC().Format(time.RFC3339),
			})
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}

func parseTaskID(c *gin.Context) (int64, bool) {
	taskID, err := strconv.ParseInt(strings.TrimSpace(c.Param("id")), 10, 64)
	if err != nil || taskID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_task_id"})
		return 0, false
	}
	return taskID, true
}

func (h *httpHandler) writeResolveError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, users.ErrMissingIdentity), errors.Is(err, users.ErrIncompleteIdentity):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_identity"})
	case errors.Is(err, users.ErrUserNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "user_not_found"})
	default:
		h.logger.Error("identity resolution failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "store_failed"})
	}
}

func (h *httpHandler) writeTaskError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, tasks.ErrEmptyTitle):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_title"})
	case errors.Is(err, tasks.ErrEmptyPatch):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_patch"})
	case errors.Is(err, tasks.ErrTaskNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "task_not_found"})
	default:
		h.logger.Error("task operation failed", zap.Error(err))
		var serviceErr *tasks.ServiceError
		if errors.As(err, &serviceErr) {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "store_failed", "code": serviceErr.Code()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "store_failed"})
	}
}

func (h *httpHandler) writeSuggestError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, suggest.ErrMissingTopic):
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing_topic"})
	case errors.Is(err, suggest.ErrUpstreamFormat):
		h.logger.Error("suggestion output unparseable", zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "upstream_format_failed"})
	default:
		h.logger.Error("suggestion generation failed", zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "generation_failed"})
	}
}
