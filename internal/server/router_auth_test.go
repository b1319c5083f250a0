package server

import (
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestProtectedRoutesRequireSessionToken(t *testing.T) {
	gin.SetMode(gin.TestMode)
	env := newTestEnvironment(t, "router_auth_missing")

	recorder := performRequest(env, http.MethodGet, "/tasks", "", "")
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected unauthorized status, got %d", recorder.Code)
	}
}

func TestProtectedRoutesRejectInvalidToken(t *testing.T) {
	gin.SetMode(gin.TestMode)
	env := newTestEnvironment(t, "router_auth_invalid")

	recorder := performRequest(env, http.MethodGet, "/tasks", "not-a-jwt", "")
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected unauthorized status, got %d", recorder.Code)
	}
}

func TestAccessTokenQueryFallback(t *testing.T) {
	gin.SetMode(gin.TestMode)
	env := newTestEnvironment(t, "router_auth_query")
	token := env.mintToken(t, "u1", "a@x.com")

	recorder := performRequest(env, http.MethodPost, "/tasks?access_token="+token, "", `{"title":"Via query"}`)
	if recorder.Code != http.StatusCreated {
		t.Fatalf("expected created status, got %d: %s", recorder.Code, recorder.Body.String())
	}
}

func TestHealthzIsPublic(t *testing.T) {
	gin.SetMode(gin.TestMode)
	env := newTestEnvironment(t, "router_healthz")

	recorder := performRequest(env, http.MethodGet, "/healthz", "", "")
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected ok status, got %d", recorder.Code)
	}
}

func TestRequestIDIsEchoedOnResponses(t *testing.T) {
	gin.SetMode(gin.TestMode)
	env := newTestEnvironment(t, "router_request_id")

	recorder := performRequest(env, http.MethodGet, "/healthz", "", "")
	if recorder.Header().Get(requestIDHeader) == "" {
		t.Fatal("expected generated request id header")
	}
}
