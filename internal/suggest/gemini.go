package suggest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	defaultCallTimeout = 30 * time.Second

	promptTemplate = `Generate a list of 5 concise, actionable tasks to learn about %q. ` +
		`Each task should include a category like "research", "practice", "reading", etc. ` +
		`Return ONLY a JSON array of objects in this format: ` +
		`[{"title": "Task title here", "category": "Category name here"}]`
)

var (
	// ErrMissingTopic indicates the caller supplied no topic to generate for.
	ErrMissingTopic = errors.New("suggest: topic required")
	// ErrUpstreamCall indicates the generative provider could not be reached
	// or refused the request.
	ErrUpstreamCall = errors.New("suggest: generative call failed")

	errMissingAPIKey   = errors.New("suggest: api key required")
	errMissingModel    = errors.New("suggest: model required")
	errMissingEndpoint = errors.New("suggest: endpoint required")
)

// GeneratorConfig bundles configuration for the Gemini client.
type GeneratorConfig struct {
	APIKey     string
	Model      string
	Endpoint   string
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// Generator produces raw suggestion text for a topic via the Gemini
// generateContent API. It is stateless; every call is independent and bounded
// by the HTTP client timeout so a slow generation never holds task CRUD
// traffic hostage.
type Generator struct {
	apiKey     string
	model      string
	endpoint   string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewGenerator constructs a Gemini-backed generator with validated configuration.
func NewGenerator(cfg GeneratorConfig) (*Generator, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errMissingAPIKey
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		return nil, errMissingModel
	}
	endpoint := strings.TrimRight(strings.TrimSpace(cfg.Endpoint), "/")
	if endpoint == "" {
		return nil, errMissingEndpoint
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultCallTimeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Generator{
		apiKey:     apiKey,
		model:      model,
		endpoint:   endpoint,
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

type generateRequest struct {
	Contents []generateContent `json:"contents"`
}

type generateContent struct {
	Parts []generatePart `json:"parts"`
}

type generatePart struct {
	Text string `json:"text"`
}

type generateResponse struct {
	Candidates []struct {
		Content struct {
			Parts []generatePart `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

// Generate returns the raw text emitted by the model for the topic. Callers
// normalize it through ToCandidates; nothing is persisted here.
func (g *Generator) Generate(ctx context.Context, topic string) (string, error) {
	trimmedTopic := strings.TrimSpace(topic)
	if trimmedTopic == "" {
		return "", ErrMissingTopic
	}

	payload, err := json.Marshal(generateRequest{
		Contents: []generateContent{
			{Parts: []generatePart{{Text: fmt.Sprintf(promptTemplate, trimmedTopic)}}},
		},
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUpstreamCall, err)
	}

	callURL := fmt.Sprintf("%s/models/%s:generateContent?key=%s",
		g.endpoint, url.PathEscape(g.model), url.QueryEscape(g.apiKey))
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, callURL, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUpstreamCall, err)
	}
	request.Header.Set("Content-Type", "application/json")

	response, err := g.httpClient.Do(request)
	if err != nil {
		g.logger.Error("gemini request failed", zap.String("model", g.model), zap.Error(err))
		return "", fmt.Errorf("%w: %v", ErrUpstreamCall, err)
	}
	defer response.Body.Close()

	body, err := io.ReadAll(io.LimitReader(response.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUpstreamCall, err)
	}
	if response.StatusCode != http.StatusOK {
		g.logger.Error("gemini returned non-ok status",
			zap.String("model", g.model),
			zap.Int("status", response.StatusCode))
		return "", fmt.Errorf("%w: status %d", ErrUpstreamCall, response.StatusCode)
	}

	var parsed generateResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("%w: %v", ErrUpstreamFormat, err)
	}
	if len(parsed.Candidates) == 0 || len(parsed.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("%w: response carries no candidate text", ErrUpstreamFormat)
	}

	return parsed.Candidates[0].Content.Parts[0].Text, nil
}
