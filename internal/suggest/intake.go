package suggest

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrUpstreamFormat indicates structured provider output could not be parsed
// into the expected candidate shape. It is always surfaced; a failed parse
// must never present as an empty suggestion list.
var ErrUpstreamFormat = errors.New("suggest: upstream output not in expected shape")

// Candidate is an unpersisted proposed task awaiting explicit acceptance.
type Candidate struct {
	Title    string `json:"title"`
	Category string `json:"category,omitempty"`
}

type structuredItem struct {
	Title    string `json:"title"`
	Category string `json:"category"`
}

type structuredEnvelope struct {
	Tasks []structuredItem `json:"tasks"`
}

// ToCandidates normalizes raw model output into candidates. Output whose
// first character (after stripping markdown fences) opens a JSON array or
// object is treated as structured and must parse; anything else is split on
// newlines with blanks dropped. Both shapes yield the same candidate form.
func ToCandidates(raw string) ([]Candidate, error) {
	text := stripFences(strings.TrimSpace(raw))

	switch {
	case strings.HasPrefix(text, "["):
		var items []structuredItem
		if err := json.Unmarshal([]byte(text), &items); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUpstreamFormat, err)
		}
		return fromStructured(items)
	case strings.HasPrefix(text, "{"):
		var envelope structuredEnvelope
		if err := json.Unmarshal([]byte(text), &envelope); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUpstreamFormat, err)
		}
		if envelope.Tasks == nil {
			return nil, fmt.Errorf("%w: missing tasks array", ErrUpstreamFormat)
		}
		return fromStructured(envelope.Tasks)
	default:
		return fromLines(text), nil
	}
}

func fromStructured(items []structuredItem) ([]Candidate, error) {
	candidates := make([]Candidate, 0, len(items))
	for _, item := range items {
		title := strings.TrimSpace(item.Title)
		if title == "" {
			return nil, fmt.Errorf("%w: entry missing title", ErrUpstreamFormat)
		}
		candidates = append(candidates, Candidate{
			Title:    title,
			Category: strings.TrimSpace(item.Category),
		})
	}
	return candidates, nil
}

func fromLines(text string) []Candidate {
	candidates := make([]Candidate, 0)
	for _, line := range strings.Split(text, "\n") {
		title := strings.TrimSpace(line)
		if title == "" {
			continue
		}
		candidates = append(candidates, Candidate{Title: title})
	}
	return candidates
}

// stripFences removes a surrounding markdown code fence, which Gemini wraps
// around JSON output despite being asked not to.
func stripFences(text string) string {
	if !strings.HasPrefix(text, "```") {
		return text
	}
	trimmed := strings.TrimPrefix(text, "```")
	if newline := strings.Index(trimmed, "\n"); newline >= 0 {
		trimmed = trimmed[newline+1:]
	}
	trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
	return strings.TrimSpace(trimmed)
}
