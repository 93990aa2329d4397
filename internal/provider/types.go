package provider

import (
	"encoding/json"
	"strings"

	"github.com/lamim/previz/pkg/models"
)

// predictionRequest is the body of POST /predictions
type predictionRequest struct {
	Model string `json:"model"`
	Input Input  `json:"input"`
}

// prediction is the representation returned by both prediction endpoints
type prediction struct {
	ID        string          `json:"id"`
	Model     string          `json:"model"`
	Status    string          `json:"status"`
	Output    json.RawMessage `json:"output"`
	Error     json.RawMessage `json:"error"`
	CreatedAt string          `json:"created_at"`
}

// errorResponse represents an API error body
type errorResponse struct {
	Detail string `json:"detail"`
	Title  string `json:"title"`
	Error  string `json:"error"`
}

func (e errorResponse) message() string {
	for _, s := range []string{e.Detail, e.Error, e.Title} {
		if s != "" {
			return s
		}
	}
	return ""
}

// mapStatus normalizes provider status strings
func mapStatus(s string) (models.JobStatus, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "starting", "queued", "pending", "in_queue":
		return models.StatusPending, true
	case "processing", "running", "in_progress":
		return models.StatusProcessing, true
	case "succeeded", "completed", "success":
		return models.StatusSucceeded, true
	case "failed", "error":
		return models.StatusFailed, true
	case "canceled", "cancelled", "aborted":
		return models.StatusCanceled, true
	default:
		return models.StatusProcessing, false
	}
}

// decodeOutput extracts the first asset reference from a string or list output
func decodeOutput(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var single string
	if err := json.Unmarshal(raw, &single); err == nil {
		return strings.TrimSpace(single)
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		for _, s := range list {
			if s = strings.TrimSpace(s); s != "" {
				return s
			}
		}
	}
	return ""
}

// decodeMessage reads an error field that may be a string or an object
func decodeMessage(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}
