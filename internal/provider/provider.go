// Package provider defines the narrow capability the orchestration core needs
// from an inference backend, and an HTTP adapter for prediction-style APIs.
package provider

import (
	"context"

	"github.com/lamim/previz/pkg/models"
)

// Provider submits generation jobs and reports their status.
// Implementations must be safe for concurrent use.
type Provider interface {
	// CreateJob submits input to modelID and returns the provider job handle.
	// Malformed input or a backend rejection yields a *models.SubmissionError;
	// overload or network trouble yields a *models.TransientProviderError.
	CreateJob(ctx context.Context, modelID string, input Input) (string, error)

	// GetJobStatus returns the current state of a submitted job
	GetJobStatus(ctx context.Context, jobID string) (StatusResponse, error)
}

// Input is the provider-agnostic generation payload
type Input struct {
	Prompt            string  `json:"prompt"`
	NegativePrompt    string  `json:"negative_prompt,omitempty"`
	GuidanceScale     float64 `json:"guidance_scale,omitempty"`
	NumInferenceSteps int     `json:"num_inference_steps,omitempty"`
	Width             int     `json:"width,omitempty"`
	Height            int     `json:"height,omitempty"`
}

// StatusResponse is one observation of a job
type StatusResponse struct {
	Status models.JobStatus
	Output string // asset reference, set on success
	Error  string // provider message, set on failure
}

// InputFromRequest converts a validated request into provider input
func InputFromRequest(req models.GenerationRequest) (Input, error) {
	if err := req.Validate(); err != nil {
		return Input{}, err
	}
	width, height, err := req.Params.Resolution.Dimensions()
	if err != nil {
		return Input{}, &models.ValidationError{Field: "resolution", Reason: err.Error()}
	}
	return Input{
		Prompt:            req.Prompt,
		NegativePrompt:    req.Params.NegativePrompt,
		GuidanceScale:     req.Params.GuidanceScale,
		NumInferenceSteps: req.Params.Steps,
		Width:             width,
		Height:            height,
	}, nil
}
