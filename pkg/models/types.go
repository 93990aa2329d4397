package models

import (
	"fmt"
	"strings"
	"time"
)

// JobStatus is the lifecycle state of a provider-side generation job
type JobStatus string

const (
	StatusPending    JobStatus = "pending"
	StatusProcessing JobStatus = "processing"
	StatusSucceeded  JobStatus = "succeeded"
	StatusFailed     JobStatus = "failed"
	StatusCanceled   JobStatus = "canceled"
	// StatusTimedOut is never reported by a provider. The poller records it when
	// its attempt budget runs out before a natural terminal status.
	StatusTimedOut JobStatus = "timed_out"
)

// IsTerminal returns true if no further status transitions are expected
func (s JobStatus) IsTerminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusCanceled, StatusTimedOut:
		return true
	default:
		return false
	}
}

// Direction names a cube-map face or an arbitrary exploration heading
type Direction string

const (
	DirectionFront Direction = "front"
	DirectionBack  Direction = "back"
	DirectionLeft  Direction = "left"
	DirectionRight Direction = "right"
	DirectionUp    Direction = "up"
	DirectionDown  Direction = "down"
)

// CanonicalDirections lists the six cube-map faces in their fixed order
var CanonicalDirections = []Direction{
	DirectionFront,
	DirectionBack,
	DirectionLeft,
	DirectionRight,
	DirectionUp,
	DirectionDown,
}

// IsCanonical reports whether d is one of the six cube-map faces
func (d Direction) IsCanonical() bool {
	for _, c := range CanonicalDirections {
		if d == c {
			return true
		}
	}
	return false
}

// ParseDirection normalizes user input into a Direction
func ParseDirection(s string) (Direction, error) {
	d := Direction(strings.ToLower(strings.TrimSpace(s)))
	if d == "" {
		return "", &ValidationError{Field: "direction", Reason: "must not be empty"}
	}
	return d, nil
}

// Resolution is a provider-agnostic output size class
type Resolution string

const (
	ResolutionSD  Resolution = "sd"
	ResolutionHD  Resolution = "hd"
	ResolutionUHD Resolution = "uhd"
)

// Dimensions returns the square pixel size used for a resolution class
func (r Resolution) Dimensions() (int, int, error) {
	switch r {
	case ResolutionSD:
		return 512, 512, nil
	case ResolutionHD:
		return 1024, 1024, nil
	case ResolutionUHD:
		return 2048, 2048, nil
	default:
		return 0, 0, fmt.Errorf("unknown resolution class %q", r)
	}
}

// GenerationParams are the provider-specific tunables of a request
type GenerationParams struct {
	GuidanceScale  float64    `json:"guidance_scale" toml:"guidance_scale"`
	Steps          int        `json:"steps" toml:"steps"`
	Resolution     Resolution `json:"resolution" toml:"resolution"`
	NegativePrompt string     `json:"negative_prompt,omitempty" toml:"negative_prompt"`
}

// GenerationRequest is one image to be produced by a provider
type GenerationRequest struct {
	Prompt    string
	Params    GenerationParams
	Direction *Direction // nil for single-shot requests
}

const (
	// MaxPromptLength bounds prompt text sent to a provider
	MaxPromptLength = 4000
	// MaxGuidanceScale is the upper bound accepted for classifier-free guidance
	MaxGuidanceScale = 30.0
)

// Validate rejects requests that no provider attempt could satisfy
func (r GenerationRequest) Validate() error {
	prompt := strings.TrimSpace(r.Prompt)
	if prompt == "" {
		return &ValidationError{Field: "prompt", Reason: "must not be empty"}
	}
	if len(prompt) > MaxPromptLength {
		return &ValidationError{Field: "prompt", Reason: fmt.Sprintf("exceeds %d characters (got %d)", MaxPromptLength, len(prompt))}
	}
	if r.Params.Steps < 1 {
		return &ValidationError{Field: "steps", Reason: "must be at least 1"}
	}
	if r.Params.GuidanceScale < 0 || r.Params.GuidanceScale > MaxGuidanceScale {
		return &ValidationError{Field: "guidance_scale", Reason: fmt.Sprintf("must be between 0 and %.0f", MaxGuidanceScale)}
	}
	if _, _, err := r.Params.Resolution.Dimensions(); err != nil {
		return &ValidationError{Field: "resolution", Reason: err.Error()}
	}
	return nil
}

// DirectionLabel returns the request direction or "single" for one-shot requests
func (r GenerationRequest) DirectionLabel() string {
	if r.Direction == nil {
		return "single"
	}
	return string(*r.Direction)
}

// GenerationJob is the locally tracked view of one provider-side job
type GenerationJob struct {
	ID        string    `json:"id"`
	ModelID   string    `json:"model_id"`
	Direction string    `json:"direction"`
	Status    JobStatus `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Output    string    `json:"output,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// Vec3 is a point or unit direction in world space
type Vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// DirectionalView is a single generated image attached to a heading
type DirectionalView struct {
	ID        string    `json:"id"`
	Direction Direction `json:"direction"`
	Asset     string    `json:"asset"`
	Position  Vec3      `json:"position"`
}

// GeneratedWorld is a cube map assembled from per-direction views
type GeneratedWorld struct {
	ID        string                        `json:"id"`
	Prompt    string                        `json:"prompt"`
	Views     map[Direction]DirectionalView `json:"views"`
	Center    Vec3                          `json:"center"`
	CreatedAt time.Time                     `json:"created_at"`
}

// View returns the view stored for a direction
func (w *GeneratedWorld) View(d Direction) (DirectionalView, bool) {
	if w == nil {
		return DirectionalView{}, false
	}
	v, ok := w.Views[d]
	return v, ok
}

// PollPolicy controls how a single job is polled to completion
type PollPolicy struct {
	BaseInterval time.Duration
	GrowthFactor float64
	MaxInterval  time.Duration
	MaxAttempts  int
}

// Interval returns the wait before the given zero-based status query:
// min(BaseInterval * GrowthFactor^attempt, MaxInterval).
func (p PollPolicy) Interval(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	wait := float64(p.BaseInterval)
	for i := 0; i < attempt; i++ {
		wait *= p.GrowthFactor
		if p.MaxInterval > 0 && wait >= float64(p.MaxInterval) {
			return p.MaxInterval
		}
	}
	if p.MaxInterval > 0 && time.Duration(wait) > p.MaxInterval {
		return p.MaxInterval
	}
	return time.Duration(wait)
}

// RetryPolicy controls whole-operation retries and their watchdogs
type RetryPolicy struct {
	MaxAttempts      int           // attempts per operation, including the first
	BaseDelay        time.Duration // delay unit for exponential backoff
	Multiplier       float64       // backoff factor, 2 for true doubling
	MaxDelay         time.Duration // ceiling for a single backoff wait
	MaxTotalAttempts int           // attempt budget shared by one public operation, 0 = unbounded
	StallWindow      time.Duration // heartbeat window
	HardTimeout      time.Duration // absolute ceiling per attempt
}

// Backoff returns the wait after the given one-based failed attempt:
// BaseDelay * Multiplier^failed, capped at MaxDelay.
func (p RetryPolicy) Backoff(failed int) time.Duration {
	mult := p.Multiplier
	if mult <= 0 {
		mult = 2
	}
	delay := float64(p.BaseDelay)
	for i := 0; i < failed; i++ {
		delay *= mult
		if p.MaxDelay > 0 && delay >= float64(p.MaxDelay) {
			return p.MaxDelay
		}
	}
	return time.Duration(delay)
}

// BatchPlan is an ordered list of direction groups
type BatchPlan struct {
	Groups [][]Direction
}

// DefaultBatchPlan splits the cube map into two groups of three faces
func DefaultBatchPlan() BatchPlan {
	return BatchPlan{Groups: [][]Direction{
		{DirectionFront, DirectionBack, DirectionLeft},
		{DirectionRight, DirectionUp, DirectionDown},
	}}
}

// Size returns the number of directions across all groups
func (p BatchPlan) Size() int {
	n := 0
	for _, g := range p.Groups {
		n += len(g)
	}
	return n
}

// SessionStats tracks statistics for a generation session
type SessionStats struct {
	StartTime       time.Time
	EndTime         time.Time
	Worlds          int
	Previews        int
	Explorations    int
	SuccessCount    int
	FailureCount    int
	TotalDuration   time.Duration
	AverageDuration time.Duration
}
