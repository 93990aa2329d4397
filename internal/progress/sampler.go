package progress

import (
	"log/slog"
	"strings"
	"sync"
)

// Sampler suppresses repetitive progress logs while preserving signal
// when stages or percentage buckets change.
type Sampler struct {
	mu         sync.Mutex
	bucketSize float64
	lastStage  string
	lastBucket int
}

// NewSampler constructs a sampler that emits when the percent crosses bucket
// boundaries (default 10%) or when the stage changes
func NewSampler(bucketSize float64) *Sampler {
	if bucketSize <= 0 {
		bucketSize = 10
	}
	return &Sampler{bucketSize: bucketSize, lastBucket: -1}
}

// ShouldLog reports whether a progress event should be logged
func (s *Sampler) ShouldLog(percent float64, status string) bool {
	if s == nil {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	emit := false
	if strings.HasPrefix(status, StagePrefix) {
		stage := strings.TrimSpace(strings.TrimPrefix(status, StagePrefix))
		if stage != s.lastStage {
			s.lastStage = stage
			s.lastBucket = -1
			emit = true
		}
	}
	bucket := int(percent / s.bucketSize)
	if percent >= 100 {
		bucket = int(100 / s.bucketSize)
	}
	if bucket > s.lastBucket {
		s.lastBucket = bucket
		emit = true
	}
	return emit
}

// LogFunc returns a Func that writes sampled progress lines to logger
func LogFunc(logger *slog.Logger, sampler *Sampler) Func {
	return func(percent float64, status string) {
		if sampler.ShouldLog(percent, status) {
			logger.Info("Progress", "percent", int(percent), "status", status)
		}
	}
}

