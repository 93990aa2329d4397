package progress

import (
	"io"

	"github.com/schollz/progressbar/v3"
)

// BarSink renders progress on a terminal bar scaled to 0-100
type BarSink struct {
	bar *progressbar.ProgressBar
}

// NewBarSink creates a bar writing to w
func NewBarSink(w io.Writer, description string) *BarSink {
	bar := progressbar.NewOptions(100,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription(description),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetPredictTime(false),
		progressbar.OptionFullWidth(),
	)
	return &BarSink{bar: bar}
}

// Func returns the callback driving the bar
func (b *BarSink) Func() Func {
	return func(percent float64, status string) {
		b.bar.Describe(status)
		_ = b.bar.Set(int(percent))
	}
}

// Finish completes the bar
func (b *BarSink) Finish() {
	_ = b.bar.Finish()
}
