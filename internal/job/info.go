package job

import (
	"fmt"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

// ProcessInfo describes the outcome of one task
type ProcessInfo struct {
	// ID identifies the task, e.g. a tile as zoom/row/col
	ID string `json:"id" yaml:"id"`

	Processed  bool   `json:"processed" yaml:"processed"`
	ProcessMsg string `json:"process_msg" yaml:"process_msg"`
	Written    bool   `json:"written" yaml:"written"`
	WriteMsg   string `json:"write_msg" yaml:"write_msg"`

	Duration time.Duration `json:"duration" yaml:"duration"`
}

// String renders the record as a one-line message
func (p ProcessInfo) String() string {
	return fmt.Sprintf("%s: %s, %s", p.ID, p.ProcessMsg, p.WriteMsg)
}

// Summary aggregates a set of ProcessInfo records
type Summary struct {
	Total     int `json:"total" yaml:"total"`
	Processed int `json:"processed" yaml:"processed"`
	Written   int `json:"written" yaml:"written"`
	Skipped   int `json:"skipped" yaml:"skipped"`

	Mean time.Duration `json:"mean" yaml:"mean"`
	P50  time.Duration `json:"p50" yaml:"p50"`
	P90  time.Duration `json:"p90" yaml:"p90"`
	P99  time.Duration `json:"p99" yaml:"p99"`
	Max  time.Duration `json:"max" yaml:"max"`
}

// maxRecordable bounds the histogram at one hour, in microseconds
const maxRecordable = int64(time.Hour / time.Microsecond)

// Summarize counts outcomes and computes task duration percentiles
func Summarize(infos []ProcessInfo) Summary {
	s := Summary{Total: len(infos)}
	if len(infos) == 0 {
		return s
	}

	h := hdrhistogram.New(1, maxRecordable, 3)
	for _, info := range infos {
		if info.Processed {
			s.Processed++
		}
		if info.Written {
			s.Written++
		}
		if !info.Processed && !info.Written {
			s.Skipped++
		}

		us := min(max(info.Duration.Microseconds(), 1), maxRecordable)
		_ = h.RecordValue(us)
	}

	us := func(v int64) time.Duration {
		return time.Duration(v) * time.Microsecond
	}
	s.Mean = time.Duration(h.Mean() * float64(time.Microsecond))
	s.P50 = us(h.ValueAtQuantile(50))
	s.P90 = us(h.ValueAtQuantile(90))
	s.P99 = us(h.ValueAtQuantile(99))
	s.Max = us(h.Max())
	return s
}

// String returns a one-line summary
func (s Summary) String() string {
	return fmt.Sprintf("%d tiles: %d processed, %d written, %d skipped (p50 %s, p99 %s, max %s)",
		s.Total, s.Processed, s.Written, s.Skipped,
		s.P50.Round(time.Microsecond), s.P99.Round(time.Microsecond), s.Max.Round(time.Microsecond))
}
