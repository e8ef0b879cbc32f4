package executor

import (
	"fmt"
	"strings"
	"time"
)

// CountByState returns how many futures are in each state
func CountByState(futures []*Future) map[State]int {
	counts := make(map[State]int)
	for _, f := range futures {
		counts[f.State()]++
	}
	return counts
}

// Summary describes the outcome of a set of futures
type Summary struct {
	Total       int
	Completed   int
	Failed      int
	Cancelled   int
	Unfinished  int
	SuccessRate float64
	AvgDuration time.Duration
	MaxDuration time.Duration
	MinDuration time.Duration
}

// Summarize creates a summary of the futures.
// Durations only cover futures that ran to completion or failure.
func Summarize(futures []*Future) Summary {
	counts := CountByState(futures)
	s := Summary{
		Total:       len(futures),
		Completed:   counts[StateCompleted],
		Failed:      counts[StateFailed],
		Cancelled:   counts[StateCancelled],
		Unfinished:  counts[StatePending] + counts[StateRunning],
		SuccessRate: SuccessRate(futures),
	}

	var total time.Duration
	var ran int
	for _, f := range futures {
		if st := f.State(); st != StateCompleted && st != StateFailed {
			continue
		}

		d := f.Duration()
		total += d
		if ran == 0 || d > s.MaxDuration {
			s.MaxDuration = d
		}
		if ran == 0 || d < s.MinDuration {
			s.MinDuration = d
		}
		ran++
	}

	if ran > 0 {
		s.AvgDuration = total / time.Duration(ran)
	}
	return s
}

// String returns a human-readable string representation of the summary
func (s Summary) String() string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("Total: %d, ", s.Total))
	sb.WriteString(fmt.Sprintf("Completed: %d, ", s.Completed))
	sb.WriteString(fmt.Sprintf("Failed: %d, ", s.Failed))
	sb.WriteString(fmt.Sprintf("Cancelled: %d", s.Cancelled))

	if s.Unfinished > 0 {
		sb.WriteString(fmt.Sprintf(", Unfinished: %d", s.Unfinished))
	}
	if s.Completed+s.Failed > 0 {
		sb.WriteString(fmt.Sprintf(", Avg: %s", s.AvgDuration.Round(time.Millisecond)))
		sb.WriteString(fmt.Sprintf(", Max: %s", s.MaxDuration.Round(time.Millisecond)))
		sb.WriteString(fmt.Sprintf(", Min: %s", s.MinDuration.Round(time.Millisecond)))
	}
	if s.Total > 0 {
		sb.WriteString(fmt.Sprintf(", Success: %.1f%%", s.SuccessRate))
	}

	return sb.String()
}

// SuccessRate returns the share of completed futures as a percentage (0.0 to 100.0)
func SuccessRate(futures []*Future) float64 {
	if len(futures) == 0 {
		return 0.0
	}
	return float64(CountByState(futures)[StateCompleted]) / float64(len(futures)) * 100.0
}
