package output

import (
	"errors"
	"io"
	"strings"
	"time"

	"github.com/aryankumar/tilebatch/internal/job"
	"github.com/aryankumar/tilebatch/internal/util"
)

// Format represents the output format type
type Format string

const (
	// FormatTable outputs data in a borderless table
	FormatTable Format = "table"
	// FormatJSON outputs data in JSON format
	FormatJSON Format = "json"
	// FormatYAML outputs data in YAML format
	FormatYAML Format = "yaml"
)

// ParseFormat validates an output format name; an empty name means table
func ParseFormat(name string) (Format, error) {
	switch f := Format(strings.ToLower(name)); f {
	case "":
		return FormatTable, nil
	case FormatTable, FormatJSON, FormatYAML:
		return f, nil
	default:
		return "", util.NewValidationError("output", name, "must be one of table, json, yaml")
	}
}

// Result is one record of a job run. Err is set for failed tiles.
type Result struct {
	Info job.ProcessInfo
	Err  error
}

// NewResult builds a Result from a job record. Failed records carry no ID;
// it is taken from the task error.
func NewResult(info job.ProcessInfo, err error) Result {
	if err != nil && info.ID == "" {
		var te *util.TaskError
		if errors.As(err, &te) {
			info.ID = te.ID
		}
	}
	return Result{Info: info, Err: err}
}

// Status returns failed, written, processed or skipped
func (r Result) Status() string {
	switch {
	case r.Err != nil:
		return "failed"
	case r.Info.Written:
		return "written"
	case r.Info.Processed:
		return "processed"
	default:
		return "skipped"
	}
}

// Formatter defines the interface for output formatting
type Formatter interface {
	// Format outputs a single data item to the writer
	Format(w io.Writer, data interface{}) error

	// FormatResults outputs the records of a job run followed by a summary
	FormatResults(w io.Writer, results []Result) error
}

// Option is a functional option for configuring formatters
type Option func(*Options)

// Options holds configuration for formatters
type Options struct {
	// NoColor disables color output
	NoColor bool

	// NoHeaders disables table headers
	NoHeaders bool

	// Wide adds the process and write messages
	Wide bool
}

// WithNoColor disables color output
func WithNoColor(noColor bool) Option {
	return func(o *Options) {
		o.NoColor = noColor
	}
}

// WithNoHeaders disables table headers
func WithNoHeaders(noHeaders bool) Option {
	return func(o *Options) {
		o.NoHeaders = noHeaders
	}
}

// WithWide enables wide output
func WithWide(wide bool) Option {
	return func(o *Options) {
		o.Wide = wide
	}
}

// NewFormatter creates a new formatter based on the specified format
func NewFormatter(format Format, opts ...Option) Formatter {
	options := &Options{}
	for _, opt := range opts {
		opt(options)
	}

	switch format {
	case FormatJSON:
		return NewJSONFormatter(options)
	case FormatYAML:
		return NewYAMLFormatter(options)
	case FormatTable:
		fallthrough
	default:
		return NewTableFormatter(options)
	}
}

// summarize aggregates the successful records and counts the failed ones
func summarize(results []Result) (job.Summary, int) {
	infos := make([]job.ProcessInfo, 0, len(results))
	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
			continue
		}
		infos = append(infos, r.Info)
	}
	return job.Summarize(infos), failed
}

// records converts results into plain maps for the JSON and YAML formatters
func records(results []Result) map[string]interface{} {
	tiles := make([]map[string]interface{}, len(results))
	for i, r := range results {
		item := map[string]interface{}{
			"tile":     r.Info.ID,
			"status":   r.Status(),
			"duration": r.Info.Duration.String(),
		}
		if r.Err != nil {
			item["error"] = r.Err.Error()
		} else {
			item["process_msg"] = r.Info.ProcessMsg
			item["write_msg"] = r.Info.WriteMsg
		}
		tiles[i] = item
	}

	s, failed := summarize(results)
	round := func(d time.Duration) string {
		return d.Round(time.Microsecond).String()
	}
	return map[string]interface{}{
		"tiles": tiles,
		"summary": map[string]interface{}{
			"total":     s.Total + failed,
			"processed": s.Processed,
			"written":   s.Written,
			"skipped":   s.Skipped,
			"failed":    failed,
			"p50":       round(s.P50),
			"p90":       round(s.P90),
			"p99":       round(s.P99),
			"max":       round(s.Max),
		},
	}
}
