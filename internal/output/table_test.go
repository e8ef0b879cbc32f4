package output

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/aryankumar/tilebatch/internal/job"
)

func TestTableFormatter_Format(t *testing.T) {
	tests := []struct {
		name     string
		data     interface{}
		contains []string
	}{
		{
			name:     "map data",
			data:     map[string]interface{}{"version": "dev", "go": "go1.25"},
			contains: []string{"KEY", "VALUE", "version", "dev"},
		},
		{
			name: "slice of maps",
			data: []map[string]interface{}{
				{"name": "item1", "count": 10},
				{"name": "item2", "count": 20},
			},
			contains: []string{"NAME", "COUNT", "item1", "20"},
		},
		{
			name:     "string data",
			data:     "simple string",
			contains: []string{"simple string"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			if err := NewTableFormatter(&Options{NoColor: true}).Format(&buf, tt.data); err != nil {
				t.Fatalf("Format() error = %v", err)
			}

			for _, substr := range tt.contains {
				if !strings.Contains(buf.String(), substr) {
					t.Errorf("Format() output missing %q\nGot: %s", substr, buf.String())
				}
			}
		})
	}
}

func TestTableFormatter_FormatResults(t *testing.T) {
	tests := []struct {
		name        string
		results     []Result
		opts        *Options
		contains    []string
		notContains []string
	}{
		{
			name:     "mixed results",
			results:  sampleResults(),
			opts:     &Options{NoColor: true},
			contains: []string{"TILE", "STATUS", "DURATION", "1/0/0", "written", "skipped", "failed", "Summary", "2 processed, 1 written, 1 skipped", "1 failed", "p50="},
		},
		{
			name:     "empty results",
			opts:     &Options{NoColor: true},
			contains: []string{"No tiles"},
		},
		{
			name:     "wide mode",
			results:  sampleResults(),
			opts:     &Options{NoColor: true, Wide: true},
			contains: []string{"MESSAGE", "output already exists, nothing written", "process failed on tile 1/0/3"},
		},
		{
			name:        "no headers",
			results:     sampleResults()[:1],
			opts:        &Options{NoColor: true, NoHeaders: true},
			contains:    []string{"1/0/0", "written"},
			notContains: []string{"TILE", "STATUS"},
		},
		{
			name: "long messages are truncated",
			results: []Result{{Info: job.ProcessInfo{
				ID:         "9/9/9",
				ProcessMsg: strings.Repeat("x", 100),
			}}},
			opts:     &Options{NoColor: true, Wide: true},
			contains: []string{"9/9/9", "..."},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			if err := NewTableFormatter(tt.opts).FormatResults(&buf, tt.results); err != nil {
				t.Fatalf("FormatResults() error = %v", err)
			}

			output := buf.String()
			for _, substr := range tt.contains {
				if !strings.Contains(output, substr) {
					t.Errorf("FormatResults() output missing %q\nGot: %s", substr, output)
				}
			}
			for _, substr := range tt.notContains {
				if strings.Contains(output, substr) {
					t.Errorf("FormatResults() output should not contain %q\nGot: %s", substr, output)
				}
			}
		})
	}
}

func TestTableFormatter_CreateTable(t *testing.T) {
	var buf bytes.Buffer
	table := NewTableFormatter(&Options{}).createTable(&buf)

	table.SetHeader([]string{"COL1", "COL2"})
	table.Append([]string{"val1", "val2"})
	table.Render()

	if strings.ContainsAny(buf.String(), "+|") {
		t.Error("table contains borders")
	}
}

func TestTableFormatter_FormatResultRow(t *testing.T) {
	formatter := NewTableFormatter(&Options{NoColor: true, Wide: true})
	colors := NewColorScheme(&bytes.Buffer{}, true)

	row := formatter.formatResultRow(Result{
		Info: job.ProcessInfo{ID: "2/1/1"},
		Err:  errors.New("connection refused"),
	}, colors)

	if len(row) != 4 {
		t.Fatalf("len(row) = %d, want 4", len(row))
	}
	if row[0] != "2/1/1" || row[1] != "failed" || row[3] != "connection refused" {
		t.Errorf("row = %q", row)
	}
}
