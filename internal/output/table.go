package output

import (
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
)

// TableFormatter formats output as a borderless table
type TableFormatter struct {
	options *Options
}

// NewTableFormatter creates a new table formatter
func NewTableFormatter(opts *Options) *TableFormatter {
	if opts == nil {
		opts = &Options{}
	}
	return &TableFormatter{
		options: opts,
	}
}

// Format outputs a single data item as a table
func (f *TableFormatter) Format(w io.Writer, data interface{}) error {
	table := f.createTable(w)

	// Handle different data types
	switch v := data.(type) {
	case map[string]interface{}:
		return f.formatMap(table, v)
	case []map[string]interface{}:
		return f.formatMapSlice(table, v)
	case string:
		fmt.Fprintln(w, v)
		return nil
	default:
		// Fallback to simple string representation
		fmt.Fprintln(w, v)
		return nil
	}
}

// FormatResults outputs one row per tile followed by a summary line
func (f *TableFormatter) FormatResults(w io.Writer, results []Result) error {
	if len(results) == 0 {
		fmt.Fprintln(w, "No tiles")
		return nil
	}

	colors := NewColorScheme(w, f.options.NoColor)
	table := f.createTable(w)

	headers := []string{"TILE", "STATUS", "DURATION"}
	if f.options.Wide {
		headers = append(headers, "MESSAGE")
	}

	if !f.options.NoHeaders {
		if colors.Disabled {
			table.SetHeader(headers)
		} else {
			coloredHeaders := make([]string, len(headers))
			for i, h := range headers {
				coloredHeaders[i] = colors.Header(h)
			}
			table.SetHeader(coloredHeaders)
		}
	}

	for _, result := range results {
		table.Append(f.formatResultRow(result, colors))
	}

	table.Render()

	f.printSummary(w, results, colors)

	return nil
}

// formatResultRow formats a single result as a table row
func (f *TableFormatter) formatResultRow(result Result, colors *ColorScheme) []string {
	id := result.Info.ID
	if !colors.Disabled {
		id = colors.TileID(id)
	}

	status := result.Status()
	if !colors.Disabled {
		status = colors.ForStatus(status)("%s", status)
	}

	duration := result.Info.Duration.Round(time.Microsecond).String()
	if !colors.Disabled {
		duration = colors.Duration(duration)
	}

	row := []string{id, status, duration}

	if f.options.Wide {
		msg := fmt.Sprintf("%s, %s", result.Info.ProcessMsg, result.Info.WriteMsg)
		if result.Err != nil {
			msg = result.Err.Error()
		}
		if len(msg) > 80 {
			msg = msg[:77] + "..."
		}
		row = append(row, msg)
	}

	return row
}

// formatMap formats a map as a two-column table (key-value pairs)
func (f *TableFormatter) formatMap(table *tablewriter.Table, data map[string]interface{}) error {
	if !f.options.NoHeaders {
		table.SetHeader([]string{"KEY", "VALUE"})
	}

	for _, k := range slices.Sorted(maps.Keys(data)) {
		table.Append([]string{k, fmt.Sprintf("%v", data[k])})
	}

	table.Render()
	return nil
}

// formatMapSlice formats a slice of maps as a table
func (f *TableFormatter) formatMapSlice(table *tablewriter.Table, data []map[string]interface{}) error {
	if len(data) == 0 {
		return nil
	}

	// Extract headers from the first map
	var headers []string
	for _, k := range slices.Sorted(maps.Keys(data[0])) {
		headers = append(headers, strings.ToUpper(k))
	}

	if !f.options.NoHeaders {
		table.SetHeader(headers)
	}

	// Add rows
	for _, item := range data {
		var row []string
		for _, h := range headers {
			key := strings.ToLower(h)
			row = append(row, fmt.Sprintf("%v", item[key]))
		}
		table.Append(row)
	}

	table.Render()
	return nil
}

// createTable creates a borderless, tab-separated table
func (f *TableFormatter) createTable(w io.Writer) *tablewriter.Table {
	table := tablewriter.NewWriter(w)

	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("\t")
	table.SetNoWhiteSpace(true)

	return table
}

// printSummary prints outcome counts and duration percentiles
func (f *TableFormatter) printSummary(w io.Writer, results []Result, colors *ColorScheme) {
	summary, failed := summarize(results)

	fmt.Fprintln(w, "")
	fmt.Fprintf(w, "Summary: ")

	successText := fmt.Sprintf("%d processed, %d written, %d skipped", summary.Processed, summary.Written, summary.Skipped)
	if !colors.Disabled {
		successText = colors.Success(successText)
	}

	failedText := fmt.Sprintf("%d failed", failed)
	if !colors.Disabled && failed > 0 {
		failedText = colors.Error(failedText)
	}

	durationText := fmt.Sprintf("p50=%s p99=%s max=%s",
		summary.P50.Round(time.Microsecond), summary.P99.Round(time.Microsecond), summary.Max.Round(time.Microsecond))
	if !colors.Disabled {
		durationText = colors.Duration(durationText)
	}

	fmt.Fprintf(w, "%s, %s, %s\n", successText, failedText, durationText)
}
