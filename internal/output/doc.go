// Package output renders job results for the command line.
//
// Results can be printed as a borderless table, JSON or YAML. The table
// formatter colors statuses when writing to a terminal and ends with a
// summary line carrying tile counts and duration percentiles:
//
//	formatter := output.NewFormatter(output.FormatTable, output.WithWide(true))
//	formatter.FormatResults(os.Stdout, results)
//
// Bar draws a progress bar on a terminal while a job runs. It is a no-op
// when the writer is not a terminal or when it is disabled.
package output
