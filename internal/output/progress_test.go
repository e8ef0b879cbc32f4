package output

import (
	"bytes"
	"strings"
	"testing"
)

func TestBar(t *testing.T) {
	var buf bytes.Buffer
	bar := newBar(&buf, 4, true)

	for i := 0; i < 3; i++ {
		bar.Increment()
	}
	if got := bar.Done(); got != 3 {
		t.Errorf("Done() = %d, want 3", got)
	}
	if got := bar.percent(); got != 0.75 {
		t.Errorf("percent() = %v, want 0.75", got)
	}
	if !strings.Contains(buf.String(), "3/4") {
		t.Errorf("bar output missing counter\nGot: %q", buf.String())
	}

	bar.Println("Tile 1/0/0: processed, written")
	if !strings.Contains(buf.String(), "Tile 1/0/0: processed, written\n") {
		t.Errorf("message not printed\nGot: %q", buf.String())
	}

	// never goes past the total
	bar.Increment()
	bar.Increment()
	if got := bar.Done(); got != 4 {
		t.Errorf("Done() = %d, want 4", got)
	}

	bar.Finish()
	if !strings.HasSuffix(buf.String(), "\n") {
		t.Error("Finish() should end the bar line")
	}
}

func TestBarDisabled(t *testing.T) {
	tests := []struct {
		name    string
		total   int
		enabled bool
	}{
		{name: "disabled", total: 10, enabled: false},
		{name: "nothing to do", total: 0, enabled: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			bar := newBar(&buf, tt.total, tt.enabled)
			bar.Increment()
			bar.Println("hello")
			bar.Finish()

			if buf.String() != "hello\n" {
				t.Errorf("output = %q, want only the message", buf.String())
			}
		})
	}
}

func TestNewBarRequiresTerminal(t *testing.T) {
	var buf bytes.Buffer
	bar := NewBar(&buf, 10, true)
	bar.Increment()

	if buf.Len() != 0 {
		t.Errorf("bar drew on a non-terminal writer: %q", buf.String())
	}
}
