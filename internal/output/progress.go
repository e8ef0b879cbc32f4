package output

import (
	"fmt"
	"io"
	"sync"

	"github.com/charmbracelet/bubbles/progress"
)

const barWidth = 40

// Bar is a terminal progress bar over a known number of tiles
type Bar struct {
	mu      sync.Mutex
	w       io.Writer
	total   int
	done    int
	enabled bool
	model   progress.Model
}

// NewBar creates a progress bar for total tiles. The bar only draws when
// enabled is set and w is a terminal.
func NewBar(w io.Writer, total int, enabled bool) *Bar {
	return newBar(w, total, enabled && isTTY(w))
}

func newBar(w io.Writer, total int, enabled bool) *Bar {
	b := &Bar{w: w, total: total, enabled: enabled && total > 0}
	if b.enabled {
		b.model = progress.New(progress.WithDefaultGradient(), progress.WithWidth(barWidth))
	}
	return b
}

// Increment marks one more tile as done
func (b *Bar) Increment() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.done < b.total {
		b.done++
	}
	b.render()
}

// Done returns the number of finished tiles
func (b *Bar) Done() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.done
}

func (b *Bar) percent() float64 {
	if b.total <= 0 {
		return 1
	}
	return float64(b.done) / float64(b.total)
}

// Println prints msg above the bar
func (b *Bar) Println(msg string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.enabled {
		// clear the bar line first
		fmt.Fprint(b.w, "\r\x1b[2K")
	}
	fmt.Fprintln(b.w, msg)
	b.render()
}

// Finish ends the bar line
func (b *Bar) Finish() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.enabled {
		fmt.Fprintln(b.w)
		b.enabled = false
	}
}

func (b *Bar) render() {
	if !b.enabled {
		return
	}
	fmt.Fprintf(b.w, "\r%s %d/%d", b.model.ViewAs(b.percent()), b.done, b.total)
}
