package output

import (
	"fmt"
	"io"
	"strings"
	"sync"
)

// ProgressBar shows how many of a known number of items are done.
// Writes are throttled to whole-percent changes.
type ProgressBar struct {
	mu      sync.Mutex
	w       io.Writer
	title   string
	unit    string
	total   int64
	current int64
	width   int
	shown   int
}

// NewProgressBar creates a progress bar counting unit (e.g. "frames").
func NewProgressBar(w io.Writer, title, unit string, total int64) *ProgressBar {
	return &ProgressBar{w: w, title: title, unit: unit, total: total, width: 40, shown: -1}
}

// Increment adds n to the current count.
func (p *ProgressBar) Increment(n int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.current += n
	if pct := p.percent(); pct != p.shown {
		p.render()
	}
}

// Finish renders the final state and ends the line.
func (p *ProgressBar) Finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.render()
	fmt.Fprintln(p.w)
}

func (p *ProgressBar) percent() int {
	if p.total <= 0 {
		return -1
	}
	pct := int(p.current * 100 / p.total)
	if pct > 100 {
		pct = 100
	}
	return pct
}

func (p *ProgressBar) render() {
	pct := p.percent()
	p.shown = pct
	if pct < 0 {
		fmt.Fprintf(p.w, "\r%s %d %s", p.title, p.current, p.unit)
		return
	}
	filled := p.width * pct / 100
	fmt.Fprintf(p.w, "\r%s [%s%s] %3d%% (%d/%d %s)",
		p.title,
		strings.Repeat("#", filled),
		strings.Repeat(".", p.width-filled),
		pct, p.current, p.total, p.unit)
}
