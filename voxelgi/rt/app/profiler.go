package app

import (
	"bytes"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
)

// Profiler keeps the last CPU time of named scopes plus free-form counters. Scopes keep their first
// insertion order so tables and the overlay stay stable between frames.
type Profiler struct {
	Scopes     map[string]time.Duration
	StartTimes map[string]time.Time
	Counts     map[string]int
	Order      []string
	// detail marks scopes measured inside another scope; they are excluded from Total.
	detail map[string]bool
	now    func() time.Time
}

func NewProfiler() *Profiler {
	return &Profiler{
		Scopes:     make(map[string]time.Duration),
		StartTimes: make(map[string]time.Time),
		Counts:     make(map[string]int),
		detail:     make(map[string]bool),
		now:        time.Now,
	}
}

func (p *Profiler) BeginScope(name string) {
	p.StartTimes[name] = p.now()
	if _, seen := p.Scopes[name]; !seen {
		p.Order = append(p.Order, name)
		p.Scopes[name] = 0
	}
}

// SetDetail records a duration measured elsewhere that is part of another scope, e.g. the time
// the device spent on one stage during "submit".
func (p *Profiler) SetDetail(name string, d time.Duration) {
	if _, seen := p.Scopes[name]; !seen {
		p.Order = append(p.Order, name)
	}
	p.Scopes[name] = d
	p.detail[name] = true
}

func (p *Profiler) EndScope(name string) {
	if start, ok := p.StartTimes[name]; ok {
		p.Scopes[name] = p.now().Sub(start)
		delete(p.StartTimes, name)
	}
}

// Time runs fn inside a scope.
func (p *Profiler) Time(name string, fn func() error) error {
	p.BeginScope(name)
	defer p.EndScope(name)
	return fn()
}

func (p *Profiler) SetCount(name string, count int) {
	p.Counts[name] = count
}

func (p *Profiler) Reset() {
	for k := range p.Scopes {
		p.Scopes[k] = 0
	}
}

func (p *Profiler) Total() time.Duration {
	var total time.Duration
	for name, d := range p.Scopes {
		if !p.detail[name] {
			total += d
		}
	}
	return total
}

func (p *Profiler) label(name string) string {
	if p.detail[name] {
		return "  " + name
	}
	return name
}

func ms(d time.Duration) string {
	return fmt.Sprintf("%.2f ms", float64(d.Microseconds())/1000.0)
}

func (p *Profiler) sortedCounts() []string {
	keys := make([]string, 0, len(p.Counts))
	for k := range p.Counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Overlay is the compact text shown in the interactive window.
func (p *Profiler) Overlay() string {
	var sb strings.Builder
	for _, name := range p.Order {
		fmt.Fprintf(&sb, "%-12s %s\n", p.label(name), ms(p.Scopes[name]))
	}
	for _, k := range p.sortedCounts() {
		fmt.Fprintf(&sb, "%-12s %d\n", k, p.Counts[k])
	}
	return sb.String()
}

// Table renders the scopes and counters for the headless report.
func (p *Profiler) Table() string {
	var buf bytes.Buffer
	table := tablewriter.NewWriter(&buf)
	table.SetAutoFormatHeaders(false)
	table.SetAutoWrapText(false)
	table.SetHeader([]string{"Stage", "CPU time", "% of frame"})
	total := p.Total()
	for _, name := range p.Order {
		pct := 0.0
		if total > 0 {
			pct = 100 * float64(p.Scopes[name]) / float64(total)
		}
		table.Append([]string{p.label(name), ms(p.Scopes[name]), fmt.Sprintf("%02.1f %%", pct)})
	}
	table.SetFooter([]string{"", "TOTAL", ms(total)})
	table.Render()

	if len(p.Counts) > 0 {
		counts := tablewriter.NewWriter(&buf)
		counts.SetAutoFormatHeaders(false)
		counts.SetHeader([]string{"Counter", "Value"})
		for _, k := range p.sortedCounts() {
			counts.Append([]string{k, fmt.Sprintf("%d", p.Counts[k])})
		}
		counts.Render()
	}
	return buf.String()
}
