package progress

import (
	"sync"
	"time"

	"github.com/pterm/pterm"

	"github.com/dhcgn/mail-export/stats"
)

// Bar is a terminal progress bar that follows the events of one stage.
// The total grows with every listed item, so it can start before the
// number of items is known.
type Bar struct {
	pb      *pterm.ProgressbarPrinter
	title   string
	mu      sync.Mutex
	enabled bool
	done    int
	total   int
}

// New creates a new progress bar if logLevel is "info".
func New(title string, total int, logLevel string) *Bar {
	bar := &Bar{
		title:   title,
		total:   total,
		enabled: logLevel == "info",
	}
	return bar
}

func (b *Bar) start() {
	if b.pb != nil {
		return
	}
	pb, _ := pterm.DefaultProgressbar.
		WithTotal(max(b.total, 1)).
		WithTitle(b.title).
		Start()
	b.pb = pb
}

// Observe advances the bar on finished items and grows it on listed ones.
func (b *Bar) Observe(evt stats.Event) {
	if !b.enabled {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	switch evt.Type {
	case stats.EventTypeListed:
		b.total++
		if b.pb != nil {
			b.pb.Total = b.total
		}
	case stats.EventTypeSaved, stats.EventTypeConverted, stats.EventTypeIncluded, stats.EventTypeFiltered:
		b.advance(evt.ItemID)
	case stats.EventTypeFailed:
		// Show error messages above the progress bar
		if evt.Err != nil {
			pterm.Error.Printf("%s: %v\n", evt.ItemID, evt.Err)
		}
		b.advance(evt.ItemID)
	}
}

func (b *Bar) advance(id string) {
	b.start()
	b.done++
	if b.total < b.done {
		b.total = b.done
		b.pb.Total = b.total
	}
	if id != "" {
		if len(id) > 40 {
			id = id[:37] + "..."
		}
		b.pb.UpdateTitle(b.title + ": " + id)
	}
	b.pb.Increment()
}

// Stop finalizes the progress bar.
func (b *Bar) Stop() {
	if !b.enabled {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.pb == nil {
		return
	}
	b.pb.UpdateTitle(b.title)
	_, _ = b.pb.Stop()
}

// Line is one labelled value of a summary.
type Line struct {
	Label string
	Value any
}

// PrintSummary prints a titled block of counters. It is a no-op unless
// logLevel is "info".
func PrintSummary(logLevel, title string, duration time.Duration, lines []Line, lastErr error) {
	if logLevel != "info" {
		return
	}

	pterm.Println()
	pterm.DefaultSection.Println(title)
	if duration > 0 {
		pterm.Info.Printf("Duration: %v\n", duration.Round(time.Millisecond))
	}
	for _, l := range lines {
		pterm.Info.Printf("%s: %v\n", l.Label, l.Value)
	}
	if lastErr != nil {
		pterm.Error.Printf("Last error: %v\n", lastErr)
	}
}
