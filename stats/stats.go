package stats

import (
	"sync"
)

type Stage string

const (
	StageFetch   Stage = "fetch"
	StageConvert Stage = "convert"
	StageCombine Stage = "combine"
	StageImport  Stage = "import"
)

type EventType string

const (
	EventTypeListed    EventType = "listed"
	EventTypeSaved     EventType = "saved"
	EventTypeConverted EventType = "converted"
	EventTypeIncluded  EventType = "included"
	EventTypeFiltered  EventType = "filtered"
	EventTypeFailed    EventType = "failed"
)

// Event is the outcome of one item (message or file) in a stage.
type Event struct {
	Stage  Stage
	Type   EventType
	ItemID string
	Err    error
	Detail string
}

func Listed(stage Stage, id string) Event {
	return Event{Stage: stage, Type: EventTypeListed, ItemID: id}
}

func Saved(stage Stage, id string) Event {
	return Event{Stage: stage, Type: EventTypeSaved, ItemID: id}
}

func Failed(stage Stage, id string, err error) Event {
	return Event{Stage: stage, Type: EventTypeFailed, ItemID: id, Err: err}
}

type Summary struct {
	Listed    int
	Saved     int
	Converted int
	Included  int
	Filtered  int
	Failed    int
	LastError error
}

func (s Summary) LogAttrs() []any {
	attrs := []any{
		"listed", s.Listed,
		"saved", s.Saved,
		"converted", s.Converted,
		"included", s.Included,
		"filtered", s.Filtered,
		"failed", s.Failed,
	}
	if s.LastError != nil {
		attrs = append(attrs, "lastError", s.LastError.Error())
	}
	return attrs
}

// Observer receives every item outcome of a stage.
type Observer interface {
	Observe(Event)
}

type ObserverFunc func(Event)

func (f ObserverFunc) Observe(evt Event) {
	f(evt)
}

// Multi fans one event out to several observers. Nil observers are ignored.
func Multi(observers ...Observer) Observer {
	list := make([]Observer, 0, len(observers))
	for _, o := range observers {
		if o != nil {
			list = append(list, o)
		}
	}
	return ObserverFunc(func(evt Event) {
		for _, o := range list {
			o.Observe(evt)
		}
	})
}

type Collector struct {
	mu      sync.Mutex
	summary Summary
}

func NewCollector() *Collector {
	return &Collector{}
}

func (c *Collector) Observe(evt Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch evt.Type {
	case EventTypeListed:
		c.summary.Listed++
	case EventTypeSaved:
		c.summary.Saved++
	case EventTypeConverted:
		c.summary.Converted++
	case EventTypeIncluded:
		c.summary.Included++
	case EventTypeFiltered:
		c.summary.Filtered++
	case EventTypeFailed:
		c.summary.Failed++
		if evt.Err != nil {
			c.summary.LastError = evt.Err
		}
	}
}

func (c *Collector) Snapshot() Summary {
	c.mu.Lock()
	summary := c.summary
	c.mu.Unlock()
	return summary
}
