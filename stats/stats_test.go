package stats

import (
	"errors"
	"testing"

	"github.com/nalgeon/be"
)

func TestCollector_CountsOutcomes(t *testing.T) {
	c := NewCollector()
	boom := errors.New("boom")

	c.Observe(Listed(StageFetch, "a"))
	c.Observe(Listed(StageFetch, "b"))
	c.Observe(Saved(StageFetch, "a"))
	c.Observe(Failed(StageFetch, "b", boom))
	c.Observe(Event{Stage: StageConvert, Type: EventTypeFiltered, ItemID: "c"})

	got := c.Snapshot()
	be.Equal(t, got.Listed, 2)
	be.Equal(t, got.Saved, 1)
	be.Equal(t, got.Failed, 1)
	be.Equal(t, got.Filtered, 1)
	be.Err(t, got.LastError, boom)
}

func TestMulti_SkipsNilObservers(t *testing.T) {
	a, b := NewCollector(), NewCollector()
	obs := Multi(a, nil, b)

	obs.Observe(Saved(StageImport, "x"))

	be.Equal(t, a.Snapshot().Saved, 1)
	be.Equal(t, b.Snapshot().Saved, 1)
}

func TestSummary_LogAttrsIncludesLastError(t *testing.T) {
	s := Summary{Failed: 1, LastError: errors.New("disk full")}
	attrs := s.LogAttrs()
	be.Equal(t, attrs[len(attrs)-2], any("lastError"))
	be.Equal(t, attrs[len(attrs)-1], any("disk full"))
}
