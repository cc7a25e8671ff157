// Package fetch downloads the messages of one label from a mail provider into
// raw message files.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/dhcgn/mail-export/model"
	"github.com/dhcgn/mail-export/stats"
	"github.com/dhcgn/mail-export/store"
)

// PageLimit is the largest page the provider accepts in one list call.
const PageLimit = 500

var ErrInvalidID = errors.New("message id is not a valid file name")

// Page is one response of a paginated list call.
type Page struct {
	IDs           []string
	NextPageToken string
}

// Label is a mailbox label as reported by the provider.
type Label struct {
	ID   string
	Name string
}

// Provider is the remote mail service.
type Provider interface {
	ListMessageIDs(ctx context.Context, label string, pageSize int, pageToken string) (Page, error)
	GetRawMessage(ctx context.Context, id string) ([]byte, error)
	Labels(ctx context.Context) ([]Label, error)
}

// Sink persists downloaded messages.
type Sink interface {
	Put(msg model.RawMessage) error
}

// DirSink writes every message to <Dir>/<id>.eml.
type DirSink struct {
	Dir string
}

func (d DirSink) Put(msg model.RawMessage) error {
	if !store.ValidFileName(msg.ID) {
		return fmt.Errorf("%w: %q", ErrInvalidID, msg.ID)
	}
	if err := os.MkdirAll(d.Dir, 0o755); err != nil {
		return fmt.Errorf("create raw directory: %w", err)
	}
	return store.WriteFile(filepath.Join(d.Dir, msg.ID+store.RawExt), msg.Raw, 0o644)
}

type Summary struct {
	Listed int
	Saved  int
	Failed int
}

func (s Summary) LogAttrs() []any {
	return []any{"listed", s.Listed, "saved", s.Saved, "failed", s.Failed}
}

type Fetcher struct {
	provider Provider
	sink     Sink
	logger   *slog.Logger
	observer stats.Observer
}

// New returns a Fetcher. observer may be nil.
func New(provider Provider, sink Sink, logger *slog.Logger, observer stats.Observer) *Fetcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Fetcher{
		provider: provider,
		sink:     sink,
		logger:   logger,
		observer: observer,
	}
}

// CollectIDs pages through the label until maxCount identifiers are known or
// the provider runs out. A listing error ends the loop and the identifiers
// gathered so far are returned.
func (f *Fetcher) CollectIDs(ctx context.Context, label string, maxCount int) []string {
	var (
		ids       []string
		pageToken string
	)

	f.logger.Info("listing messages", "label", label, "max", maxCount)

	for len(ids) < maxCount {
		size := min(maxCount-len(ids), PageLimit)

		page, err := f.provider.ListMessageIDs(ctx, label, size, pageToken)
		if err != nil {
			f.logger.Error("list messages failed", "label", label, "collected", len(ids), "err", err)
			break
		}
		if len(page.IDs) == 0 {
			break
		}

		ids = append(ids, page.IDs...)
		f.logger.Debug("fetched page", "count", len(page.IDs), "total", len(ids))

		if page.NextPageToken == "" {
			break
		}
		pageToken = page.NextPageToken
	}

	if len(ids) > maxCount {
		ids = ids[:maxCount]
	}
	return ids
}

// Fetch collects up to maxCount identifiers of label and downloads each
// message, one request at a time. Failures of single messages are logged and
// skipped. The returned error is only set if ctx is cancelled.
func (f *Fetcher) Fetch(ctx context.Context, label string, maxCount int) (Summary, error) {
	collector := stats.NewCollector()
	observer := stats.Multi(collector, f.observer)

	ids := f.CollectIDs(ctx, label, maxCount)
	for _, id := range ids {
		observer.Observe(stats.Listed(stats.StageFetch, id))
	}
	if len(ids) == 0 {
		f.logger.Warn("no messages found", "label", label)
		return summaryFrom(collector), nil
	}

	f.logger.Info("downloading messages", "count", len(ids))

	for i, id := range ids {
		if err := ctx.Err(); err != nil {
			return summaryFrom(collector), err
		}

		evt := f.fetchOne(ctx, id)
		observer.Observe(evt)

		if evt.Err != nil {
			f.logger.Error("download failed", "progress", fmt.Sprintf("%d/%d", i+1, len(ids)), "messageID", id, "err", evt.Err)
			continue
		}
		f.logger.Debug("saved message", "progress", fmt.Sprintf("%d/%d", i+1, len(ids)), "messageID", id)
	}

	summary := summaryFrom(collector)
	f.logger.Info("download complete", summary.LogAttrs()...)
	return summary, nil
}

func (f *Fetcher) fetchOne(ctx context.Context, id string) stats.Event {
	raw, err := f.provider.GetRawMessage(ctx, id)
	if err != nil {
		return stats.Failed(stats.StageFetch, id, fmt.Errorf("get message %s: %w", id, err))
	}
	if err := f.sink.Put(model.RawMessage{ID: id, Raw: raw}); err != nil {
		return stats.Failed(stats.StageFetch, id, fmt.Errorf("save message %s: %w", id, err))
	}
	return stats.Saved(stats.StageFetch, id)
}

func summaryFrom(c *stats.Collector) Summary {
	s := c.Snapshot()
	return Summary{Listed: s.Listed, Saved: s.Saved, Failed: s.Failed}
}
