// Package mbox splits an mbox archive into raw message files so that the
// convert and combine stages can run on a local export.
package mbox

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	mboxlib "github.com/emersion/go-mbox"

	"github.com/dhcgn/mail-export/filter"
	"github.com/dhcgn/mail-export/stats"
	"github.com/dhcgn/mail-export/store"
)

var ErrEmptyMessage = errors.New("empty message")

type Options struct {
	Path      string
	OutputDir string
	Filter    *filter.Filter
}

type Summary struct {
	Scanned    int
	Saved      int
	Duplicates int
	Filtered   int
	Failed     int
}

func (s Summary) LogAttrs() []any {
	return []any{
		"scanned", s.Scanned,
		"saved", s.Saved,
		"duplicates", s.Duplicates,
		"filtered", s.Filtered,
		"failed", s.Failed,
	}
}

type Importer struct {
	opts     Options
	logger   *slog.Logger
	observer stats.Observer
}

// New returns an Importer for opts. observer may be nil.
func New(opts Options, logger *slog.Logger, observer stats.Observer) (*Importer, error) {
	opts.Path = strings.TrimSpace(opts.Path)
	if opts.Path == "" {
		return nil, fmt.Errorf("mbox path is empty")
	}
	if opts.OutputDir == "" {
		return nil, fmt.Errorf("output directory is empty")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Importer{opts: opts, logger: logger, observer: observer}, nil
}

// MessageID names a raw message by its content.
func MessageID(raw []byte) string {
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:16])
}

// Import writes every message of the archive to <OutputDir>/<MessageID>.eml.
// Messages that cannot be read or written are logged and counted; a broken
// archive stream ends the import with an error.
func (i *Importer) Import(ctx context.Context) (Summary, error) {
	file, err := os.Open(i.opts.Path)
	if err != nil {
		return Summary{}, fmt.Errorf("open mbox: %w", err)
	}
	defer file.Close()

	if err := os.MkdirAll(i.opts.OutputDir, 0o755); err != nil {
		return Summary{}, fmt.Errorf("create output directory: %w", err)
	}

	i.logger.Info("importing mbox", "path", i.opts.Path, "to", i.opts.OutputDir)

	collector := stats.NewCollector()
	observer := stats.Multi(collector, i.observer)
	seen := make(map[string]struct{})
	duplicates := 0

	summary := func() Summary {
		s := collector.Snapshot()
		return Summary{
			Scanned:    s.Listed,
			Saved:      s.Saved,
			Duplicates: duplicates,
			Filtered:   s.Filtered,
			Failed:     s.Failed,
		}
	}

	reader := mboxlib.NewReader(file)
	for idx := 0; ; idx++ {
		if err := ctx.Err(); err != nil {
			return summary(), err
		}

		msgReader, err := reader.NextMessage()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			i.logger.Error("mbox stream error", "path", i.opts.Path, "index", idx, "err", err)
			return summary(), fmt.Errorf("message %d: %w", idx, err)
		}

		raw, err := io.ReadAll(msgReader)
		if err != nil {
			i.logger.Error("mbox stream error", "path", i.opts.Path, "index", idx, "err", err)
			return summary(), fmt.Errorf("message %d read: %w", idx, err)
		}

		id := MessageID(raw)
		observer.Observe(stats.Listed(stats.StageImport, id))

		if _, dup := seen[id]; dup {
			duplicates++
			i.logger.Debug("duplicate message skipped", "index", idx, "id", id)
			continue
		}
		seen[id] = struct{}{}

		evt := i.importOne(id, raw)
		observer.Observe(evt)
		if evt.Err != nil {
			i.logger.Error("import failed", "index", idx, "id", id, "err", evt.Err)
		}
	}

	s := summary()
	i.logger.Info("mbox import complete", s.LogAttrs()...)
	return s, nil
}

func (i *Importer) importOne(id string, raw []byte) stats.Event {
	if len(strings.TrimSpace(string(raw))) == 0 {
		return stats.Failed(stats.StageImport, id, ErrEmptyMessage)
	}
	if !i.opts.Filter.AllowsMessage(raw) {
		return stats.Event{Stage: stats.StageImport, Type: stats.EventTypeFiltered, ItemID: id}
	}

	path := filepath.Join(i.opts.OutputDir, id+store.RawExt)
	if err := store.WriteFile(path, raw, 0o644); err != nil {
		return stats.Failed(stats.StageImport, id, err)
	}
	return stats.Saved(stats.StageImport, id)
}

// CountMessages counts the messages in an mbox file without keeping them.
func CountMessages(path string) (int, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open mbox: %w", err)
	}
	defer file.Close()

	reader := mboxlib.NewReader(file)
	count := 0
	for {
		msgReader, err := reader.NextMessage()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return count, nil
			}
			return count, err
		}

		if _, err := io.Copy(io.Discard, msgReader); err != nil {
			return count, err
		}
		count++
	}
}
