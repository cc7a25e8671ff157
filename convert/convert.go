// Package convert turns a directory of raw .eml files into one JSON record file per message.
package convert

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	json "github.com/goccy/go-json"

	"github.com/dhcgn/mail-export/filter"
	"github.com/dhcgn/mail-export/model"
	"github.com/dhcgn/mail-export/parser"
	"github.com/dhcgn/mail-export/stats"
	"github.com/dhcgn/mail-export/store"
)

type Options struct {
	InputDir  string
	OutputDir string
	// Filter is optional; messages it rejects are counted and not converted.
	Filter *filter.Filter
}

type Summary struct {
	Found     int
	Converted int
	Failed    int
	Filtered  int
}

func (s Summary) LogAttrs() []any {
	return []any{"found", s.Found, "converted", s.Converted, "failed", s.Failed, "filtered", s.Filtered}
}

type Converter struct {
	opts     Options
	logger   *slog.Logger
	observer stats.Observer
}

// New returns a Converter. observer may be nil.
func New(opts Options, logger *slog.Logger, observer stats.Observer) *Converter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Converter{opts: opts, logger: logger, observer: observer}
}

// ConvertAll converts every .eml file in the input directory. It fails only
// if the input directory is missing, holds no .eml files, or the output
// directory cannot be created; single files that fail are logged and counted.
func (c *Converter) ConvertAll(ctx context.Context) (Summary, error) {
	files, err := store.ListFiles(c.opts.InputDir, store.RawExt)
	if err != nil {
		c.logger.Error("nothing to convert", "dir", c.opts.InputDir, "err", err)
		return Summary{}, err
	}

	if err := os.MkdirAll(c.opts.OutputDir, 0o755); err != nil {
		return Summary{Found: len(files)}, fmt.Errorf("create output directory: %w", err)
	}

	c.logger.Info("converting messages", "count", len(files), "from", c.opts.InputDir, "to", c.opts.OutputDir)

	collector := stats.NewCollector()
	observer := stats.Multi(collector, c.observer)

	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return c.summary(len(files), collector), err
		}

		evt := c.convertOne(path)
		observer.Observe(evt)

		switch evt.Type {
		case stats.EventTypeFailed:
			c.logger.Error("convert failed", "file", path, "err", evt.Err)
		case stats.EventTypeFiltered:
			c.logger.Debug("message filtered", "file", path)
		default:
			c.logger.Debug("converted", "file", filepath.Base(path), "record", evt.Detail)
		}
	}

	summary := c.summary(len(files), collector)
	c.logger.Info("conversion complete", summary.LogAttrs()...)
	return summary, nil
}

func (c *Converter) convertOne(path string) stats.Event {
	id := store.BaseName(path)
	fail := func(err error) stats.Event {
		return stats.Failed(stats.StageConvert, id, err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return fail(fmt.Errorf("read: %w", err))
	}

	if !c.opts.Filter.AllowsMessage(raw) {
		return stats.Event{Stage: stats.StageConvert, Type: stats.EventTypeFiltered, ItemID: id}
	}

	record, err := parser.Parse(raw)
	if err != nil {
		return fail(err)
	}

	data, err := encodeRecord(record)
	if err != nil {
		return fail(err)
	}

	out := filepath.Join(c.opts.OutputDir, id+store.RecordExt)
	if err := store.WriteFile(out, data, 0o644); err != nil {
		return fail(err)
	}

	return stats.Event{Stage: stats.StageConvert, Type: stats.EventTypeConverted, ItemID: id, Detail: out}
}

func (c *Converter) summary(found int, collector *stats.Collector) Summary {
	s := collector.Snapshot()
	return Summary{Found: found, Converted: s.Converted, Failed: s.Failed, Filtered: s.Filtered}
}

func encodeRecord(record model.MessageRecord) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(record); err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}
	return buf.Bytes(), nil
}
