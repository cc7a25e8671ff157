// Package combine merges the per-message JSON records into one sorted array.
package combine

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"github.com/dhcgn/mail-export/model"
	"github.com/dhcgn/mail-export/stats"
	"github.com/dhcgn/mail-export/store"
)

// BackupTimeLayout is the timestamp appended to snapshot file names.
const BackupTimeLayout = "20060102_150405"

// ErrNotObject is returned for a record file whose top-level JSON value is not an object.
var ErrNotObject = errors.New("record is not a JSON object")

type Summary struct {
	Found    int
	Included int
	Failed   int
	Bytes    int64
	Output   string
	Backup   string
}

func (s Summary) LogAttrs() []any {
	attrs := []any{
		"found", s.Found,
		"included", s.Included,
		"failed", s.Failed,
		"output", s.Output,
		"sizeKB", fmt.Sprintf("%.2f", float64(s.Bytes)/1024),
	}
	if s.Backup != "" {
		attrs = append(attrs, "backup", s.Backup)
	}
	return attrs
}

type Combiner struct {
	logger   *slog.Logger
	observer stats.Observer
}

// New returns a Combiner. observer may be nil.
func New(logger *slog.Logger, observer stats.Observer) *Combiner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Combiner{logger: logger, observer: observer}
}

// Combine loads every record in inputDir and writes them, sorted by id, to outputFile.
func (c *Combiner) Combine(inputDir, outputFile string) (Summary, error) {
	records, summary, err := c.Load(inputDir)
	if err != nil {
		return summary, err
	}

	data, err := encode(records)
	if err != nil {
		return summary, err
	}
	if err := c.write(outputFile, data); err != nil {
		return summary, err
	}

	summary.Output = outputFile
	summary.Bytes = int64(len(data))
	c.logger.Info("combined records", summary.LogAttrs()...)
	return summary, nil
}

// CombineWithBackup is Combine plus a snapshot written first to
// backupDir/<stem>_<timestamp><ext>, where stem and ext come from outputFile.
func (c *Combiner) CombineWithBackup(inputDir, outputFile, backupDir string, now time.Time) (Summary, error) {
	records, summary, err := c.Load(inputDir)
	if err != nil {
		return summary, err
	}

	data, err := encode(records)
	if err != nil {
		return summary, err
	}

	if err := os.MkdirAll(backupDir, 0o755); err != nil {
		return summary, fmt.Errorf("create backup directory: %w", err)
	}
	backup := BackupPath(outputFile, backupDir, now)
	if err := c.write(backup, data); err != nil {
		return summary, err
	}
	summary.Backup = backup

	if err := c.write(outputFile, data); err != nil {
		if rmErr := os.Remove(backup); rmErr != nil {
			c.logger.Warn("remove snapshot failed", "file", backup, "err", rmErr)
		}
		summary.Backup = ""
		return summary, err
	}

	summary.Output = outputFile
	summary.Bytes = int64(len(data))
	c.logger.Info("combined records", summary.LogAttrs()...)
	return summary, nil
}

// BackupPath names the snapshot of outputFile taken at now.
func BackupPath(outputFile, backupDir string, now time.Time) string {
	base := filepath.Base(outputFile)
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	return filepath.Join(backupDir, fmt.Sprintf("%s_%s%s", stem, now.Format(BackupTimeLayout), ext))
}

// Load reads every .json record in dir, tags it with its file's base name
// and returns the collection sorted by id. Unreadable records and records
// that are not JSON objects are logged, counted and left out.
func (c *Combiner) Load(dir string) ([]model.CombinedRecord, Summary, error) {
	files, err := store.ListFiles(dir, store.RecordExt)
	if err != nil {
		c.logger.Error("nothing to combine", "dir", dir, "err", err)
		return nil, Summary{}, err
	}

	c.logger.Info("combining records", "count", len(files), "dir", dir)

	collector := stats.NewCollector()
	observer := stats.Multi(collector, c.observer)

	records := make([]model.CombinedRecord, 0, len(files))

	for _, path := range files {
		id := store.BaseName(path)

		record, err := readRecord(path)
		if err != nil {
			c.logger.Error("skipping record", "file", path, "err", err)
			observer.Observe(stats.Failed(stats.StageCombine, id, err))
			continue
		}

		records = append(records, record.Combined(id))
		observer.Observe(stats.Event{Stage: stats.StageCombine, Type: stats.EventTypeIncluded, ItemID: id})
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].ID < records[j].ID
	})

	s := collector.Snapshot()
	return records, Summary{Found: len(files), Included: s.Included, Failed: s.Failed}, nil
}

func readRecord(path string) (model.MessageRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return model.MessageRecord{}, fmt.Errorf("read: %w", err)
	}
	if trimmed := bytes.TrimSpace(data); len(trimmed) == 0 || trimmed[0] != '{' {
		return model.MessageRecord{}, ErrNotObject
	}
	var record model.MessageRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return model.MessageRecord{}, fmt.Errorf("parse json: %w", err)
	}
	return record, nil
}

func encode(records []model.CombinedRecord) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(records); err != nil {
		return nil, fmt.Errorf("encode combined records: %w", err)
	}
	return buf.Bytes(), nil
}

func (c *Combiner) write(path string, data []byte) error {
	if err := store.WriteFile(path, data, 0o644); err != nil {
		c.logger.Error("write combined file failed", "file", path, "err", err)
		return fmt.Errorf("write combined file: %w", err)
	}
	return nil
}
