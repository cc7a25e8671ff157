// Package runner drives the local half of the export: it checks the raw
// message directory, converts it into records and combines the records.
package runner

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dhcgn/mail-export/combine"
	"github.com/dhcgn/mail-export/convert"
	"github.com/dhcgn/mail-export/filter"
	"github.com/dhcgn/mail-export/stats"
	"github.com/dhcgn/mail-export/store"
)

type State int

const (
	StateCheckInputs State = iota
	StateConvert
	StateCombine
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateCheckInputs:
		return "check-inputs"
	case StateConvert:
		return "convert"
	case StateCombine:
		return "combine"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

type Options struct {
	RawDir     string
	RecordDir  string
	OutputFile string
	BackupDir  string
	Filter     *filter.Filter
}

// Result describes one pipeline run. FailedAt is only meaningful when State
// is StateFailed.
type Result struct {
	State    State
	FailedAt State
	Err      error
	Convert  convert.Summary
	Combine  combine.Summary
	Duration time.Duration
}

func (r Result) ExitCode() int {
	if r.State == StateDone {
		return 0
	}
	return 1
}

func (r Result) LogAttrs() []any {
	attrs := []any{"state", r.State.String(), "duration", r.Duration}
	attrs = append(attrs, r.Convert.LogAttrs()...)
	if r.Combine.Output != "" {
		attrs = append(attrs, "output", r.Combine.Output, "backup", r.Combine.Backup)
	}
	if r.State == StateFailed {
		attrs = append(attrs, "failedAt", r.FailedAt.String(), "err", r.Err)
	}
	return attrs
}

type (
	convertFunc func(context.Context) (convert.Summary, error)
	combineFunc func(context.Context) (combine.Summary, error)
)

type Runner struct {
	opts   Options
	logger *slog.Logger
	now    func() time.Time

	convert convertFunc
	combine combineFunc
}

// New wires the converter and combiner for opts. observer may be nil.
func New(opts Options, logger *slog.Logger, observer stats.Observer) *Runner {
	if logger == nil {
		logger = slog.Default()
	}

	r := &Runner{opts: opts, logger: logger, now: time.Now}

	converter := convert.New(convert.Options{
		InputDir:  opts.RawDir,
		OutputDir: opts.RecordDir,
		Filter:    opts.Filter,
	}, logger, observer)
	r.convert = converter.ConvertAll

	combiner := combine.New(logger, observer)
	r.combine = func(context.Context) (combine.Summary, error) {
		return combiner.CombineWithBackup(opts.RecordDir, opts.OutputFile, opts.BackupDir, r.now())
	}

	return r
}

// Run executes the steps in order and stops at the first fatal error.
func (r *Runner) Run(ctx context.Context) Result {
	started := time.Now()
	res := Result{State: StateCheckInputs}

	for res.State != StateDone && res.State != StateFailed {
		current := res.State
		if err := ctx.Err(); err != nil {
			res.fail(current, err)
			break
		}

		r.logger.Debug("pipeline step", "state", current.String())
		next, err := r.step(ctx, &res)
		if err != nil {
			res.fail(current, err)
			break
		}
		res.State = next
	}

	res.Duration = time.Since(started)
	if res.State == StateFailed {
		r.logger.Error("pipeline failed", res.LogAttrs()...)
	} else {
		r.logger.Info("pipeline completed", res.LogAttrs()...)
	}
	return res
}

func (r *Runner) step(ctx context.Context, res *Result) (State, error) {
	switch res.State {
	case StateCheckInputs:
		files, err := store.ListFiles(r.opts.RawDir, store.RawExt)
		if err != nil {
			return StateFailed, err
		}
		r.logger.Info("raw messages found", "count", len(files), "dir", r.opts.RawDir)
		return StateConvert, nil

	case StateConvert:
		summary, err := r.convert(ctx)
		res.Convert = summary
		if err != nil {
			return StateFailed, err
		}
		return StateCombine, nil

	case StateCombine:
		summary, err := r.combine(ctx)
		res.Combine = summary
		if err != nil {
			return StateFailed, err
		}
		return StateDone, nil
	}
	return StateFailed, fmt.Errorf("no step for state %s", res.State)
}

func (res *Result) fail(at State, err error) {
	res.State = StateFailed
	res.FailedAt = at
	res.Err = fmt.Errorf("%s: %w", at, err)
}
