package filter

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"
	"sync"
)

// Options captures the filtering configuration.
type Options struct {
	IncludeHeader []string
	IncludeBody   []string
	ExcludeHeader []string
	ExcludeBody   []string
}

// Active reports whether any pattern is configured.
func (o Options) Active() bool {
	return len(o.IncludeHeader)+len(o.IncludeBody)+len(o.ExcludeHeader)+len(o.ExcludeBody) > 0
}

type pattern struct {
	source string
	re     *regexp.Regexp
}

// Filter decides which raw messages are converted.
type Filter struct {
	includeMode   bool
	excludeMode   bool
	includeHeader []pattern
	includeBody   []pattern
	excludeHeader []pattern
	excludeBody   []pattern

	mu   sync.Mutex
	hits map[string]int
}

// New compiles the patterns of opts. Include and exclude modes are mutually exclusive.
func New(opts Options) (*Filter, error) {
	includeHeader, err := compilePatterns(opts.IncludeHeader)
	if err != nil {
		return nil, fmt.Errorf("compile include-header pattern: %w", err)
	}
	includeBody, err := compilePatterns(opts.IncludeBody)
	if err != nil {
		return nil, fmt.Errorf("compile include-body pattern: %w", err)
	}
	excludeHeader, err := compilePatterns(opts.ExcludeHeader)
	if err != nil {
		return nil, fmt.Errorf("compile exclude-header pattern: %w", err)
	}
	excludeBody, err := compilePatterns(opts.ExcludeBody)
	if err != nil {
		return nil, fmt.Errorf("compile exclude-body pattern: %w", err)
	}

	includeActive := len(includeHeader) > 0 || len(includeBody) > 0
	excludeActive := len(excludeHeader) > 0 || len(excludeBody) > 0
	if includeActive && excludeActive {
		return nil, fmt.Errorf("include and exclude filters are mutually exclusive")
	}

	return &Filter{
		includeMode:   includeActive,
		excludeMode:   excludeActive,
		includeHeader: includeHeader,
		includeBody:   includeBody,
		excludeHeader: excludeHeader,
		excludeBody:   excludeBody,
		hits:          make(map[string]int),
	}, nil
}

// AllowsMessage splits raw into header and body and applies Allows.
// A nil Filter allows everything.
func (f *Filter) AllowsMessage(raw []byte) bool {
	if f == nil {
		return true
	}
	header, body := SplitRawMessage(raw)
	return f.Allows(header, body)
}

// Allows returns true if the message passes the filter criteria.
func (f *Filter) Allows(header, body []byte) bool {
	if f.includeMode {
		return f.matchAny(f.includeHeader, header) || f.matchAny(f.includeBody, body)
	}

	if f.excludeMode {
		if f.matchAny(f.excludeHeader, header) || f.matchAny(f.excludeBody, body) {
			return false
		}
	}

	return true
}

// Hits returns how often each pattern matched, keyed by its source text.
func (f *Filter) Hits() map[string]int {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]int, len(f.hits))
	for k, v := range f.hits {
		out[k] = v
	}
	return out
}

func (f *Filter) matchAny(patterns []pattern, text []byte) bool {
	for _, p := range patterns {
		if p.re.Match(text) {
			f.mu.Lock()
			f.hits[p.source]++
			f.mu.Unlock()
			return true
		}
	}
	return false
}

// SplitRawMessage splits a raw email message into header and body parts.
func SplitRawMessage(raw []byte) (header, body []byte) {
	if len(raw) == 0 {
		return nil, nil
	}

	if idx := bytes.Index(raw, []byte("\r\n\r\n")); idx >= 0 {
		return raw[:idx], raw[idx+4:]
	}
	if idx := bytes.Index(raw, []byte("\n\n")); idx >= 0 {
		return raw[:idx], raw[idx+2:]
	}

	return raw, nil
}

func compilePatterns(sources []string) ([]pattern, error) {
	compiled := make([]pattern, 0, len(sources))
	for _, source := range sources {
		source = strings.TrimSpace(source)
		if source == "" {
			continue
		}
		re, err := regexp.Compile(source)
		if err != nil {
			return nil, fmt.Errorf("compile %q: %w", source, err)
		}
		compiled = append(compiled, pattern{source: source, re: re})
	}
	return compiled, nil
}
