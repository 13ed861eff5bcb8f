// Package sinks collects reference Sink implementations: a CSV file
// sink and a bundle sink that fans the same rows out to several
// delegate sinks and reports a single combined artifact.
package sinks

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/tachyon-beep/elspeth/internal/canon"
	"github.com/tachyon-beep/elspeth/internal/plugin"
)

// CSV writes rows to a single file as comma-separated values. Neither the
// reference orchestrator nor the rest of the example pack writes CSV
// anywhere, so this sink is built directly on encoding/csv rather than a
// grounded third-party writer (see DESIGN.md).
//
// The header is fixed at construction from Columns; a row missing a
// column writes an empty field rather than failing, matching the
// engine's "schema compatibility was already checked upstream" posture
// for a FIXED-contract sink.
type CSV struct {
	Columns []string
	Path    string

	mu     sync.Mutex
	file   *os.File
	writer *csv.Writer
	rows   int
}

// NewCSV opens path for writing (truncating any existing file) and
// writes the header row immediately so a zero-row run still produces a
// valid, empty table.
func NewCSV(path string, columns []string) (*CSV, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("csv sink: open %s: %w", path, err)
	}
	w := csv.NewWriter(f)
	if err := w.Write(columns); err != nil {
		f.Close()
		return nil, fmt.Errorf("csv sink: write header: %w", err)
	}
	return &CSV{Columns: columns, Path: path, file: f, writer: w}, nil
}

func (s *CSV) cellFor(row map[string]any, column string) string {
	v, ok := row[column]
	if !ok || v == nil {
		return ""
	}
	if str, ok := v.(string); ok {
		return str
	}
	return fmt.Sprintf("%v", v)
}

// Write appends rows to the file and reports an artifact describing the
// whole file as it stands after this call, content-hashed over its
// current bytes on disk.
func (s *CSV) Write(ctx context.Context, rows []map[string]any, pctx *plugin.Context) (plugin.ArtifactDescriptor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, row := range rows {
		record := make([]string, len(s.Columns))
		for i, col := range s.Columns {
			record[i] = s.cellFor(row, col)
		}
		if err := s.writer.Write(record); err != nil {
			return plugin.ArtifactDescriptor{}, fmt.Errorf("csv sink: write row: %w", err)
		}
	}
	s.writer.Flush()
	if err := s.writer.Error(); err != nil {
		return plugin.ArtifactDescriptor{}, fmt.Errorf("csv sink: flush: %w", err)
	}
	s.rows += len(rows)

	info, err := s.file.Stat()
	if err != nil {
		return plugin.ArtifactDescriptor{}, fmt.Errorf("csv sink: stat: %w", err)
	}
	data, err := os.ReadFile(s.Path)
	if err != nil {
		return plugin.ArtifactDescriptor{}, fmt.Errorf("csv sink: hash: %w", err)
	}

	return plugin.ArtifactDescriptor{
		ArtifactType: "CSV",
		PathOrURI:    s.Path,
		ContentHash:  canon.HashBytes(data),
		SizeBytes:    info.Size(),
	}, nil
}

// Flush is a no-op beyond the per-write flush CSV already performs.
func (s *CSV) Flush(ctx context.Context) error { return nil }

// Close flushes and releases the underlying file handle. Safe to call
// more than once.
func (s *CSV) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	s.writer.Flush()
	err := s.file.Close()
	s.file = nil
	return err
}

// SupportsResume is false: a resumed run reopening this path would
// truncate rows already written by the suspended attempt.
func (s *CSV) SupportsResume() bool { return false }

var _ plugin.Sink = (*CSV)(nil)

// Bundle fans the same rows out to every delegate sink and reports one
// artifact per delegate, keyed by name, as a single combined
// ArtifactDescriptor whose PathOrURI is a canonical JSON map of
// name -> path so the audit trail records one artifact row per
// bundle write rather than one per delegate. Grounded on the same
// "several outputs, one audit entry" shape as the aggregation node's
// Reduce, which also folds several inputs into one recorded result.
type Bundle struct {
	Delegates map[string]plugin.Sink
}

// NewBundle builds a Bundle from named delegate sinks.
func NewBundle(delegates map[string]plugin.Sink) *Bundle {
	return &Bundle{Delegates: delegates}
}

func (b *Bundle) Write(ctx context.Context, rows []map[string]any, pctx *plugin.Context) (plugin.ArtifactDescriptor, error) {
	names := make([]string, 0, len(b.Delegates))
	for name := range b.Delegates {
		names = append(names, name)
	}
	sort.Strings(names)

	paths := make(map[string]any, len(names))
	var totalSize int64
	for _, name := range names {
		desc, err := b.Delegates[name].Write(ctx, rows, pctx)
		if err != nil {
			return plugin.ArtifactDescriptor{}, fmt.Errorf("bundle sink: delegate %s: %w", name, err)
		}
		paths[name] = desc.PathOrURI
		totalSize += desc.SizeBytes
	}

	encoded, err := canon.Marshal(paths)
	if err != nil {
		return plugin.ArtifactDescriptor{}, fmt.Errorf("bundle sink: %w", err)
	}

	return plugin.ArtifactDescriptor{
		ArtifactType: "BUNDLE",
		PathOrURI:    string(encoded),
		ContentHash:  canon.HashBytes(encoded),
		SizeBytes:    totalSize,
	}, nil
}

func (b *Bundle) Flush(ctx context.Context) error {
	for name, d := range b.Delegates {
		if err := d.Flush(ctx); err != nil {
			return fmt.Errorf("bundle sink: delegate %s: %w", name, err)
		}
	}
	return nil
}

func (b *Bundle) Close(ctx context.Context) error {
	for name, d := range b.Delegates {
		if err := d.Close(ctx); err != nil {
			return fmt.Errorf("bundle sink: delegate %s: %w", name, err)
		}
	}
	return nil
}

// SupportsResume requires every delegate to support resume; a single
// non-resumable delegate makes the whole bundle non-resumable.
func (b *Bundle) SupportsResume() bool {
	for _, d := range b.Delegates {
		if !d.SupportsResume() {
			return false
		}
	}
	return true
}

var _ plugin.Sink = (*Bundle)(nil)
