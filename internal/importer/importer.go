// Package importer feeds a corpus file into a chain one sentence at a time.
//
// Two formats are understood: a JSON array of strings, which is decoded as a
// stream so arbitrarily large exports fit in constant memory, and plain text
// with one sentence per line.
package importer

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Format selects how a corpus is split into sentences.
type Format int

const (
	FormatLines Format = iota
	FormatJSON
)

func (f Format) String() string {
	if f == FormatJSON {
		return "json"
	}
	return "lines"
}

// DetectFormat picks the format from the file extension.
func DetectFormat(path string) Format {
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return FormatJSON
	}
	return FormatLines
}

// maxLineSize bounds a single line in line mode.
const maxLineSize = 1 << 20

// Sink receives sentences. *markov.Chain satisfies it.
type Sink interface {
	ImportSentence(ctx context.Context, tenant, raw string) (int, error)
}

// Stats summarizes one import run.
type Stats struct {
	RunID     string
	Sentences int
	Skipped   int
	Tokens    int
}

// Importer streams corpora into a Sink.
type Importer struct {
	sink   Sink
	logger *zap.Logger
}

// New returns an importer writing to sink.
func New(sink Sink, logger *zap.Logger) *Importer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Importer{sink: sink, logger: logger}
}

// ImportFile imports the file at path into tenant, choosing the format from
// its extension.
func (im *Importer) ImportFile(ctx context.Context, tenant, path string) (Stats, error) {
	f, err := os.Open(path)
	if err != nil {
		return Stats{}, fmt.Errorf("open corpus: %w", err)
	}
	defer f.Close()
	return im.Import(ctx, tenant, f, DetectFormat(path))
}

// Import reads sentences from r and ingests them in order. The first read or
// ingestion error stops the run; the returned stats cover what was ingested
// before it.
func (im *Importer) Import(ctx context.Context, tenant string, r io.Reader, format Format) (Stats, error) {
	stats := Stats{RunID: uuid.NewString()}
	logger := im.logger.With(
		zap.String("run_id", stats.RunID),
		zap.String("tenant", tenant),
		zap.Stringer("format", format),
	)
	logger.Info("import started")

	g, gctx := errgroup.WithContext(ctx)
	sentences := make(chan string, 64)

	g.Go(func() error {
		defer close(sentences)
		emit := func(s string) error {
			select {
			case sentences <- s:
				return nil
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		if format == FormatJSON {
			return readJSON(r, emit)
		}
		return readLines(r, emit)
	})

	g.Go(func() error {
		for raw := range sentences {
			raw = strings.TrimSpace(raw)
			if raw == "" {
				stats.Skipped++
				continue
			}
			n, err := im.sink.ImportSentence(gctx, tenant, raw)
			if err != nil {
				return fmt.Errorf("sentence %d: %w", stats.Sentences+stats.Skipped+1, err)
			}
			if n == 0 {
				stats.Skipped++
				continue
			}
			stats.Sentences++
			stats.Tokens += n
			logger.Debug("sentence imported", zap.String("sentence", raw), zap.Int("tokens", n))
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("import failed", zap.Error(err), zap.Int("sentences", stats.Sentences))
		return stats, err
	}
	logger.Info("import finished",
		zap.Int("sentences", stats.Sentences),
		zap.Int("skipped", stats.Skipped),
		zap.Int("tokens", stats.Tokens),
	)
	return stats, nil
}

func readLines(r io.Reader, emit func(string) error) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for sc.Scan() {
		if err := emit(sc.Text()); err != nil {
			return err
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("read corpus: %w", err)
	}
	return nil
}

func readJSON(r io.Reader, emit func(string) error) error {
	dec := json.NewDecoder(r)

	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("read corpus: %w", err)
	}
	if d, ok := tok.(json.Delim); !ok || d != '[' {
		return fmt.Errorf("read corpus: expected a JSON array of strings")
	}

	for dec.More() {
		var s string
		if err := dec.Decode(&s); err != nil {
			return fmt.Errorf("read corpus: %w", err)
		}
		if err := emit(s); err != nil {
			return err
		}
	}

	if _, err := dec.Token(); err != nil {
		return fmt.Errorf("read corpus: %w", err)
	}
	return nil
}
