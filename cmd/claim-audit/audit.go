package main

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	pgzip "github.com/klauspost/pgzip"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/bookstore-pickup/internal/codec"
	"github.com/xenking/bookstore-pickup/internal/domain/claim"
)

const (
	bloomFPR      = 0.001
	progressEvery = 1_000_000
)

// Streaming sources, satisfied by the postgres repositories.
type (
	logSource  func(ctx context.Context, fn func(e claim.LogEntry) error) error
	codeSource func(ctx context.Context, fn func(code string) error) error
)

// writeLogs writes one JSON object per log entry, gzip-compressed.
func writeLogs(ctx context.Context, w io.Writer, each logSource) (int, error) {
	gz := pgzip.NewWriter(w)
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)

	var n int
	err := each(ctx, func(l claim.LogEntry) error {
		e.Reset()
		codec.LogEntry(e, l)
		if _, err := gz.Write(append(e.Bytes(), '\n')); err != nil {
			return errors.Wrap(err, "write entry")
		}
		n++
		return nil
	})
	if err != nil {
		_ = gz.Close()
		return n, err
	}
	return n, gz.Close()
}

// writeCodes writes one claim code per line, gzip-compressed.
func writeCodes(ctx context.Context, w io.Writer, each codeSource) (int, error) {
	gz := pgzip.NewWriter(w)
	bw := bufio.NewWriter(gz)

	var n int
	err := each(ctx, func(code string) error {
		if _, err := bw.WriteString(code + "\n"); err != nil {
			return errors.Wrap(err, "write code")
		}
		n++
		return nil
	})
	if err == nil {
		err = bw.Flush()
	}
	if err != nil {
		_ = gz.Close()
		return n, err
	}
	return n, gz.Close()
}

// Reuse is a live claim code found in archived dumps.
type Reuse struct {
	Code     string
	Archives []string
}

// findReused reports live codes present in any archive. Each archive is
// loaded into a bloom filter, live codes are tested against the filters, and
// the few positives are confirmed by an exact rescan of the archives.
func findReused(ctx context.Context, archives []string, capacity uint, live codeSource) ([]Reuse, error) {
	slog.Info("pass 1: building bloom filters", slog.Int("files", len(archives)))

	filters := make([]*bloom.BloomFilter, len(archives))
	g, gctx := errgroup.WithContext(ctx)
	for i, path := range archives {
		g.Go(func() error {
			f := bloom.NewWithEstimates(capacity, bloomFPR)
			var count uint64
			err := streamGzFile(gctx, path, func(code string) {
				f.AddString(code)
				if count++; count%progressEvery == 0 {
					slog.Info("pass 1 progress", slog.String("file", path), slog.Uint64("codes", count))
				}
			})
			if err != nil {
				return errors.Wrapf(err, "build filter for %s", path)
			}
			filters[i] = f
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	slog.Info("pass 2: testing live codes")

	candidates := make(map[string]struct{})
	err := live(ctx, func(code string) error {
		for _, f := range filters {
			if f.TestString(code) {
				candidates[code] = struct{}{}
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "stream live codes")
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	slog.Info("pass 3: confirming candidates", slog.Int("candidates", len(candidates)))

	hits := make([]map[string]struct{}, len(archives))
	g, gctx = errgroup.WithContext(ctx)
	for i, path := range archives {
		g.Go(func() error {
			found := make(map[string]struct{})
			err := streamGzFile(gctx, path, func(code string) {
				if _, ok := candidates[code]; ok {
					found[code] = struct{}{}
				}
			})
			if err != nil {
				return errors.Wrapf(err, "confirm candidates in %s", path)
			}
			hits[i] = found
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	byCode := make(map[string][]string)
	for i, found := range hits {
		for code := range found {
			byCode[code] = append(byCode[code], archives[i])
		}
	}

	reused := make([]Reuse, 0, len(byCode))
	for code, files := range byCode {
		reused = append(reused, Reuse{Code: code, Archives: files})
	}
	slices.SortFunc(reused, func(a, b Reuse) int { return strings.Compare(a.Code, b.Code) })
	return reused, nil
}

// streamGzFile opens a gzip-compressed file and calls fn for each non-empty
// line.
func streamGzFile(ctx context.Context, path string, fn func(code string)) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "open %s", path)
	}
	defer func() { _ = f.Close() }()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		return errors.Wrapf(err, "create gzip reader for %s", path)
	}
	defer func() { _ = gz.Close() }()

	scanner := bufio.NewScanner(gz)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if code := strings.TrimSpace(scanner.Text()); code != "" {
			fn(code)
		}
	}

	if err := scanner.Err(); err != nil {
		return errors.Wrapf(err, "scan %s", path)
	}
	return nil
}
