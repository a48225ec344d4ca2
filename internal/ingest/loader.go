package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"golang.org/x/sync/errgroup"

	"grantwatch/internal/domain"
)

// FileError records a file that could not be decoded.
type FileError struct {
	Path string
	Err  error
}

func (e FileError) Error() string {
	return fmt.Sprintf("%s: %v", e.Path, e.Err)
}

// Result is everything a Load call found.
type Result struct {
	Grants []domain.Grant
	Files  int
	Failed []FileError
}

// Loader decodes record files concurrently.
type Loader struct {
	walker  *Walker
	workers int
	logger  *slog.Logger
}

func NewLoader(walker *Walker, workers int, logger *slog.Logger) *Loader {
	if workers <= 0 {
		workers = 4
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{walker: walker, workers: workers, logger: logger}
}

// Load reads path, which may be a single file or a directory to walk.
// Records keep file order, then in-file order. Undecodable files are reported, not fatal.
func (l *Loader) Load(ctx context.Context, path string) (*Result, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}

	files := []string{path}
	if info.IsDir() {
		files, err = l.walker.Walk(path)
		if err != nil {
			return nil, fmt.Errorf("walk %s: %w", path, err)
		}
	}

	perFile := make([][]domain.Grant, len(files))
	errs := make([]error, len(files))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(l.workers)
	for i, file := range files {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			perFile[i], errs[i] = DecodeFile(file)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	res := &Result{Files: len(files)}
	for i, file := range files {
		if errs[i] != nil {
			res.Failed = append(res.Failed, FileError{Path: file, Err: errs[i]})
			l.logger.Warn("skipping unreadable record file", slog.String("path", file), slog.String("error", errs[i].Error()))
			continue
		}
		res.Grants = append(res.Grants, perFile[i]...)
	}

	l.logger.Info("loaded grant records",
		slog.Int("files", res.Files),
		slog.Int("records", len(res.Grants)),
		slog.Int("failed_files", len(res.Failed)))
	return res, nil
}
