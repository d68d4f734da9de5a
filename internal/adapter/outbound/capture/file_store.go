// Package capture persists captured messages as JSON Lines with daily
// rotation, size caps and retention cleanup.
package capture

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"sync"
	"time"

	"github.com/Sentinel-Gate/tapgate/internal/domain/interceptor"
)

const dateLayout = "2006-01-02"

// capturePattern matches capture-YYYY-MM-DD.jsonl and capture-YYYY-MM-DD-N.jsonl.
var capturePattern = regexp.MustCompile(`^capture-(\d{4}-\d{2}-\d{2})(?:-(\d+))?\.jsonl$`)

type fileInfo struct {
	date   string
	suffix int
}

func parseFilename(name string) (fileInfo, bool) {
	m := capturePattern.FindStringSubmatch(name)
	if m == nil {
		return fileInfo{}, false
	}
	info := fileInfo{date: m[1]}
	if m[2] != "" {
		n, err := strconv.Atoi(m[2])
		if err != nil {
			return fileInfo{}, false
		}
		info.suffix = n
	}
	return info, true
}

func filename(date string, suffix int) string {
	if suffix == 0 {
		return fmt.Sprintf("capture-%s.jsonl", date)
	}
	return fmt.Sprintf("capture-%s-%d.jsonl", date, suffix)
}

// FileStore implements interceptor.RecordSink on rotating files.
type FileStore struct {
	dir           string
	maxFileSize   int64
	retentionDays int
	logger        *slog.Logger

	mu      sync.Mutex
	file    *os.File
	date    string
	size    int64
	suffix  int
	cancel  context.CancelFunc
	closed  bool
	nowFunc func() time.Time
}

// Compile-time interface verification.
var _ interceptor.RecordSink = (*FileStore)(nil)

// Open creates the directory if needed, opens today's file, removes files
// past retention and starts the hourly cleanup.
func Open(cfg interceptor.CaptureConfig, logger *slog.Logger) (*FileStore, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("capture directory is required")
	}
	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = 7
	}
	if cfg.MaxFileSizeMB <= 0 {
		cfg.MaxFileSizeMB = 100
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(cfg.Dir, 0700); err != nil {
		return nil, fmt.Errorf("create capture directory: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &FileStore{
		dir:           cfg.Dir,
		maxFileSize:   int64(cfg.MaxFileSizeMB) * 1024 * 1024,
		retentionDays: cfg.RetentionDays,
		logger:        logger,
		cancel:        cancel,
		nowFunc:       time.Now,
	}

	today := s.nowFunc().UTC().Format(dateLayout)
	if err := s.openLatest(today); err != nil {
		cancel()
		return nil, fmt.Errorf("open capture file: %w", err)
	}
	s.cleanup()
	go s.cleanupLoop(ctx)

	return s, nil
}

// Opener adapts Open to interceptor.SinkOpener.
func Opener(logger *slog.Logger) interceptor.SinkOpener {
	return func(cfg interceptor.CaptureConfig) (interceptor.RecordSink, error) {
		return Open(cfg, logger)
	}
}

// Append writes records as JSON lines, rotating on date change or size.
func (s *FileStore) Append(_ context.Context, records ...interceptor.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return os.ErrClosed
	}
	for _, rec := range records {
		date := rec.Time.UTC().Format(dateLayout)
		if date != s.date {
			if err := s.rotateLocked(date, 0); err != nil {
				return fmt.Errorf("date rotation: %w", err)
			}
		}
		if s.size >= s.maxFileSize {
			if err := s.rotateLocked(s.date, s.suffix+1); err != nil {
				return fmt.Errorf("size rotation: %w", err)
			}
		}

		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("marshal capture record: %w", err)
		}
		n, err := s.file.Write(append(data, '\n'))
		s.size += int64(n)
		if err != nil {
			return fmt.Errorf("write capture record: %w", err)
		}
	}
	return nil
}

// Close stops cleanup and closes the current file.
func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	s.cancel()

	if s.file == nil {
		return nil
	}
	_ = s.file.Sync()
	err := s.file.Close()
	s.file = nil
	return err
}

// openLatest appends to the highest suffix already present for date.
func (s *FileStore) openLatest(date string) error {
	highest := 0
	entries, _ := os.ReadDir(s.dir)
	for _, e := range entries {
		info, ok := parseFilename(e.Name())
		if ok && info.date == date && info.suffix > highest {
			highest = info.suffix
		}
	}
	return s.rotateLocked(date, highest)
}

// rotateLocked switches to the file for date and suffix. Must be called
// with s.mu held, or before the store is shared.
func (s *FileStore) rotateLocked(date string, suffix int) error {
	if s.file != nil {
		_ = s.file.Sync()
		_ = s.file.Close()
		s.file = nil
	}

	path := filepath.Join(s.dir, filename(date, suffix))
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("open file %s: %w", path, err)
	}
	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("stat file %s: %w", path, err)
	}

	s.file = f
	s.date = date
	s.suffix = suffix
	s.size = st.Size()
	return nil
}

// cleanup deletes capture files older than the retention period.
func (s *FileStore) cleanup() {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		s.logger.Error("capture cleanup: failed to read directory", "dir", s.dir, "error", err)
		return
	}

	cutoff := s.nowFunc().UTC().AddDate(0, 0, -s.retentionDays)
	deleted := 0
	for _, e := range entries {
		info, ok := parseFilename(e.Name())
		if !ok {
			continue
		}
		day, err := time.Parse(dateLayout, info.date)
		if err != nil || !day.Before(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, e.Name())); err != nil {
			s.logger.Error("capture cleanup: failed to delete file", "file", e.Name(), "error", err)
			continue
		}
		deleted++
	}
	if deleted > 0 {
		s.logger.Info("capture cleanup completed", "deleted", deleted)
	}
}

func (s *FileStore) cleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.cleanup()
		}
	}
}
