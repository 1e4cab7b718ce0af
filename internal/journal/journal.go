package journal

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/john/chatguard/internal/message"
)

// segment is one open JSONL file for a page/surface pair
type segment struct {
	file     *os.File
	writer   *bufio.Writer
	opened   time.Time
	size     int64
	pending  []message.Verdict
	page     string
	surface  string
	filename string
}

// Journal appends verdicts to rotating JSONL files and hands closed files
// to the uploader. It is an audit trail; nothing reads it back.
type Journal struct {
	dir        string
	bufferSize int
	maxAge     time.Duration
	maxBytes   int64
	logger     *zap.Logger
	now        func() time.Time

	mu       sync.Mutex
	segments map[string]*segment // key: "page_surface"
}

// New creates a journal writing under dir
func New(dir string, bufferSize, rotateMinutes, rotateMegabytes int, logger *zap.Logger) *Journal {
	if bufferSize <= 0 {
		bufferSize = 1
	}
	return &Journal{
		dir:        dir,
		bufferSize: bufferSize,
		maxAge:     time.Duration(rotateMinutes) * time.Minute,
		maxBytes:   int64(rotateMegabytes) * 1024 * 1024,
		logger:     logger,
		now:        time.Now,
		segments:   make(map[string]*segment),
	}
}

// Start records verdicts until ctx is cancelled, then flushes and closes
// every open file
func (j *Journal) Start(ctx context.Context, verdicts <-chan message.Verdict, fileChan chan<- string) error {
	if err := os.MkdirAll(j.dir, 0755); err != nil {
		return fmt.Errorf("create journal directory: %w", err)
	}

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case v := <-verdicts:
			if err := j.Record(v); err != nil {
				j.logger.Error("Error recording verdict", zap.Error(err))
			}

		case <-ticker.C:
			j.Rotate(fileChan, false)

		case <-ctx.Done():
			j.logger.Info("Journal shutting down, flushing buffers...")
			j.Rotate(fileChan, true)
			return ctx.Err()
		}
	}
}

// Record buffers one verdict, flushing when the buffer fills
func (j *Journal) Record(v message.Verdict) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	key := v.Page + "_" + v.Surface
	seg := j.segments[key]
	if seg == nil {
		var err error
		seg, err = j.open(v.Page, v.Surface)
		if err != nil {
			return err
		}
		j.segments[key] = seg
	}

	seg.pending = append(seg.pending, v)
	if len(seg.pending) >= j.bufferSize {
		return seg.flush()
	}
	return nil
}

// Rotate closes segments past their age or size limit, or all of them
// when final is set, and queues the closed files for upload
func (j *Journal) Rotate(fileChan chan<- string, final bool) {
	j.mu.Lock()
	defer j.mu.Unlock()

	for key, seg := range j.segments {
		if !final && !j.due(seg) {
			continue
		}

		path, err := seg.close(j.dir)
		if err != nil {
			j.logger.Error("Error closing journal file", zap.String("file", seg.filename), zap.Error(err))
		}
		delete(j.segments, key)

		select {
		case fileChan <- path:
			j.logger.Info("Queued journal file for upload", zap.String("file", seg.filename))
		default:
			j.logger.Warn("Upload queue full, file stays on disk", zap.String("file", seg.filename))
		}
	}
}

func (j *Journal) due(seg *segment) bool {
	if j.maxAge > 0 && j.now().Sub(seg.opened) >= j.maxAge {
		j.logger.Info("Rotating journal file (time limit)", zap.String("file", seg.filename))
		return true
	}
	if j.maxBytes > 0 && seg.size >= j.maxBytes {
		j.logger.Info("Rotating journal file (size limit)", zap.String("file", seg.filename))
		return true
	}
	return false
}

// Filename returns the journal file name for a page/surface opened at t
func Filename(page, surface string, t time.Time) string {
	return fmt.Sprintf("%s_%s_%s.jsonl", page, surface, t.UTC().Format("20060102_1504"))
}

func (j *Journal) open(page, surface string) (*segment, error) {
	now := j.now()
	filename := Filename(page, surface, now)

	// O_APPEND so a rotation within the same minute continues the file
	file, err := os.OpenFile(filepath.Join(j.dir, filename), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("open journal file: %w", err)
	}
	j.logger.Info("Created new journal file", zap.String("file", filename))

	return &segment{
		file:     file,
		writer:   bufio.NewWriter(file),
		opened:   now,
		pending:  make([]message.Verdict, 0, j.bufferSize),
		page:     page,
		surface:  surface,
		filename: filename,
	}, nil
}

// flush writes pending verdicts as JSON lines
func (s *segment) flush() error {
	for _, v := range s.pending {
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("marshal verdict: %w", err)
		}
		data = append(data, '\n')
		n, err := s.writer.Write(data)
		s.size += int64(n)
		if err != nil {
			return fmt.Errorf("write verdict: %w", err)
		}
	}
	s.pending = s.pending[:0]
	return s.writer.Flush()
}

// close flushes and closes the file, returning its path
func (s *segment) close(dir string) (string, error) {
	path := filepath.Join(dir, s.filename)
	if err := s.flush(); err != nil {
		s.file.Close()
		return path, err
	}
	return path, s.file.Close()
}
