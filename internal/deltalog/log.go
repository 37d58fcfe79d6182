package deltalog

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const queueCapacity = 4096

// Log is the append-only segmented writer/reader. Segment files are
// named delta-YYYYMMDD-HHMMSS.log and rotate at maxBytes or maxAge,
// whichever comes first. The currently-open segment is never a rotation
// candidate for deletion — retention trimming (Trim) only removes other
// segments whose last modification is older than the retention horizon.
type Log struct {
	dir     string
	maxBytes int64
	maxAge   time.Duration
	log      *logrus.Entry

	queue chan Record
	done  chan struct{}
	wg    sync.WaitGroup // tracks the writer goroutine

	mu      sync.Mutex
	file    *os.File
	path    string
	opened  time.Time
	written int64
}

// Open creates dir if needed and starts the background writer goroutine.
func Open(dir string, maxBytes int64, maxAge time.Duration, log *logrus.Entry) (*Log, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create delta log dir: %w", err)
	}
	l := &Log{
		dir:      dir,
		maxBytes: maxBytes,
		maxAge:   maxAge,
		log:      log.WithField("component", "deltalog"),
		queue:    make(chan Record, queueCapacity),
		done:     make(chan struct{}),
	}
	if err := l.rotate(); err != nil {
		return nil, err
	}
	l.wg.Add(1)
	go l.writerLoop()
	return l, nil
}

// Append enqueues a record for the background writer. The queue is bounded;
// a full queue under sustained overload is itself a resource-exhaustion
// signal the backpressure controller should already have escalated on, so
// Append drops with a logged warning rather than blocking the caller's
// pipeline indefinitely.
func (l *Log) Append(ctx context.Context, r Record) error {
	select {
	case l.queue <- r:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		l.log.Warn("delta log queue full, dropping record")
		return fmt.Errorf("delta log queue full")
	}
}

// Close stops the writer goroutine and closes the open segment. Idempotent.
func (l *Log) Close() error {
	select {
	case <-l.done:
		return nil
	default:
		close(l.done)
	}
	l.wg.Wait() // let the writer drain the queue before the segment closes
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file != nil {
		err := l.file.Close()
		l.file = nil
		return err
	}
	return nil
}

func (l *Log) writerLoop() {
	defer l.wg.Done()
	for {
		select {
		case r := <-l.queue:
			if err := l.write(r); err != nil {
				l.log.WithError(err).Error("delta log write failed")
			}
		case <-l.done:
			// Drain whatever is already queued before returning so a clean
			// shutdown does not silently lose buffered records.
			for {
				select {
				case r := <-l.queue:
					_ = l.write(r)
				default:
					return
				}
			}
		}
	}
}

func (l *Log) write(r Record) error {
	frame, err := encodeFrame(r)
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.written+int64(len(frame)) > l.maxBytes || time.Since(l.opened) > l.maxAge {
		if err := l.rotateLocked(); err != nil {
			return err
		}
	}

	n, err := l.file.Write(frame)
	l.written += int64(n)
	return err
}

func (l *Log) rotate() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rotateLocked()
}

func (l *Log) rotateLocked() error {
	if l.file != nil {
		if err := l.file.Close(); err != nil {
			return err
		}
	}
	name := fmt.Sprintf("delta-%s.log", time.Now().UTC().Format("20060102-150405"))
	path := filepath.Join(l.dir, name)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open segment %s: %w", path, err)
	}
	l.file = f
	l.path = path
	l.opened = time.Now()
	l.written = 0
	return nil
}

// Range returns every record for mint with Timestamp >= since, read from
// every segment file (the currently-open segment included — it is read via
// a fresh file handle, independent of the writer's append-mode handle).
func (l *Log) Range(ctx context.Context, mint string, since time.Time) ([]Record, error) {
	segments, err := l.segmentPaths()
	if err != nil {
		return nil, err
	}

	var out []Record
	for _, path := range segments {
		select {
		case <-ctx.Done():
			return out, ctx.Err()
		default:
		}
		recs, err := readSegment(path)
		if err != nil {
			l.log.WithError(err).WithField("segment", path).Warn("skipping unreadable delta log segment")
			continue
		}
		for _, r := range recs {
			if r.Mint.String() == mint && !r.Timestamp.Before(since) {
				out = append(out, r)
			}
		}
	}
	return out, nil
}

func (l *Log) segmentPaths() ([]string, error) {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return nil, fmt.Errorf("list delta log dir: %w", err)
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), "delta-") || !strings.HasSuffix(e.Name(), ".log") {
			continue
		}
		paths = append(paths, filepath.Join(l.dir, e.Name()))
	}
	sort.Strings(paths)
	return paths, nil
}

func readSegment(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []Record
	for {
		r, err := readFrame(f)
		if err != nil {
			break
		}
		out = append(out, r)
	}
	return out, nil
}

// Trim deletes segment files whose entire contents are older than the
// retention horizon, never touching the currently-open segment.
func (l *Log) Trim(retention time.Duration) error {
	l.mu.Lock()
	currentPath := l.path
	l.mu.Unlock()

	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return fmt.Errorf("list delta log dir: %w", err)
	}
	cutoff := time.Now().Add(-retention)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		path := filepath.Join(l.dir, e.Name())
		if path == currentPath {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(path); err != nil {
				l.log.WithError(err).WithField("segment", path).Warn("failed to remove expired delta log segment")
			}
		}
	}
	return nil
}
