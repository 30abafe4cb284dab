package persistence

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/talgya/tile-city/internal/city"
)

// ErrSaveInProgress is returned when a save is requested while another one
// is still writing. A single deferred retry is scheduled instead.
var ErrSaveInProgress = errors.New("save already in progress")

// DefaultRetryDelay is how long a deferred save waits.
const DefaultRetryDelay = 2 * time.Second

// Saver serializes the saves of one city session. Overlapping requests are
// never written concurrently and never queued: at most one retry is pending,
// and it writes the most recent snapshot.
type Saver struct {
	RetryDelay time.Duration

	write   func(ctx context.Context, s *Snapshot, version int64) (int64, error)
	limiter *rate.Limiter

	mu         sync.Mutex
	version    int64
	saving     bool
	captured   uint64    // Sequence of the latest snapshot handed to the saver
	written    uint64    // Sequence of the newest snapshot successfully written
	pending    *Snapshot // Latest snapshot rejected while saving
	pendingSeq uint64
	retry      *time.Timer
	lastErr    error
}

// NewSaver creates a saver for a city stored at version (0 if never saved).
// Autosave writes at most once per interval.
func NewSaver(db *DB, version int64, interval time.Duration) *Saver {
	limit := rate.Inf
	if interval > 0 {
		limit = rate.Every(interval)
	}
	return &Saver{
		RetryDelay: DefaultRetryDelay,
		write:      db.Save,
		limiter:    rate.NewLimiter(limit, 1),
		version:    version,
	}
}

// Version returns the version of the last successful write.
func (s *Saver) Version() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version
}

// LastError returns the error of the most recent write, including deferred
// retries.
func (s *Saver) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Save captures c and writes it. It must be called from the goroutine that
// owns c.
func (s *Saver) Save(ctx context.Context, c *city.City) error {
	return s.saveSnapshot(ctx, Capture(c))
}

// Autosave saves c unless the limiter says the last save was too recent.
// Reports whether a save was attempted.
func (s *Saver) Autosave(ctx context.Context, c *city.City) (bool, error) {
	if !s.limiter.Allow() {
		return false, nil
	}
	return true, s.Save(ctx, c)
}

func (s *Saver) saveSnapshot(ctx context.Context, snap *Snapshot) error {
	s.mu.Lock()
	s.captured++
	seq := s.captured
	s.mu.Unlock()
	return s.attempt(ctx, snap, seq)
}

// attempt writes snap unless another write is running, in which case snap
// becomes the pending retry. A successful write drops any pending snapshot
// that is not newer than it.
func (s *Saver) attempt(ctx context.Context, snap *Snapshot, seq uint64) error {
	s.mu.Lock()
	if s.saving {
		if seq > s.pendingSeq {
			s.pending, s.pendingSeq = snap, seq
		}
		if s.retry == nil {
			s.retry = time.AfterFunc(s.RetryDelay, s.runRetry)
			slog.Debug("save deferred", "city", snap.ID, "delay", s.RetryDelay)
		}
		s.mu.Unlock()
		return ErrSaveInProgress
	}
	if seq <= s.written {
		s.mu.Unlock()
		return nil
	}
	s.saving = true
	version := s.version
	s.mu.Unlock()

	next, err := s.write(ctx, snap, version)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.saving = false
	s.lastErr = err
	if err != nil {
		return err
	}
	s.version = next
	s.written = seq
	if s.pending != nil && s.pendingSeq <= seq {
		s.pending, s.pendingSeq = nil, 0
		if s.retry != nil {
			s.retry.Stop()
			s.retry = nil
		}
	}
	return nil
}

func (s *Saver) runRetry() {
	s.mu.Lock()
	snap, seq := s.pending, s.pendingSeq
	s.pending, s.pendingSeq = nil, 0
	s.retry = nil
	superseded := snap != nil && seq <= s.written
	s.mu.Unlock()
	if snap == nil || superseded {
		return
	}
	err := s.attempt(context.Background(), snap, seq)
	switch {
	case err == nil:
		slog.Info("deferred save written", "city", snap.ID, "version", s.Version())
	case errors.Is(err, ErrSaveInProgress):
		// Rescheduled by attempt.
	default:
		slog.Error("deferred save failed", "city", snap.ID, "error", err)
	}
}

// Stop cancels a pending retry. Reports whether one was cancelled.
func (s *Saver) Stop() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.retry == nil {
		return false
	}
	stopped := s.retry.Stop()
	s.retry = nil
	s.pending, s.pendingSeq = nil, 0
	return stopped
}
