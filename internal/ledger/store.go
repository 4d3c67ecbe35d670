package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"trialguard/internal/fingerprint"
)

// ErrPersistence wraps faults from the backing store. Callers use errors.Is
// to distinguish infrastructure failures from domain rejections: the guard
// fails open on these, the scheduler skips its cycle.
var ErrPersistence = errors.New("ledger persistence failure")

// ErrStoreClosed is returned for operations submitted after Close
var ErrStoreClosed = errors.New("ledger store closed")

// Store serializes all ledger access through a single owner goroutine.
// Every Update is applied and saved before the next operation runs, so
// concurrent activations from the same IP or device never lose updates.
type Store struct {
	persister Persister
	logger    *slog.Logger
	ops       chan storeOp
	done      chan struct{}

	mu       sync.Mutex
	closed   bool
	inFlight sync.WaitGroup
}

type storeOp struct {
	fn       func(*Ledger) error
	readonly bool
	reply    chan error
}

// NewStore loads the ledger from the persister and starts the owner
// goroutine. Call Close to stop it.
func NewStore(persister Persister, logger *slog.Logger) (*Store, error) {
	l, err := persister.Load()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	s := &Store{
		persister: persister,
		logger:    logger.With(slog.String("component", "ledger_store")),
		ops:       make(chan storeOp),
		done:      make(chan struct{}),
	}
	go s.run(l)
	return s, nil
}

func (s *Store) run(l *Ledger) {
	for op := range s.ops {
		err := op.fn(l)
		if err == nil && !op.readonly {
			if saveErr := s.persister.Save(l); saveErr != nil {
				err = fmt.Errorf("%w: %v", ErrPersistence, saveErr)
			}
		}
		op.reply <- err
	}
	close(s.done)
}

// Update applies fn to the ledger and persists the result. A non-nil error
// from fn aborts the save; fn must validate before mutating.
func (s *Store) Update(ctx context.Context, fn func(*Ledger) error) error {
	return s.submit(ctx, storeOp{fn: fn, reply: make(chan error, 1)})
}

// View runs fn against the ledger without persisting. fn must not mutate.
func (s *Store) View(ctx context.Context, fn func(*Ledger) error) error {
	return s.submit(ctx, storeOp{fn: fn, readonly: true, reply: make(chan error, 1)})
}

func (s *Store) submit(ctx context.Context, op storeOp) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrStoreClosed
	}
	s.inFlight.Add(1)
	s.mu.Unlock()
	defer s.inFlight.Done()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case s.ops <- op:
	}

	select {
	case <-ctx.Done():
		// The op already entered the queue; wait for its reply so the
		// owner goroutine never blocks on an abandoned channel.
		return <-op.reply
	case err := <-op.reply:
		return err
	}
}

// ArchiveFingerprint records the raw descriptor in the archive document.
// Archive faults are logged and swallowed: the archive is forensic data,
// never worth failing a request over.
func (s *Store) ArchiveFingerprint(ctx context.Context, fp *fingerprint.Descriptor, now time.Time) {
	hash := fingerprint.Hash(fp)
	if hash == "" {
		return
	}
	if err := s.persister.ArchiveFingerprint(hash, fp, now); err != nil {
		s.logger.WarnContext(ctx, "failed to archive fingerprint",
			slog.String("device_hash", hash),
			slog.String("error", err.Error()))
	}
}

// Close stops accepting operations, waits for in-flight ones to finish and
// shuts down the owner goroutine
func (s *Store) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.inFlight.Wait()
	close(s.ops)
	<-s.done
}
