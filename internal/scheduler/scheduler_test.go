package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trialguard/internal/config"
	"trialguard/internal/notify"
	"trialguard/internal/trial"
)

var testTime = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// fakeClock is a manually advanced clock. After waiters fire when Advance
// moves time past their deadline.
type fakeClock struct {
	mu      sync.Mutex
	now     time.Time
	waiters []fakeWaiter
}

type fakeWaiter struct {
	at time.Time
	ch chan time.Time
}

func newFakeClock(now time.Time) *fakeClock {
	return &fakeClock{now: now}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch := make(chan time.Time, 1)
	if d <= 0 {
		ch <- c.now
		return ch
	}
	c.waiters = append(c.waiters, fakeWaiter{at: c.now.Add(d), ch: ch})
	return ch
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	remaining := c.waiters[:0]
	for _, w := range c.waiters {
		if !w.at.After(c.now) {
			w.ch <- c.now
		} else {
			remaining = append(remaining, w)
		}
	}
	c.waiters = remaining
}

func (c *fakeClock) waiterCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.waiters)
}

// capturingNotifier records every notification, safely across goroutines
type capturingNotifier struct {
	mu        sync.Mutex
	reminders []notify.Reminder
	expiries  []notify.Expiry
}

func (n *capturingNotifier) SendReminder(_ context.Context, r notify.Reminder) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.reminders = append(n.reminders, r)
	return nil
}

func (n *capturingNotifier) SendExpiry(_ context.Context, e notify.Expiry) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.expiries = append(n.expiries, e)
	return nil
}

func (n *capturingNotifier) expiryCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.expiries)
}

func (n *capturingNotifier) reminderDays() []int {
	n.mu.Lock()
	defer n.mu.Unlock()
	days := make([]int, len(n.reminders))
	for i, r := range n.reminders {
		days[i] = r.DaysRemaining
	}
	return days
}

func newTestScheduler(t *testing.T, clock Clock, notifier notify.Notifier) (*Scheduler, *trial.Store) {
	t.Helper()
	store, err := trial.NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	cfg := config.SchedulerConfig{
		SweepTime:           "00:00",
		ReminderTime:        "09:00",
		ReminderHorizonDays: 7,
		StartupSweepDelay:   10 * time.Second,
	}
	s, err := New(cfg, store, notifier, slog.Default(), WithClock(clock))
	require.NoError(t, err)
	return s, store
}

func seedTrial(t *testing.T, store *trial.Store, id string, endDate time.Time) {
	t.Helper()
	require.NoError(t, store.Create(context.Background(), &trial.Trial{
		ID: id, UserID: "u-" + id, ProductID: "p-" + id, ProductName: "Product " + id,
		StartDate: testTime, EndDate: endDate, TrialDays: 7, Status: trial.StatusActive,
	}))
}

func TestSweepExpiresPastTrials(t *testing.T) {
	clock := newFakeClock(testTime.Add(10 * 24 * time.Hour))
	notifier := &capturingNotifier{}
	s, store := newTestScheduler(t, clock, notifier)
	ctx := context.Background()

	seedTrial(t, store, "past", testTime.Add(7*24*time.Hour))
	seedTrial(t, store, "future", clock.Now().Add(5*24*time.Hour))

	s.Sweep(ctx)

	expired, err := store.FindExpired(ctx, clock.Now())
	require.NoError(t, err)
	assert.Empty(t, expired, "sweep must leave no expired-but-active trials")

	require.Equal(t, 1, notifier.expiryCount())
	assert.Equal(t, "u-past", notifier.expiries[0].UserID)
}

func TestSweepIsIdempotent(t *testing.T) {
	clock := newFakeClock(testTime.Add(10 * 24 * time.Hour))
	notifier := &capturingNotifier{}
	s, store := newTestScheduler(t, clock, notifier)
	ctx := context.Background()

	seedTrial(t, store, "past", testTime.Add(7*24*time.Hour))

	s.Sweep(ctx)
	s.Sweep(ctx)

	assert.Equal(t, 1, notifier.expiryCount(), "second sweep must be a no-op")
}

func TestSweepSkipsCycleOnStoreFault(t *testing.T) {
	clock := newFakeClock(testTime)
	notifier := &capturingNotifier{}
	s, store := newTestScheduler(t, clock, notifier)

	require.NoError(t, store.Close())

	// Must not panic or notify; the next tick would retry
	s.Sweep(context.Background())
	assert.Equal(t, 0, notifier.expiryCount())
}

func TestScanRemindersFiresOnlyAtSevenThreeOne(t *testing.T) {
	now := testTime.Add(100 * 24 * time.Hour)
	clock := newFakeClock(now)
	notifier := &capturingNotifier{}
	s, store := newTestScheduler(t, clock, notifier)

	seedTrial(t, store, "seven", now.Add(7*24*time.Hour))
	seedTrial(t, store, "five", now.Add(5*24*time.Hour))
	seedTrial(t, store, "three", now.Add(3*24*time.Hour))
	seedTrial(t, store, "two", now.Add(2*24*time.Hour))
	seedTrial(t, store, "one", now.Add(24*time.Hour))
	seedTrial(t, store, "far", now.Add(30*24*time.Hour))

	s.ScanReminders(context.Background())

	assert.ElementsMatch(t, []int{7, 3, 1}, notifier.reminderDays())
}

func TestRunFiresInitialSweepAndDailyTicks(t *testing.T) {
	clock := newFakeClock(testTime.Add(10 * 24 * time.Hour))
	notifier := &capturingNotifier{}
	s, store := newTestScheduler(t, clock, notifier)

	seedTrial(t, store, "past", testTime.Add(7*24*time.Hour))

	done := make(chan error, 1)
	go func() { done <- s.Run(context.Background()) }()

	// Wait for Run to arm its three timers before advancing
	require.Eventually(t, func() bool { return clock.waiterCount() >= 3 }, time.Second, time.Millisecond)

	// Past the startup delay the initial sweep fires
	clock.Advance(11 * time.Second)
	require.Eventually(t, func() bool { return notifier.expiryCount() == 1 }, time.Second, time.Millisecond)

	// The daily sweep re-arms after firing
	seedTrial(t, store, "past2", testTime.Add(8*24*time.Hour))
	clock.Advance(24 * time.Hour)
	require.Eventually(t, func() bool { return notifier.expiryCount() == 2 }, time.Second, time.Millisecond)

	s.Stop()
	s.Stop() // safe to repeat

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after Stop")
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	clock := newFakeClock(testTime)
	s, _ := newTestScheduler(t, clock, &capturingNotifier{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}

func TestUntilNext(t *testing.T) {
	tests := []struct {
		name         string
		now          time.Time
		hour, minute int
		want         time.Duration
	}{
		{"later today", time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC), 9, 0, time.Hour},
		{"exactly now rolls over", time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC), 9, 0, 24 * time.Hour},
		{"already passed", time.Date(2024, 1, 1, 10, 30, 0, 0, time.UTC), 9, 0, 22*time.Hour + 30*time.Minute},
		{"midnight", time.Date(2024, 1, 1, 0, 0, 1, 0, time.UTC), 0, 0, 24*time.Hour - time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, untilNext(tt.now, tt.hour, tt.minute))
		})
	}
}
