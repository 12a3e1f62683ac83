package notifications

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fentz26/pocketd/internal/devicelock"
	"github.com/fentz26/pocketd/internal/models"
)

type fakeTriager struct {
	mu        sync.Mutex
	seen      []string
	active    atomic.Int32
	maxActive atomic.Int32
	gate      chan struct{}
	lock      *devicelock.Lock
	heldBy    []models.OwnerKind
	decide    func(models.NotificationEvent) (*models.TriageResult, error)
}

func (f *fakeTriager) Triage(ctx context.Context, n models.NotificationEvent) (*models.TriageResult, error) {
	cur := f.active.Add(1)
	defer f.active.Add(-1)
	for {
		prev := f.maxActive.Load()
		if cur <= prev || f.maxActive.CompareAndSwap(prev, cur) {
			break
		}
	}

	f.mu.Lock()
	f.seen = append(f.seen, n.Key)
	if f.lock != nil {
		f.heldBy = append(f.heldBy, f.lock.State().OwnerKind)
	}
	f.mu.Unlock()

	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.decide != nil {
		return f.decide(n)
	}
	return &models.TriageResult{Action: models.TriageLog, Reason: "noted"}, nil
}

func (f *fakeTriager) keys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.seen...)
}

type queueHarness struct {
	q       *Queue
	lock    *devicelock.Lock
	filter  *Filter
	triager *fakeTriager
}

func newQueueHarness(t *testing.T) *queueHarness {
	t.Helper()
	filter := NewFilter(newFileStore(t), nil)
	require.NoError(t, filter.Set([]string{"com.whatsapp"}))

	lock := devicelock.New()
	triager := &fakeTriager{lock: lock}
	src := &scriptedSource{steps: []func() ([]models.NotificationEvent, error){keys()}}

	q := NewQueue(QueueDeps{
		Watcher: NewWatcher(src, time.Hour, nil, nil),
		Filter:  filter,
		Lock:    lock,
		Triager: triager,
	}, QueueConfig{})
	t.Cleanup(q.Close)
	q.Start()

	return &queueHarness{q: q, lock: lock, filter: filter, triager: triager}
}

func event(key string) models.NotificationEvent {
	return models.NotificationEvent{Key: key, PackageName: "com.whatsapp", Title: key, PostedAt: time.Now()}
}

func waitIdle(t *testing.T, q *Queue) {
	t.Helper()
	require.Eventually(t, func() bool {
		st := q.Status()
		return !st.Processing && st.QueueLength == 0
	}, 2*time.Second, 2*time.Millisecond)
}

func TestQueue_FIFOAndSingleConsumer(t *testing.T) {
	h := newQueueHarness(t)
	h.triager.gate = make(chan struct{})

	h.q.Enqueue(event("1"))
	h.q.Enqueue(event("2"))
	h.q.Enqueue(event("3"))

	require.Eventually(t, func() bool { return len(h.triager.keys()) == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, 2, h.q.Status().QueueLength)
	assert.True(t, h.q.Status().Processing)

	close(h.triager.gate)
	waitIdle(t, h.q)

	assert.Equal(t, []string{"1", "2", "3"}, h.triager.keys())
	assert.Equal(t, int32(1), h.triager.maxActive.Load())

	log := h.q.Log()
	require.Len(t, log, 3)
	for _, e := range log {
		assert.Equal(t, models.TriageLog, e.Action)
	}
	assert.False(t, h.lock.State().Locked)
}

func TestQueue_HoldsLockAsNotificationAgent(t *testing.T) {
	h := newQueueHarness(t)
	h.q.Enqueue(event("1"))
	waitIdle(t, h.q)

	h.triager.mu.Lock()
	defer h.triager.mu.Unlock()
	assert.Equal(t, []models.OwnerKind{models.OwnerNotificationAgent}, h.triager.heldBy)
}

func TestQueue_DropsNonWhitelisted(t *testing.T) {
	h := newQueueHarness(t)

	other := event("x")
	other.PackageName = "com.other.app"
	h.q.Enqueue(other)

	assert.Equal(t, 0, h.q.Status().QueueLength)
	assert.False(t, h.q.Status().Processing)
	assert.Empty(t, h.q.Log())
	assert.Empty(t, h.triager.keys())
}

func TestQueue_SkipsStale(t *testing.T) {
	h := newQueueHarness(t)

	old := event("old")
	old.PostedAt = time.Now().Add(-2 * time.Minute)
	h.q.Enqueue(old)

	unknown := event("unknown-time")
	unknown.PostedAt = time.Time{}
	h.q.Enqueue(unknown)
	waitIdle(t, h.q)

	log := h.q.Log()
	require.Len(t, log, 2)
	assert.Equal(t, models.TriageSkip, log[0].Action)
	assert.Equal(t, reasonTooOld, log[0].Reason)
	assert.Equal(t, models.TriageLog, log[1].Action, "unknown post time is never stale")
}

func TestQueue_SkipsWhenUserHoldsLock(t *testing.T) {
	h := newQueueHarness(t)
	require.True(t, h.lock.Acquire("user", models.OwnerInteractiveUser, time.Minute))

	h.q.Enqueue(event("1"))
	waitIdle(t, h.q)

	log := h.q.Log()
	require.Len(t, log, 1)
	assert.Equal(t, models.TriageSkip, log[0].Action)
	assert.Equal(t, reasonUserBusy, log[0].Reason)
	assert.Empty(t, h.triager.keys())
}

func TestQueue_SkipsWhenSchedulerHoldsLock(t *testing.T) {
	h := newQueueHarness(t)
	require.True(t, h.lock.Acquire("task", models.OwnerScheduledTask, time.Minute))

	h.q.Enqueue(event("1"))
	waitIdle(t, h.q)

	log := h.q.Log()
	require.Len(t, log, 1)
	assert.Equal(t, reasonContention, log[0].Reason)
	assert.Equal(t, "task", h.lock.State().Owner)
}

func TestQueue_ErrorsDoNotStopConsumer(t *testing.T) {
	h := newQueueHarness(t)
	h.triager.decide = func(n models.NotificationEvent) (*models.TriageResult, error) {
		if n.Key == "bad" {
			return nil, errors.New("agent unreachable")
		}
		return &models.TriageResult{Action: models.TriageAlert, Reason: "bank"}, nil
	}

	h.q.Enqueue(event("bad"))
	h.q.Enqueue(event("good"))
	waitIdle(t, h.q)

	log := h.q.Log()
	require.Len(t, log, 2)
	assert.Equal(t, models.TriageError, log[0].Action)
	assert.Equal(t, "agent unreachable", log[0].Reason)
	assert.Equal(t, models.TriageAlert, log[1].Action)
	assert.False(t, h.lock.State().Locked)
}

func TestQueue_StopClearsPending(t *testing.T) {
	h := newQueueHarness(t)
	h.triager.gate = make(chan struct{})

	h.q.Enqueue(event("1"))
	h.q.Enqueue(event("2"))
	h.q.Enqueue(event("3"))
	require.Eventually(t, func() bool { return len(h.triager.keys()) == 1 }, time.Second, time.Millisecond)

	h.q.Stop()
	assert.Equal(t, 0, h.q.Status().QueueLength)
	assert.False(t, h.q.Status().Running)

	close(h.triager.gate)
	waitIdle(t, h.q)
	assert.Equal(t, []string{"1"}, h.triager.keys())
}

func TestQueue_DropsEventsWhileStopped(t *testing.T) {
	h := newQueueHarness(t)
	h.q.Stop()

	h.q.Enqueue(event("late"))
	assert.Equal(t, 0, h.q.Status().QueueLength)
	assert.Empty(t, h.q.Log())
	assert.Empty(t, h.triager.keys())

	h.q.Start()
	h.q.Enqueue(event("1"))
	waitIdle(t, h.q)
	assert.Equal(t, []string{"1"}, h.triager.keys())
}

func TestQueue_ConcurrentStartStopStaysConsistent(t *testing.T) {
	h := newQueueHarness(t)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() { defer wg.Done(); h.q.Start() }()
		go func() { defer wg.Done(); h.q.Stop() }()
	}
	wg.Wait()

	assert.Equal(t, h.q.watcher.Running(), h.q.Status().Running)
}

func TestQueue_StartWiresWatcher(t *testing.T) {
	filter := NewFilter(newFileStore(t), nil)
	require.NoError(t, filter.Set([]string{"com.whatsapp"}))
	triager := &fakeTriager{}

	src := &scriptedSource{steps: []func() ([]models.NotificationEvent, error){
		func() ([]models.NotificationEvent, error) {
			return []models.NotificationEvent{event("m1"), {Key: "o1", PackageName: "com.other.app"}}, nil
		},
	}}
	q := NewQueue(QueueDeps{
		Watcher: NewWatcher(src, time.Hour, nil, nil),
		Filter:  filter,
		Lock:    devicelock.New(),
		Triager: triager,
	}, QueueConfig{})
	defer q.Close()

	q.Start()
	assert.Eventually(t, func() bool { return len(q.Log()) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"m1"}, triager.keys())

	st := q.Status()
	assert.True(t, st.Running)
	assert.Equal(t, 1, st.WhitelistSize)
}
