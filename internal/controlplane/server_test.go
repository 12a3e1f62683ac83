package controlplane

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fentz26/pocketd/internal/audit"
	"github.com/fentz26/pocketd/internal/devicelock"
	"github.com/fentz26/pocketd/internal/metrics"
	"github.com/fentz26/pocketd/internal/models"
	"github.com/fentz26/pocketd/internal/notifications"
	"github.com/fentz26/pocketd/internal/scheduler"
	"github.com/fentz26/pocketd/internal/store"
)

type stubRunner struct {
	mu      sync.Mutex
	prompts []string
	err     error
	during  func()
}

func (r *stubRunner) Run(ctx context.Context, prompt string) (*models.AgentResult, error) {
	r.mu.Lock()
	r.prompts = append(r.prompts, prompt)
	during, err := r.during, r.err
	r.mu.Unlock()

	if during != nil {
		during()
	}
	if err != nil {
		return nil, err
	}
	return &models.AgentResult{Text: "done: " + prompt, Turns: 2}, nil
}

type awakeDevice struct{}

func (awakeDevice) IsScreenOn(context.Context) (bool, error) { return true, nil }
func (awakeDevice) WakeAndUnlock(context.Context) error     { return nil }
func (awakeDevice) Sleep(context.Context) error             { return nil }
func (awakeDevice) Info(context.Context) (*models.DeviceInfo, error) {
	return &models.DeviceInfo{ScreenOn: true, BatteryLevel: 81, BatteryStatus: "charging"}, nil
}

type stubTriager struct{}

func (stubTriager) Triage(context.Context, models.NotificationEvent) (*models.TriageResult, error) {
	return &models.TriageResult{Action: models.TriageIgnore, Reason: "test"}, nil
}

type stubSource struct{}

func (stubSource) List(context.Context) ([]models.NotificationEvent, error) {
	return []models.NotificationEvent{{Key: "0|com.whatsapp|1", PackageName: "com.whatsapp", Title: "hi"}}, nil
}

type testEnv struct {
	server *Server
	lock   *devicelock.Lock
	db     *store.Store
	runner *stubRunner
}

func newTestEnv(t *testing.T, mutate ...func(*Deps)) *testEnv {
	t.Helper()
	dir := t.TempDir()

	db, err := store.New(filepath.Join(dir, "test.db"))
	require.NoError(t, err)
	docs, err := store.NewFileStore(filepath.Join(dir, "state"))
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	m := metrics.MustNew(reg)
	lock := devicelock.New(devicelock.WithObserver(m))
	pdr := audit.NewPDRWriter(db)
	runner := &stubRunner{}

	sch := scheduler.New(scheduler.Deps{
		Docs:    docs,
		Lock:    lock,
		Waker:   awakeDevice{},
		Runner:  runner,
		PDR:     pdr,
		Metrics: m,
	}, nil)

	filter := notifications.NewFilter(docs, nil)
	watcher := notifications.NewWatcher(stubSource{}, time.Hour, m, nil)
	queue := notifications.NewQueue(notifications.QueueDeps{
		Watcher: watcher,
		Filter:  filter,
		Lock:    lock,
		Triager: stubTriager{},
		PDR:     pdr,
		Metrics: m,
	}, notifications.QueueConfig{})

	deps := Deps{
		Lock:      lock,
		Scheduler: sch,
		Queue:     queue,
		Filter:    filter,
		Source:    stubSource{},
		Device:    awakeDevice{},
		Runner:    runner,
		PDR:       pdr,
		DB:        db,
	}
	for _, fn := range mutate {
		fn(&deps)
	}

	t.Cleanup(func() {
		queue.Close()
		sch.Close()
		db.Close()
	})

	return &testEnv{
		server: NewServer(NewService(deps), "127.0.0.1:0", reg, nil),
		lock:   lock,
		db:     db,
		runner: runner,
	}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			require.NoError(t, json.NewEncoder(&buf).Encode(b))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	w := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(w.Body).Decode(&v), w.Body.String())
	return v
}

func TestHealthEndpoint_OK(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)

	health := decode[HealthResponse](t, w)
	assert.True(t, health.OK)
	assert.Equal(t, "ok", health.DB)
	assert.NotEmpty(t, health.Version)
	assert.NotEmpty(t, health.Time)
}

func TestHealthEndpoint_MethodNotAllowed(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, http.MethodPost, "/health", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestHealthEndpoint_DBError(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.db.Close())

	w := env.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusServiceUnavailable, w.Code)

	health := decode[HealthResponse](t, w)
	assert.False(t, health.OK)
	assert.NotEqual(t, "ok", health.DB)
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.lock.Acquire("agent-1", models.OwnerNotificationAgent, time.Minute)

	w := env.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "pocketd_lock_held 1")
	assert.Contains(t, w.Body.String(), "pocketd_lock_transitions_total")
}

func TestLockStatusAndRelease(t *testing.T) {
	env := newTestEnv(t)
	require.True(t, env.lock.Acquire("agent-1", models.OwnerNotificationAgent, time.Minute))

	w := env.do(t, http.MethodGet, "/lock", nil)
	require.Equal(t, http.StatusOK, w.Code)
	state := decode[models.LockState](t, w)
	assert.True(t, state.Locked)
	assert.Equal(t, models.OwnerNotificationAgent, state.OwnerKind)

	w = env.do(t, http.MethodPost, "/lock/release", nil)
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[releaseResponse](t, w)
	assert.True(t, resp.Released)
	assert.Equal(t, "agent-1", resp.Previous.Owner)
	assert.False(t, env.lock.State().Locked)

	// Releasing an idle lock is harmless and not audited.
	w = env.do(t, http.MethodPost, "/lock/release", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, decode[releaseResponse](t, w).Released)

	w = env.do(t, http.MethodGet, "/audit?action="+audit.ActionLockForceRelease, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]models.PDREntry](t, w), 1)
}

func TestCommand_RunsAsInteractiveUser(t *testing.T) {
	env := newTestEnv(t)
	var during models.LockState
	env.runner.during = func() { during = env.lock.State() }

	w := env.do(t, http.MethodPost, "/command", map[string]string{"prompt": "open settings"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	resp := decode[commandResponse](t, w)
	assert.Equal(t, "done: open settings", resp.Result)
	assert.Equal(t, 2, resp.Turns)

	assert.True(t, during.HeldBy(models.OwnerInteractiveUser))
	assert.False(t, env.lock.State().Locked, "lock must be released after the command")
}

func TestCommand_PreemptsAutomatedHolder(t *testing.T) {
	env := newTestEnv(t)
	require.True(t, env.lock.Acquire("sched-1", models.OwnerScheduledTask, time.Minute))

	w := env.do(t, http.MethodPost, "/command", map[string]string{"prompt": "take a photo"})
	require.Equal(t, http.StatusOK, w.Code)
}

func TestCommand_BusyWhenAnotherUserHoldsLock(t *testing.T) {
	env := newTestEnv(t)
	require.True(t, env.lock.Acquire("user-other", models.OwnerInteractiveUser, time.Minute))

	w := env.do(t, http.MethodPost, "/command", map[string]string{"prompt": "hello"})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Empty(t, env.runner.prompts)
}

func TestCommand_BadRequests(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/command", map[string]string{"prompt": "   "})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodPost, "/command", "{not json")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCommand_AgentFailureReleasesLock(t *testing.T) {
	env := newTestEnv(t)
	env.runner.err = errors.New("agent unreachable")

	w := env.do(t, http.MethodPost, "/command", map[string]string{"prompt": "hello"})
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, decode[errorResponse](t, w).Error, "agent unreachable")
	assert.False(t, env.lock.State().Locked)
}

func TestDevice(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, http.MethodGet, "/device", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 81, decode[models.DeviceInfo](t, w).BatteryLevel)

	env = newTestEnv(t, func(d *Deps) { d.Device = nil })
	w = env.do(t, http.MethodGet, "/device", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestScheduleLifecycle(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/schedules", createScheduleRequest{
		Name: "morning", Prompt: "read the news", CronExpression: "0 9 * * 1,3,5",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	task := decode[models.ScheduledTask](t, w)
	require.NotEmpty(t, task.ID)
	assert.True(t, task.Enabled)

	w = env.do(t, http.MethodGet, "/schedules", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]models.ScheduledTask](t, w), 1)

	w = env.do(t, http.MethodGet, "/schedules/"+task.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "morning", decode[models.ScheduledTask](t, w).Name)

	w = env.do(t, http.MethodPost, "/schedules/"+task.ID+"/disable", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, decode[models.ScheduledTask](t, w).Enabled)

	w = env.do(t, http.MethodPost, "/schedules/"+task.ID+"/enable", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, decode[models.ScheduledTask](t, w).Enabled)

	w = env.do(t, http.MethodPost, "/schedules/"+task.ID+"/run", nil)
	require.Equal(t, http.StatusOK, w.Code)
	entry := decode[models.ExecutionLogEntry](t, w)
	assert.Equal(t, models.RunStatusSuccess, entry.Status)
	assert.Equal(t, "done: read the news", entry.Result)

	w = env.do(t, http.MethodGet, "/scheduler/log", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]models.ExecutionLogEntry](t, w), 1)

	w = env.do(t, http.MethodDelete, "/schedules/"+task.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, http.MethodGet, "/schedules/"+task.ID, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCreateSchedule_Validation(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name string
		req  createScheduleRequest
	}{
		{"bad cron", createScheduleRequest{Name: "x", Prompt: "y", CronExpression: "* * *"}},
		{"bad step", createScheduleRequest{Name: "x", Prompt: "y", CronExpression: "*/0 * * * *"}},
		{"missing name", createScheduleRequest{Prompt: "y", CronExpression: "* * * * *"}},
		{"missing prompt", createScheduleRequest{Name: "x", CronExpression: "* * * * *"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, http.MethodPost, "/schedules", tt.req)
			assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
		})
	}
}

func TestScheduleNotFound(t *testing.T) {
	env := newTestEnv(t)
	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/schedules/nope"},
		{http.MethodDelete, "/schedules/nope"},
		{http.MethodPost, "/schedules/nope/enable"},
		{http.MethodPost, "/schedules/nope/disable"},
		{http.MethodPost, "/schedules/nope/run"},
	} {
		w := env.do(t, tc.method, tc.path, nil)
		assert.Equal(t, http.StatusNotFound, w.Code, tc.method+" "+tc.path)
	}
}

func TestSchedulerStartStop(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/scheduler/start", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, decode[scheduler.Status](t, w).Running)

	w = env.do(t, http.MethodGet, "/scheduler/status", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, decode[scheduler.Status](t, w).Running)

	w = env.do(t, http.MethodPost, "/scheduler/stop", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, decode[scheduler.Status](t, w).Running)
}

func TestWhitelist(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/notifications/whitelist", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decode[whitelistResponse](t, w).Packages)

	w = env.do(t, http.MethodPost, "/notifications/whitelist", whitelistRequest{Package: "com.whatsapp"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"com.whatsapp"}, decode[whitelistResponse](t, w).Packages)

	w = env.do(t, http.MethodPut, "/notifications/whitelist", whitelistRequest{Packages: []string{"org.telegram", "com.slack"}})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"com.slack", "org.telegram"}, decode[whitelistResponse](t, w).Packages)

	w = env.do(t, http.MethodDelete, "/notifications/whitelist/com.slack", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"org.telegram"}, decode[whitelistResponse](t, w).Packages)

	w = env.do(t, http.MethodPost, "/notifications/whitelist", whitelistRequest{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodGet, "/audit?action="+audit.ActionWhitelistChange+"&limit=10", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]models.PDREntry](t, w), 3)
}

func TestNotificationControl(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/notifications/status", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, decode[notifications.QueueStatus](t, w).Running)

	w = env.do(t, http.MethodPost, "/notifications/start", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, decode[notifications.QueueStatus](t, w).Running)

	w = env.do(t, http.MethodPost, "/notifications/stop", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, decode[notifications.QueueStatus](t, w).Running)

	w = env.do(t, http.MethodGet, "/notifications/log", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotNil(t, decode[[]models.TriageLogEntry](t, w))

	w = env.do(t, http.MethodGet, "/notifications/current", nil)
	require.Equal(t, http.StatusOK, w.Code)
	current := decode[[]models.NotificationEvent](t, w)
	require.Len(t, current, 1)
	assert.Equal(t, "com.whatsapp", current[0].PackageName)
}

func TestAudit_BadLimit(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, http.MethodGet, "/audit?limit=-1", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestServerStartLogsHTTPServer(t *testing.T) {
	out := &lockedBuffer{}
	logger := slog.New(slog.NewTextHandler(out, nil))
	srv := NewServer(NewService(Deps{Logger: logger}), "127.0.0.1:0", nil, logger)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()
	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "starting HTTP server")
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, srv.Shutdown(context.Background()))
	assert.ErrorIs(t, <-errCh, http.ErrServerClosed)
	assert.NotContains(t, out.String(), "starting pocketd daemon")
}
