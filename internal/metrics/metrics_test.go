package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fentz26/pocketd/internal/models"
)

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := MustNew(reg)

	m.LockTransition(models.OwnerScheduledTask, "acquired")
	m.LockTransition(models.OwnerScheduledTask, "acquired")
	m.LockHeld(true)
	m.TaskRun(models.RunStatusSkipped, time.Second)
	m.Triaged(models.TriageAlert)
	m.QueueLength(3)
	m.Poll(false)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.lockTransitions.WithLabelValues("scheduled-task", "acquired")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.lockHeld))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.taskRuns.WithLabelValues("skipped")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.triaged.WithLabelValues("alert")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.queueLength))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.polls.WithLabelValues("error")))

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "pocketd_lock_transitions_total")
	assert.Contains(t, names, "pocketd_scheduler_task_runs_total")
	assert.Contains(t, names, "pocketd_notifications_triaged_total")
}

func TestTriagedBoundsLabels(t *testing.T) {
	m := MustNew(prometheus.NewRegistry())

	m.Triaged("reply to alice saying i'm late")
	m.Triaged("open the bank app")
	m.Triaged(models.TriageIgnore)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.triaged.WithLabelValues("other")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.triaged.WithLabelValues("ignore")))
	assert.Equal(t, 2, testutil.CollectAndCount(m.triaged))
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.LockTransition(models.OwnerInteractiveUser, "acquired")
		m.LockHeld(false)
		m.TaskRun(models.RunStatusSuccess, 0)
		m.Triaged("ignore")
		m.QueueLength(0)
		m.Poll(true)
	})
}
