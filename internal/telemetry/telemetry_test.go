package telemetry

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestStageRecordsDurationAndFailures(t *testing.T) {
	m := New()
	m.Stage(StageBuildHTML)(nil)
	m.Stage(StageBuildHTML)(errors.New("boom"))

	assert.Equal(t, 1, testutil.CollectAndCount(m.stageSeconds))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.failures.WithLabelValues(StageBuildHTML)))
}

func TestLiveGauge(t *testing.T) {
	m := New()
	m.LiveOpened()
	m.LiveOpened()
	m.LiveClosed()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.liveSessions))
}

func TestRevisionCounter(t *testing.T) {
	m := New()
	m.RevisionAppended("ACCEPT_LOCK")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.revisions.WithLabelValues("ACCEPT_LOCK")))
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.Stage(StageChat)(errors.New("x"))
	m.RevisionAppended("X")
	m.LiveOpened()
	m.LiveClosed()
	assert.Nil(t, m.Registry())
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New()
	m.Stage(StageGenerate)(nil)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `renderpilot_stage_duration_seconds_count{stage="generate"} 1`)
}
