package sinks

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/StamperDavid/prospect-intel/internal/progress"
)

func TestPrometheusSink_CountsJobLifecycle(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	tracker := progress.NewTracker(nil)
	sink.Attach(tracker)

	now := time.Unix(100, 0)
	tracker.Emit(progress.Event{JobID: "j", TS: now, Stage: progress.StageJobStart})
	tracker.Emit(progress.Event{JobID: "j", TS: now, Stage: progress.StageFetchDone, Domain: "example.com", Bytes: 2048})
	tracker.Emit(progress.Event{JobID: "j", TS: now, Stage: progress.StageSignals, SignalCount: 3})
	tracker.Emit(progress.Event{JobID: "j", TS: now, Stage: progress.StageJobDone, LeadScore: 42, Dur: time.Second})

	families, err := reg.Gather()
	require.NoError(t, err)

	byName := map[string]float64{}
	for _, family := range families {
		for _, metric := range family.GetMetric() {
			if metric.GetCounter() != nil {
				byName[family.GetName()] += metric.GetCounter().GetValue()
			}
		}
	}
	require.Equal(t, 1.0, byName["scraper_jobs_started_total"])
	require.Equal(t, 1.0, byName["scraper_jobs_completed_total"])
	require.Equal(t, 1.0, byName["scraper_fetch_requests_total"])
	require.Equal(t, 2048.0, byName["scraper_fetch_bytes_total"])
	require.Equal(t, 3.0, byName["scraper_signals_extracted_total"])
}

func TestPrometheusSink_DoubleRegisterFails(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	_, err := NewPrometheusSink(reg)
	require.NoError(t, err)
	_, err = NewPrometheusSink(reg)
	require.Error(t, err)
}
