package sinks

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/StamperDavid/prospect-intel/internal/progress"
)

// PrometheusSink exports scrape progress metrics. It owns all collectors for
// job lifecycle and per-domain fetch counters.
type PrometheusSink struct {
	jobsStarted   prometheus.Counter
	jobsCompleted *prometheus.CounterVec
	jobRetries    prometheus.Counter
	jobRuntime    *prometheus.HistogramVec

	fetchRequests *prometheus.CounterVec
	fetchBytes    *prometheus.CounterVec

	signalsExtracted prometheus.Counter
	leadScores       prometheus.Histogram
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		jobsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scraper_jobs_started_total",
			Help: "Total jobs that have started.",
		}),
		jobsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scraper_jobs_completed_total",
			Help: "Total jobs completed partitioned by result.",
		}, []string{"result"}),
		jobRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scraper_job_retries_total",
			Help: "Total job retry attempts.",
		}),
		jobRuntime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "scraper_job_runtime_seconds",
			Help:    "Wall time per completed job.",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
		}, []string{"result"}),
		fetchRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scraper_fetch_requests_total",
			Help: "Fetch completions partitioned by domain.",
		}, []string{"domain"}),
		fetchBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scraper_fetch_bytes_total",
			Help: "Bytes downloaded per domain.",
		}, []string{"domain"}),
		signalsExtracted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scraper_signals_extracted_total",
			Help: "Total high-value signals extracted from content.",
		}),
		leadScores: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "scraper_lead_score",
			Help:    "Distribution of computed lead scores.",
			Buckets: []float64{0, 10, 25, 50, 75, 100, 125, 150},
		}),
	}
	for _, collector := range []prometheus.Collector{
		s.jobsStarted,
		s.jobsCompleted,
		s.jobRetries,
		s.jobRuntime,
		s.fetchRequests,
		s.fetchBytes,
		s.signalsExtracted,
		s.leadScores,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Attach subscribes the sink to every event on the tracker and returns the
// unsubscribe function.
func (s *PrometheusSink) Attach(tracker *progress.Tracker) func() {
	return tracker.SubscribeAll(s.Handle)
}

// Handle updates collectors from one event.
func (s *PrometheusSink) Handle(evt progress.Event) {
	switch evt.Stage {
	case progress.StageJobStart:
		s.jobsStarted.Inc()
	case progress.StageJobRetry:
		s.jobRetries.Inc()
	case progress.StageFetchDone:
		s.fetchRequests.WithLabelValues(evt.Domain).Inc()
		s.fetchBytes.WithLabelValues(evt.Domain).Add(float64(evt.Bytes))
	case progress.StageSignals:
		s.signalsExtracted.Add(float64(evt.SignalCount))
	case progress.StageJobDone:
		s.jobsCompleted.WithLabelValues("completed").Inc()
		s.jobRuntime.WithLabelValues("completed").Observe(evt.Dur.Seconds())
		s.leadScores.Observe(evt.LeadScore)
	case progress.StageJobError:
		s.jobsCompleted.WithLabelValues("failed").Inc()
		s.jobRuntime.WithLabelValues("failed").Observe(evt.Dur.Seconds())
	case progress.StageJobCancelled:
		s.jobsCompleted.WithLabelValues("cancelled").Inc()
	}
}
