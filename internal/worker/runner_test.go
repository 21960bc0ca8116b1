package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/StamperDavid/prospect-intel/internal/distill"
	"github.com/StamperDavid/prospect-intel/internal/progress"
	"github.com/StamperDavid/prospect-intel/internal/queue"
	"github.com/StamperDavid/prospect-intel/internal/scrape"
	memstore "github.com/StamperDavid/prospect-intel/internal/storage/memory"
)

type fakeClock struct{}

func (fakeClock) Now() time.Time { return time.Now().UTC() }

type fakeIDGen struct {
	mu sync.Mutex
	n  int
}

func (g *fakeIDGen) NewID() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("scrape-%d", g.n), nil
}

type fakeHasher struct{}

func (fakeHasher) Hash(data []byte) (string, error) {
	return fmt.Sprintf("hash-%d", len(data)), nil
}

// fakeFetcher replays scripted responses in order and repeats the last one.
type fakeFetcher struct {
	mu        sync.Mutex
	responses []scrape.FetchResponse
	errs      []error
	calls     int
}

func (f *fakeFetcher) Fetch(_ context.Context, _ scrape.FetchRequest) (scrape.FetchResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.calls
	f.calls++
	if i >= len(f.responses) {
		i = len(f.responses) - 1
	}
	if i < len(f.errs) && f.errs[i] != nil {
		return scrape.FetchResponse{}, f.errs[i]
	}
	return f.responses[i], nil
}

func (f *fakeFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakePublisher struct {
	mu       sync.Mutex
	payloads []any
}

func (p *fakePublisher) Publish(_ context.Context, _ string, payload any) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.payloads = append(p.payloads, payload)
	return fmt.Sprintf("msg-%d", len(p.payloads)), nil
}

func (p *fakePublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.payloads)
}

type staticPatterns struct {
	set distill.PatternSet
}

func (s staticPatterns) PatternsFor(_ context.Context, _ string) (distill.PatternSet, error) {
	return s.set, nil
}

func hiringPatterns() distill.PatternSet {
	return distill.PatternSet{
		Signals: []scrape.HighValueSignal{
			{
				ID:         "sig-hiring",
				Label:      "Hiring",
				Keywords:   []string{"hiring"},
				Platform:   scrape.PlatformAny,
				Priority:   scrape.SignalPriorityHigh,
				ScoreBoost: 25,
			},
		},
	}
}

func htmlResponse(body string) scrape.FetchResponse {
	return scrape.FetchResponse{
		StatusCode: 200,
		Content:    []byte(body),
		Duration:   5 * time.Millisecond,
	}
}

// fullPage is large enough to avoid the headless promotion heuristic.
func fullPage(marker string) string {
	page := "<html><body>" + marker
	for len(page) < 600 {
		page += " filler text for layout"
	}
	return page + "</body></html>"
}

type runnerFixture struct {
	runner    *Runner
	queue     *queue.Queue
	cache     *scrape.Cache
	tracker   *progress.Tracker
	fetcher   *fakeFetcher
	headless  *fakeFetcher
	scrapes   *memstore.ScrapeStore
	blobs     *memstore.BlobStore
	publisher *fakePublisher
}

func newFixture(t *testing.T, fetcher, headless *fakeFetcher) *runnerFixture {
	t.Helper()
	return newFixtureWithPatterns(t, fetcher, headless, hiringPatterns())
}

func newFixtureWithPatterns(t *testing.T, fetcher, headless *fakeFetcher, set distill.PatternSet) *runnerFixture {
	t.Helper()
	f := &runnerFixture{
		queue:     queue.New(16, nil),
		cache:     scrape.NewCache(time.Hour, nil),
		tracker:   progress.NewTracker(nil),
		fetcher:   fetcher,
		headless:  headless,
		scrapes:   memstore.NewScrapeStore(0),
		blobs:     memstore.NewBlobStore(),
		publisher: &fakePublisher{},
	}
	deps := Deps{
		Queue:        f.queue,
		Cache:        f.cache,
		ErrorHandler: scrape.NewErrorHandler(3, time.Millisecond, 5*time.Millisecond),
		Tracker:      f.tracker,
		Engine:       distill.NewEngine(nil, nil),
		Patterns:     staticPatterns{set: set},
		ProbeFetcher: fetcher,
		Scrapes:      f.scrapes,
		Blobs:        f.blobs,
		Publisher:    f.publisher,
		Hasher:       fakeHasher{},
		Clock:        fakeClock{},
		IDs:          &fakeIDGen{},
	}
	if headless != nil {
		deps.HeadlessFetcher = headless
	}
	runner, err := New(deps, Config{
		OrganizationID: "org-1",
		Topic:          "signals",
	}, nil)
	require.NoError(t, err)
	f.runner = runner
	return f
}

func (f *runnerFixture) start(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		f.runner.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func (f *runnerFixture) awaitTerminal(t *testing.T, jobID string) scrape.JobResult {
	t.Helper()
	var result scrape.JobResult
	require.Eventually(t, func() bool {
		job, ok := f.queue.Job(jobID)
		if !ok || !job.Status.Terminal() {
			return false
		}
		result = job
		return true
	}, 5*time.Second, 10*time.Millisecond)
	return result
}

func TestRunnerCompletesJobEndToEnd(t *testing.T) {
	t.Parallel()
	fetcher := &fakeFetcher{responses: []scrape.FetchResponse{htmlResponse(fullPage("We're hiring!"))}}
	f := newFixture(t, fetcher, nil)
	f.start(t)

	require.NoError(t, f.queue.Enqueue(scrape.JobConfig{
		JobID:    "job-1",
		URL:      "https://acme.example/careers",
		Platform: "website",
		Priority: scrape.PriorityNormal,
	}))

	result := f.awaitTerminal(t, "job-1")
	require.Equal(t, scrape.JobStatusCompleted, result.Status)
	require.Len(t, result.Signals, 1)
	require.Equal(t, "sig-hiring", result.Signals[0].SignalID)
	require.NotNil(t, result.LeadScore)
	require.Greater(t, *result.LeadScore, 0.0)

	// The result is cached under the normalized URL.
	entry := f.cache.Get("https://acme.example/careers")
	require.NotNil(t, entry)
	require.Len(t, entry.Result.Signals, 1)

	// The scrape record was persisted and the raw content archived.
	record, err := f.scrapes.GetScrape(context.Background(), "org-1", result.Signals[0].SourceScrapeID)
	require.NoError(t, err)
	require.NotEmpty(t, record.BlobURI)
	require.Equal(t, 1, f.publisher.count())

	events := f.tracker.Progress("job-1")
	stages := make([]progress.Stage, 0, len(events))
	for _, evt := range events {
		stages = append(stages, evt.Stage)
	}
	require.Contains(t, stages, progress.StageJobStart)
	require.Contains(t, stages, progress.StageFetchStart)
	require.Contains(t, stages, progress.StageFetchDone)
	require.Contains(t, stages, progress.StageSignals)
	require.Contains(t, stages, progress.StageJobDone)
}

func TestRunnerServesSecondJobFromCache(t *testing.T) {
	t.Parallel()
	fetcher := &fakeFetcher{responses: []scrape.FetchResponse{htmlResponse(fullPage("We're hiring!"))}}
	f := newFixture(t, fetcher, nil)
	f.start(t)

	require.NoError(t, f.queue.Enqueue(scrape.JobConfig{
		JobID: "job-1", URL: "https://acme.example/careers", Priority: scrape.PriorityNormal,
	}))
	first := f.awaitTerminal(t, "job-1")
	require.Equal(t, scrape.JobStatusCompleted, first.Status)

	require.NoError(t, f.queue.Enqueue(scrape.JobConfig{
		JobID: "job-2", URL: "https://ACME.example/careers", Priority: scrape.PriorityNormal,
	}))
	second := f.awaitTerminal(t, "job-2")
	require.Equal(t, scrape.JobStatusCompleted, second.Status)
	require.Equal(t, 1, fetcher.callCount())

	stages := make([]progress.Stage, 0)
	for _, evt := range f.tracker.Progress("job-2") {
		stages = append(stages, evt.Stage)
	}
	require.Contains(t, stages, progress.StageCacheHit)
	require.NotContains(t, stages, progress.StageFetchStart)
}

func TestRunnerRetriesTransientErrorThenSucceeds(t *testing.T) {
	t.Parallel()
	fetcher := &fakeFetcher{
		responses: []scrape.FetchResponse{{}, htmlResponse(fullPage("We're hiring!"))},
		errs:      []error{errors.New("connection refused"), nil},
	}
	f := newFixture(t, fetcher, nil)
	f.start(t)

	require.NoError(t, f.queue.Enqueue(scrape.JobConfig{
		JobID: "job-1", URL: "https://acme.example/careers", Priority: scrape.PriorityNormal,
	}))

	result := f.awaitTerminal(t, "job-1")
	require.Equal(t, scrape.JobStatusCompleted, result.Status)
	require.Equal(t, 1, result.Attempt)
	require.Equal(t, 2, fetcher.callCount())

	stages := make([]progress.Stage, 0)
	for _, evt := range f.tracker.Progress("job-1") {
		stages = append(stages, evt.Stage)
	}
	require.Contains(t, stages, progress.StageJobRetry)
}

func TestRunnerFailsPermanentlyOnValidationError(t *testing.T) {
	t.Parallel()
	fetcher := &fakeFetcher{responses: []scrape.FetchResponse{htmlResponse("irrelevant")}}
	f := newFixture(t, fetcher, nil)
	f.start(t)

	require.NoError(t, f.queue.Enqueue(scrape.JobConfig{
		JobID: "job-1", URL: "https://bad url with spaces^", Priority: scrape.PriorityNormal,
	}))

	result := f.awaitTerminal(t, "job-1")
	require.Equal(t, scrape.JobStatusFailed, result.Status)
	require.NotEmpty(t, result.ErrorText)
	require.Equal(t, 0, fetcher.callCount())
}

func TestRunnerExhaustsRetriesOnPersistentError(t *testing.T) {
	t.Parallel()
	fetcher := &fakeFetcher{
		responses: []scrape.FetchResponse{{}},
		errs:      []error{errors.New("connection refused")},
	}
	f := newFixture(t, fetcher, nil)
	f.start(t)

	require.NoError(t, f.queue.Enqueue(scrape.JobConfig{
		JobID: "job-1", URL: "https://acme.example/careers", Priority: scrape.PriorityNormal,
	}))

	result := f.awaitTerminal(t, "job-1")
	require.Equal(t, scrape.JobStatusFailed, result.Status)
	require.Equal(t, 3, fetcher.callCount())
}

func TestRunnerPromotesToHeadless(t *testing.T) {
	t.Parallel()
	// The probe returns a JavaScript shell; the headless fetch has content.
	fetcher := &fakeFetcher{responses: []scrape.FetchResponse{htmlResponse("<html></html>")}}
	headless := &fakeFetcher{responses: []scrape.FetchResponse{htmlResponse(fullPage("We're hiring!"))}}
	f := newFixture(t, fetcher, headless)
	f.start(t)

	require.NoError(t, f.queue.Enqueue(scrape.JobConfig{
		JobID: "job-1", URL: "https://acme.example/careers", Priority: scrape.PriorityNormal,
	}))

	result := f.awaitTerminal(t, "job-1")
	require.Equal(t, scrape.JobStatusCompleted, result.Status)
	require.Len(t, result.Signals, 1)
	require.Equal(t, 1, headless.callCount())
}

func TestRunnerSkipsArchiveForDuplicateContent(t *testing.T) {
	t.Parallel()
	body := fullPage("We're hiring!")
	fetcher := &fakeFetcher{responses: []scrape.FetchResponse{htmlResponse(body)}}
	f := newFixture(t, fetcher, nil)
	f.start(t)

	require.NoError(t, f.queue.Enqueue(scrape.JobConfig{
		JobID: "job-1", URL: "https://acme.example/careers", Priority: scrape.PriorityNormal,
	}))
	first := f.awaitTerminal(t, "job-1")
	require.Equal(t, scrape.JobStatusCompleted, first.Status)

	// A different URL serving identical content skips the blob archive.
	require.NoError(t, f.queue.Enqueue(scrape.JobConfig{
		JobID: "job-2", URL: "https://acme.example/jobs", Priority: scrape.PriorityNormal,
	}))
	second := f.awaitTerminal(t, "job-2")
	require.Equal(t, scrape.JobStatusCompleted, second.Status)

	record, err := f.scrapes.GetScrape(context.Background(), "org-1", second.Signals[0].SourceScrapeID)
	require.NoError(t, err)
	require.Empty(t, record.BlobURI)
}

func TestRunnerAppliesIndustryFluffPatterns(t *testing.T) {
	t.Parallel()
	fluff, err := distill.NewFluffPattern(`(?i)now hiring\? apply on jobboard[^.\n]*`)
	require.NoError(t, err)
	set := hiringPatterns()
	set.Fluff = []distill.FluffPattern{fluff}

	// The only occurrence of the keyword sits inside the industry fluff banner,
	// so stripping it must leave zero detected signals.
	fetcher := &fakeFetcher{responses: []scrape.FetchResponse{
		htmlResponse(fullPage("Quality plumbing. Now hiring? Apply on JobBoard today!")),
	}}
	f := newFixtureWithPatterns(t, fetcher, nil, set)
	f.start(t)

	require.NoError(t, f.queue.Enqueue(scrape.JobConfig{
		JobID: "job-1", URL: "https://acme.example", Priority: scrape.PriorityNormal,
	}))

	result := f.awaitTerminal(t, "job-1")
	require.Equal(t, scrape.JobStatusCompleted, result.Status)
	require.Empty(t, result.Signals)
}
