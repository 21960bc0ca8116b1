// Package dispatcher contains tests for worker coordination.
package dispatcher

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/StamperDavid/prospect-intel/internal/distill"
	"github.com/StamperDavid/prospect-intel/internal/queue"
	"github.com/StamperDavid/prospect-intel/internal/scrape"
	"github.com/StamperDavid/prospect-intel/internal/worker"
)

type countingFetcher struct {
	mu    sync.Mutex
	calls int
}

func (f *countingFetcher) Fetch(_ context.Context, _ scrape.FetchRequest) (scrape.FetchResponse, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	content := "<html><body>We're hiring!"
	for len(content) < 600 {
		content += " filler text for layout"
	}
	return scrape.FetchResponse{StatusCode: 200, Content: []byte(content + "</body></html>")}, nil
}

type fixedHasher struct{}

func (fixedHasher) Hash(data []byte) (string, error) { return fmt.Sprintf("h%d", len(data)), nil }

type seqIDs struct {
	mu sync.Mutex
	n  int
}

func (g *seqIDs) NewID() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("id-%d", g.n), nil
}

type utcClock struct{}

func (utcClock) Now() time.Time { return time.Now().UTC() }

func newTestRunner(t *testing.T, q *queue.Queue) *worker.Runner {
	t.Helper()
	runner, err := worker.New(worker.Deps{
		Queue:        q,
		Engine:       distill.NewEngine(nil, nil),
		ProbeFetcher: &countingFetcher{},
		Hasher:       fixedHasher{},
		Clock:        utcClock{},
		IDs:          &seqIDs{},
	}, worker.Config{OrganizationID: "org-1"}, nil)
	require.NoError(t, err)
	return runner
}

func TestDispatcherDrainsQueueAcrossWorkers(t *testing.T) {
	t.Parallel()

	q := queue.New(64, nil)
	dispatch := New(q, newTestRunner(t, q), Config{Workers: 4}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		dispatch.Run(ctx)
		close(done)
	}()

	const jobs = 12
	for i := 0; i < jobs; i++ {
		require.NoError(t, dispatch.Enqueue(scrape.JobConfig{
			JobID:    fmt.Sprintf("job-%d", i),
			URL:      fmt.Sprintf("https://site-%d.example/", i),
			Priority: scrape.PriorityNormal,
		}))
	}

	require.Eventually(t, func() bool {
		stats := q.GetStats()
		return stats.ByStatus[scrape.JobStatusCompleted] == jobs
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop after context cancel")
	}
}

func TestDispatcherEnqueueForwardsErrors(t *testing.T) {
	t.Parallel()

	q := queue.New(4, nil)
	dispatch := New(q, newTestRunner(t, q), Config{}, nil)

	err := dispatch.Enqueue(scrape.JobConfig{JobID: "job-1", URL: "https://a.example", Priority: scrape.PriorityNormal})
	require.NoError(t, err)

	err = dispatch.Enqueue(scrape.JobConfig{JobID: "job-1", URL: "https://a.example", Priority: scrape.PriorityNormal})
	require.ErrorIs(t, err, queue.ErrDuplicateJob)
}

func TestConfigDefaultsAndClamp(t *testing.T) {
	t.Parallel()

	cfg := Config{}.withDefaults()
	require.Equal(t, 5, cfg.Workers)
	require.Equal(t, 50, cfg.MaxConcurrent)

	clamped := Config{Workers: 100, MaxConcurrent: 10}.withDefaults()
	require.Equal(t, 10, clamped.Workers)
}
