package progress

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func event(jobID string, stage Stage) Event {
	return Event{JobID: jobID, TS: time.Unix(100, 0), Stage: stage}
}

func TestTracker_EmitDeliversToJobAndGlobalSubscribers(t *testing.T) {
	t.Parallel()

	tracker := NewTracker(nil)

	var jobEvents, allEvents []Event
	tracker.Subscribe("job-1", func(evt Event) { jobEvents = append(jobEvents, evt) })
	tracker.SubscribeAll(func(evt Event) { allEvents = append(allEvents, evt) })

	tracker.Emit(event("job-1", StageJobStart))
	tracker.Emit(event("job-2", StageJobStart))

	// Delivery is synchronous, so no waiting is needed.
	require.Len(t, jobEvents, 1)
	require.Equal(t, "job-1", jobEvents[0].JobID)
	require.Len(t, allEvents, 2)
}

func TestTracker_UnsubscribeStopsDelivery(t *testing.T) {
	t.Parallel()

	tracker := NewTracker(nil)
	count := 0
	unsubscribe := tracker.Subscribe("job-1", func(Event) { count++ })

	tracker.Emit(event("job-1", StageJobStart))
	unsubscribe()
	tracker.Emit(event("job-1", StageJobDone))

	require.Equal(t, 1, count)
}

func TestTracker_HistoryRetainedUntilCleared(t *testing.T) {
	t.Parallel()

	tracker := NewTracker(nil)
	tracker.Emit(event("job-1", StageJobStart))
	tracker.Emit(event("job-1", StageJobDone))

	history := tracker.Progress("job-1")
	require.Len(t, history, 2)
	require.Equal(t, StageJobStart, history[0].Stage)
	require.Equal(t, StageJobDone, history[1].Stage)

	tracker.Clear("job-1")
	require.Empty(t, tracker.Progress("job-1"))
}

func TestTracker_InvalidEventsDiscarded(t *testing.T) {
	t.Parallel()

	tracker := NewTracker(nil)
	tracker.Emit(Event{Stage: StageJobStart, TS: time.Unix(1, 0)}) // no job id
	tracker.Emit(Event{JobID: "j", TS: time.Unix(1, 0), Stage: "NOPE"})
	tracker.Emit(Event{JobID: "j", TS: time.Unix(1, 0), Stage: StageFetchDone}) // no domain

	require.Empty(t, tracker.Progress("j"))
}

func TestTracker_ConcurrentEmit(t *testing.T) {
	t.Parallel()

	tracker := NewTracker(nil)
	var mu sync.Mutex
	total := 0
	tracker.SubscribeAll(func(Event) {
		mu.Lock()
		total++
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				tracker.Emit(event("job-1", StageJobStart))
			}
		}()
	}
	wg.Wait()

	require.Equal(t, 400, total)
	require.Len(t, tracker.Progress("job-1"), 400)
}
