package miniaudio

import (
	"slices"
	"sync"
	"testing"
	"time"
)

func waitForCondition(t *testing.T, timeout time.Duration, description string, condition func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", description)
}

func TestPlaybackQueueFillsAndPadsWithSilence(t *testing.T) {
	q := playbackQueue{}
	q.push([]byte{1, 2, 3})

	out := []byte{9, 9, 9, 9, 9}
	q.fill(out)

	if !slices.Equal(out, []byte{1, 2, 3, 0, 0}) {
		t.Fatalf("expected audio followed by silence, got %v", out)
	}
}

func TestPlaybackQueueFiresMarksOnceReached(t *testing.T) {
	q := playbackQueue{}
	var mu sync.Mutex
	reached := []string{}
	record := func(name string) {
		mu.Lock()
		defer mu.Unlock()
		reached = append(reached, name)
	}

	q.push(make([]byte, 4))
	q.mark("first", record)
	q.push(make([]byte, 4))
	q.mark("second", record)

	q.fill(make([]byte, 4))
	waitForCondition(t, time.Second, "first mark", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(reached) == 1
	})

	q.fill(make([]byte, 2))
	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	if len(reached) != 1 {
		mu.Unlock()
		t.Fatalf("expected second mark to wait for its audio, got %v", reached)
	}
	mu.Unlock()

	q.fill(make([]byte, 2))
	waitForCondition(t, time.Second, "second mark", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return slices.Equal(reached, []string{"first", "second"})
	})
}

func TestPlaybackQueueClearDropsAudioAndMarks(t *testing.T) {
	q := playbackQueue{}
	fired := false
	q.push([]byte{1, 2})
	q.mark("dropped", func(string) { fired = true })
	q.clear()

	out := []byte{7, 7}
	q.fill(out)
	time.Sleep(20 * time.Millisecond)

	if !slices.Equal(out, []byte{0, 0}) {
		t.Fatalf("expected silence after clear, got %v", out)
	}
	if fired {
		t.Fatalf("expected cleared mark not to fire")
	}
}
