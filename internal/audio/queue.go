package audio

import (
	"sync"

	"github.com/faiface/beep"
)

// Queue is an append-only playback sink. It plays appended streamers one
// after another and emits silence while empty, so it can stay attached to
// the speaker for the application's lifetime. Its mutex is independent of
// any session lock.
type Queue struct {
	mu        sync.Mutex
	streamers []beep.Streamer
}

func NewQueue() *Queue { return &Queue{} }

// Append queues s behind everything already queued.
func (q *Queue) Append(s beep.Streamer) {
	q.mu.Lock()
	q.streamers = append(q.streamers, s)
	q.mu.Unlock()
}

// Len returns the number of streamers not yet drained.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.streamers)
}

// Stream implements beep.Streamer.
func (q *Queue) Stream(samples [][2]float64) (int, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	filled := 0
	for filled < len(samples) {
		if len(q.streamers) == 0 {
			for i := filled; i < len(samples); i++ {
				samples[i] = [2]float64{}
			}
			break
		}
		n, ok := q.streamers[0].Stream(samples[filled:])
		if !ok {
			q.streamers[0] = nil
			q.streamers = q.streamers[1:]
		}
		filled += n
	}
	return len(samples), true
}

// Err implements beep.Streamer.
func (q *Queue) Err() error { return nil }
