package audio

import (
	"math"
	"sync"
	"testing"
	"time"

	"github.com/faiface/beep"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testRate = beep.SampleRate(8000)

type recordingSink struct {
	mu  sync.Mutex
	got []beep.Streamer
}

func (r *recordingSink) Append(s beep.Streamer) {
	r.mu.Lock()
	r.got = append(r.got, s)
	r.mu.Unlock()
}

// drain reads s to the end and returns all samples of the left channel.
func drain(s beep.Streamer) []float64 {
	var out []float64
	buf := make([][2]float64, 256)
	for {
		n, ok := s.Stream(buf)
		for i := 0; i < n; i++ {
			out = append(out, buf[i][0])
		}
		if !ok {
			return out
		}
	}
}

func TestSineLengthAndAmplitude(t *testing.T) {
	tone := Tone{Frequency: 400, Duration: 100 * time.Millisecond, Amplitude: 0.3}
	samples := drain(Sine(testRate, tone))
	require.Len(t, samples, testRate.N(tone.Duration))
	peak := 0.0
	for _, v := range samples {
		peak = math.Max(peak, math.Abs(v))
	}
	assert.LessOrEqual(t, peak, 0.3+1e-9)
	assert.Greater(t, peak, 0.29)
}

func TestStartCueIsOneSequenceWithPause(t *testing.T) {
	sink := &recordingSink{}
	e := New(sink, testRate, nil)
	e.Start()
	require.Len(t, sink.got, 1, "start cue must be appended as one unit")

	samples := drain(sink.got[0])
	want := testRate.N(80*time.Millisecond)*2 + testRate.N(50*time.Millisecond)
	require.Len(t, samples, want)

	pauseStart := testRate.N(80 * time.Millisecond)
	pauseEnd := pauseStart + testRate.N(50*time.Millisecond)
	for i := pauseStart; i < pauseEnd; i++ {
		require.Equal(t, 0.0, samples[i], "sample %d inside pause", i)
	}
}

func TestStopCueLength(t *testing.T) {
	sink := &recordingSink{}
	New(sink, testRate, nil).Stop()
	require.Len(t, sink.got, 1)
	assert.Len(t, drain(sink.got[0]), testRate.N(100*time.Millisecond))
}

func TestSilentEmitterSkipsCues(t *testing.T) {
	e := Silent(nil)
	assert.False(t, e.Available())
	e.Start()
	e.Stop()
	e.Tone(Tone{Frequency: 1, Duration: time.Millisecond, Amplitude: 1})
	e.Close()
}

func TestQueuePlaysInOrderThenSilence(t *testing.T) {
	q := NewQueue()
	q.Append(Sine(testRate, Tone{Frequency: 1000, Duration: 10 * time.Millisecond, Amplitude: 0.5}))
	q.Append(beep.Silence(testRate.N(5 * time.Millisecond)))
	require.Equal(t, 2, q.Len())

	total := testRate.N(15 * time.Millisecond)
	buf := make([][2]float64, total+50)
	n, ok := q.Stream(buf)
	assert.True(t, ok)
	assert.Equal(t, len(buf), n)
	assert.Equal(t, 0, q.Len())
	for i := total; i < len(buf); i++ {
		assert.Equal(t, [2]float64{}, buf[i])
	}
	assert.NoError(t, q.Err())
}

func TestQueueConcurrentAppend(t *testing.T) {
	q := NewQueue()
	e := New(q, testRate, nil)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.Stop()
		}()
	}
	wg.Wait()
	assert.Equal(t, 8, q.Len())
}
