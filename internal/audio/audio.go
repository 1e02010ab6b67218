// Package audio synthesizes the short tones that signal dictation state
// changes and queues them on a shared playback sink.
package audio

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/faiface/beep"
	"github.com/faiface/beep/speaker"
)

// DefaultSampleRate is used when opening the output device.
const DefaultSampleRate = beep.SampleRate(44100)

var ErrAudioUnavailable = errors.New("audio output unavailable")

// Tone is a pure sine tone.
type Tone struct {
	Frequency float64       // Hz
	Duration  time.Duration // tone length
	Amplitude float64       // linear, 0..1
}

// Step is one element of a cue: a tone, or a pause when Tone is zero.
type Step struct {
	Tone  Tone
	Pause time.Duration
}

func Play(t Tone) Step           { return Step{Tone: t} }
func Pause(d time.Duration) Step { return Step{Pause: d} }

var (
	// StartCue is two short rising tones.
	StartCue = []Step{
		Play(Tone{Frequency: 1000, Duration: 80 * time.Millisecond, Amplitude: 0.35}),
		Pause(50 * time.Millisecond),
		Play(Tone{Frequency: 1200, Duration: 80 * time.Millisecond, Amplitude: 0.35}),
	}
	// StopCue is a single lower tone.
	StopCue = []Step{
		Play(Tone{Frequency: 400, Duration: 100 * time.Millisecond, Amplitude: 0.3}),
	}
)

// Sink accepts streamers for playback. Implementations must be safe for
// concurrent use and must not block on playback.
type Sink interface {
	Append(s beep.Streamer)
}

// Emitter plays cues on a Sink. An Emitter without a sink is silent.
type Emitter struct {
	sink   Sink
	rate   beep.SampleRate
	log    *slog.Logger
	closer func()
	once   sync.Once
}

// New returns an Emitter writing to sink at the given sample rate.
func New(sink Sink, rate beep.SampleRate, log *slog.Logger) *Emitter {
	if rate <= 0 {
		rate = DefaultSampleRate
	}
	if log == nil {
		log = slog.Default()
	}
	return &Emitter{sink: sink, rate: rate, log: log}
}

// Silent returns an Emitter that skips every cue.
func Silent(log *slog.Logger) *Emitter { return New(nil, DefaultSampleRate, log) }

// Open initializes the default output device and returns an Emitter
// playing through a Queue. If the device cannot be acquired a silent
// Emitter is returned together with an error wrapping ErrAudioUnavailable;
// callers may keep using the silent Emitter.
func Open(rate beep.SampleRate, log *slog.Logger) (*Emitter, error) {
	if rate <= 0 {
		rate = DefaultSampleRate
	}
	if err := speaker.Init(rate, rate.N(time.Second/10)); err != nil {
		return Silent(log), fmt.Errorf("%w: %w", ErrAudioUnavailable, err)
	}
	q := NewQueue()
	speaker.Play(q)
	e := New(q, rate, log)
	e.closer = speaker.Close
	return e, nil
}

// Available reports whether cues reach an output sink.
func (e *Emitter) Available() bool { return e != nil && e.sink != nil }

// Tone queues a single tone.
func (e *Emitter) Tone(t Tone) { e.PlaySequence(Play(t)) }

// PlaySequence queues steps back to back as one unit, so concurrent
// sequences never interleave. It returns once the samples are queued.
func (e *Emitter) PlaySequence(steps ...Step) {
	if !e.Available() {
		if e != nil {
			e.log.Debug("audio cue skipped", "reason", "no output sink")
		}
		return
	}
	parts := make([]beep.Streamer, 0, len(steps))
	for _, s := range steps {
		switch {
		case s.Tone.Duration > 0:
			parts = append(parts, Sine(e.rate, s.Tone))
		case s.Pause > 0:
			parts = append(parts, beep.Silence(e.rate.N(s.Pause)))
		}
	}
	if len(parts) == 0 {
		return
	}
	e.sink.Append(beep.Seq(parts...))
}

// Start plays the start cue.
func (e *Emitter) Start() { e.PlaySequence(StartCue...) }

// Stop plays the stop cue.
func (e *Emitter) Stop() { e.PlaySequence(StopCue...) }

// Close releases the output device, if one was opened.
func (e *Emitter) Close() {
	if e == nil {
		return
	}
	e.once.Do(func() {
		if e.closer != nil {
			e.closer()
		}
	})
}

// Sine returns a finite streamer producing t at rate.
func Sine(rate beep.SampleRate, t Tone) beep.Streamer {
	total := rate.N(t.Duration)
	step := 2 * math.Pi * t.Frequency / float64(rate)
	pos := 0
	return beep.StreamerFunc(func(samples [][2]float64) (int, bool) {
		if pos >= total {
			return 0, false
		}
		n := min(len(samples), total-pos)
		for i := 0; i < n; i++ {
			v := t.Amplitude * math.Sin(step*float64(pos+i))
			samples[i] = [2]float64{v, v}
		}
		pos += n
		return n, true
	})
}
