// Package hotkey turns presses of a global key into dictation toggles.
package hotkey

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	hook "github.com/robotn/gohook"

	"github.com/loykin/voicekey/internal/controller"
)

// Source produces one event per hotkey press.
type Source interface {
	Events(ctx context.Context) (<-chan struct{}, error)
}

// Toggler is the part of the controller the listener drives.
type Toggler interface {
	Toggle(ctx context.Context) error
}

// Listen consumes events one at a time and toggles for each. It returns
// when ctx is done or the source closes its stream.
func Listen(ctx context.Context, src Source, t Toggler, log *slog.Logger) error {
	if log == nil {
		log = slog.Default()
	}
	events, err := src.Events(ctx)
	if err != nil {
		return err
	}
	tctx := controller.WithSource(ctx, controller.SourceHotkey)
	for {
		select {
		case <-ctx.Done():
			return nil
		case _, ok := <-events:
			if !ok {
				return nil
			}
			if err := t.Toggle(tctx); err != nil {
				log.Warn("hotkey toggle failed", "error", err)
			}
		}
	}
}

// GlobalSource listens to the system-wide keyboard through gohook.
type GlobalSource struct {
	Key    string // key name such as "f13", or a raw keycode
	Logger *slog.Logger
}

// Events starts the global hook. Only one GlobalSource may run per process.
func (g *GlobalSource) Events(ctx context.Context) (<-chan struct{}, error) {
	m, err := newMatcher(g.Key)
	if err != nil {
		return nil, err
	}
	log := g.Logger
	if log == nil {
		log = slog.Default()
	}
	raw := hook.Start()
	out := make(chan struct{})
	go func() {
		defer close(out)
		defer hook.End()
		pump(ctx, raw, m, out)
	}()
	log.Info("hotkey listener started", "key", g.Key)
	return out, nil
}

// matcher identifies the configured key in a hook event.
type matcher struct {
	keycode uint16
	raw     bool
}

func newMatcher(key string) (matcher, error) {
	name := strings.ToLower(strings.TrimSpace(key))
	if name == "" {
		return matcher{}, fmt.Errorf("hotkey: empty key")
	}
	if n, err := strconv.ParseUint(name, 10, 16); err == nil {
		return matcher{keycode: uint16(n), raw: true}, nil
	}
	code, ok := hook.Keycode[name]
	if !ok {
		return matcher{}, fmt.Errorf("hotkey: unknown key %q", key)
	}
	return matcher{keycode: code}, nil
}

func (m matcher) match(ev hook.Event) bool {
	if m.raw {
		return ev.Rawcode == m.keycode
	}
	return ev.Keycode == m.keycode
}

// pump forwards one event per press. Auto-repeat while the key is held
// is collapsed until the key is released.
func pump(ctx context.Context, raw <-chan hook.Event, m matcher, out chan<- struct{}) {
	held := false
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-raw:
			if !ok {
				return
			}
			if !m.match(ev) {
				continue
			}
			switch ev.Kind {
			case hook.KeyHold, hook.KeyDown:
				if held {
					continue
				}
				held = true
				select {
				case out <- struct{}{}:
				case <-ctx.Done():
					return
				}
			case hook.KeyUp:
				held = false
			}
		}
	}
}
