// Package hotkey turns a global key combination into recording start and stop
// events using gohook.
//
// In "hold" mode a session runs while the combination is held down. In
// "toggle" mode each press starts or stops a session. Key auto-repeat is
// ignored in both modes.
package hotkey

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"

	hook "github.com/robotn/gohook"
)

// EventType indicates whether a session should start or stop.
type EventType int

const (
	EventStart EventType = iota
	EventStop
)

func (t EventType) String() string {
	if t == EventStart {
		return "start"
	}
	return "stop"
}

// Event is emitted on the channel returned by Events.
type Event struct {
	Type EventType
}

// Mode selects how key presses map to sessions.
type Mode string

const (
	ModeHold   Mode = "hold"
	ModeToggle Mode = "toggle"
)

// ParseMode validates a mode name.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(s); m {
	case ModeHold, ModeToggle:
		return m, nil
	default:
		return "", fmt.Errorf("hotkey: mode must be \"hold\" or \"toggle\", got %q", s)
	}
}

// machine converts raw key transitions into session events.
type machine struct {
	mode    Mode
	pressed bool // combination currently down
	active  bool // session running
}

func (m *machine) keyDown() (Event, bool) {
	if m.pressed {
		return Event{}, false // auto-repeat
	}
	m.pressed = true

	if m.mode == ModeToggle && m.active {
		m.active = false
		return Event{Type: EventStop}, true
	}
	if m.active {
		return Event{}, false
	}
	m.active = true
	return Event{Type: EventStart}, true
}

func (m *machine) keyUp() (Event, bool) {
	if !m.pressed {
		return Event{}, false
	}
	m.pressed = false

	if m.mode == ModeHold && m.active {
		m.active = false
		return Event{Type: EventStop}, true
	}
	return Event{}, false
}

// Listener watches a global key combination.
type Listener struct {
	keys []string

	mu      sync.Mutex
	machine machine

	ch   chan Event
	done chan struct{}
	once sync.Once
}

// NewListener creates a Listener for keys, lowercase gohook key names such
// as ["ctrl", "shift", "r"].
func NewListener(keys []string, mode Mode) *Listener {
	return &Listener{
		keys:    keys,
		machine: machine{mode: mode},
		ch:      make(chan Event, 16),
		done:    make(chan struct{}),
	}
}

// Events returns the channel that receives session events. It is closed
// when the listener stops.
func (l *Listener) Events() <-chan Event {
	return l.ch
}

// Start hooks the keyboard and blocks until Stop is called. Run it in a
// goroutine.
func (l *Listener) Start() {
	hook.Register(hook.KeyDown, l.keys, func(hook.Event) {
		l.dispatch((*machine).keyDown)
	})
	hook.Register(hook.KeyUp, l.keys, func(hook.Event) {
		l.dispatch((*machine).keyUp)
	})

	slog.Debug("[hotkey] listening", "keys", strings.Join(l.keys, "+"), "mode", l.machine.mode)

	evChan := hook.Start()
	go func() {
		<-l.done
		hook.End()
	}()
	<-hook.Process(evChan)
	close(l.ch)
}

// Stop terminates the listener. It is safe to call multiple times.
func (l *Listener) Stop() {
	l.once.Do(func() {
		close(l.done)
	})
}

func (l *Listener) dispatch(step func(*machine) (Event, bool)) {
	l.mu.Lock()
	ev, ok := step(&l.machine)
	l.mu.Unlock()
	if !ok {
		return
	}
	select {
	case l.ch <- ev:
	default:
		slog.Warn("[hotkey] event dropped, consumer is not keeping up", "event", ev.Type)
	}
}
