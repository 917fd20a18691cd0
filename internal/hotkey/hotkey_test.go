package hotkey

import "testing"

type step int

const (
	down step = iota
	up
)

func run(mode Mode, steps []step) []EventType {
	m := machine{mode: mode}
	var got []EventType
	for _, s := range steps {
		var (
			ev Event
			ok bool
		)
		if s == down {
			ev, ok = m.keyDown()
		} else {
			ev, ok = m.keyUp()
		}
		if ok {
			got = append(got, ev.Type)
		}
	}
	return got
}

func TestMachine(t *testing.T) {
	tests := []struct {
		name  string
		mode  Mode
		steps []step
		want  []EventType
	}{
		{"hold press and release", ModeHold, []step{down, up}, []EventType{EventStart, EventStop}},
		{"hold ignores auto-repeat", ModeHold, []step{down, down, down, up}, []EventType{EventStart, EventStop}},
		{"hold twice", ModeHold, []step{down, up, down, up}, []EventType{EventStart, EventStop, EventStart, EventStop}},
		{"stray release", ModeHold, []step{up}, nil},
		{"toggle first press starts", ModeToggle, []step{down, up}, []EventType{EventStart}},
		{"toggle second press stops", ModeToggle, []step{down, up, down, up}, []EventType{EventStart, EventStop}},
		{"toggle ignores auto-repeat", ModeToggle, []step{down, down, down, up}, []EventType{EventStart}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := run(tt.mode, tt.steps)
			if len(got) != len(tt.want) {
				t.Fatalf("events = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Fatalf("events = %v, want %v", got, tt.want)
				}
			}
		})
	}
}

func TestParseMode(t *testing.T) {
	for _, s := range []string{"hold", "toggle"} {
		if m, err := ParseMode(s); err != nil || string(m) != s {
			t.Errorf("ParseMode(%q) = %q, %v", s, m, err)
		}
	}
	if _, err := ParseMode("tap"); err == nil {
		t.Error("ParseMode(\"tap\") should fail")
	}
}

func TestListenerDispatchDoesNotBlock(t *testing.T) {
	l := NewListener([]string{"ctrl", "r"}, ModeToggle)
	// More presses than the channel holds; extra events are dropped.
	for i := 0; i < 40; i++ {
		l.dispatch((*machine).keyDown)
		l.dispatch((*machine).keyUp)
	}
	if got := len(l.Events()); got != cap(l.ch) {
		t.Errorf("queued events = %d, want %d", got, cap(l.ch))
	}
	if ev := <-l.Events(); ev.Type != EventStart {
		t.Errorf("first event = %v, want start", ev.Type)
	}
}
