package session

import (
	"context"
	"strings"
	"sync"
	"time"
)

// EventKind is the accessibility event type of a raw focus event.
type EventKind int

const (
	KindWindowStateChanged EventKind = iota + 1
	KindWindowContentChanged
	KindOther
)

// ParseEventKind maps the wire name of an event kind. Unknown names map to KindOther.
func ParseEventKind(s string) EventKind {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "window_state_changed":
		return KindWindowStateChanged
	case "window_content_changed":
		return KindWindowContentChanged
	default:
		return KindOther
	}
}

// RawFocusEvent is an OS focus signal before normalization.
type RawFocusEvent struct {
	PackageName string
	Kind        EventKind
	Timestamp   time.Time
}

// ForegroundChangeEvent means a different package became the foreground app.
type ForegroundChangeEvent struct {
	PackageName string
	Timestamp   time.Time
}

// Normalizer turns the noisy raw focus stream into foreground changes.
// It drops non window-state events, ignored packages (the lock screen itself,
// the system UI) and repeats of the last emitted package.
type Normalizer struct {
	mu      sync.Mutex
	ignored map[string]struct{}
	last    string
}

func NewNormalizer(ignored []string) *Normalizer {
	set := make(map[string]struct{}, len(ignored))
	for _, pkg := range ignored {
		if pkg = strings.TrimSpace(pkg); pkg != "" {
			set[pkg] = struct{}{}
		}
	}
	return &Normalizer{ignored: set}
}

// Normalize returns the change event for raw and true, or false when raw is dropped.
// Ignored packages do not update the last package, so returning from the
// lock screen to the app it guards is not a change.
func (n *Normalizer) Normalize(raw RawFocusEvent) (ForegroundChangeEvent, bool) {
	pkg := strings.TrimSpace(raw.PackageName)
	if pkg == "" || raw.Kind != KindWindowStateChanged {
		return ForegroundChangeEvent{}, false
	}
	if _, ok := n.ignored[pkg]; ok {
		return ForegroundChangeEvent{}, false
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if pkg == n.last {
		return ForegroundChangeEvent{}, false
	}
	n.last = pkg

	ts := raw.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	return ForegroundChangeEvent{PackageName: pkg, Timestamp: ts}, true
}

// Run normalizes events from in and hands each change to sink until in is
// closed or ctx is done.
func (n *Normalizer) Run(ctx context.Context, in <-chan RawFocusEvent, sink func(ForegroundChangeEvent)) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case raw, ok := <-in:
			if !ok {
				return nil
			}
			if ev, emit := n.Normalize(raw); emit {
				sink(ev)
			}
		}
	}
}
