package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func raw(pkg string) RawFocusEvent {
	return RawFocusEvent{PackageName: pkg, Kind: KindWindowStateChanged, Timestamp: time.Now()}
}

func TestNormalizer_DropsDuplicates(t *testing.T) {
	n := NewNormalizer(nil)

	_, ok := n.Normalize(raw("com.bank"))
	assert.True(t, ok)
	_, ok = n.Normalize(raw("com.bank"))
	assert.False(t, ok, "repeat of the last package is dropped")
	_, ok = n.Normalize(raw("com.mail"))
	assert.True(t, ok)
	_, ok = n.Normalize(raw("com.bank"))
	assert.True(t, ok, "returning to a package is a change")
}

func TestNormalizer_Filters(t *testing.T) {
	tests := []struct {
		name string
		ev   RawFocusEvent
	}{
		{"empty package", RawFocusEvent{Kind: KindWindowStateChanged}},
		{"blank package", RawFocusEvent{PackageName: "  ", Kind: KindWindowStateChanged}},
		{"content change", RawFocusEvent{PackageName: "com.bank", Kind: KindWindowContentChanged}},
		{"other kind", RawFocusEvent{PackageName: "com.bank", Kind: KindOther}},
		{"own package", raw("com.cybershield.x")},
		{"system ui", raw("com.android.systemui")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := NewNormalizer([]string{"com.cybershield.x", "com.android.systemui"})
			_, ok := n.Normalize(tt.ev)
			assert.False(t, ok)
		})
	}
}

func TestNormalizer_IgnoredPackageDoesNotResetLast(t *testing.T) {
	n := NewNormalizer([]string{"com.cybershield.x"})

	_, ok := n.Normalize(raw("com.bank"))
	require.True(t, ok)
	_, ok = n.Normalize(raw("com.cybershield.x"))
	require.False(t, ok)
	_, ok = n.Normalize(raw("com.bank"))
	assert.False(t, ok, "the lock screen in between must not make the guarded app look new")
}

func TestNormalizer_FillsTimestamp(t *testing.T) {
	n := NewNormalizer(nil)
	ev, ok := n.Normalize(RawFocusEvent{PackageName: "com.bank", Kind: KindWindowStateChanged})
	require.True(t, ok)
	assert.False(t, ev.Timestamp.IsZero())
	assert.Equal(t, "com.bank", ev.PackageName)
}

func TestNormalizer_Run(t *testing.T) {
	n := NewNormalizer([]string{"com.android.systemui"})
	in := make(chan RawFocusEvent, 8)
	for _, pkg := range []string{"com.bank", "com.bank", "com.android.systemui", "com.mail", "com.mail"} {
		in <- raw(pkg)
	}
	close(in)

	var got []string
	err := n.Run(context.Background(), in, func(ev ForegroundChangeEvent) {
		got = append(got, ev.PackageName)
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"com.bank", "com.mail"}, got)
}

func TestNormalizer_RunStopsOnCancel(t *testing.T) {
	n := NewNormalizer(nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := n.Run(ctx, make(chan RawFocusEvent), func(ForegroundChangeEvent) {})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestParseEventKind(t *testing.T) {
	assert.Equal(t, KindWindowStateChanged, ParseEventKind(""))
	assert.Equal(t, KindWindowStateChanged, ParseEventKind("WINDOW_STATE_CHANGED"))
	assert.Equal(t, KindWindowContentChanged, ParseEventKind("window_content_changed"))
	assert.Equal(t, KindOther, ParseEventKind("view_clicked"))
}
