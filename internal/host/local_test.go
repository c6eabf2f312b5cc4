// Tests for [Local] and [Binding]: pinning, resolution by signature,
// exception capture, and the attach/detach lease around notifications.
package host

import (
	"errors"
	"runtime"
	"sync/atomic"
	"testing"
)

// ///////////////////////////////////////////////
// Test Collectors
// ///////////////////////////////////////////////

type countingCollector struct{ calls atomic.Int32 }

func (c *countingCollector) NotifyFreezeDetected() { c.calls.Add(1) }

type failingCollector struct{}

func (failingCollector) NotifyFreezeDetected() error { return errors.New("spool full") }

type panickingCollector struct{}

func (panickingCollector) NotifyFreezeDetected() { panic("boom") }

type wrongSignatureCollector struct{}

func (wrongSignatureCollector) NotifyFreezeDetected(reason string) {}

type noMethodCollector struct{}

// ///////////////////////////////////////////////
// Bind
// ///////////////////////////////////////////////

func TestBind(t *testing.T) {
	var nilCollector *countingCollector

	tests := []struct {
		name      string
		rt        Runtime
		collector any
		wantErr   error
	}{
		{"ok", NewLocal(), &countingCollector{}, nil},
		{"error-returning callback accepted", NewLocal(), failingCollector{}, nil},
		{"nil runtime", nil, &countingCollector{}, ErrInvalidArgument},
		{"typed nil runtime", (*Local)(nil), &countingCollector{}, ErrInvalidArgument},
		{"nil collector", NewLocal(), nil, ErrInvalidArgument},
		{"typed nil collector", NewLocal(), nilCollector, ErrInvalidArgument},
		{"missing method", NewLocal(), noMethodCollector{}, ErrNoSuchMethod},
		{"wrong signature", NewLocal(), wrongSignatureCollector{}, ErrNoSuchMethod},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := Bind(tt.rt, tt.collector)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if b.Method().Name != NotifyMethod || b.Method().Signature != NotifySignature {
				t.Errorf("method = %+v", b.Method())
			}
		})
	}
}

// ///////////////////////////////////////////////
// NotifyFreeze
// ///////////////////////////////////////////////

func TestNotifyFreeze_DetachedThreadLeases(t *testing.T) {
	rt := NewLocal()
	c := &countingCollector{}
	b, err := Bind(rt, c)
	if err != nil {
		t.Fatal(err)
	}

	if err := b.NotifyFreeze(); err != nil {
		t.Fatalf("NotifyFreeze: %v", err)
	}
	if got := c.calls.Load(); got != 1 {
		t.Errorf("calls = %d, want 1", got)
	}
	if got := rt.Attached(); got != 0 {
		t.Errorf("attached threads after lease = %d, want 0", got)
	}
}

func TestNotifyFreeze_AttachedThreadStaysAttached(t *testing.T) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	rt := NewLocal()
	c := &countingCollector{}
	b, err := Bind(rt, c)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := rt.Attach(); err != nil {
		t.Fatal(err)
	}
	defer rt.Detach()

	if err := b.NotifyFreeze(); err != nil {
		t.Fatalf("NotifyFreeze: %v", err)
	}
	if _, err := rt.Env(); err != nil {
		t.Errorf("thread detached by lease it did not attach: %v", err)
	}
	if got := c.calls.Load(); got != 1 {
		t.Errorf("calls = %d, want 1", got)
	}
}

func TestNotifyFreeze_Exceptions(t *testing.T) {
	tests := []struct {
		name      string
		collector any
		wantCause string
	}{
		{"returned error", failingCollector{}, "spool full"},
		{"panic", panickingCollector{}, "boom"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rt := NewLocal()
			b, err := Bind(rt, tt.collector)
			if err != nil {
				t.Fatal(err)
			}

			err = b.NotifyFreeze()
			var exc *Exception
			if !errors.As(err, &exc) {
				t.Fatalf("error = %v, want *Exception", err)
			}
			if exc.Method != NotifyMethod {
				t.Errorf("Method = %q, want %q", exc.Method, NotifyMethod)
			}
			if got := errorString(exc.Cause); got != tt.wantCause {
				t.Errorf("Cause = %q, want %q", got, tt.wantCause)
			}
			if rt.Attached() != 0 {
				t.Error("thread left attached after exception")
			}
		})
	}
}

func errorString(v any) string {
	switch v := v.(type) {
	case error:
		return v.Error()
	case string:
		return v
	}
	return ""
}

// ///////////////////////////////////////////////
// Local Runtime
// ///////////////////////////////////////////////

func TestLocal_EnvDetached(t *testing.T) {
	rt := NewLocal()
	if _, err := rt.Env(); !errors.Is(err, ErrDetached) {
		t.Fatalf("Env() error = %v, want ErrDetached", err)
	}
	if err := rt.Detach(); err != nil {
		t.Errorf("Detach on detached thread: %v", err)
	}
}

func TestLocal_AttachIdempotent(t *testing.T) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	rt := NewLocal()
	a, err := rt.Attach()
	if err != nil {
		t.Fatal(err)
	}
	b, err := rt.Attach()
	if err != nil {
		t.Fatal(err)
	}
	if a != b {
		t.Error("second Attach returned a different Env")
	}
	if rt.Attached() != 1 {
		t.Errorf("Attached() = %d, want 1", rt.Attached())
	}
	_ = rt.Detach()
}

func TestLocal_Unpin(t *testing.T) {
	rt := NewLocal()
	b, err := Bind(rt, &countingCollector{})
	if err != nil {
		t.Fatal(err)
	}
	rt.Unpin(b.Ref())

	if err := b.NotifyFreeze(); !errors.Is(err, ErrUnknownRef) {
		t.Errorf("NotifyFreeze after Unpin = %v, want ErrUnknownRef", err)
	}
	if _, err := rt.Resolve(b.Ref(), NotifyMethod, NotifySignature); !errors.Is(err, ErrUnknownRef) {
		t.Errorf("Resolve after Unpin = %v, want ErrUnknownRef", err)
	}
}

func TestLocal_MethodBelongsToRef(t *testing.T) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	rt := NewLocal()
	first, err := Bind(rt, &countingCollector{})
	if err != nil {
		t.Fatal(err)
	}
	second, err := Bind(rt, &countingCollector{})
	if err != nil {
		t.Fatal(err)
	}

	env, err := rt.Attach()
	if err != nil {
		t.Fatal(err)
	}
	defer rt.Detach()

	if err := env.CallVoid(second.Ref(), first.Method()); !errors.Is(err, ErrNoSuchMethod) {
		t.Errorf("cross-ref call error = %v, want ErrNoSuchMethod", err)
	}
}
