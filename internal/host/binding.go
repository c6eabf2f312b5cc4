package host

import (
	"errors"
	"fmt"
	"log/slog"
	"reflect"
)

// ///////////////////////////////////////////////
// Binding
// ///////////////////////////////////////////////

// Binding is a resolved link to a collector's freeze callback. It is created
// once at install time and only read afterwards, so it needs no locking.
type Binding struct {
	rt     Runtime
	ref    Ref
	method Method
}

// Bind pins collector in rt and resolves its [NotifyMethod] callback. Nil
// arguments (including typed nil pointers) fail with ErrInvalidArgument.
func Bind(rt Runtime, collector any) (*Binding, error) {
	if isNil(rt) || isNil(collector) {
		return nil, ErrInvalidArgument
	}
	ref, err := rt.Pin(collector)
	if err != nil {
		return nil, fmt.Errorf("pin collector: %w", err)
	}
	m, err := rt.Resolve(ref, NotifyMethod, NotifySignature)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", NotifyMethod, err)
	}
	return &Binding{rt: rt, ref: ref, method: m}, nil
}

// Ref returns the pinned collector reference.
func (b *Binding) Ref() Ref { return b.ref }

// Method returns the resolved callback.
func (b *Binding) Method() Method { return b.method }

// NotifyFreeze invokes the collector callback from the calling thread,
// attaching it for the duration of the call if it was not attached already.
// A thread that was attached beforehand is left attached.
func (b *Binding) NotifyFreeze() error {
	env, release, err := b.lease()
	if err != nil {
		return err
	}
	defer release()

	if err := env.CallVoid(b.ref, b.method); err != nil {
		return fmt.Errorf("call %s: %w", b.method.Name, err)
	}
	return nil
}

// lease returns an Env for the calling thread and the func that gives it
// back. release detaches only when this lease performed the attach.
func (b *Binding) lease() (Env, func(), error) {
	env, err := b.rt.Env()
	if err == nil {
		return env, func() {}, nil
	}
	if !errors.Is(err, ErrDetached) {
		return nil, nil, fmt.Errorf("get env: %w", err)
	}

	env, err = b.rt.Attach()
	if err != nil {
		return nil, nil, fmt.Errorf("attach current thread: %w", err)
	}
	release := func() {
		if err := b.rt.Detach(); err != nil {
			slog.Warn("failed to detach from host runtime", "error", err)
		}
	}
	return env, release, nil
}

// isNil reports whether v is nil or a nil pointer, map, func, chan,
// interface, or slice.
func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Func, reflect.Chan, reflect.Interface, reflect.Slice:
		return rv.IsNil()
	}
	return false
}
