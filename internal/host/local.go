package host

import (
	"fmt"
	"reflect"
	"sync"
)

// ///////////////////////////////////////////////
// Local Runtime
// ///////////////////////////////////////////////

// Local is an in-process [Runtime]. Methods are resolved by reflection on the
// pinned object and attachment is tracked per OS thread id.
//
// The daemon also uses a Local to dispatch calls that arrive over IPC.
type Local struct {
	mu       sync.Mutex
	objects  map[Ref]any
	methods  map[uint64]localMethod
	attached map[int]*localEnv
	nextRef  Ref
	nextID   uint64
}

// localMethod is a resolved method value bound to its receiver.
type localMethod struct {
	ref Ref
	fn  reflect.Value
}

// NewLocal creates an empty in-process runtime.
func NewLocal() *Local {
	return &Local{
		objects:  make(map[Ref]any),
		methods:  make(map[uint64]localMethod),
		attached: make(map[int]*localEnv),
	}
}

// Pin stores a strong reference to obj.
func (l *Local) Pin(obj any) (Ref, error) {
	if isNil(obj) {
		return 0, ErrInvalidArgument
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.nextRef++
	l.objects[l.nextRef] = obj
	return l.nextRef, nil
}

// Unpin drops ref and every method resolved through it.
func (l *Local) Unpin(ref Ref) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.objects, ref)
	for id, m := range l.methods {
		if m.ref == ref {
			delete(l.methods, id)
		}
	}
}

// Resolve looks up an exported method by name whose signature, rendered as
// a func type without receiver (e.g. "func()" or "func() error"), equals
// signature. Methods returning a single error are reported as "func()" as
// well, since the error is surfaced as the call's exception.
func (l *Local) Resolve(ref Ref, name, signature string) (Method, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	obj, ok := l.objects[ref]
	if !ok {
		return Method{}, ErrUnknownRef
	}
	fn := reflect.ValueOf(obj).MethodByName(name)
	if !fn.IsValid() {
		return Method{}, fmt.Errorf("%w: %T has no method %s", ErrNoSuchMethod, obj, name)
	}
	if got := voidSignature(fn.Type()); got != signature {
		return Method{}, fmt.Errorf("%w: %T.%s has signature %s, want %s", ErrNoSuchMethod, obj, name, fn.Type(), signature)
	}

	l.nextID++
	l.methods[l.nextID] = localMethod{ref: ref, fn: fn}
	return Method{ID: l.nextID, Name: name, Signature: signature}, nil
}

// voidSignature renders t, folding a lone error result away.
func voidSignature(t reflect.Type) string {
	errType := reflect.TypeFor[error]()
	if t.NumIn() == 0 && t.NumOut() == 1 && t.Out(0) == errType {
		return "func()"
	}
	return t.String()
}

// Env returns the calling thread's environment.
func (l *Local) Env() (Env, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	env, ok := l.attached[threadID()]
	if !ok {
		return nil, ErrDetached
	}
	return env, nil
}

// Attach attaches the calling thread.
func (l *Local) Attach() (Env, error) {
	tid := threadID()
	l.mu.Lock()
	defer l.mu.Unlock()
	if env, ok := l.attached[tid]; ok {
		return env, nil
	}
	env := &localEnv{rt: l, tid: tid}
	l.attached[tid] = env
	return env, nil
}

// Detach detaches the calling thread. Detaching a thread that is not
// attached is a no-op.
func (l *Local) Detach() error {
	tid := threadID()
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.attached, tid)
	return nil
}

// Attached reports how many threads are currently attached.
func (l *Local) Attached() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.attached)
}

// lookup returns the method value for m, checking it belongs to ref.
func (l *Local) lookup(ref Ref, m Method) (reflect.Value, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.objects[ref]; !ok {
		return reflect.Value{}, ErrUnknownRef
	}
	lm, ok := l.methods[m.ID]
	if !ok || lm.ref != ref {
		return reflect.Value{}, fmt.Errorf("%w: method id %d", ErrNoSuchMethod, m.ID)
	}
	return lm.fn, nil
}

// ///////////////////////////////////////////////
// Local Env
// ///////////////////////////////////////////////

// localEnv is the per-thread environment of a [Local] runtime.
type localEnv struct {
	rt  *Local
	tid int
}

// CallVoid invokes the method outside the runtime lock, converting a
// returned error or a panic into an *Exception.
func (e *localEnv) CallVoid(ref Ref, m Method) (err error) {
	fn, err := e.rt.lookup(ref, m)
	if err != nil {
		return err
	}

	defer func() {
		if r := recover(); r != nil {
			err = &Exception{Method: m.Name, Cause: r}
		}
	}()

	out := fn.Call(nil)
	if len(out) == 1 {
		if cerr, ok := out[0].Interface().(error); ok && cerr != nil {
			return &Exception{Method: m.Name, Cause: cerr}
		}
	}
	return nil
}
