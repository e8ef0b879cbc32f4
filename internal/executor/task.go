package executor

import (
	"context"
	"fmt"
	"iter"
	"reflect"
	"sort"
	"sync"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/cast"
)

// Func is the callable run once per item.
// Under the processes and distributed backends item and the Params values
// arrive JSON-decoded; use Decode and the Params accessors to stay mode-agnostic.
type Func func(ctx context.Context, item any, p Params) (any, error)

// Params carries the extra positional and keyword arguments of a task
type Params struct {
	Args   []any          `json:"args,omitempty"`
	Kwargs map[string]any `json:"kwargs,omitempty"`
}

// CallOption configures the Params passed to every task of one AsCompleted call
type CallOption func(*Params)

// WithArgs appends positional arguments
func WithArgs(args ...any) CallOption {
	return func(p *Params) {
		p.Args = append(p.Args, args...)
	}
}

// WithKwargs merges keyword arguments
func WithKwargs(kwargs map[string]any) CallOption {
	return func(p *Params) {
		if p.Kwargs == nil {
			p.Kwargs = make(map[string]any, len(kwargs))
		}
		for k, v := range kwargs {
			p.Kwargs[k] = v
		}
	}
}

// WithKwarg sets a single keyword argument
func WithKwarg(key string, value any) CallOption {
	return WithKwargs(map[string]any{key: value})
}

// NewParams builds Params from call options
func NewParams(opts ...CallOption) Params {
	var p Params
	for _, opt := range opts {
		opt(&p)
	}
	return p
}

// Arg returns the i-th positional argument or nil
func (p Params) Arg(i int) any {
	if i < 0 || i >= len(p.Args) {
		return nil
	}
	return p.Args[i]
}

// Kwarg returns a keyword argument
func (p Params) Kwarg(key string) (any, bool) {
	v, ok := p.Kwargs[key]
	return v, ok
}

// Int returns an integer keyword argument or def when missing or not numeric
func (p Params) Int(key string, def int) int {
	v, ok := p.Kwargs[key]
	if !ok {
		return def
	}
	i, err := cast.ToIntE(v)
	if err != nil {
		return def
	}
	return i
}

// String returns a string keyword argument or def
func (p Params) String(key, def string) string {
	v, ok := p.Kwargs[key]
	if !ok || v == nil {
		return def
	}
	return cast.ToString(v)
}

// Bool returns a boolean keyword argument or def
func (p Params) Bool(key string, def bool) bool {
	v, ok := p.Kwargs[key]
	if !ok {
		return def
	}
	b, err := cast.ToBoolE(v)
	if err != nil {
		return def
	}
	return b
}

// Duration returns a duration keyword argument or def.
// Accepts time.Duration, nanosecond numbers and strings like "250ms".
func (p Params) Duration(key string, def time.Duration) time.Duration {
	v, ok := p.Kwargs[key]
	if !ok {
		return def
	}
	d, err := cast.ToDurationE(v)
	if err != nil {
		return def
	}
	return d
}

// Decode decodes a keyword argument into dst (see Decode)
func (p Params) Decode(key string, dst any) error {
	v, ok := p.Kwargs[key]
	if !ok {
		return fmt.Errorf("missing keyword argument %q", key)
	}
	return Decode(v, dst)
}

// Decode stores v into the value pointed to by dst.
// v may be the original Go value or its JSON-decoded form (maps, float64...).
func Decode(v any, dst any) error {
	rv := reflect.ValueOf(dst)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return fmt.Errorf("decode target must be a non-nil pointer, got %T", dst)
	}

	if v != nil {
		vv := reflect.ValueOf(v)
		if vv.Type().AssignableTo(rv.Elem().Type()) {
			rv.Elem().Set(vv)
			return nil
		}
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           dst,
		TagName:          "json",
		WeaklyTypedInput: true,
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
	})
	if err != nil {
		return fmt.Errorf("failed to create decoder: %w", err)
	}
	if err := decoder.Decode(v); err != nil {
		return fmt.Errorf("failed to decode %T into %T: %w", v, dst, err)
	}
	return nil
}

// Range yields the integers 0..n-1 as task items
func Range(n int) iter.Seq[any] {
	return func(yield func(any) bool) {
		for i := 0; i < n; i++ {
			if !yield(i) {
				return
			}
		}
	}
}

// Items yields the elements of a slice as task items
func Items[T any](items []T) iter.Seq[any] {
	return func(yield func(any) bool) {
		for _, item := range items {
			if !yield(item) {
				return
			}
		}
	}
}

// FromSeq adapts a typed sequence into task items
func FromSeq[T any](seq iter.Seq[T]) iter.Seq[any] {
	return func(yield func(any) bool) {
		for item := range seq {
			if !yield(item) {
				return
			}
		}
	}
}

// The function registry lets worker processes and schedulers resolve a Func
// by name. Registration happens from init functions, like database/sql drivers.
var registry = struct {
	sync.RWMutex
	byName map[string]Func
	byPtr  map[uintptr]string
}{
	byName: make(map[string]Func),
	byPtr:  make(map[uintptr]string),
}

// Register makes fn resolvable by name in other processes.
// It panics if the name is empty, fn is nil or the name is already taken.
func Register(name string, fn Func) {
	if name == "" {
		panic("executor: Register with empty name")
	}
	if fn == nil {
		panic("executor: Register fn is nil")
	}

	registry.Lock()
	defer registry.Unlock()

	if _, dup := registry.byName[name]; dup {
		panic("executor: Register called twice for " + name)
	}
	registry.byName[name] = fn
	registry.byPtr[reflect.ValueOf(fn).Pointer()] = name
}

// Lookup returns the function registered under name
func Lookup(name string) (Func, bool) {
	registry.RLock()
	defer registry.RUnlock()
	fn, ok := registry.byName[name]
	return fn, ok
}

// Registered returns the sorted names of all registered functions
func Registered() []string {
	registry.RLock()
	defer registry.RUnlock()

	names := make([]string, 0, len(registry.byName))
	for name := range registry.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NameOf returns the registered name of fn
func NameOf(fn Func) (string, bool) {
	if fn == nil {
		return "", false
	}
	registry.RLock()
	defer registry.RUnlock()
	name, ok := registry.byPtr[reflect.ValueOf(fn).Pointer()]
	return name, ok
}

// safeCall runs fn and converts a panic into an error
func safeCall(ctx context.Context, fn Func, item any, p Params) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	return fn(ctx, item, p)
}
