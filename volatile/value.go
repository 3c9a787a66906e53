package volatile

import "sync/atomic"

// Value is a typed wrapper over atomic.Value. The zero Value is not usable,
// construct it with NewValue so Load never sees a nil interface.
type Value[T any] atomic.Value

func NewValue[T any](val T) *Value[T] {
	v := &Value[T]{}
	(*atomic.Value)(v).Store(val)
	return v
}

func (v *Value[T]) Load() T {
	return (*atomic.Value)(v).Load().(T)
}

func (v *Value[T]) Store(val T) {
	(*atomic.Value)(v).Store(val)
}

func (v *Value[T]) Swap(new T) T {
	return (*atomic.Value)(v).Swap(new).(T)
}

// CompareAndSwap panics for non-comparable T, same as atomic.Value.
func (v *Value[T]) CompareAndSwap(old, new T) bool {
	return (*atomic.Value)(v).CompareAndSwap(old, new)
}

// Flag is a one-way latch, used for "fire at most once" guards.
type Flag struct {
	v atomic.Bool
}

// Raise returns true only for the caller that flipped the flag.
func (f *Flag) Raise() bool {
	return f.v.CompareAndSwap(false, true)
}

func (f *Flag) IsRaised() bool {
	return f.v.Load()
}

func (f *Flag) Lower() {
	f.v.Store(false)
}
