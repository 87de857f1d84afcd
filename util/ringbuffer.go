package util

import (
	"sync"
)

// RingBuffer implements a circular buffer of float64 that remembers how much of it has
// been filled.
type RingBuffer struct {
	sync.RWMutex
	buf   []float64
	index int
	count int
}

// NewRingBuffer creates a new ring buffer with the given size.
func NewRingBuffer(size int) *RingBuffer {
	if size < 1 {
		panic("ring buffer size must be at least 1")
	}
	return &RingBuffer{buf: make([]float64, size)}
}

// Size returns the capacity of the buffer.
func (r *RingBuffer) Size() int { return len(r.buf) }

// Len returns how many values are held, at most Size.
func (r *RingBuffer) Len() int {
	r.RLock()
	defer r.RUnlock()
	return r.count
}

// Reset forgets every value.
func (r *RingBuffer) Reset() {
	r.Lock()
	defer r.Unlock()
	r.index, r.count = 0, 0
}

// Push data onto the ring buffer. If data is longer than the buffer only its tail is kept.
func (r *RingBuffer) Push(data ...float64) {
	if len(data) > len(r.buf) {
		data = data[len(data)-len(r.buf):]
	}

	r.Lock()
	defer r.Unlock()

	wrap := false
	en := r.index + len(data)
	if en > len(r.buf) {
		en = len(r.buf)
		wrap = true
	}
	copy(r.buf[r.index:en], data)
	if wrap {
		os := len(r.buf) - r.index
		copy(r.buf, data[os:])
	}

	r.index = (r.index + len(data)) % len(r.buf)
	r.count += len(data)
	if r.count > len(r.buf) {
		r.count = len(r.buf)
	}
}

// Get the most recent N data points from the buffer.
func (r *RingBuffer) Get(size int) []float64 {
	return r.GetOffset(size, 0)
}

// GetOffset gets the most recent N data points from the buffer, offset minus M samples.
func (r *RingBuffer) GetOffset(size, offset int) []float64 {
	if size > len(r.buf) {
		panic("cant get size greater than size of buffer")
	}

	r.RLock()
	defer r.RUnlock()

	ret := make([]float64, size)

	index := (r.index - offset) % len(r.buf)
	if index < 0 {
		index += len(r.buf)
	}
	st := index - size
	if st >= 0 {
		copy(ret, r.buf[st:index])
		return ret
	}
	n := copy(ret, r.buf[len(r.buf)+st:])
	copy(ret[n:], r.buf[:index])
	return ret
}

// Values returns every held value, oldest first.
func (r *RingBuffer) Values() []float64 {
	return r.Get(r.Len())
}
