// Package device defines the acquisition driver contract and the bench devices that
// implement it.
package device

import (
	"fmt"
	"sync"

	"github.com/peragwin/dasview/stream"
)

// Callback receives one raw block from the driver. linesHint is the driver's own idea of
// the line count, points the samples per line, and byteCount the number of valid bytes in
// raw. The driver may reuse raw after the callback returns.
type Callback func(linesHint, points int, raw []byte, byteCount int)

// Driver is an acquisition device. Configure must precede Open, and Open must precede Start.
// Callbacks are invoked from driver goroutines.
type Driver interface {
	Configure(p Params) error
	Open() error
	Start() error
	Stop() error
	Teardown() error
	SetCallback(key stream.Key, cb Callback)
}

// StatusError is a non-zero status code returned by a driver operation.
type StatusError struct {
	Op   string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("device %s failed with status %d", e.Op, e.Code)
}

// Status converts a driver status code to an error. Zero is success.
func Status(op string, code int) error {
	if code == 0 {
		return nil
	}
	return &StatusError{Op: op, Code: code}
}

// Callbacks is a concurrency safe callback table keyed by stream.
type Callbacks struct {
	sync.RWMutex
	cbs map[stream.Key]Callback
}

// Set registers cb for key. A nil cb unregisters the key.
func (c *Callbacks) Set(key stream.Key, cb Callback) {
	c.Lock()
	defer c.Unlock()
	if cb == nil {
		delete(c.cbs, key)
		return
	}
	if c.cbs == nil {
		c.cbs = make(map[stream.Key]Callback)
	}
	c.cbs[key] = cb
}

// Get returns the callback registered for key, or nil.
func (c *Callbacks) Get(key stream.Key) Callback {
	c.RLock()
	defer c.RUnlock()
	return c.cbs[key]
}

// Len returns the number of registered callbacks.
func (c *Callbacks) Len() int {
	c.RLock()
	defer c.RUnlock()
	return len(c.cbs)
}

// Clear unregisters every callback.
func (c *Callbacks) Clear() {
	c.Lock()
	defer c.Unlock()
	c.cbs = nil
}

// Emit delivers raw to the callback registered for key, if any. It reports whether a
// callback was invoked.
func (c *Callbacks) Emit(key stream.Key, linesHint, points int, raw []byte) bool {
	cb := c.Get(key)
	if cb == nil {
		return false
	}
	cb(linesHint, points, raw, len(raw))
	return true
}
