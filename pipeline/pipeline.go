// Package pipeline connects a device driver to the stream cache: driver callbacks decode
// and enqueue blocks, and a single consumer moves them from the queue into the cache.
package pipeline

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang/glog"

	"github.com/peragwin/dasview/device"
	"github.com/peragwin/dasview/stream"
)

// ErrRunning is returned by Start when the pipeline is already running.
var ErrRunning = errors.New("pipeline is already running")

// Defaults for Options.
const (
	DefaultQueueCapacity = 6
	DefaultPollTimeout   = time.Second
)

// Options configure a Pipeline.
type Options struct {
	QueueCapacity int
	// PollTimeout bounds how long the consumer waits for a block, and so how long Stop
	// waits for the consumer.
	PollTimeout time.Duration
	Format      stream.SampleFormat
}

// Stats are cumulative counters over the life of the pipeline.
type Stats struct {
	Received  uint64 `json:"received"`
	Malformed uint64 `json:"malformed"`
	Dropped   uint64 `json:"dropped"`
	Published uint64 `json:"published"`
	Queued    int    `json:"queued"`
}

// Pipeline owns one acquisition run at a time.
type Pipeline struct {
	driver device.Driver
	opts   Options
	queue  *stream.Queue
	cache  *stream.Cache

	// generation is bumped on every start and stop so that callbacks from a finished run
	// are ignored.
	generation uint64

	received  uint64
	malformed uint64
	published uint64

	mu      sync.Mutex
	running bool
	params  device.Params
	done    chan struct{}
	wg      sync.WaitGroup
}

// New creates a stopped pipeline over driver.
func New(driver device.Driver, opts Options) *Pipeline {
	if opts.QueueCapacity < 1 {
		opts.QueueCapacity = DefaultQueueCapacity
	}
	if opts.PollTimeout <= 0 {
		opts.PollTimeout = DefaultPollTimeout
	}
	return &Pipeline{
		driver: driver,
		opts:   opts,
		queue:  stream.NewQueue(opts.QueueCapacity),
		cache:  stream.NewCache(),
	}
}

// Cache returns the cache the consumer publishes into.
func (p *Pipeline) Cache() *stream.Cache { return p.cache }

// Running reports whether a run is active.
func (p *Pipeline) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// Params returns the parameters of the current or last run.
func (p *Pipeline) Params() device.Params {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.params
}

// Stats returns the current counters.
func (p *Pipeline) Stats() Stats {
	return Stats{
		Received:  atomic.LoadUint64(&p.received),
		Malformed: atomic.LoadUint64(&p.malformed),
		Dropped:   p.queue.Dropped(),
		Published: atomic.LoadUint64(&p.published),
		Queued:    p.queue.Len(),
	}
}

func (p *Pipeline) callback(key stream.Key, gen uint64, snap stream.Snapshot) device.Callback {
	return func(linesHint, points int, raw []byte, byteCount int) {
		if atomic.LoadUint64(&p.generation) != gen {
			return
		}
		atomic.AddUint64(&p.received, 1)
		b, err := stream.Decode(key, linesHint, points, raw, byteCount, p.opts.Format, snap)
		if err != nil {
			if atomic.AddUint64(&p.malformed, 1) == 1 {
				glog.Warningf("dropped %v block: %v", key, err)
			} else if glog.V(1) {
				glog.Warningf("dropped %v block: %v", key, err)
			}
			return
		}
		p.queue.Enqueue(b)
	}
}

func (p *Pipeline) unregister() {
	for _, key := range stream.Keys {
		p.driver.SetCallback(key, nil)
	}
}

// Start configures and opens the driver, registers a callback for every stream and starts
// acquisition. On any driver error the driver is torn down, no callbacks remain registered
// and the pipeline stays stopped.
func (p *Pipeline) Start(params device.Params) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return ErrRunning
	}
	params = params.Normalize()

	fail := func(err error) error {
		atomic.AddUint64(&p.generation, 1)
		p.unregister()
		if terr := p.driver.Teardown(); terr != nil {
			glog.Errorf("teardown after failed start: %v", terr)
		}
		return err
	}

	if err := p.driver.Configure(params); err != nil {
		return fail(err)
	}
	gen := atomic.AddUint64(&p.generation, 1)
	snap := params.Snapshot()
	for _, key := range stream.Keys {
		p.driver.SetCallback(key, p.callback(key, gen, snap))
	}
	if err := p.driver.Open(); err != nil {
		return fail(err)
	}

	p.queue.Drain()
	p.cache.Reset()
	p.done = make(chan struct{})
	p.wg.Add(1)
	go p.consume(p.done)

	if err := p.driver.Start(); err != nil {
		close(p.done)
		p.wg.Wait()
		return fail(err)
	}

	p.params = params
	p.running = true
	glog.Infof("acquisition started: scan rate %s, mode %q, pulse width %d, scale down %d",
		params.ScanRate, params.Mode, params.PulseWidth, params.ScaleDown)
	return nil
}

func (p *Pipeline) consume(done <-chan struct{}) {
	defer p.wg.Done()
	for {
		select {
		case <-done:
			return
		default:
		}
		b, ok := p.queue.Dequeue(p.opts.PollTimeout)
		if !ok {
			continue
		}
		p.cache.Publish(b.Key, b)
		atomic.AddUint64(&p.published, 1)
	}
}

// Stop ends the run: the consumer is signalled, the driver stopped, callbacks released,
// queued and cached blocks discarded and the driver torn down. Stopping a stopped pipeline
// does nothing. The pipeline is stopped on return even if the driver reports an error.
func (p *Pipeline) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running {
		return nil
	}
	p.running = false

	close(p.done)
	err := p.driver.Stop()
	atomic.AddUint64(&p.generation, 1)
	p.unregister()
	p.wg.Wait()

	n := p.queue.Drain()
	p.cache.Reset()
	if terr := p.driver.Teardown(); err == nil {
		err = terr
	}
	glog.Infof("acquisition stopped, %d queued blocks discarded", n)
	return err
}

// Restart stops any active run and starts a new one with params.
func (p *Pipeline) Restart(params device.Params) error {
	if err := p.Stop(); err != nil {
		glog.Errorf("stop before restart: %v", err)
	}
	return p.Start(params)
}
