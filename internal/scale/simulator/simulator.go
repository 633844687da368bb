// Package simulator provides an in-process stand-in for the scale vendor
// library. It acknowledges every record from its own goroutines, the way
// the real library calls back from its worker threads.
package simulator

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/scalesync/internal/scale"
)

// Errors returned by the simulator.
var (
	// ErrInjected is returned for failures configured through Options.
	ErrInjected = errors.New("simulator: injected failure")

	// ErrNotAdded is returned for calls on an address that was never added.
	ErrNotAdded = errors.New("simulator: connection not added")

	// ErrNotConnected is returned when sending to a disconnected scale.
	ErrNotConnected = errors.New("simulator: not connected")
)

// Options configures simulated scale behaviour. Address sets select the
// scales a failure applies to.
type Options struct {
	// Latency delays every callback. Default: 1ms.
	Latency time.Duration

	// Silent scales never call back.
	Silent map[string]bool

	// FailAdd scales reject AddConnection.
	FailAdd map[string]bool

	// FailConnect scales reject Connect.
	FailConnect map[string]bool

	// FailSendAfter makes SendData fail once a scale has accepted n records.
	FailSendAfter map[string]int

	// DuplicateAcks echoes every record twice.
	DuplicateAcks bool
}

type connection struct {
	cfg       scale.ConnectionConfig
	sink      scale.Sink
	connected bool
	records   []scale.Record
}

// Simulator implements scale.Vendor.
type Simulator struct {
	opts Options

	mu    sync.Mutex
	conns map[string]*connection

	wg sync.WaitGroup
}

// Ensure Simulator implements scale.Vendor.
var _ scale.Vendor = (*Simulator)(nil)

// New creates a simulator.
func New(opts Options) *Simulator {
	if opts.Latency <= 0 {
		opts.Latency = time.Millisecond
	}
	return &Simulator{
		opts:  opts,
		conns: make(map[string]*connection),
	}
}

// AddConnection implements scale.Vendor.
func (s *Simulator) AddConnection(cfg scale.ConnectionConfig, sink scale.Sink) error {
	if s.opts.FailAdd[cfg.Address] {
		return fmt.Errorf("%w: add %s", ErrInjected, cfg.Address)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.conns[cfg.Address] = &connection{cfg: cfg, sink: sink}
	return nil
}

// Connect implements scale.Vendor. The connected notification follows
// asynchronously, preceded by a benign receive-timeout notification.
func (s *Simulator) Connect(address string, index int16) error {
	if s.opts.FailConnect[address] {
		return fmt.Errorf("%w: connect %s", ErrInjected, address)
	}

	s.mu.Lock()
	c, ok := s.conns[address]
	if !ok || c.cfg.Index != index {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s/%d", ErrNotAdded, address, index)
	}
	c.connected = true
	sink := c.sink
	s.mu.Unlock()

	if s.opts.Silent[address] {
		return nil
	}

	s.later(func() {
		sink.OnState(address, scale.StateCodeReceiveTimeout)
		sink.OnState(address, scale.StateCodeConnected)
	})
	return nil
}

// Disconnect implements scale.Vendor.
func (s *Simulator) Disconnect(address string, _ int16) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.conns[address]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotAdded, address)
	}
	c.connected = false
	return nil
}

// SendData implements scale.Vendor. The record is echoed back through the
// receive callback.
func (s *Simulator) SendData(address string, _ int16, payload []byte) error {
	rec, err := scale.DecodeRecord(payload)
	if err != nil {
		return err
	}

	s.mu.Lock()
	c, ok := s.conns[address]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotAdded, address)
	}
	if !c.connected {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotConnected, address)
	}
	if limit, set := s.opts.FailSendAfter[address]; set && len(c.records) >= limit {
		s.mu.Unlock()
		return fmt.Errorf("%w: send %s plu %d", ErrInjected, address, rec.PLUNo)
	}
	c.records = append(c.records, rec)
	sink := c.sink
	s.mu.Unlock()

	if s.opts.Silent[address] {
		return nil
	}

	echo := make([]byte, len(payload))
	copy(echo, payload)

	s.later(func() {
		sink.OnReceive(address, echo)
		if s.opts.DuplicateAcks {
			sink.OnReceive(address, echo)
		}
	})
	return nil
}

// Records returns the records a scale has accepted, in order.
func (s *Simulator) Records(address string) []scale.Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.conns[address]
	if !ok {
		return nil
	}
	out := make([]scale.Record, len(c.records))
	copy(out, c.records)
	return out
}

// Connected reports whether a scale is currently connected.
func (s *Simulator) Connected(address string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conns[address]
	return ok && c.connected
}

// Wait blocks until all pending callbacks have run.
func (s *Simulator) Wait() {
	s.wg.Wait()
}

// later runs fn on a new goroutine after the configured latency.
func (s *Simulator) later(fn func()) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		time.Sleep(s.opts.Latency)
		fn()
	}()
}
