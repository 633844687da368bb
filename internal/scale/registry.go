package scale

import (
	"fmt"
	"sync"
)

// Registry maps scale addresses to their Device for one sync session.
//
// The vendor library identifies the origin of a callback only by address,
// so every callback goes through the registry to find its device. The map
// itself is guarded by one mutex; each device guards its own state.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Registry struct {
	mu      sync.RWMutex
	devices map[string]*Device
	order   []string
	closed  bool

	wg sync.WaitGroup
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		devices: make(map[string]*Device),
	}
}

// insert adds a device and starts its goroutine with run. It fails if the
// address is already present or the registry is closed.
func (r *Registry) insert(d *Device, run func(*Device)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrRegistryClosed
	}
	if _, exists := r.devices[d.address]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateDevice, d.address)
	}

	r.devices[d.address] = d
	r.order = append(r.order, d.address)

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer close(d.done)
		run(d)
	}()

	return nil
}

// Get returns the device registered under address.
func (r *Registry) Get(address string) (*Device, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.devices[address]
	return d, ok
}

// Contains reports whether address is registered.
func (r *Registry) Contains(address string) bool {
	_, ok := r.Get(address)
	return ok
}

// Devices returns all devices in registration order.
func (r *Registry) Devices() []*Device {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Device, 0, len(r.order))
	for _, addr := range r.order {
		out = append(out, r.devices[addr])
	}
	return out
}

// Snapshots returns a snapshot of every device in registration order.
func (r *Registry) Snapshots() []Snapshot {
	devices := r.Devices()
	out := make([]Snapshot, 0, len(devices))
	for _, d := range devices {
		out = append(out, d.Snapshot())
	}
	return out
}

// Len returns the number of registered devices.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.devices)
}

// Close stops every device goroutine and waits for them to exit. Devices
// stay readable through Snapshot afterwards. Safe to call more than once.
func (r *Registry) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	devices := make([]*Device, 0, len(r.devices))
	for _, d := range r.devices {
		devices = append(devices, d)
	}
	r.mu.Unlock()

	for _, d := range devices {
		close(d.quit)
	}
	r.wg.Wait()
}
