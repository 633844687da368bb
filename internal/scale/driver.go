package scale

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/scalesync/internal/catalog"
)

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// DriverOptions configures a Driver.
type DriverOptions struct {
	// Vendor is the scale communication library (required).
	Vendor Vendor

	// Registry holds the session's devices. A new one is created if nil.
	Registry *Registry

	// Port and Model are passed to AddConnection. Defaults: 20304, 5500.
	Port  uint16
	Model uint16

	// EventQueueSize bounds each device's callback queue. Default: 64.
	EventQueueSize int

	// Logger is optional.
	Logger Logger
}

// DriverStats holds callback counters.
type DriverStats struct {
	StateCallbacks   uint64
	ReceiveCallbacks uint64
	EventsDropped    uint64
	UnknownAddress   uint64
	ItemsSent        uint64
}

// Driver translates device state into vendor calls and vendor callbacks
// into device events.
//
// Vendor callbacks arrive on vendor-owned threads. OnState and OnReceive
// convert them into typed events and queue them on the owning device
// without blocking; each device has a goroutine that applies its events
// in order.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type Driver struct {
	vendor   Vendor
	registry *Registry
	port     uint16
	model    uint16
	qsize    int

	mu        sync.Mutex
	items     []catalog.Item
	nextIndex int16

	logger   Logger
	loggerMu sync.RWMutex

	stateCallbacks   atomic.Uint64
	receiveCallbacks atomic.Uint64
	eventsDropped    atomic.Uint64
	unknownAddress   atomic.Uint64
	itemsSent        atomic.Uint64
}

// Ensure Driver implements Sink.
var _ Sink = (*Driver)(nil)

// NewDriver creates a driver for one sync session.
func NewDriver(opts DriverOptions) (*Driver, error) {
	if opts.Vendor == nil {
		return nil, fmt.Errorf("%w: vendor library is required", ErrConfig)
	}
	if opts.Registry == nil {
		opts.Registry = NewRegistry()
	}
	if opts.Port == 0 {
		opts.Port = DefaultPort
	}
	if opts.Model == 0 {
		opts.Model = DefaultModel
	}

	d := &Driver{
		vendor:    opts.Vendor,
		registry:  opts.Registry,
		port:      opts.Port,
		model:     opts.Model,
		qsize:     opts.EventQueueSize,
		nextIndex: 1,
		logger:    noopLogger{},
	}
	if opts.Logger != nil {
		d.logger = opts.Logger
	}
	return d, nil
}

// SetLogger sets the logger for this driver.
func (d *Driver) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	d.loggerMu.Lock()
	d.logger = logger
	d.loggerMu.Unlock()
}

func (d *Driver) log() Logger {
	d.loggerMu.RLock()
	defer d.loggerMu.RUnlock()
	return d.logger
}

// Registry returns the driver's device registry.
func (d *Driver) Registry() *Registry {
	return d.registry
}

// SetCatalog sets the item list downloaded to every device added after
// the call. The slice is shared, not copied, and must not be modified.
func (d *Driver) SetCatalog(items []catalog.Item) {
	d.mu.Lock()
	d.items = items
	d.mu.Unlock()
}

// Stats returns callback counters.
func (d *Driver) Stats() DriverStats {
	return DriverStats{
		StateCallbacks:   d.stateCallbacks.Load(),
		ReceiveCallbacks: d.receiveCallbacks.Load(),
		EventsDropped:    d.eventsDropped.Load(),
		UnknownAddress:   d.unknownAddress.Load(),
		ItemsSent:        d.itemsSent.Load(),
	}
}

// AddDevice registers a scale with the vendor library and the registry.
//
// On vendor failure nothing is registered and the connection index is not
// consumed.
//
// Parameters:
//   - address: Scale IP address
//   - shouldDelete: Clear all PLUs on the scale before downloading
//
// Returns:
//   - error: ErrDuplicateDevice, or ErrProtocol wrapping the vendor error
func (d *Driver) AddDevice(address string, shouldDelete bool) error {
	// The check and the vendor call share d.mu so concurrent adds of one
	// address register it with the vendor only once.
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.registry.Contains(address) {
		return fmt.Errorf("%w: %s", ErrDuplicateDevice, address)
	}

	cfg := ConnectionConfig{
		Address:    address,
		Index:      d.nextIndex,
		Port:       d.port,
		Model:      d.model,
		TimeoutMs:  DefaultTimeoutMs,
		RetryCount: DefaultRetryCount,
	}
	if err := d.vendor.AddConnection(cfg, d); err != nil {
		return fmt.Errorf("%w: %s: add connection: %w", ErrProtocol, address, err)
	}

	dev := newDevice(address, cfg.Index, shouldDelete, d.items, d.qsize)
	if err := d.registry.insert(dev, d.runDevice); err != nil {
		return err
	}
	d.nextIndex++

	d.log().Info("scale added", "address", address, "index", cfg.Index, "wipe", shouldDelete, "items", len(d.items))
	return nil
}

// Connect opens the connection to a previously added scale. Progress is
// driven by callbacks from then on.
//
// Returns:
//   - error: ErrUnknownDevice, or ErrProtocol wrapping the vendor error
func (d *Driver) Connect(address string) error {
	dev, ok := d.registry.Get(address)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownDevice, address)
	}

	// The transition happens before the vendor call so a "connected"
	// callback racing the return finds the device in connecting.
	dev.mu.Lock()
	err := dev.fire(eventConnect)
	dev.mu.Unlock()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrProtocol, err)
	}

	if err := d.vendor.Connect(address, dev.index); err != nil {
		perr := fmt.Errorf("%w: %s: connect: %w", ErrProtocol, address, err)
		d.dispatch(address, Event{Kind: EventError, Err: perr})
		return perr
	}

	d.log().Debug("scale connecting", "address", address, "index", dev.index)
	return nil
}

// OnState implements Sink. It runs on a vendor thread and never blocks.
func (d *Driver) OnState(address string, code StateCode) {
	d.stateCallbacks.Add(1)

	switch code {
	case StateCodeConnected:
		d.dispatch(address, Event{Kind: EventConnected})
	case StateCodeReceiveTimeout:
		// The vendor layer retries on its own.
	case StateCodeDisconnected:
		// Also retried by the vendor. Only failed vendor calls move a
		// device to error.
		d.log().Warn("scale reported disconnect, waiting for vendor retry", "address", address)
	default:
		d.log().Warn("ignoring unrecognised scale state", "address", address, "code", int(code))
	}
}

// OnReceive implements Sink. It runs on a vendor thread and never blocks.
func (d *Driver) OnReceive(address string, payload []byte) {
	d.receiveCallbacks.Add(1)

	rec, err := DecodeRecord(payload)
	if err != nil {
		d.log().Warn("ignoring undecodable scale record", "address", address, "error", err)
		return
	}

	if rec.IsDeleteAll() {
		d.dispatch(address, Event{Kind: EventDeleteAcked})
		return
	}
	d.dispatch(address, Event{Kind: EventItemAcked, PLU: rec.PLUNo})
}

// dispatch routes an event to the device registered under address.
func (d *Driver) dispatch(address string, ev Event) {
	dev, ok := d.registry.Get(address)
	if !ok {
		d.unknownAddress.Add(1)
		d.log().Warn("callback for unknown scale", "address", address, "event", ev.Kind.String())
		return
	}
	if !dev.enqueue(ev) {
		d.eventsDropped.Add(1)
		d.log().Error("scale event queue full, dropping event", "address", address, "event", ev.Kind.String())
	}
}

// runDevice is the per-device goroutine. It owns all protocol state
// changes after Connect.
func (d *Driver) runDevice(dev *Device) {
	for {
		select {
		case <-dev.quit:
			return
		case ev := <-dev.events:
			func() {
				defer func() {
					if r := recover(); r != nil {
						d.log().Error("scale event handler panic", "address", dev.address, "panic", r)
					}
				}()
				d.handle(dev, ev)
			}()
		}
	}
}

// handle applies one event to a device.
func (d *Driver) handle(dev *Device, ev Event) {
	switch ev.Kind {
	case EventConnected:
		d.onConnected(dev)
	case EventDeleteAcked:
		d.onDeleteAcked(dev)
	case EventItemAcked:
		d.onItemAcked(dev, ev.PLU)
	case EventError:
		d.fail(dev, ev.Err)
	}
}

func (d *Driver) onConnected(dev *Device) {
	dev.mu.Lock()
	if err := dev.fire(eventConnected); err != nil {
		dev.mu.Unlock()
		d.log().Debug("ignoring connected callback", "address", dev.address, "error", err)
		return
	}

	if dev.shouldDelete && !dev.deleteCompleted {
		err := dev.fire(eventDelete)
		dev.mu.Unlock()
		if err != nil {
			d.fail(dev, fmt.Errorf("%w: %w", ErrProtocol, err))
			return
		}
		d.log().Info("scale connected, deleting all PLUs", "address", dev.address)
		d.send(dev, NewDeleteAllRecord())
		return
	}

	d.startDownload(dev)
}

func (d *Driver) onDeleteAcked(dev *Device) {
	dev.mu.Lock()
	if err := dev.fire(eventDeleteDone); err != nil {
		dev.mu.Unlock()
		d.log().Debug("ignoring delete acknowledgment", "address", dev.address, "error", err)
		return
	}
	dev.deleteCompleted = true
	d.log().Info("scale PLUs deleted", "address", dev.address)

	d.startDownload(dev)
}

// startDownload moves a connected device to downloading and sends the item
// at the cursor. Callers must hold dev.mu; it is released here.
func (d *Driver) startDownload(dev *Device) {
	if err := dev.fire(eventDownload); err != nil {
		dev.mu.Unlock()
		d.fail(dev, fmt.Errorf("%w: %w", ErrProtocol, err))
		return
	}

	if dev.cursor >= len(dev.items) {
		_ = dev.fire(eventComplete) //nolint:errcheck // downloading -> complete is always valid
		dev.mu.Unlock()
		return
	}

	rec := NewItemRecord(&dev.items[dev.cursor])
	dev.mu.Unlock()

	d.log().Info("scale download started", "address", dev.address, "items", len(dev.items))
	d.send(dev, rec)
}

func (d *Driver) onItemAcked(dev *Device, plu uint32) {
	dev.mu.Lock()
	if dev.state != StateDownloading {
		state := dev.state
		dev.mu.Unlock()
		d.log().Debug("ignoring item acknowledgment", "address", dev.address, "state", state, "plu", plu)
		return
	}

	if want, _ := dev.items[dev.cursor].ParsedPLU(); uint32(want) != plu {
		dev.mu.Unlock()
		d.log().Warn("ignoring acknowledgment for unexpected PLU",
			"address", dev.address,
			"plu", plu,
			"expected", want,
		)
		return
	}

	dev.cursor++
	dev.updatedAt = time.Now()

	if dev.cursor >= len(dev.items) {
		_ = dev.fire(eventComplete) //nolint:errcheck // downloading -> complete is always valid
		dev.mu.Unlock()
		return
	}

	rec := NewItemRecord(&dev.items[dev.cursor])
	dev.mu.Unlock()

	d.send(dev, rec)
}

// send pushes a record to the scale. A failure marks the device failed.
func (d *Driver) send(dev *Device, rec Record) {
	if err := d.vendor.SendData(dev.address, dev.index, rec.Encode()); err != nil {
		d.fail(dev, fmt.Errorf("%w: %s: send plu %d: %w", ErrProtocol, dev.address, rec.PLUNo, err))
		return
	}
	d.itemsSent.Add(1)
}

// fail moves a device to the error state and disconnects it. Devices that
// already completed or failed are left untouched.
func (d *Driver) fail(dev *Device, err error) {
	dev.mu.Lock()
	if ferr := dev.fire(eventFail); ferr != nil {
		dev.mu.Unlock()
		d.log().Debug("ignoring failure for finished scale", "address", dev.address, "error", err)
		return
	}
	dev.lastErr = err
	cursor := dev.cursor
	dev.mu.Unlock()

	d.log().Error("scale protocol error",
		"address", dev.address,
		"cursor", cursor,
		"total", len(dev.items),
		"error", err,
	)

	if derr := d.vendor.Disconnect(dev.address, dev.index); derr != nil {
		d.log().Warn("scale disconnect failed", "address", dev.address, "error", derr)
	}
}
