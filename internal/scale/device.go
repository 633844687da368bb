package scale

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/looplab/fsm"

	"github.com/nerrad567/scalesync/internal/catalog"
)

// State is a scale's protocol state.
type State string

// Protocol states.
const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateDeleting     State = "deleting"
	StateDownloading  State = "downloading"
	StateComplete     State = "complete"
	StateError        State = "error"
)

// State machine events.
const (
	eventConnect    = "connect"
	eventConnected  = "connected"
	eventDelete     = "delete"
	eventDeleteDone = "delete_done"
	eventDownload   = "download"
	eventComplete   = "complete"
	eventFail       = "fail"
)

// defaultEventQueueSize bounds the per-device callback queue.
const defaultEventQueueSize = 64

// EventKind identifies a callback translated for a device.
type EventKind int

// Device events produced by the callback trampoline.
const (
	EventConnected EventKind = iota + 1
	EventItemAcked
	EventDeleteAcked
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventConnected:
		return "connected"
	case EventItemAcked:
		return "item_acked"
	case EventDeleteAcked:
		return "delete_acked"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is one typed callback queued for a device's goroutine.
type Event struct {
	Kind EventKind
	PLU  uint32
	Err  error
}

// Device is the state of one scale for the duration of a sync session.
//
// Thread Safety:
//   - Protocol state is mutated only by the device's own goroutine (see
//     Driver), which drains the events queue.
//   - Snapshot may be called from any goroutine.
type Device struct {
	address      string
	index        int16
	shouldDelete bool

	// items is shared by every device and never modified.
	items []catalog.Item

	events  chan Event
	dropped atomic.Uint64
	quit    chan struct{}
	done    chan struct{}

	mu              sync.RWMutex
	machine         *fsm.FSM
	state           State
	cursor          int
	deleteCompleted bool
	notified        bool
	lastErr         error
	startedAt       time.Time
	updatedAt       time.Time
	finishedAt      time.Time
}

// newDevice creates a device in the disconnected state.
func newDevice(address string, index int16, shouldDelete bool, items []catalog.Item, queueSize int) *Device {
	if queueSize <= 0 {
		queueSize = defaultEventQueueSize
	}

	now := time.Now()
	d := &Device{
		address:      address,
		index:        index,
		shouldDelete: shouldDelete,
		items:        items,
		events:       make(chan Event, queueSize),
		quit:         make(chan struct{}),
		done:         make(chan struct{}),
		state:        StateDisconnected,
		startedAt:    now,
		updatedAt:    now,
	}

	active := []string{
		string(StateDisconnected),
		string(StateConnecting),
		string(StateConnected),
		string(StateDeleting),
		string(StateDownloading),
	}

	// enter_state runs inside Event, which is only called with mu held.
	d.machine = fsm.NewFSM(
		string(StateDisconnected),
		fsm.Events{
			{Name: eventConnect, Src: []string{string(StateDisconnected)}, Dst: string(StateConnecting)},
			{Name: eventConnected, Src: []string{string(StateConnecting)}, Dst: string(StateConnected)},
			{Name: eventDelete, Src: []string{string(StateConnected)}, Dst: string(StateDeleting)},
			{Name: eventDeleteDone, Src: []string{string(StateDeleting)}, Dst: string(StateConnected)},
			{Name: eventDownload, Src: []string{string(StateConnected)}, Dst: string(StateDownloading)},
			{Name: eventComplete, Src: []string{string(StateDownloading)}, Dst: string(StateComplete)},
			{Name: eventFail, Src: active, Dst: string(StateError)},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				d.state = State(e.Dst)
				d.updatedAt = time.Now()
				if d.state == StateComplete || d.state == StateError {
					d.finishedAt = d.updatedAt
				}
			},
		},
	)

	return d
}

// Address returns the scale's network address.
func (d *Device) Address() string { return d.address }

// Index returns the vendor connection index.
func (d *Device) Index() int16 { return d.index }

// fire applies a state machine event. Callers must hold mu.
func (d *Device) fire(event string) error {
	if err := d.machine.Event(context.Background(), event); err != nil {
		return fmt.Errorf("%s: %s in state %s: %w", d.address, event, d.state, err)
	}
	return nil
}

// enqueue hands an event to the device goroutine without blocking. It
// reports false when the queue is full or the device has stopped.
func (d *Device) enqueue(ev Event) bool {
	select {
	case <-d.quit:
		return false
	default:
	}

	select {
	case d.events <- ev:
		return true
	default:
		d.dropped.Add(1)
		return false
	}
}

// MarkNotified sets the notified flag and reports whether this call was
// the first to do so.
func (d *Device) MarkNotified() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.notified {
		return false
	}
	d.notified = true
	return true
}

// Snapshot returns a consistent copy of the device's state.
func (d *Device) Snapshot() Snapshot {
	d.mu.RLock()
	defer d.mu.RUnlock()

	s := Snapshot{
		Address:         d.address,
		Index:           d.index,
		State:           d.state,
		Cursor:          d.cursor,
		Total:           len(d.items),
		ShouldDelete:    d.shouldDelete,
		DeleteCompleted: d.deleteCompleted,
		Notified:        d.notified,
		Dropped:         d.dropped.Load(),
		StartedAt:       d.startedAt,
		UpdatedAt:       d.updatedAt,
		FinishedAt:      d.finishedAt,
	}
	if d.lastErr != nil {
		s.Error = d.lastErr.Error()
	}
	return s
}

// Snapshot is a point-in-time copy of a Device.
type Snapshot struct {
	Address         string    `json:"address"`
	Index           int16     `json:"index"`
	State           State     `json:"state"`
	Cursor          int       `json:"cursor"`
	Total           int       `json:"total"`
	ShouldDelete    bool      `json:"should_delete"`
	DeleteCompleted bool      `json:"delete_completed"`
	Notified        bool      `json:"-"`
	Dropped         uint64    `json:"dropped_events"`
	Error           string    `json:"error,omitempty"`
	StartedAt       time.Time `json:"started_at"`
	UpdatedAt       time.Time `json:"updated_at"`
	FinishedAt      time.Time `json:"finished_at,omitempty"`
}

// Complete is the completion predicate: every item downloaded and the
// requested delete, if any, acknowledged.
func (s Snapshot) Complete() bool {
	return s.Cursor == s.Total && s.ShouldDelete == s.DeleteCompleted
}

// Failed reports whether the device hit a protocol error.
func (s Snapshot) Failed() bool {
	return s.State == StateError
}

// Percent returns download progress as 0-100.
func (s Snapshot) Percent() int {
	if s.Total == 0 {
		return 100
	}
	return 100 * s.Cursor / s.Total
}

// Status returns the human status: "complete", "deleting", "error" or a
// percentage such as "42%".
func (s Snapshot) Status() string {
	switch {
	case s.Failed():
		return "error"
	case s.Complete():
		return "complete"
	case s.State == StateDeleting:
		return "deleting"
	default:
		return fmt.Sprintf("%d%%", s.Percent())
	}
}

// Line formats the per-device status line, e.g. "10.0.0.5 [42%]".
func (s Snapshot) Line() string {
	return fmt.Sprintf("%s [%s]", s.Address, s.Status())
}
