package scale

import (
	"context"
	"fmt"
	"time"

	"github.com/nerrad567/scalesync/internal/catalog"
)

// DefaultPollInterval is how often the orchestrator checks device progress.
const DefaultPollInterval = time.Second

// Observer receives sync progress. Methods are called from the poll loop
// and must not block for long.
type Observer interface {
	// DeviceProgress is called once per poll for every active device.
	DeviceProgress(snap Snapshot)

	// DeviceCompleted is called once when a device first completes.
	DeviceCompleted(snap Snapshot, elapsed time.Duration)

	// DeviceFailed is called once when a device first reports a protocol error.
	DeviceFailed(snap Snapshot)

	// RunFinished is called once when Run returns, unless the run was
	// rejected with ErrConfig before any scale was touched.
	RunFinished(res *Result, err error)
}

// SyncerOptions configures a Syncer.
type SyncerOptions struct {
	// Driver talks to the scales (required).
	Driver *Driver

	// Observers receive progress updates.
	Observers []Observer

	// PollInterval defaults to DefaultPollInterval.
	PollInterval time.Duration

	// Logger is optional.
	Logger Logger
}

// RunOptions are the per-run parameters.
type RunOptions struct {
	// Addresses lists the scales to sync.
	Addresses []string

	// ShouldDelete clears all PLUs on each scale before downloading.
	ShouldDelete bool

	// Timeout bounds the whole run. Zero waits forever.
	Timeout time.Duration

	// ShowProgress logs a status line per device on every poll.
	ShowProgress bool
}

// DeviceResult is the final state of one scale.
type DeviceResult struct {
	Address string `json:"address"`
	Status  string `json:"status"`
	Cursor  int    `json:"cursor"`
	Total   int    `json:"total"`
	Error   string `json:"error,omitempty"`
}

// Line formats the device status line, e.g. "10.0.0.5 [complete]".
func (r DeviceResult) Line() string {
	return fmt.Sprintf("%s [%s]", r.Address, r.Status)
}

// Result summarises a sync run.
type Result struct {
	Total     int            `json:"total"`
	Completed int            `json:"completed"`
	Failed    int            `json:"failed"`
	Elapsed   time.Duration  `json:"elapsed"`
	Devices   []DeviceResult `json:"devices"`
}

// Lines returns the status line of every device.
func (r *Result) Lines() []string {
	out := make([]string, 0, len(r.Devices))
	for _, d := range r.Devices {
		out = append(out, d.Line())
	}
	return out
}

// Syncer drives a sync session: register scales, connect them, then poll
// until every scale completes or the deadline passes.
type Syncer struct {
	driver    *Driver
	observers []Observer
	interval  time.Duration
	logger    Logger
}

// NewSyncer creates a Syncer.
func NewSyncer(opts SyncerOptions) (*Syncer, error) {
	if opts.Driver == nil {
		return nil, fmt.Errorf("%w: driver is required", ErrConfig)
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}

	s := &Syncer{
		driver:    opts.Driver,
		observers: opts.Observers,
		interval:  opts.PollInterval,
		logger:    noopLogger{},
	}
	if opts.Logger != nil {
		s.logger = opts.Logger
	}
	return s, nil
}

// Run downloads items to every scale in opts.Addresses.
//
// A scale that fails to add, connect or download is logged and excluded;
// the others carry on. Scales still downloading when the timeout fires are
// left connected.
//
// Parameters:
//   - ctx: Cancels the poll loop
//   - items: Final catalog; shared by every scale and not modified
//   - opts: Scales and run parameters
//
// Returns:
//   - *Result: Per-scale outcome (nil only for ErrConfig)
//   - error: ErrConfig, *TimeoutError, ErrNoDeviceCompleted, or ctx.Err()
func (s *Syncer) Run(ctx context.Context, items []catalog.Item, opts RunOptions) (*Result, error) {
	if len(opts.Addresses) == 0 {
		return nil, fmt.Errorf("%w: no scale addresses", ErrConfig)
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: no items to download", ErrConfig)
	}

	start := time.Now()
	s.driver.SetCatalog(items)

	s.logger.Info("scale sync starting",
		"scales", len(opts.Addresses),
		"items", len(items),
		"wipe", opts.ShouldDelete,
		"timeout", opts.Timeout,
	)

	added := make([]string, 0, len(opts.Addresses))
	var rejected []DeviceResult
	for _, addr := range opts.Addresses {
		if err := s.driver.AddDevice(addr, opts.ShouldDelete); err != nil {
			s.logger.Error("error adding scale", "address", addr, "error", err)
			rejected = append(rejected, DeviceResult{Address: addr, Status: "error", Total: len(items), Error: err.Error()})
			continue
		}
		added = append(added, addr)
	}

	for _, addr := range added {
		if err := s.driver.Connect(addr); err != nil {
			s.logger.Error("error connecting scale", "address", addr, "error", err)
			continue
		}
		s.logger.Info("syncing to scale", "address", addr)
	}

	if len(added) == 0 {
		res := s.result(start, rejected)
		err := fmt.Errorf("%w: no scale could be added", ErrNoDeviceCompleted)
		s.logger.Error("scale sync failed", "error", err)
		s.finish(res, err)
		return res, err
	}

	err := s.poll(ctx, start, opts)
	res := s.result(start, rejected)

	if err == nil && res.Completed == 0 {
		err = ErrNoDeviceCompleted
	}

	switch {
	case err != nil:
		s.logger.Error("scale sync failed", "error", err, "completed", res.Completed, "total", res.Total)
	default:
		s.logger.Info("scale sync finished",
			"completed", res.Completed,
			"failed", res.Failed,
			"elapsed", res.Elapsed.Round(time.Millisecond),
		)
	}

	s.finish(res, err)
	return res, err
}

// poll checks devices every interval until all active devices complete,
// the timeout passes or ctx is cancelled.
func (s *Syncer) poll(ctx context.Context, start time.Time, opts RunOptions) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	// The timeout counts from the start of Run, so time spent blocked in
	// AddDevice and Connect is included.
	var deadline <-chan time.Time
	if opts.Timeout > 0 {
		remaining := time.Until(start.Add(opts.Timeout))
		if remaining <= 0 {
			if incomplete, done := s.check(start, opts.ShowProgress); !done {
				return &TimeoutError{Incomplete: incomplete, Elapsed: time.Since(start)}
			}
			return nil
		}
		timer := time.NewTimer(remaining)
		defer timer.Stop()
		deadline = timer.C
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-deadline:
			incomplete, done := s.check(start, opts.ShowProgress)
			if done {
				return nil
			}
			return &TimeoutError{Incomplete: incomplete, Elapsed: time.Since(start)}

		case <-ticker.C:
			if _, done := s.check(start, opts.ShowProgress); done {
				return nil
			}
		}
	}
}

// check inspects every device once. It returns the addresses still
// downloading and whether none remain.
func (s *Syncer) check(start time.Time, showProgress bool) ([]string, bool) {
	var incomplete []string

	for _, dev := range s.driver.Registry().Devices() {
		snap := dev.Snapshot()

		switch {
		case snap.Failed():
			if dev.MarkNotified() {
				s.logger.Error("scale excluded after protocol error", "address", snap.Address, "error", snap.Error)
				s.notify(func(o Observer) { o.DeviceFailed(snap) })
			}
			continue

		case snap.Complete():
			if dev.MarkNotified() {
				elapsed := time.Since(start)
				s.logger.Info("scale sync complete",
					"address", snap.Address,
					"items", snap.Total,
					"elapsed", elapsed.Round(time.Millisecond),
				)
				s.notify(func(o Observer) { o.DeviceCompleted(snap, elapsed) })
			}

		default:
			incomplete = append(incomplete, snap.Address)
		}

		if showProgress {
			s.logger.Info(snap.Line())
		}
		s.notify(func(o Observer) { o.DeviceProgress(snap) })
	}

	return incomplete, len(incomplete) == 0
}

// result builds the run summary from the registry plus the scales that
// could not be added.
func (s *Syncer) result(start time.Time, rejected []DeviceResult) *Result {
	snaps := s.driver.Registry().Snapshots()
	res := &Result{
		Total:   len(snaps) + len(rejected),
		Failed:  len(rejected),
		Elapsed: time.Since(start),
		Devices: make([]DeviceResult, 0, len(snaps)+len(rejected)),
	}

	for _, snap := range snaps {
		switch {
		case snap.Failed():
			res.Failed++
		case snap.Complete():
			res.Completed++
		}
		res.Devices = append(res.Devices, DeviceResult{
			Address: snap.Address,
			Status:  snap.Status(),
			Cursor:  snap.Cursor,
			Total:   snap.Total,
			Error:   snap.Error,
		})
	}
	res.Devices = append(res.Devices, rejected...)
	return res
}

func (s *Syncer) finish(res *Result, err error) {
	s.notify(func(o Observer) { o.RunFinished(res, err) })
}

// notify calls fn for every observer, recovering from panics.
func (s *Syncer) notify(fn func(Observer)) {
	for _, o := range s.observers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					s.logger.Error("sync observer panic", "panic", r)
				}
			}()
			fn(o)
		}()
	}
}
