package scale_test

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/scalesync/internal/catalog"
	"github.com/nerrad567/scalesync/internal/scale"
	"github.com/nerrad567/scalesync/internal/scale/simulator"
)

type recordingObserver struct {
	mu        sync.Mutex
	progress  int
	completed []string
	failed    []string
	finished  int
	result    *scale.Result
	err       error
}

func (o *recordingObserver) DeviceProgress(scale.Snapshot) {
	o.mu.Lock()
	o.progress++
	o.mu.Unlock()
}

func (o *recordingObserver) DeviceCompleted(snap scale.Snapshot, _ time.Duration) {
	o.mu.Lock()
	o.completed = append(o.completed, snap.Address)
	o.mu.Unlock()
}

func (o *recordingObserver) DeviceFailed(snap scale.Snapshot) {
	o.mu.Lock()
	o.failed = append(o.failed, snap.Address)
	o.mu.Unlock()
}

func (o *recordingObserver) RunFinished(res *scale.Result, err error) {
	o.mu.Lock()
	o.finished++
	o.result = res
	o.err = err
	o.mu.Unlock()
}

type panickingObserver struct{}

func (panickingObserver) DeviceProgress(scale.Snapshot)                 { panic("progress") }
func (panickingObserver) DeviceCompleted(scale.Snapshot, time.Duration) { panic("completed") }
func (panickingObserver) DeviceFailed(scale.Snapshot)                   { panic("failed") }
func (panickingObserver) RunFinished(*scale.Result, error)              { panic("finished") }

type lineLogger struct {
	mu    sync.Mutex
	lines []string
}

func (l *lineLogger) Debug(string, ...any) {}
func (l *lineLogger) Warn(string, ...any)  {}
func (l *lineLogger) Error(string, ...any) {}
func (l *lineLogger) Info(msg string, _ ...any) {
	l.mu.Lock()
	l.lines = append(l.lines, msg)
	l.mu.Unlock()
}

func (l *lineLogger) has(line string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, got := range l.lines {
		if got == line {
			return true
		}
	}
	return false
}

func items(n int) []catalog.Item {
	out := make([]catalog.Item, n)
	for i := range out {
		plu := strconv.Itoa(1001 + i)
		out[i] = catalog.Item{
			UPC:         "00212340" + strconv.Itoa(i%10) + "000",
			Description: "Sim item " + strconv.Itoa(i),
			PLU:         &plu,
			NormalPrice: 3.49,
			Weighed:     i%2 == 0,
		}
	}
	return out
}

func newSyncer(t *testing.T, sim *simulator.Simulator, logger scale.Logger, observers ...scale.Observer) *scale.Syncer {
	t.Helper()
	driver, err := scale.NewDriver(scale.DriverOptions{Vendor: sim, Logger: logger})
	if err != nil {
		t.Fatalf("NewDriver() error = %v", err)
	}
	t.Cleanup(func() {
		driver.Registry().Close()
		sim.Wait()
	})

	s, err := scale.NewSyncer(scale.SyncerOptions{
		Driver:       driver,
		Observers:    observers,
		PollInterval: 5 * time.Millisecond,
		Logger:       logger,
	})
	if err != nil {
		t.Fatalf("NewSyncer() error = %v", err)
	}
	return s
}

func TestNewSyncer_RequiresDriver(t *testing.T) {
	if _, err := scale.NewSyncer(scale.SyncerOptions{}); !errors.Is(err, scale.ErrConfig) {
		t.Errorf("NewSyncer() error = %v, want ErrConfig", err)
	}
	if _, err := scale.NewDriver(scale.DriverOptions{}); !errors.Is(err, scale.ErrConfig) {
		t.Errorf("NewDriver() error = %v, want ErrConfig", err)
	}
}

func TestRun_RejectsEmptyInput(t *testing.T) {
	s := newSyncer(t, simulator.New(simulator.Options{}), nil)

	if _, err := s.Run(context.Background(), items(1), scale.RunOptions{}); !errors.Is(err, scale.ErrConfig) {
		t.Errorf("Run(no addresses) error = %v, want ErrConfig", err)
	}
	if _, err := s.Run(context.Background(), nil, scale.RunOptions{Addresses: []string{"a"}}); !errors.Is(err, scale.ErrConfig) {
		t.Errorf("Run(no items) error = %v, want ErrConfig", err)
	}
}

func TestRun_AllScalesComplete(t *testing.T) {
	sim := simulator.New(simulator.Options{})
	obs := &recordingObserver{}
	s := newSyncer(t, sim, nil, obs)

	catalogItems := items(5)
	addrs := []string{"10.0.0.1", "10.0.0.2", "10.0.0.3"}

	res, err := s.Run(context.Background(), catalogItems, scale.RunOptions{
		Addresses: addrs,
		Timeout:   5 * time.Second,
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if res.Total != 3 || res.Completed != 3 || res.Failed != 0 {
		t.Errorf("result = %+v", res)
	}
	for _, addr := range addrs {
		recs := sim.Records(addr)
		if len(recs) != len(catalogItems) {
			t.Fatalf("%s received %d records, want %d", addr, len(recs), len(catalogItems))
		}
		for i, rec := range recs {
			if want := uint32(1001 + i); rec.PLUNo != want {
				t.Errorf("%s record %d PLU = %d, want %d", addr, i, rec.PLUNo, want)
			}
		}
	}

	obs.mu.Lock()
	defer obs.mu.Unlock()
	if len(obs.completed) != 3 {
		t.Errorf("DeviceCompleted calls = %v, want 3", obs.completed)
	}
	if obs.finished != 1 || obs.err != nil || obs.result != res {
		t.Errorf("RunFinished calls = %d, err = %v", obs.finished, obs.err)
	}
}

func TestRun_WipeSendsDeleteFirst(t *testing.T) {
	sim := simulator.New(simulator.Options{})
	s := newSyncer(t, sim, nil)

	res, err := s.Run(context.Background(), items(2), scale.RunOptions{
		Addresses:    []string{"10.0.0.1"},
		ShouldDelete: true,
		Timeout:      5 * time.Second,
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Completed != 1 {
		t.Fatalf("Completed = %d, want 1", res.Completed)
	}

	recs := sim.Records("10.0.0.1")
	if len(recs) != 3 {
		t.Fatalf("received %d records, want 3", len(recs))
	}
	if !recs[0].IsDeleteAll() {
		t.Errorf("first record = %+v, want delete-all", recs[0])
	}
	for _, rec := range recs[1:] {
		if rec.IsDeleteAll() {
			t.Error("delete-all sent more than once")
		}
	}
}

func TestRun_FailedScaleIsExcluded(t *testing.T) {
	sim := simulator.New(simulator.Options{
		FailSendAfter: map[string]int{"10.0.0.2": 1},
	})
	obs := &recordingObserver{}
	s := newSyncer(t, sim, nil, obs)

	res, err := s.Run(context.Background(), items(4), scale.RunOptions{
		Addresses: []string{"10.0.0.1", "10.0.0.2"},
		Timeout:   5 * time.Second,
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if res.Completed != 1 || res.Failed != 1 {
		t.Errorf("Completed = %d, Failed = %d; want 1, 1", res.Completed, res.Failed)
	}
	if res.Devices[1].Status != "error" || res.Devices[1].Error == "" {
		t.Errorf("failed device result = %+v", res.Devices[1])
	}
	deadline := time.Now().Add(time.Second)
	for sim.Connected("10.0.0.2") && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if sim.Connected("10.0.0.2") {
		t.Error("failed scale still connected")
	}

	obs.mu.Lock()
	defer obs.mu.Unlock()
	if len(obs.failed) != 1 || obs.failed[0] != "10.0.0.2" {
		t.Errorf("DeviceFailed calls = %v", obs.failed)
	}
}

func TestRun_AddAndConnectFailures(t *testing.T) {
	sim := simulator.New(simulator.Options{
		FailAdd:     map[string]bool{"10.0.0.1": true},
		FailConnect: map[string]bool{"10.0.0.2": true},
	})
	s := newSyncer(t, sim, nil)

	res, err := s.Run(context.Background(), items(2), scale.RunOptions{
		Addresses: []string{"10.0.0.1", "10.0.0.2", "10.0.0.3"},
		Timeout:   5 * time.Second,
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if res.Total != 3 || res.Completed != 1 || res.Failed != 2 {
		t.Errorf("result = %+v", res)
	}

	byAddr := make(map[string]scale.DeviceResult)
	for _, d := range res.Devices {
		byAddr[d.Address] = d
	}
	if byAddr["10.0.0.1"].Status != "error" {
		t.Errorf("rejected scale = %+v", byAddr["10.0.0.1"])
	}
	if byAddr["10.0.0.3"].Status != "complete" {
		t.Errorf("healthy scale = %+v", byAddr["10.0.0.3"])
	}
}

func TestRun_NoScaleCompleted(t *testing.T) {
	tests := []struct {
		name string
		opts simulator.Options
	}{
		{"all rejected at add", simulator.Options{FailAdd: map[string]bool{"a": true, "b": true}}},
		{"all fail to send", simulator.Options{FailSendAfter: map[string]int{"a": 0, "b": 0}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			obs := &recordingObserver{}
			s := newSyncer(t, simulator.New(tt.opts), nil, obs)

			res, err := s.Run(context.Background(), items(2), scale.RunOptions{
				Addresses: []string{"a", "b"},
				Timeout:   5 * time.Second,
			})
			if !errors.Is(err, scale.ErrNoDeviceCompleted) {
				t.Fatalf("Run() error = %v, want ErrNoDeviceCompleted", err)
			}
			if res == nil || res.Completed != 0 || res.Failed != 2 {
				t.Errorf("result = %+v", res)
			}

			obs.mu.Lock()
			defer obs.mu.Unlock()
			if obs.finished != 1 || !errors.Is(obs.err, scale.ErrNoDeviceCompleted) {
				t.Errorf("RunFinished calls = %d, err = %v", obs.finished, obs.err)
			}
		})
	}
}

func TestRun_DuplicateAcknowledgments(t *testing.T) {
	sim := simulator.New(simulator.Options{DuplicateAcks: true})
	s := newSyncer(t, sim, nil)

	res, err := s.Run(context.Background(), items(6), scale.RunOptions{
		Addresses: []string{"10.0.0.1"},
		Timeout:   5 * time.Second,
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Devices[0].Cursor != 6 {
		t.Errorf("Cursor = %d, want 6", res.Devices[0].Cursor)
	}
	if got := len(sim.Records("10.0.0.1")); got != 6 {
		t.Errorf("records sent = %d, want 6", got)
	}
}

func TestRun_TimeoutReportsIncomplete(t *testing.T) {
	if testing.Short() {
		t.Skip("waits for the full sync timeout")
	}

	sim := simulator.New(simulator.Options{Silent: map[string]bool{"10.0.0.9": true}})
	s := newSyncer(t, sim, nil)

	start := time.Now()
	res, err := s.Run(context.Background(), items(3), scale.RunOptions{
		Addresses: []string{"10.0.0.9"},
		Timeout:   5 * time.Second,
	})
	elapsed := time.Since(start)

	if !errors.Is(err, scale.ErrTimeout) {
		t.Fatalf("Run() error = %v, want ErrTimeout", err)
	}
	var terr *scale.TimeoutError
	if !errors.As(err, &terr) || len(terr.Incomplete) != 1 || terr.Incomplete[0] != "10.0.0.9" {
		t.Errorf("TimeoutError = %+v", terr)
	}
	if elapsed < 5*time.Second || elapsed >= 6*time.Second {
		t.Errorf("Run() took %s, want between 5s and 6s", elapsed)
	}
	if res.Completed != 0 || res.Devices[0].Status != "0%" {
		t.Errorf("result = %+v", res)
	}
	if !sim.Connected("10.0.0.9") {
		t.Error("timed out scale was disconnected")
	}
}

func TestRun_ShortTimeout(t *testing.T) {
	sim := simulator.New(simulator.Options{Silent: map[string]bool{"b": true}})
	s := newSyncer(t, sim, nil)

	res, err := s.Run(context.Background(), items(2), scale.RunOptions{
		Addresses: []string{"a", "b"},
		Timeout:   200 * time.Millisecond,
	})
	if !errors.Is(err, scale.ErrTimeout) {
		t.Fatalf("Run() error = %v, want ErrTimeout", err)
	}
	if res.Completed != 1 {
		t.Errorf("Completed = %d, want 1", res.Completed)
	}
}

// slowAddVendor blocks in AddConnection the way the vendor library does
// while it resolves a scale.
type slowAddVendor struct {
	*simulator.Simulator
	delay time.Duration
}

func (v slowAddVendor) AddConnection(cfg scale.ConnectionConfig, sink scale.Sink) error {
	time.Sleep(v.delay)
	return v.Simulator.AddConnection(cfg, sink)
}

func TestRun_TimeoutIncludesBlockingSetup(t *testing.T) {
	tests := []struct {
		name     string
		addDelay time.Duration
		timeout  time.Duration
		min, max time.Duration
	}{
		{"setup shorter than timeout", 150 * time.Millisecond, 250 * time.Millisecond, 250 * time.Millisecond, 400 * time.Millisecond},
		{"setup longer than timeout", 300 * time.Millisecond, 200 * time.Millisecond, 300 * time.Millisecond, 450 * time.Millisecond},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sim := simulator.New(simulator.Options{Silent: map[string]bool{"a": true}})
			driver, err := scale.NewDriver(scale.DriverOptions{Vendor: slowAddVendor{sim, tt.addDelay}})
			if err != nil {
				t.Fatalf("NewDriver() error = %v", err)
			}
			t.Cleanup(func() {
				driver.Registry().Close()
				sim.Wait()
			})
			s, err := scale.NewSyncer(scale.SyncerOptions{Driver: driver, PollInterval: 5 * time.Millisecond})
			if err != nil {
				t.Fatalf("NewSyncer() error = %v", err)
			}

			start := time.Now()
			_, err = s.Run(context.Background(), items(1), scale.RunOptions{
				Addresses: []string{"a"},
				Timeout:   tt.timeout,
			})
			elapsed := time.Since(start)

			var terr *scale.TimeoutError
			if !errors.As(err, &terr) {
				t.Fatalf("Run() error = %v, want *TimeoutError", err)
			}
			if elapsed < tt.min || elapsed >= tt.max {
				t.Errorf("Run() took %s, want between %s and %s", elapsed, tt.min, tt.max)
			}
			if terr.Elapsed > elapsed {
				t.Errorf("TimeoutError.Elapsed = %s, longer than the run (%s)", terr.Elapsed, elapsed)
			}
		})
	}
}

func TestRun_ContextCancelled(t *testing.T) {
	sim := simulator.New(simulator.Options{Silent: map[string]bool{"a": true}})
	s := newSyncer(t, sim, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	_, err := s.Run(ctx, items(1), scale.RunOptions{Addresses: []string{"a"}})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Run() error = %v, want context.Canceled", err)
	}
}

func TestRun_ProgressLines(t *testing.T) {
	sim := simulator.New(simulator.Options{})
	logger := &lineLogger{}
	s := newSyncer(t, sim, logger)

	_, err := s.Run(context.Background(), items(3), scale.RunOptions{
		Addresses:    []string{"10.0.0.1"},
		Timeout:      5 * time.Second,
		ShowProgress: true,
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !logger.has("10.0.0.1 [complete]") {
		t.Error("no progress line reported the scale complete")
	}
}

func TestRun_ObserverPanicIsContained(t *testing.T) {
	sim := simulator.New(simulator.Options{})
	obs := &recordingObserver{}
	s := newSyncer(t, sim, nil, panickingObserver{}, obs)

	res, err := s.Run(context.Background(), items(1), scale.RunOptions{
		Addresses: []string{"10.0.0.1"},
		Timeout:   5 * time.Second,
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Completed != 1 {
		t.Errorf("Completed = %d, want 1", res.Completed)
	}

	obs.mu.Lock()
	defer obs.mu.Unlock()
	if obs.finished != 1 || obs.progress == 0 {
		t.Errorf("observer after panicking peer: finished = %d, progress = %d", obs.finished, obs.progress)
	}
}

func TestResult_Lines(t *testing.T) {
	res := &scale.Result{Devices: []scale.DeviceResult{
		{Address: "10.0.0.1", Status: "complete"},
		{Address: "10.0.0.2", Status: "42%"},
	}}

	got := res.Lines()
	want := []string{"10.0.0.1 [complete]", "10.0.0.2 [42%]"}
	if len(got) != len(want) {
		t.Fatalf("Lines() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Lines()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}
