package history

import (
	"context"
	"time"

	"github.com/nerrad567/scalesync/internal/scale"
)

// writeTimeout bounds each observer write; observer callbacks carry no
// context of their own.
const writeTimeout = 5 * time.Second

// Logger is the logging surface used by Recorder.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Recorder is a scale.Observer that writes one run's outcome to a
// Repository. Write failures are logged and never interrupt the sync.
type Recorder struct {
	repo   Repository
	runID  string
	logger Logger
}

// Ensure Recorder implements scale.Observer.
var _ scale.Observer = (*Recorder)(nil)

// NewRecorder creates a Recorder for runID. logger may be nil.
func NewRecorder(repo Repository, runID string, logger Logger) *Recorder {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Recorder{repo: repo, runID: runID, logger: logger}
}

// RunID returns the run being recorded.
func (r *Recorder) RunID() string { return r.runID }

// DeviceProgress is not persisted; only terminal device states are.
func (r *Recorder) DeviceProgress(scale.Snapshot) {}

// DeviceCompleted implements scale.Observer.
func (r *Recorder) DeviceCompleted(snap scale.Snapshot, _ time.Duration) {
	r.recordDevice(snap)
}

// DeviceFailed implements scale.Observer.
func (r *Recorder) DeviceFailed(snap scale.Snapshot) {
	r.recordDevice(snap)
}

// RunFinished implements scale.Observer.
func (r *Recorder) RunFinished(res *scale.Result, err error) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	if ferr := r.repo.FinishRun(ctx, r.runID, res, err); ferr != nil {
		r.logger.Error("recording sync run failed", "run_id", r.runID, "error", ferr)
		return
	}
	r.logger.Debug("sync run recorded", "run_id", r.runID, "status", StatusFor(err))
}

func (r *Recorder) recordDevice(snap scale.Snapshot) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	res := scale.DeviceResult{
		Address: snap.Address,
		Status:  snap.Status(),
		Cursor:  snap.Cursor,
		Total:   snap.Total,
		Error:   snap.Error,
	}
	if err := r.repo.RecordDeviceResult(ctx, r.runID, res); err != nil {
		r.logger.Error("recording device result failed", "run_id", r.runID, "address", snap.Address, "error", err)
	}
}
