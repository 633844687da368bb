package influxdb

import (
	"sync"
	"time"

	"github.com/nerrad567/scalesync/internal/scale"
)

// metricsWriter is the part of Client used by SyncMetrics.
type metricsWriter interface {
	WriteScaleProgress(snap scale.Snapshot)
	WriteScaleResult(snap scale.Snapshot, elapsed time.Duration)
	WriteSyncRun(runID string, res *scale.Result, err error)
	Flush()
}

// SyncMetrics is a scale.Observer that writes sync progress as time-series
// points. Progress is written at most once per cursor value per scale.
type SyncMetrics struct {
	w     metricsWriter
	runID string

	mu     sync.Mutex
	cursor map[string]int
}

// Ensure SyncMetrics implements scale.Observer.
var _ scale.Observer = (*SyncMetrics)(nil)

// NewSyncMetrics creates an observer writing through c.
func NewSyncMetrics(c *Client, runID string) *SyncMetrics {
	return newSyncMetrics(c, runID)
}

func newSyncMetrics(w metricsWriter, runID string) *SyncMetrics {
	return &SyncMetrics{
		w:      w,
		runID:  runID,
		cursor: make(map[string]int),
	}
}

// DeviceProgress implements scale.Observer.
func (m *SyncMetrics) DeviceProgress(snap scale.Snapshot) {
	m.mu.Lock()
	last, seen := m.cursor[snap.Address]
	if seen && last == snap.Cursor {
		m.mu.Unlock()
		return
	}
	m.cursor[snap.Address] = snap.Cursor
	m.mu.Unlock()

	m.w.WriteScaleProgress(snap)
}

// DeviceCompleted implements scale.Observer.
func (m *SyncMetrics) DeviceCompleted(snap scale.Snapshot, elapsed time.Duration) {
	m.w.WriteScaleResult(snap, elapsed)
}

// DeviceFailed implements scale.Observer.
func (m *SyncMetrics) DeviceFailed(snap scale.Snapshot) {
	m.w.WriteScaleResult(snap, 0)
}

// RunFinished implements scale.Observer. Pending points are flushed so the
// run summary is not lost if the process exits straight after.
func (m *SyncMetrics) RunFinished(res *scale.Result, err error) {
	m.w.WriteSyncRun(m.runID, res, err)
	m.w.Flush()
}
