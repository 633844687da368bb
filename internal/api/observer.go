package api

import (
	"time"

	"github.com/nerrad567/scalesync/internal/scale"
)

// Progress channels broadcast by the hub.
const (
	ChannelScaleProgress  = "scale.progress"
	ChannelScaleCompleted = "scale.completed"
	ChannelScaleFailed    = "scale.failed"
	ChannelSyncFinished   = "sync.finished"
)

// Ensure Hub implements scale.Observer.
var _ scale.Observer = (*Hub)(nil)

// ScaleEvent is the payload of the scale.* channels.
type ScaleEvent struct {
	scale.Snapshot
	Status    string `json:"status"`
	Percent   int    `json:"percent"`
	ElapsedMs int64  `json:"elapsed_ms,omitempty"`
}

// SyncEvent is the payload of sync.finished.
type SyncEvent struct {
	Result *scale.Result `json:"result,omitempty"`
	Error  string        `json:"error,omitempty"`
}

func scaleEvent(snap scale.Snapshot, elapsed time.Duration) ScaleEvent {
	return ScaleEvent{
		Snapshot:  snap,
		Status:    snap.Status(),
		Percent:   snap.Percent(),
		ElapsedMs: elapsed.Milliseconds(),
	}
}

// DeviceProgress implements scale.Observer.
func (h *Hub) DeviceProgress(snap scale.Snapshot) {
	h.Broadcast(ChannelScaleProgress, scaleEvent(snap, 0))
}

// DeviceCompleted implements scale.Observer.
func (h *Hub) DeviceCompleted(snap scale.Snapshot, elapsed time.Duration) {
	h.Broadcast(ChannelScaleCompleted, scaleEvent(snap, elapsed))
}

// DeviceFailed implements scale.Observer.
func (h *Hub) DeviceFailed(snap scale.Snapshot) {
	h.Broadcast(ChannelScaleFailed, scaleEvent(snap, 0))
}

// RunFinished implements scale.Observer.
func (h *Hub) RunFinished(res *scale.Result, err error) {
	ev := SyncEvent{Result: res}
	if err != nil {
		ev.Error = err.Error()
	}
	h.Broadcast(ChannelSyncFinished, ev)
}
