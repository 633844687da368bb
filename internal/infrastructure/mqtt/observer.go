package mqtt

import (
	"sync"
	"time"

	"github.com/nerrad567/scalesync/internal/scale"
)

// publisher is the part of Client used by SyncPublisher.
type publisher interface {
	PublishJSON(topic string, v any, retained bool) error
}

// ScaleState is the retained payload on Topics.ScaleState.
type ScaleState struct {
	Address   string `json:"address"`
	State     string `json:"state"`
	Status    string `json:"status"`
	Cursor    int    `json:"cursor"`
	Total     int    `json:"total"`
	Percent   int    `json:"percent"`
	Error     string `json:"error,omitempty"`
	ElapsedMs int64  `json:"elapsed_ms,omitempty"`
	Timestamp string `json:"timestamp"`
}

// SyncResult is the retained payload on Topics.SyncResult.
type SyncResult struct {
	RunID     string               `json:"run_id,omitempty"`
	Success   bool                 `json:"success"`
	Error     string               `json:"error,omitempty"`
	Total     int                  `json:"total"`
	Completed int                  `json:"completed"`
	Failed    int                  `json:"failed"`
	ElapsedMs int64                `json:"elapsed_ms"`
	Devices   []scale.DeviceResult `json:"devices,omitempty"`
	Timestamp string               `json:"timestamp"`
}

// SyncPublisher is a scale.Observer that mirrors sync progress to MQTT.
// A scale's state is published only when its status line changes, so a
// stalled scale does not republish on every poll. Publish errors are
// logged and dropped.
type SyncPublisher struct {
	pub    publisher
	runID  string
	logger Logger

	mu   sync.Mutex
	last map[string]string
}

// Ensure SyncPublisher implements scale.Observer.
var _ scale.Observer = (*SyncPublisher)(nil)

// NewSyncPublisher creates an observer publishing through c. runID is
// included in the result payload; logger may be nil.
func NewSyncPublisher(c *Client, runID string, logger Logger) *SyncPublisher {
	return newSyncPublisher(c, runID, logger)
}

func newSyncPublisher(pub publisher, runID string, logger Logger) *SyncPublisher {
	return &SyncPublisher{
		pub:    pub,
		runID:  runID,
		logger: logger,
		last:   make(map[string]string),
	}
}

// DeviceProgress implements scale.Observer.
func (p *SyncPublisher) DeviceProgress(snap scale.Snapshot) {
	if !p.changed(snap) {
		return
	}
	p.publishState(snap, 0)
}

// DeviceCompleted implements scale.Observer.
func (p *SyncPublisher) DeviceCompleted(snap scale.Snapshot, elapsed time.Duration) {
	p.changed(snap)
	p.publishState(snap, elapsed)
}

// DeviceFailed implements scale.Observer.
func (p *SyncPublisher) DeviceFailed(snap scale.Snapshot) {
	p.changed(snap)
	p.publishState(snap, 0)
}

// RunFinished implements scale.Observer.
func (p *SyncPublisher) RunFinished(res *scale.Result, err error) {
	payload := SyncResult{
		RunID:     p.runID,
		Success:   err == nil,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	if err != nil {
		payload.Error = err.Error()
	}
	if res != nil {
		payload.Total = res.Total
		payload.Completed = res.Completed
		payload.Failed = res.Failed
		payload.ElapsedMs = res.Elapsed.Milliseconds()
		payload.Devices = res.Devices
	}
	p.publish(Topics{}.SyncResult(), payload)
}

// changed records the snapshot's status line and reports whether it
// differs from the last one seen for that scale.
func (p *SyncPublisher) changed(snap scale.Snapshot) bool {
	line := snap.Line()
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.last[snap.Address] == line {
		return false
	}
	p.last[snap.Address] = line
	return true
}

func (p *SyncPublisher) publishState(snap scale.Snapshot, elapsed time.Duration) {
	p.publish(Topics{}.ScaleState(snap.Address), ScaleState{
		Address:   snap.Address,
		State:     string(snap.State),
		Status:    snap.Status(),
		Cursor:    snap.Cursor,
		Total:     snap.Total,
		Percent:   snap.Percent(),
		Error:     snap.Error,
		ElapsedMs: elapsed.Milliseconds(),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (p *SyncPublisher) publish(topic string, v any) {
	if err := p.pub.PublishJSON(topic, v, true); err != nil && p.logger != nil {
		p.logger.Warn("MQTT publish failed", "topic", topic, "error", err)
	}
}
