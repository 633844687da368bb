package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/scalesync/internal/scale"
)

// Measurement names written by this package.
const (
	MeasurementScaleProgress = "scale_progress"
	MeasurementScaleResult   = "scale_result"
	MeasurementSyncRun       = "sync_run"
)

// WriteScaleProgress records a scale's download position.
//
// Tags: address, state. Fields: cursor, total, percent, dropped_events.
func (c *Client) WriteScaleProgress(snap scale.Snapshot) {
	c.WritePoint(MeasurementScaleProgress,
		map[string]string{
			"address": snap.Address,
			"state":   string(snap.State),
		},
		map[string]interface{}{
			"cursor":         snap.Cursor,
			"total":          snap.Total,
			"percent":        snap.Percent(),
			"dropped_events": snap.Dropped,
		},
	)
}

// WriteScaleResult records a scale reaching a terminal state. elapsed is
// zero for failures.
func (c *Client) WriteScaleResult(snap scale.Snapshot, elapsed time.Duration) {
	fields := map[string]interface{}{
		"downloaded": snap.Cursor,
		"total":      snap.Total,
		"elapsed_ms": elapsed.Milliseconds(),
	}
	if snap.Error != "" {
		fields["error"] = snap.Error
	}
	c.WritePoint(MeasurementScaleResult,
		map[string]string{
			"address": snap.Address,
			"status":  snap.Status(),
		},
		fields,
	)
}

// WriteSyncRun records the outcome of a whole run.
//
// Parameters:
//   - runID: history run identifier, stored as a field
//   - res: run result; nil writes zero counts
//   - err: run error; the status tag is "ok" when nil
func (c *Client) WriteSyncRun(runID string, res *scale.Result, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	fields := map[string]interface{}{
		"run_id":     runID,
		"total":      0,
		"completed":  0,
		"failed":     0,
		"elapsed_ms": int64(0),
	}
	if res != nil {
		fields["total"] = res.Total
		fields["completed"] = res.Completed
		fields["failed"] = res.Failed
		fields["elapsed_ms"] = res.Elapsed.Milliseconds()
	}
	c.WritePoint(MeasurementSyncRun, map[string]string{"status": status}, fields)
}

// WritePoint writes an arbitrary point stamped with the current time.
// It is a no-op when the client is not connected.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	c.WritePointWithTime(measurement, tags, fields, time.Now())
}

// WritePointWithTime is WritePoint with an explicit timestamp.
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]interface{}, ts time.Time) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(write.NewPoint(measurement, tags, fields, ts))
}
