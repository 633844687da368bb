// Package influxdb writes sync metrics to InfluxDB v2.
//
// It wraps influxdb-client-go with connection management and a
// non-blocking batched write API. SyncMetrics plugs into the scale
// orchestrator as an observer and records three measurements:
//
//	scale_progress   address,state      cursor,total,percent,dropped_events
//	scale_result     address,status     downloaded,total,elapsed_ms[,error]
//	sync_run         status             run_id,total,completed,failed,elapsed_ms
//
// Usage:
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//	client.SetOnError(func(err error) { log.Warn("influx write", "error", err) })
//
//	observers = append(observers, influxdb.NewSyncMetrics(client, runID))
//
// Writes never block the sync. Async write failures reach the SetOnError
// callback wrapped in ErrWriteFailed.
package influxdb
