// Package mqtt publishes scalesync status to an MQTT broker.
//
// The client is publish-only. On connect it announces itself on
// scalesync/system/status and registers a retained LWT there, so a crashed
// sync shows as offline. During a run, SyncPublisher mirrors progress:
//
//	scalesync/scale/<address>/state   retained, one message per status change
//	scalesync/sync/result             retained, summary of the last run
//	scalesync/system/status           online / offline
//
// Usage:
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	observers = append(observers, mqtt.NewSyncPublisher(client, runID, logger))
package mqtt
