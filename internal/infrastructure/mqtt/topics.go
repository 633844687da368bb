package mqtt

import (
	"fmt"
	"strings"
)

// TopicPrefix is the root of every scalesync topic.
const TopicPrefix = "scalesync"

// Topics builds scalesync topic names.
//
//	mqtt.Topics{}.ScaleState("10.0.0.5") // scalesync/scale/10.0.0.5/state
type Topics struct{}

// ScaleState is the retained per-scale progress topic.
func (Topics) ScaleState(address string) string {
	return fmt.Sprintf("%s/scale/%s/state", TopicPrefix, topicSegment(address))
}

// SyncResult carries the summary of the last finished run (retained).
func (Topics) SyncResult() string {
	return TopicPrefix + "/sync/result"
}

// SystemStatus carries online/offline status and the LWT.
func (Topics) SystemStatus() string {
	return TopicPrefix + "/system/status"
}

// AllScaleStates matches every per-scale state topic.
func (Topics) AllScaleStates() string {
	return TopicPrefix + "/scale/+/state"
}

// topicSegment makes an address safe as one topic level: the MQTT
// wildcards and the level separator are replaced.
func topicSegment(s string) string {
	return strings.NewReplacer("/", "_", "+", "_", "#", "_").Replace(s)
}
