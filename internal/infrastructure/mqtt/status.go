package mqtt

import (
	"encoding/json"
	"time"
)

// SystemStatusTopic carries retained online/offline status for every
// Gray Logic process. The broker publishes the will here on a crash.
const SystemStatusTopic = "graylogic/system/status"

// Status values and reasons published on SystemStatusTopic.
const (
	statusOnline  = "online"
	statusOffline = "offline"

	reasonUnexpected = "unexpected_disconnect"
	reasonShutdown   = "graceful_shutdown"
)

type statusPayload struct {
	Status    string `json:"status"`
	ClientID  string `json:"client_id"`
	Reason    string `json:"reason,omitempty"`
	Timestamp string `json:"timestamp"`
}

// statusMessage encodes a status payload stamped with now.
func statusMessage(clientID, status, reason string, now time.Time) []byte {
	b, err := json.Marshal(statusPayload{
		Status:    status,
		ClientID:  clientID,
		Reason:    reason,
		Timestamp: now.UTC().Format(time.RFC3339),
	})
	if err != nil {
		// Only strings are marshalled.
		return nil
	}
	return b
}
