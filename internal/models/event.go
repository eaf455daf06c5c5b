package models

// PresenceEvent is the transient state-transition message broadcast to
// dashboard subscribers. It is never stored.
type PresenceEvent struct {
	DeviceID  string       `json:"deviceId"`
	Status    DeviceStatus `json:"status"`
	Timestamp int64        `json:"timestamp"` // unix milliseconds
	RoomNo    string       `json:"roomNo,omitempty"`
	Metrics   *Metrics     `json:"metrics,omitempty"`
}
