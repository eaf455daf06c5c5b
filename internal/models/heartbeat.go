package models

// Metrics is a transient telemetry sample attached to a heartbeat. The
// values are opaque display strings for dashboards and are never persisted.
type Metrics struct {
	CPU  string `json:"cpu,omitempty"`
	RAM  string `json:"ram,omitempty"`
	Temp string `json:"temp,omitempty"`
}

// Heartbeat is a device's periodic "I am alive" message.
type Heartbeat struct {
	DeviceID string     `json:"deviceId"`
	RoomNo   string     `json:"roomNo,omitempty"`
	Type     DeviceType `json:"type,omitempty"`
	Metrics  *Metrics   `json:"metrics,omitempty"`

	// Token carries the shared device secret on transports without headers
	// (MQTT). The HTTP ingress fills it from the X-Device-Token header.
	Token string `json:"token,omitempty"`
}
