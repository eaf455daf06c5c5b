package models

import "time"

// DeviceType enumerates the kinds of lab equipment that send heartbeats.
type DeviceType string

const (
	DeviceTypePC        DeviceType = "PC"
	DeviceTypeProjector DeviceType = "Projector"
)

// DeviceStatus is the durable online/offline state of a device. It is
// best effort and may lag the liveness store until the next heartbeat,
// expiry notification or sweep.
type DeviceStatus string

const (
	StatusOnline  DeviceStatus = "Online"
	StatusOffline DeviceStatus = "Offline"
)

// Defaults applied when a device record is created by its first heartbeat.
const (
	DefaultBlock      = "Main Block"
	DefaultDepartment = "General"
	DefaultLab        = "General Lab"
	DefaultRoomNo     = "Unknown"
)

// Device is the durable record for a piece of lab equipment, keyed by its
// stable device ID.
type Device struct {
	DeviceID   string       `bson:"deviceId" json:"deviceId"`
	RoomNo     string       `bson:"roomNo" json:"roomNo"`
	Block      string       `bson:"block" json:"block"`
	Department string       `bson:"department" json:"department"`
	Lab        string       `bson:"lab" json:"lab"`
	Type       DeviceType   `bson:"type" json:"type"`
	Status     DeviceStatus `bson:"status" json:"status"`
	LastSeen   time.Time    `bson:"lastSeen" json:"lastSeen"`
}
