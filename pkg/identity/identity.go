package identity

import (
	"errors"
	"os"

	"github.com/viyulabs/presence-server/pkg/file"
)

// Identity holds a device's stable identifier and the placement attributes
// it reports with every heartbeat.
type Identity struct {
	DeviceID string `json:"device_id"`
	RoomNo   string `json:"room_no,omitempty"`
	Type     string `json:"type,omitempty"`
}

// DeviceInfoInterface defines methods for managing device identity.
type DeviceInfoInterface interface {
	LoadDeviceInfo() error
	SaveIdentity(id Identity) error
	GetDeviceID() string
	GetIdentity() *Identity
}

// DeviceInfo manages the device identity and its associated file operations.
type DeviceInfo struct {
	DeviceInfoFile string
	Identity       Identity
	fileOps        file.FileOperations
}

// NewDeviceInfo initializes a new DeviceInfo instance.
func NewDeviceInfo(filePath string, fileOps file.FileOperations) DeviceInfoInterface {
	return &DeviceInfo{
		DeviceInfoFile: filePath,
		fileOps:        fileOps,
		Identity:       Identity{},
	}
}

// LoadDeviceInfo reads the device information from the file and populates
// the Identity field. The device ID is required: an agent without one would
// report presence for an empty identifier.
func (d *DeviceInfo) LoadDeviceInfo() error {
	err := d.fileOps.ReadJsonFile(d.DeviceInfoFile, &d.Identity)
	if err != nil {
		if os.IsNotExist(err) {
			return errors.New("device identity file does not exist")
		}
		return err
	}

	if d.Identity.DeviceID == "" {
		return errors.New("device identity file has no device_id")
	}
	return nil
}

// GetIdentity returns the current device Identity.
func (d *DeviceInfo) GetIdentity() *Identity {
	return &d.Identity
}

// GetDeviceID returns the current device ID.
func (d *DeviceInfo) GetDeviceID() string {
	return d.Identity.DeviceID
}

// SaveIdentity replaces the identity and writes it back to the file.
func (d *DeviceInfo) SaveIdentity(id Identity) error {
	d.Identity = id
	return d.fileOps.WriteJsonFile(d.DeviceInfoFile, d.Identity)
}
