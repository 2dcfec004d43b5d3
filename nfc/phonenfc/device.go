package phonenfc

import (
	"fmt"
	"sync"
	"time"

	"github.com/jeremygit/gummi-nfc/server"
)

// jsonConn is the write side of a phone's websocket.
type jsonConn interface {
	WriteJSON(v any) error
	Close() error
}

// Device is a registered phone.
type Device struct {
	deviceID         string // Unique ID for this phone (UUID)
	deviceName       string // Human-readable name (e.g., "iPhone 12 Pro")
	platform         string // "ios" or "android"
	appVersion       string // Mobile app version
	readingAvailable bool
	metadata         map[string]string

	conn     jsonConn
	mu       sync.RWMutex // Protects device state
	isActive bool         // Whether device is connected
	lastSeen time.Time    // Last activity timestamp (for health monitoring)
}

// NewDevice creates a new phone device bound to conn.
func NewDevice(deviceID string, req DeviceRegistrationRequest, conn jsonConn, now time.Time) *Device {
	return &Device{
		deviceID:         deviceID,
		deviceName:       req.DeviceName,
		platform:         req.Platform,
		appVersion:       req.AppVersion,
		readingAvailable: req.ReadingAvailable,
		metadata:         req.Metadata,
		conn:             conn,
		isActive:         true,
		lastSeen:         now,
	}
}

// Send writes one agent-initiated message to the phone.
func (d *Device) Send(msgType string, payload any) error {
	d.mu.RLock()
	active := d.isActive
	d.mu.RUnlock()
	if !active {
		return fmt.Errorf("device %s is not active", d.deviceID)
	}

	return d.conn.WriteJSON(server.WebsocketMessage{
		Type:    msgType,
		Payload: payload,
	})
}

// Close marks the device inactive and closes its connection.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.isActive {
		return nil
	}
	d.isActive = false
	return d.conn.Close()
}

// String returns a human-readable device name.
func (d *Device) String() string {
	return fmt.Sprintf("%s [phone:%s]", d.deviceName, d.deviceID)
}

// UpdateLastSeen updates the device's last activity timestamp.
func (d *Device) UpdateLastSeen(now time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lastSeen = now
}

// IsActive returns whether the device is currently active.
func (d *Device) IsActive() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.isActive
}

// LastSeen returns the last activity timestamp.
func (d *Device) LastSeen() time.Time {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.lastSeen
}

// DeviceID returns the device's unique identifier.
func (d *Device) DeviceID() string {
	return d.deviceID
}

// Platform returns the device platform ("ios" or "android").
func (d *Device) Platform() string {
	return d.platform
}

// AppVersion returns the mobile app version.
func (d *Device) AppVersion() string {
	return d.appVersion
}

// ReadingAvailable reports whether the phone said it can scan tags.
func (d *Device) ReadingAvailable() bool {
	return d.readingAvailable
}

// Metadata returns additional device metadata.
func (d *Device) Metadata() map[string]string {
	metadataCopy := make(map[string]string, len(d.metadata))
	for k, v := range d.metadata {
		metadataCopy[k] = v
	}
	return metadataCopy
}
