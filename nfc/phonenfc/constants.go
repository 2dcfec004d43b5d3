package phonenfc

import "time"

// Device timing constants
const (
	DeviceTimeout     = 30 * time.Second // Device inactivity timeout
	HeartbeatInterval = 10 * time.Second // Expected heartbeat frequency
	CleanupInterval   = 15 * time.Second // Cleanup check interval
)

// Phone to agent message types
const (
	MessageTypeRegisterDevice  = "registerDevice"
	MessageTypeTagsDetected    = "tagsDetected"
	MessageTypeConnectResult   = "connectResult"
	MessageTypeStatusResult    = "statusResult"
	MessageTypeOperationResult = "operationResult"
	MessageTypeHeartbeat       = "heartbeat"
)

// Agent to phone message types
const (
	MessageTypeRegisterDeviceResponse = "registerDeviceResponse"
	MessageTypeBeginScanning          = "beginScanning"
	MessageTypeConnect                = "connect"
	MessageTypeQueryStatus            = "queryStatus"
	MessageTypeReadNDEF               = "readNDEF"
	MessageTypeWriteNDEF              = "writeNDEF"
	MessageTypeSetAlert               = "setAlert"
	MessageTypeInvalidate             = "invalidate"
	MessageTypeError                  = "error"
)

// Tag status values reported in statusResult
const (
	StatusNotSupported = "notSupported"
	StatusReadWrite    = "readWrite"
	StatusReadOnly     = "readOnly"
)
