package server

import "github.com/jeremygit/gummi-nfc/buildinfo"

// mDNS service discovery constants
var (
	MDNSServiceType = "_gummi-nfc._tcp"
	MDNSServiceName = buildinfo.DisplayName
	MDNSDomain      = "local."
)

// WebSocket message types for client-server communication
const (
	WSMessageTypeState         = "state"
	WSMessageTypeStartSession  = "startSession"
	WSMessageTypeCancelSession = "cancelSession"
	WSMessageTypeSetPayload    = "setPayload"
	WSMessageTypeClearBuffer   = "clearBuffer"
	WSMessageTypeGetState      = "getState"
	WSMessageTypeResponse      = "response"
	WSMessageTypeError         = "error"
)

// CORS configuration
const (
	CORSAllowOrigin  = "*"
	CORSAllowMethods = "GET, POST, PUT, OPTIONS"
	CORSAllowHeaders = "Content-Type, Authorization"
)

// API routes
const (
	APIPrefix          = "/api/v1"
	RouteHealth        = APIPrefix + "/health"
	RouteHandshake     = APIPrefix + "/handshake"
	RouteState         = APIPrefix + "/state"
	RoutePayload       = APIPrefix + "/payload"
	RouteBufferClear   = APIPrefix + "/buffer/clear"
	RouteSession       = APIPrefix + "/session"
	RouteSessionCancel = APIPrefix + "/session/cancel"
	RouteWebSocket     = "/ws"
)

// API token transport
const (
	AuthorizationScheme = "Bearer "
	TokenQueryParam     = "token"
)

// Error codes sent in error responses
const (
	ErrCodeParse               = "PARSE_ERROR"
	ErrCodeUnknownType         = "UNKNOWN_TYPE"
	ErrCodeInvalidPayload      = "INVALID_PAYLOAD"
	ErrCodeUnauthorized        = "UNAUTHORIZED"
	ErrCodeSessionBusy         = "SESSION_BUSY"
	ErrCodeScanningUnavailable = "SCANNING_UNAVAILABLE"
	ErrCodeUnavailable         = "UNAVAILABLE"
	ErrCodeInternal            = "INTERNAL_ERROR"
)
