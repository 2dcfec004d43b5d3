package phonenfc

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jeremygit/gummi-nfc/buildinfo"
	"github.com/jeremygit/gummi-nfc/nfc"
	"github.com/jeremygit/gummi-nfc/nfc/tagsession"
	"github.com/jeremygit/gummi-nfc/server"
)

// Handler accepts phone WebSocket connections and feeds them to a Bridge.
type Handler struct {
	bridge   *Bridge
	upgrader websocket.Upgrader
}

// NewHandler creates a new phone handler.
func NewHandler(bridge *Bridge) *Handler {
	return &Handler{
		bridge: bridge,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins
			},
		},
	}
}

// Register implements server.ServerHandler interface.
// Phone connections are taken over before normal client handling.
func (b *Bridge) Register(s server.HandlerServer) {
	NewHandler(b).Register(s)
}

// Register implements server.ServerHandler interface.
func (h *Handler) Register(s server.HandlerServer) {
	s.HandleWebSocket(IsDeviceConnection, func(w http.ResponseWriter, r *http.Request) bool {
		h.HandleWebSocket(w, r)
		return true
	})
}

// HandleWebSocket handles WebSocket connections from mobile devices.
// No authentication required - plug and play for seamless mobile integration.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.bridge.logger.Printf("WebSocket upgrade error: %v", err)
		return
	}
	conn := server.NewConn(ws)

	h.bridge.logger.Printf("WebSocket connected from %s", r.RemoteAddr)

	var device *Device
	defer func() {
		if device != nil {
			h.bridge.detach(device)
			h.bridge.logger.Printf("Device disconnected: %s", device)
		} else {
			conn.Close()
		}
	}()

	// Wait for registerDevice message
	messageType, message, err := ws.ReadMessage()
	if err != nil {
		h.bridge.logger.Printf("Failed to read registration message: %v", err)
		return
	}

	if messageType != websocket.TextMessage {
		h.bridge.logger.Printf("Expected text message, got type %d", messageType)
		server.SendErrorResponse(conn, "", "INVALID_MESSAGE_TYPE", "Expected text message")
		return
	}

	var req server.WebsocketRequest
	if err := json.Unmarshal(message, &req); err != nil {
		h.bridge.logger.Printf("Failed to parse registration message: %v", err)
		server.SendErrorResponse(conn, "", "PARSE_ERROR", "Invalid message format")
		return
	}

	if req.Type != MessageTypeRegisterDevice {
		h.bridge.logger.Printf("Expected '%s', got '%s'", MessageTypeRegisterDevice, req.Type)
		server.SendErrorResponse(conn, req.ID, "INVALID_MESSAGE_TYPE", fmt.Sprintf("Expected '%s' message", MessageTypeRegisterDevice))
		return
	}

	device, err = h.handleRegisterDevice(conn, req)
	if err != nil {
		h.bridge.logger.Printf("Registration failed: %v", err)
		return
	}

	for {
		messageType, message, err := ws.ReadMessage()
		if err != nil {
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		var req server.WebsocketRequest
		if err := json.Unmarshal(message, &req); err != nil {
			h.bridge.logger.Printf("Failed to parse message: %v", err)
			server.SendErrorResponse(conn, "", "PARSE_ERROR", "Invalid message format")
			continue
		}

		device.UpdateLastSeen(h.bridge.clock.Now())

		var handlerErr error
		switch req.Type {
		case MessageTypeTagsDetected:
			handlerErr = h.handleTagsDetected(device, req)
		case MessageTypeConnectResult:
			handlerErr = h.handleConnectResult(device, req)
		case MessageTypeStatusResult:
			handlerErr = h.handleStatusResult(device, req)
		case MessageTypeOperationResult:
			handlerErr = h.handleOperationResult(device, req)
		case MessageTypeHeartbeat:
			handlerErr = h.handleHeartbeat(device, req)
		default:
			h.bridge.logger.Printf("Unknown message type: %s", req.Type)
			server.SendErrorResponse(conn, req.ID, "UNKNOWN_TYPE", fmt.Sprintf("Unknown message type: %s", req.Type))
			continue
		}

		if handlerErr != nil {
			h.bridge.logger.Printf("Handler error for message type '%s': %v", req.Type, handlerErr)
			server.SendErrorResponse(conn, req.ID, "INVALID_MESSAGE", handlerErr.Error())
		}
	}
}

// handleRegisterDevice validates a registration and attaches the phone.
func (h *Handler) handleRegisterDevice(conn *server.Conn, req server.WebsocketRequest) (*Device, error) {
	var regReq DeviceRegistrationRequest
	if err := req.Decode(&regReq); err != nil {
		server.SendErrorResponse(conn, req.ID, "INVALID_PAYLOAD", "Invalid registration request format")
		return nil, err
	}

	if regReq.DeviceName == "" {
		server.SendErrorResponse(conn, req.ID, "INVALID_REQUEST", "Device name is required")
		return nil, fmt.Errorf("device name is required")
	}
	if regReq.Platform != "ios" && regReq.Platform != "android" {
		server.SendErrorResponse(conn, req.ID, "INVALID_REQUEST", "Platform must be 'ios' or 'android'")
		return nil, fmt.Errorf("invalid platform: %s", regReq.Platform)
	}

	device := NewDevice(uuid.New().String(), regReq, conn, h.bridge.clock.Now())
	if err := h.bridge.attach(device); err != nil {
		code := "REGISTRATION_FAILED"
		if errors.Is(err, ErrDeviceAttached) {
			code = "DEVICE_ALREADY_CONNECTED"
		}
		server.SendErrorResponse(conn, req.ID, code, err.Error())
		return nil, err
	}

	response := server.WebsocketResponse{
		ID:      req.ID,
		Type:    MessageTypeRegisterDeviceResponse,
		Success: true,
		Payload: DeviceRegistrationResponse{
			DeviceID: device.DeviceID(),
			ServerInfo: ServerInfo{
				Name:     buildinfo.DisplayName,
				Version:  buildinfo.Version,
				Protocol: buildinfo.ProtocolVersion,
			},
		},
	}
	if err := conn.WriteJSON(response); err != nil {
		h.bridge.detach(device)
		return nil, fmt.Errorf("failed to send registration response: %w", err)
	}

	h.bridge.logger.Printf("Device registered: %s (%s, %s)", device, regReq.Platform, regReq.AppVersion)
	return device, nil
}

func (h *Handler) handleTagsDetected(device *Device, req server.WebsocketRequest) error {
	var p TagsDetectedPayload
	if err := req.Decode(&p); err != nil {
		return err
	}

	tags := make([]tagsession.TagRef, 0, len(p.Tags))
	for _, data := range p.Tags {
		tag, err := ConvertTagData(data)
		if err != nil {
			// Unreadable tags are skipped; none at all fails the session.
			h.bridge.logger.Printf("Skipping tag: %v", err)
			continue
		}
		tags = append(tags, tag)
	}

	return h.bridge.route(device, p.Session, func(id uuid.UUID) tagsession.Event {
		return tagsession.TagsDetected(id, tags...)
	})
}

func (h *Handler) handleConnectResult(device *Device, req server.WebsocketRequest) error {
	var p ConnectResultPayload
	if err := req.Decode(&p); err != nil {
		return err
	}
	return h.bridge.route(device, p.Session, func(id uuid.UUID) tagsession.Event {
		return tagsession.ConnectResult(id, phoneError(p.Error))
	})
}

func (h *Handler) handleStatusResult(device *Device, req server.WebsocketRequest) error {
	var p StatusResultPayload
	if err := req.Decode(&p); err != nil {
		return err
	}
	return h.bridge.route(device, p.Session, func(id uuid.UUID) tagsession.Event {
		return tagsession.StatusResult(id, ConvertStatus(p))
	})
}

func (h *Handler) handleOperationResult(device *Device, req server.WebsocketRequest) error {
	var p OperationResultPayload
	if err := req.Decode(&p); err != nil {
		return err
	}

	opErr := phoneError(p.Error)
	var messages []nfc.Message
	if opErr == nil {
		for i, data := range p.Messages {
			msg, err := ConvertNDEFMessageData(data)
			if err != nil {
				h.bridge.logger.Printf("Skipping message %d: %v", i, err)
				continue
			}
			messages = append(messages, msg)
		}
	}

	return h.bridge.route(device, p.Session, func(id uuid.UUID) tagsession.Event {
		return tagsession.OperationResult(id, messages, opErr)
	})
}

// handleHeartbeat processes a heartbeat from a mobile device.
func (h *Handler) handleHeartbeat(device *Device, req server.WebsocketRequest) error {
	if len(req.Payload) == 0 {
		return nil
	}
	var heartbeat DeviceHeartbeat
	if err := req.Decode(&heartbeat); err != nil {
		return err
	}
	if heartbeat.DeviceID != "" && heartbeat.DeviceID != device.DeviceID() {
		return fmt.Errorf("device not registered: %s", heartbeat.DeviceID)
	}
	return nil
}

// IsDeviceConnection determines if a request is from a mobile device.
func IsDeviceConnection(r *http.Request) bool {
	if r.Header.Get("X-Device-Mode") == "true" {
		return true
	}
	return r.URL.Query().Get("mode") == "device"
}
