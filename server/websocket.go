package server

import (
	"encoding/json"
	"fmt"
	"log"
)

// WebsocketMessage is a server-initiated message.
type WebsocketMessage struct {
	ID      string `json:"id,omitempty"`
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// WebsocketRequest is an incoming message. Payload is decoded by the handler
// registered for Type.
type WebsocketRequest struct {
	ID      string          `json:"id,omitempty"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Decode unmarshals the request payload into v.
func (r WebsocketRequest) Decode(v any) error {
	if len(r.Payload) == 0 {
		return fmt.Errorf("%s: missing payload", r.Type)
	}
	if err := json.Unmarshal(r.Payload, v); err != nil {
		return fmt.Errorf("%s: invalid payload: %w", r.Type, err)
	}
	return nil
}

// WebsocketResponse answers a request; ID echoes the request ID.
type WebsocketResponse struct {
	ID      string `json:"id,omitempty"`
	Type    string `json:"type"`
	Success bool   `json:"success"`
	Payload any    `json:"payload,omitempty"`
	Error   string `json:"error,omitempty"`
}

// JSONWriter is the write side of a websocket connection.
type JSONWriter interface {
	WriteJSON(v any) error
}

// SendErrorResponse sends a structured error response to a websocket client.
func SendErrorResponse(conn JSONWriter, requestID string, errorCode string, message string) error {
	response := WebsocketResponse{
		ID:      requestID,
		Type:    WSMessageTypeError,
		Success: false,
		Error:   message,
		Payload: map[string]any{
			"code": errorCode,
		},
	}
	if err := conn.WriteJSON(response); err != nil {
		log.Printf("[server] Failed to send error response: %v", err)
		return err
	}
	return nil
}

// SendSuccessResponse answers request requestID with payload.
func SendSuccessResponse(conn JSONWriter, requestID string, payload any) error {
	return conn.WriteJSON(WebsocketResponse{
		ID:      requestID,
		Type:    WSMessageTypeResponse,
		Success: true,
		Payload: payload,
	})
}
