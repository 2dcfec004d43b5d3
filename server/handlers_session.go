package server

import (
	"context"
	"errors"
	"log"
	"net/http"

	"github.com/jeremygit/gummi-nfc/nfc"
	"github.com/jeremygit/gummi-nfc/nfc/tagsession"
)

// StartSessionRequest is the payload of startSession and POST /session.
type StartSessionRequest struct {
	Mode tagsession.Mode `json:"mode"`
}

// SetPayloadRequest is the payload of setPayload and PUT /payload.
type SetPayloadRequest struct {
	Text string `json:"text"`
}

// StateMessage wraps a snapshot for clients.
func StateMessage(snap tagsession.Snapshot) *WebsocketMessage {
	return &WebsocketMessage{
		Type:    WSMessageTypeState,
		Payload: snap,
	}
}

// errorCode maps a controller error onto a response code and HTTP status.
func errorCode(err error) (string, int) {
	switch {
	case nfc.IsKind(err, nfc.ErrSessionBusy):
		return ErrCodeSessionBusy, http.StatusConflict
	case nfc.IsKind(err, nfc.ErrScanningUnavailable):
		return ErrCodeScanningUnavailable, http.StatusServiceUnavailable
	case errors.Is(err, tagsession.ErrRunnerStopped):
		return ErrCodeUnavailable, http.StatusServiceUnavailable
	default:
		return ErrCodeInternal, http.StatusInternalServerError
	}
}

// SessionHandler exposes the tag session controller to WebSocket clients
// and streams every published snapshot to them.
type SessionHandler struct {
	ctrl   Controller
	logger *log.Logger
}

// NewSessionHandler creates a new session handler.
func NewSessionHandler(ctrl Controller, logger *log.Logger) *SessionHandler {
	return &SessionHandler{ctrl: ctrl, logger: logger}
}

// Register implements ServerHandler interface.
func (h *SessionHandler) Register(server HandlerServer) {
	server.Handle(WSMessageTypeStartSession, h.handleStart)
	server.Handle(WSMessageTypeCancelSession, h.handleCancel)
	server.Handle(WSMessageTypeSetPayload, h.handleSetPayload)
	server.Handle(WSMessageTypeClearBuffer, h.handleClearBuffer)
	server.Handle(WSMessageTypeGetState, h.handleGetState)

	server.StartLifecycle(func(ctx context.Context) {
		updates, unsubscribe := h.ctrl.Subscribe()
		go func() {
			defer unsubscribe()
			for {
				select {
				case <-ctx.Done():
					return
				case snap, ok := <-updates:
					if !ok {
						return
					}
					server.Broadcast(StateMessage(snap))
				}
			}
		}()
	})
}

func (h *SessionHandler) handleStart(ctx context.Context, conn *Conn, req WebsocketRequest) error {
	var start StartSessionRequest
	if err := req.Decode(&start); err != nil {
		SendErrorResponse(conn, req.ID, ErrCodeInvalidPayload, err.Error())
		return err
	}

	if err := h.ctrl.Start(start.Mode); err != nil {
		code, _ := errorCode(err)
		SendErrorResponse(conn, req.ID, code, err.Error())
		return err
	}
	return SendSuccessResponse(conn, req.ID, h.ctrl.Snapshot())
}

func (h *SessionHandler) handleCancel(ctx context.Context, conn *Conn, req WebsocketRequest) error {
	cancelled := h.ctrl.Cancel()
	return SendSuccessResponse(conn, req.ID, map[string]any{"cancelled": cancelled})
}

func (h *SessionHandler) handleSetPayload(ctx context.Context, conn *Conn, req WebsocketRequest) error {
	var payload SetPayloadRequest
	if err := req.Decode(&payload); err != nil {
		SendErrorResponse(conn, req.ID, ErrCodeInvalidPayload, err.Error())
		return err
	}

	if err := h.ctrl.SetPendingWritePayload(payload.Text); err != nil {
		code, _ := errorCode(err)
		SendErrorResponse(conn, req.ID, code, err.Error())
		return err
	}
	return SendSuccessResponse(conn, req.ID, h.ctrl.Snapshot())
}

func (h *SessionHandler) handleClearBuffer(ctx context.Context, conn *Conn, req WebsocketRequest) error {
	if err := h.ctrl.ClearReadBuffer(); err != nil {
		code, _ := errorCode(err)
		SendErrorResponse(conn, req.ID, code, err.Error())
		return err
	}
	return SendSuccessResponse(conn, req.ID, h.ctrl.Snapshot())
}

func (h *SessionHandler) handleGetState(ctx context.Context, conn *Conn, req WebsocketRequest) error {
	return SendSuccessResponse(conn, req.ID, h.ctrl.Snapshot())
}
