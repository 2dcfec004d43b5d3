package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"reflect"
	"sync"
	"testing"
)

// mockHandlerFunc is a mock implementation of HandlerFunc for testing
func mockHandlerFunc(ctx context.Context, conn *Conn, req WebsocketRequest) error {
	return nil
}

// errorHandlerFunc is a mock that returns an error
func errorHandlerFunc(ctx context.Context, conn *Conn, req WebsocketRequest) error {
	return errors.New("test error")
}

func TestNewHandlerRegistry(t *testing.T) {
	registry := NewHandlerRegistry()
	if registry == nil {
		t.Fatal("NewHandlerRegistry returned nil")
	}
	if registry.handlers == nil {
		t.Fatal("handlers map not initialized")
	}
}

func TestHandlerRegistry_Handle(t *testing.T) {
	registry := NewHandlerRegistry()

	t.Run("register valid handler", func(t *testing.T) {
		if err := registry.Handle("test", mockHandlerFunc); err != nil {
			t.Fatalf("failed to register handler: %v", err)
		}
	})

	t.Run("register nil handler", func(t *testing.T) {
		if err := registry.Handle("nil", nil); err == nil {
			t.Fatal("expected error when registering nil handler")
		}
	})

	t.Run("register handler with empty message type", func(t *testing.T) {
		if err := registry.Handle("", mockHandlerFunc); err == nil {
			t.Fatal("expected error when registering handler with empty message type")
		}
	})

	t.Run("register duplicate handler", func(t *testing.T) {
		if err := registry.Handle("duplicate", mockHandlerFunc); err != nil {
			t.Fatalf("failed to register first handler: %v", err)
		}
		if err := registry.Handle("duplicate", mockHandlerFunc); err == nil {
			t.Fatal("expected error when registering duplicate handler")
		}
	})
}

func TestHandlerRegistry_Get(t *testing.T) {
	registry := NewHandlerRegistry()
	registry.Handle("test", errorHandlerFunc)

	t.Run("get existing handler", func(t *testing.T) {
		retrieved, ok := registry.Get("test")
		if !ok {
			t.Fatal("handler not found")
		}
		if err := retrieved(context.Background(), nil, WebsocketRequest{Type: "test"}); err == nil {
			t.Fatal("expected the registered handler to be returned")
		}
	})

	t.Run("get missing handler", func(t *testing.T) {
		if _, ok := registry.Get("missing"); ok {
			t.Fatal("expected missing handler lookup to fail")
		}
	})
}

func TestHandlerRegistry_MessageTypes(t *testing.T) {
	registry := NewHandlerRegistry()
	for _, typ := range []string{"setPayload", "cancelSession", "startSession"} {
		registry.Handle(typ, mockHandlerFunc)
	}

	want := []string{"cancelSession", "setPayload", "startSession"}
	if got := registry.MessageTypes(); !reflect.DeepEqual(got, want) {
		t.Errorf("MessageTypes() = %v, want %v", got, want)
	}
}

func TestHandlerRegistry_ConcurrentAccess(t *testing.T) {
	registry := NewHandlerRegistry()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			registry.Handle(fmt.Sprintf("type-%d", i), mockHandlerFunc)
		}(i)
		go func(i int) {
			defer wg.Done()
			registry.Get(fmt.Sprintf("type-%d", i))
			registry.MessageTypes()
		}(i)
	}
	wg.Wait()

	if got := len(registry.MessageTypes()); got != 20 {
		t.Errorf("expected 20 handlers, got %d", got)
	}
}

func TestHandlerRegistry_StartLifecycleHandlers(t *testing.T) {
	registry := NewHandlerRegistry()

	var calls []int
	registry.RegisterLifecycle(func(ctx context.Context) { calls = append(calls, 1) })
	registry.RegisterLifecycle(func(ctx context.Context) { calls = append(calls, 2) })

	registry.StartLifecycleHandlers(context.Background())

	if !reflect.DeepEqual(calls, []int{1, 2}) {
		t.Errorf("lifecycle handlers ran as %v, want [1 2]", calls)
	}
}

func TestHandlerRegistry_TryCustomWebSocketHandler(t *testing.T) {
	registry := NewHandlerRegistry()

	var handled string
	registry.HandleWebSocket(
		func(r *http.Request) bool { return r.URL.Query().Get("mode") == "device" },
		func(w http.ResponseWriter, r *http.Request) bool {
			handled = "device"
			return true
		},
	)

	tests := []struct {
		name    string
		url     string
		want    bool
		handled string
	}{
		{"matching request", "/ws?mode=device", true, "device"},
		{"non-matching request", "/ws", false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handled = ""
			req := httptest.NewRequest(http.MethodGet, tt.url, nil)
			got := registry.TryCustomWebSocketHandler(httptest.NewRecorder(), req)
			if got != tt.want || handled != tt.handled {
				t.Errorf("TryCustomWebSocketHandler() = %v (handled %q), want %v (%q)", got, handled, tt.want, tt.handled)
			}
		})
	}
}

func TestWebsocketRequest_Decode(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		wantErr bool
		want    string
	}{
		{"valid payload", `{"text":"hello"}`, false, "hello"},
		{"missing payload", ``, true, ""},
		{"malformed payload", `{"text":`, true, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := WebsocketRequest{Type: WSMessageTypeSetPayload, Payload: []byte(tt.payload)}
			var got SetPayloadRequest
			err := req.Decode(&got)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Decode() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got.Text != tt.want {
				t.Errorf("Decode() text = %q, want %q", got.Text, tt.want)
			}
		})
	}
}
