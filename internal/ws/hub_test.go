package ws

import (
	"encoding/json"
	"testing"
	"time"
)

// mockClient creates a client for testing without a real WebSocket connection
func mockClient(hub *Hub) *Client {
	return &Client{
		hub:  hub,
		send: make(chan []byte, 256),
	}
}

func TestHubRegistration(t *testing.T) {
	hub := NewHub()
	go hub.Run()

	client := mockClient(hub)

	// Register client
	hub.register <- client

	// Give hub time to process
	time.Sleep(10 * time.Millisecond)

	hub.mu.RLock()
	defer hub.mu.RUnlock()

	if !hub.clients[client] {
		t.Fatal("client not registered")
	}
}

func TestHubUnregistration(t *testing.T) {
	hub := NewHub()
	go hub.Run()

	client := mockClient(hub)

	// Register client
	hub.register <- client
	time.Sleep(10 * time.Millisecond)

	// Unregister client
	hub.unregister <- client
	time.Sleep(10 * time.Millisecond)

	hub.mu.RLock()
	defer hub.mu.RUnlock()

	if hub.clients[client] {
		t.Fatal("client still registered after unregister")
	}
}

func TestBroadcastReachesAllClients(t *testing.T) {
	hub := NewHub()
	go hub.Run()

	client1 := mockClient(hub)
	client2 := mockClient(hub)
	client3 := mockClient(hub)

	hub.register <- client1
	hub.register <- client2
	hub.register <- client3
	time.Sleep(10 * time.Millisecond)

	testPayload := json.RawMessage(`{"orderNumber":"TR123ABCDE"}`)
	hub.Broadcast(Event{
		Type:    "order.created",
		Payload: testPayload,
	})

	// All three clients should receive the message
	clients := []*Client{client1, client2, client3}
	for i, client := range clients {
		select {
		case msg := <-client.send:
			var received Event
			if err := json.Unmarshal(msg, &received); err != nil {
				t.Fatalf("client%d: failed to unmarshal: %v", i+1, err)
			}
			if received.Type != "order.created" {
				t.Errorf("client%d: expected type 'order.created', got '%s'", i+1, received.Type)
			}
			if string(received.Payload) != string(testPayload) {
				t.Errorf("client%d: expected payload '%s', got '%s'", i+1, testPayload, received.Payload)
			}
		case <-time.After(100 * time.Millisecond):
			t.Fatalf("client%d did not receive message", i+1)
		}
	}
}

func TestBroadcastJSON(t *testing.T) {
	hub := NewHub()
	go hub.Run()

	client := mockClient(hub)
	hub.register <- client
	time.Sleep(10 * time.Millisecond)

	hub.BroadcastJSON("invoice.status_changed", map[string]string{"status": "paid"})

	select {
	case msg := <-client.send:
		var received Event
		if err := json.Unmarshal(msg, &received); err != nil {
			t.Fatalf("failed to unmarshal: %v", err)
		}
		if received.Type != "invoice.status_changed" {
			t.Errorf("expected type 'invoice.status_changed', got '%s'", received.Type)
		}
		var payload map[string]string
		if err := json.Unmarshal(received.Payload, &payload); err != nil {
			t.Fatalf("failed to unmarshal payload: %v", err)
		}
		if payload["status"] != "paid" {
			t.Errorf("payload status = %q, want paid", payload["status"])
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("client did not receive message")
	}
}

func TestBroadcastWithNoClients(t *testing.T) {
	hub := NewHub()
	go hub.Run()

	// Broadcasting into an empty hub should not block or panic
	hub.Broadcast(Event{
		Type:    "order.created",
		Payload: json.RawMessage(`{"test":"data"}`),
	})
	time.Sleep(10 * time.Millisecond)
}

func TestEventSerialization(t *testing.T) {
	testCases := []struct {
		name  string
		event Event
	}{
		{
			name: "order created event",
			event: Event{
				Type:    "order.created",
				Payload: json.RawMessage(`{"orderNumber":"TR123ABCDE","total":"42.50"}`),
			},
		},
		{
			name: "order status changed event",
			event: Event{
				Type:    "order.status_changed",
				Payload: json.RawMessage(`{"id":"abc","status":"delivered"}`),
			},
		},
		{
			name: "invoice status changed event",
			event: Event{
				Type:    "invoice.status_changed",
				Payload: json.RawMessage(`{"invoiceNumber":"INV-1-2","status":"paid"}`),
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			data, err := json.Marshal(tc.event)
			if err != nil {
				t.Fatalf("Marshal error: %v", err)
			}

			var decoded Event
			if err := json.Unmarshal(data, &decoded); err != nil {
				t.Fatalf("Unmarshal error: %v", err)
			}

			if decoded.Type != tc.event.Type {
				t.Errorf("Type mismatch: got %s, want %s", decoded.Type, tc.event.Type)
			}
			if string(decoded.Payload) != string(tc.event.Payload) {
				t.Errorf("Payload mismatch: got %s, want %s", decoded.Payload, tc.event.Payload)
			}
		})
	}
}
