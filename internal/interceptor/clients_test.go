package interceptor

import "testing"

func TestBroadcastDropsWhenBufferFull(t *testing.T) {
	hub := NewClients(1)
	slow := hub.Connect()
	fast := hub.Connect()

	if got := hub.Broadcast(Message{Type: MessageUpdateAvailable}); got != 2 {
		t.Fatalf("expected delivery to both clients, got %d", got)
	}
	<-fast.Messages()
	if got := hub.Broadcast(Message{Type: MessageUpdateAvailable}); got != 1 {
		t.Fatalf("full buffer should drop without blocking, delivered %d", got)
	}
	if len(slow.Messages()) != 1 {
		t.Fatalf("slow client should still hold only the first message")
	}
}

func TestDisconnectClosesChannel(t *testing.T) {
	hub := NewClients(0)
	c := hub.Connect()
	hub.Disconnect(c)
	hub.Disconnect(c)

	if _, ok := <-c.Messages(); ok {
		t.Fatalf("messages channel should be closed")
	}
	if hub.Len() != 0 {
		t.Fatalf("expected no clients, got %d", hub.Len())
	}
	if got := hub.Broadcast(Message{Type: "x"}); got != 0 {
		t.Fatalf("disconnected clients must not receive messages")
	}
}

func TestClaimControlsCurrentAndFutureClients(t *testing.T) {
	hub := NewClients(0)
	before := hub.Connect()
	if before.Controller() != "" {
		t.Fatalf("new client should be uncontrolled")
	}
	if n := hub.Claim("cache-v1"); n != 1 {
		t.Fatalf("expected one claimed client, got %d", n)
	}
	after := hub.Connect()
	if before.Controller() != "cache-v1" || after.Controller() != "cache-v1" {
		t.Fatalf("unexpected controllers: %q %q", before.Controller(), after.Controller())
	}
}
