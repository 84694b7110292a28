package events

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"taskrails/internal/domain"
)

func TestHubPublishSubscribe(t *testing.T) {
	hub := NewHub(nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, _ := hub.Subscribe(ctx, 4)
	b, cancelB := hub.Subscribe(ctx, 4)
	if hub.Subscribers() != 2 {
		t.Fatalf("expected 2 subscribers, got %d", hub.Subscribers())
	}

	hub.Publish(domain.Event{Kind: domain.EventSpecUpdated, Payload: "x"})
	for _, ch := range []<-chan domain.Event{a, b} {
		select {
		case ev := <-ch:
			if ev.Kind != domain.EventSpecUpdated || ev.Timestamp.IsZero() {
				t.Fatalf("unexpected event %+v", ev)
			}
		case <-time.After(time.Second):
			t.Fatal("event not delivered")
		}
	}

	cancelB()
	cancelB()
	if _, ok := <-b; ok {
		t.Fatal("channel should be closed after cancel")
	}
	if hub.Subscribers() != 1 {
		t.Fatalf("expected 1 subscriber, got %d", hub.Subscribers())
	}

	cancel()
	select {
	case _, ok := <-a:
		if ok {
			t.Fatal("expected closed channel")
		}
	case <-time.After(time.Second):
		t.Fatal("context cancel should close the subscription")
	}
}

func TestHubPublishWithoutSubscribers(t *testing.T) {
	NewHub(nil).Publish(domain.Event{Kind: domain.EventRosterUpdated})
}

func TestHubSlowSubscriberKeepsNewest(t *testing.T) {
	hub := NewHub(nil)
	ch, cancel := hub.Subscribe(context.Background(), 2)
	defer cancel()

	for i := 0; i < 5; i++ {
		hub.Publish(domain.Event{Kind: domain.EventTasksCreated, Payload: i})
	}
	first, second := <-ch, <-ch
	if first.Payload != 3 || second.Payload != 4 {
		t.Fatalf("expected newest events 3 and 4, got %v and %v", first.Payload, second.Payload)
	}
}

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/events" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	var hello wsOutbound
	if err := conn.ReadJSON(&hello); err != nil || hello.Type != "subscribed" {
		t.Fatalf("expected subscribed frame, got %+v %v", hello, err)
	}
	return conn
}

func TestWebsocketStreamsEvents(t *testing.T) {
	hub := NewHub(nil)
	srv := httptest.NewServer(NewHandler(hub, nil))
	defer srv.Close()

	conn := dial(t, srv, "?kind=roster.updated")
	defer conn.Close()

	hub.Publish(domain.Event{Kind: domain.EventSpecUpdated})
	hub.Publish(domain.Event{Kind: domain.EventRosterUpdated, Payload: map[string]any{"project_id": "project-flavorbase"}})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var out wsOutbound
	if err := conn.ReadJSON(&out); err != nil {
		t.Fatalf("read: %v", err)
	}
	if out.Type != "event" || out.Event == nil || out.Event.Kind != domain.EventRosterUpdated {
		t.Fatalf("expected filtered roster event, got %+v", out)
	}

	if err := conn.WriteJSON(wsInbound{Type: "ping"}); err != nil {
		t.Fatal(err)
	}
	if err := conn.ReadJSON(&out); err != nil || out.Type != "pong" {
		t.Fatalf("expected pong, got %+v %v", out, err)
	}
}

func TestWebsocketCloseUnsubscribes(t *testing.T) {
	hub := NewHub(nil)
	srv := httptest.NewServer(NewHandler(hub, nil))
	defer srv.Close()

	conn := dial(t, srv, "")
	if hub.Subscribers() != 1 {
		t.Fatalf("expected 1 subscriber, got %d", hub.Subscribers())
	}
	conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.Subscribers() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("subscriber not removed after close")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestParseKinds(t *testing.T) {
	if parseKinds("  ") != nil {
		t.Fatal("blank filter should be nil")
	}
	got := parseKinds("spec.updated, ,tasks.created")
	if len(got) != 2 || !got[domain.EventSpecUpdated] || !got[domain.EventTasksCreated] {
		t.Fatalf("unexpected kinds %v", got)
	}
}
