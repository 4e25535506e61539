package fanout

import (
	"testing"
	"time"

	"go.uber.org/zap"
)

func recvOne(t *testing.T, sub *Subscription) Event {
	t.Helper()
	select {
	case ev := <-sub.C():
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func assertEmpty(t *testing.T, sub *Subscription) {
	t.Helper()
	select {
	case ev := <-sub.C():
		t.Fatalf("unexpected event: %+v", ev)
	default:
	}
}

func TestPublishAlert_SessionScoped(t *testing.T) {
	h := NewHub(0, zap.NewNop())
	s1 := h.Join("s1")
	s2 := h.Join("s2")
	defer h.Leave(s1)
	defer h.Leave(s2)

	h.PublishAlert("s1", AlertEvent{ID: "ev-1", SessionID: "s1", EventType: "cheating behavior"})

	ev := recvOne(t, s1)
	if ev.Type != TypeAlert {
		t.Errorf("type = %q, want %q", ev.Type, TypeAlert)
	}
	if ev.Alert == nil || ev.Alert.ID != "ev-1" {
		t.Errorf("alert = %+v, want id ev-1", ev.Alert)
	}

	assertEmpty(t, s2)
}

func TestPublishStatus_Broadcast(t *testing.T) {
	h := NewHub(0, zap.NewNop())
	s1 := h.Join("s1")
	global := h.Join("")
	defer h.Leave(s1)
	defer h.Leave(global)

	h.PublishStatus(StatusEvent{SessionID: "s1", Outcome: "ok"})

	for _, sub := range []*Subscription{s1, global} {
		ev := recvOne(t, sub)
		if ev.Type != TypeStatus {
			t.Errorf("type = %q, want %q", ev.Type, TypeStatus)
		}
		if ev.Status == nil || ev.Status.SessionID != "s1" {
			t.Errorf("status = %+v, want session s1", ev.Status)
		}
	}
}

func TestPublishAlert_EmptyRoomNoOp(t *testing.T) {
	h := NewHub(0, zap.NewNop())
	// Publishing with no subscribers must not panic or block.
	h.PublishAlert("ghost", AlertEvent{ID: "ev-1", SessionID: "ghost"})

	global := h.Join("")
	defer h.Leave(global)
	h.PublishAlert("ghost", AlertEvent{ID: "ev-2", SessionID: "ghost"})
	assertEmpty(t, global) // status-only subscriber gets no alerts
}

func TestLeave_ClosesChannelAndStopsDelivery(t *testing.T) {
	h := NewHub(0, zap.NewNop())
	sub := h.Join("s1")

	h.Leave(sub)
	if _, open := <-sub.C(); open {
		t.Error("channel still open after Leave")
	}

	// Second Leave is a no-op, and publishes no longer reach the subscriber.
	h.Leave(sub)
	h.PublishAlert("s1", AlertEvent{ID: "ev-1"})
	h.PublishStatus(StatusEvent{SessionID: "s1"})
}

func TestSend_DropsWhenBufferFull(t *testing.T) {
	h := NewHub(2, zap.NewNop())
	sub := h.Join("s1")
	defer h.Leave(sub)

	for i := 0; i < 5; i++ {
		h.PublishStatus(StatusEvent{Outcome: "ok"})
	}

	// Only the buffered events survive; the rest were dropped, and no
	// publish blocked.
	count := 0
	for {
		select {
		case <-sub.C():
			count++
		default:
			if count != 2 {
				t.Errorf("received %d events, want buffer size 2", count)
			}
			return
		}
	}
}

func TestJoin_MultipleSubscribersSameRoom(t *testing.T) {
	h := NewHub(0, zap.NewNop())
	a := h.Join("s1")
	b := h.Join("s1")
	defer h.Leave(a)
	defer h.Leave(b)

	h.PublishAlert("s1", AlertEvent{ID: "ev-1", SessionID: "s1"})

	for _, sub := range []*Subscription{a, b} {
		if ev := recvOne(t, sub); ev.Alert.ID != "ev-1" {
			t.Errorf("alert id = %q, want ev-1", ev.Alert.ID)
		}
	}
}
