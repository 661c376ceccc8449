package sse

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func drain(ch chan []byte) []string {
	var out []string
	for {
		select {
		case msg := <-ch:
			out = append(out, string(msg))
		default:
			return out
		}
	}
}

func TestSubscribeUnsubscribe(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	defer b.Close()
	if b.ClientCount() != 0 {
		t.Fatalf("expected 0 clients")
	}
	ch := b.Subscribe("")
	if b.ClientCount() != 1 {
		t.Fatalf("expected 1 client")
	}
	b.Unsubscribe(ch)
	if b.ClientCount() != 0 {
		t.Fatalf("expected 0 clients after unsub")
	}
}

func TestPublishDelivery(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	defer b.Close()
	ch := b.Subscribe("")
	defer b.Unsubscribe(ch)

	b.Publish(Event{Type: "funnel.created", Data: map[string]string{"id": "f1"}})

	select {
	case msg := <-ch:
		s := string(msg)
		if !strings.Contains(s, "event: funnel.created") {
			t.Errorf("missing event type in %q", s)
		}
		if !strings.Contains(s, `"id":"f1"`) {
			t.Errorf("missing data in %q", s)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message")
	}
}

func TestPublishFunnelEvent_ListThrottle(t *testing.T) {
	b := NewBroker(500 * time.Millisecond)
	defer b.Close()
	ch := b.Subscribe("")
	defer b.Unsubscribe(ch)

	b.PublishFunnelEvent("created", "f1")
	b.PublishFunnelEvent("updated", "f1")
	b.PublishFunnelEvent("renamed", "f1")

	time.Sleep(50 * time.Millisecond)
	listCount, funnelCount := 0, 0
	for _, s := range drain(ch) {
		if strings.Contains(s, "funnels.changed") {
			listCount++
		} else {
			funnelCount++
		}
	}

	if funnelCount != 2 {
		t.Errorf("funnel events = %d, want 2", funnelCount)
	}
	if listCount != 1 {
		t.Errorf("list events = %d, want 1 (throttled)", listCount)
	}
}

func TestPublishEditorEvent_SessionScope(t *testing.T) {
	b := NewBroker(time.Second)
	defer b.Close()
	mine := b.Subscribe("s1")
	other := b.Subscribe("s2")
	all := b.Subscribe("")
	defer b.Unsubscribe(mine)
	defer b.Unsubscribe(other)
	defer b.Unsubscribe(all)

	b.PublishEditorEvent("s1", "undo")
	b.PublishImportEvent("imported", "a.json", "f9")
	time.Sleep(50 * time.Millisecond)

	got := drain(mine)
	if len(got) != 2 || !strings.Contains(got[0], "event: editor.undo") {
		t.Errorf("s1 client got %q", got)
	}
	got = drain(other)
	if len(got) != 1 || !strings.Contains(got[0], "event: import.imported") {
		t.Errorf("s2 client got %q, want only the import event", got)
	}
	if got := drain(all); len(got) != 2 {
		t.Errorf("unscoped client got %d events, want 2", len(got))
	}
}

func TestSSEHandler(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req := httptest.NewRequest(http.MethodGet, "/api/events?session=s1", nil)
	req = req.WithContext(ctx)
	w := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		b.ServeHTTP(w, req)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	if b.ClientCount() != 1 {
		t.Fatalf("expected 1 client from handler")
	}

	b.PublishEditorEvent("s2", "node.added")
	b.PublishEditorEvent("s1", "node.updated")
	time.Sleep(50 * time.Millisecond)

	cancel()
	<-done

	body := w.Body.String()
	if !strings.Contains(body, "event: editor.node.updated") {
		t.Errorf("handler output missing event: %q", body)
	}
	if strings.Contains(body, "editor.node.added") {
		t.Errorf("handler leaked another session's event: %q", body)
	}

	time.Sleep(50 * time.Millisecond)
	if b.ClientCount() != 0 {
		t.Errorf("client not cleaned up after disconnect")
	}
}

func TestPublishDropsOnFullBuffer(t *testing.T) {
	b := NewBroker(time.Second)
	defer b.Close()
	ch := b.Subscribe("")
	defer b.Unsubscribe(ch)

	for i := 0; i < 70; i++ {
		b.Publish(Event{Type: "test", Data: map[string]string{"i": "x"}})
	}
}

func TestCloseClosesSubscribersAndStopsOperations(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	ch := b.Subscribe("")
	if b.ClientCount() != 1 {
		t.Fatalf("expected 1 client")
	}

	b.Close()

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected subscriber channel to be closed")
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for channel close")
	}

	if b.ClientCount() != 0 {
		t.Fatalf("expected 0 clients after close")
	}

	b.Publish(Event{Type: "funnel.updated", Data: map[string]string{"id": "x"}})
	b.PublishFunnelEvent("updated", "x")
	b.PublishEditorEvent("s", "undo")
}
