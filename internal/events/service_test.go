package events_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/attestra/attestra/internal/events"
	"go.uber.org/zap"
)

var ctx = context.Background()

func TestSubscribe_andList(t *testing.T) {
	svc := events.NewService(events.NewMemoryStore(), zap.NewNop())

	sub, err := svc.Subscribe(ctx, &events.SubscribeRequest{
		URL:    "https://example.com/hook",
		Events: []string{"chain.extended"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if sub.Secret == "" {
		t.Error("subscription has no secret")
	}
	if !sub.Active {
		t.Error("new subscription should be active")
	}

	subs, err := svc.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(subs) != 1 {
		t.Errorf("List: got %d subscriptions, want 1", len(subs))
	}
}

func TestNotify_deliversWithSignature(t *testing.T) {
	var mu sync.Mutex
	var gotBody []byte
	var gotSig string
	done := make(chan struct{})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		gotBody = body
		gotSig = r.Header.Get("X-Attestra-Signature")
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
		close(done)
	}))
	defer srv.Close()

	store := events.NewMemoryStore()
	svc := events.NewService(store, zap.NewNop())

	sub, err := svc.Subscribe(ctx, &events.SubscribeRequest{
		URL:    srv.URL,
		Events: []string{"chain.extended"},
	})
	if err != nil {
		t.Fatal(err)
	}

	svc.Notify(ctx, "chain.extended", map[string]string{"agent_id": "ag_x"})

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("delivery never arrived")
	}

	mu.Lock()
	defer mu.Unlock()
	if !events.VerifySignature(gotBody, sub.Secret, gotSig) {
		t.Error("delivered signature does not verify against the subscription secret")
	}
}

func TestNotify_skipsNonMatchingEvents(t *testing.T) {
	hits := make(chan struct{}, 8)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits <- struct{}{}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	svc := events.NewService(events.NewMemoryStore(), zap.NewNop())
	if _, err := svc.Subscribe(ctx, &events.SubscribeRequest{
		URL:    srv.URL,
		Events: []string{"score.updated"},
	}); err != nil {
		t.Fatal(err)
	}

	svc.Notify(ctx, "chain.extended", map[string]string{"agent_id": "ag_x"})

	select {
	case <-hits:
		t.Error("subscriber received an event type it did not subscribe to")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestNotify_recordsDeliveryOutcome(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	store := events.NewMemoryStore()
	svc := events.NewService(store, zap.NewNop())

	var mu sync.Mutex
	outcomes := []bool{}
	svc.SetMetricsRecorder(func(success bool) {
		mu.Lock()
		outcomes = append(outcomes, success)
		mu.Unlock()
	})

	if _, err := svc.Subscribe(ctx, &events.SubscribeRequest{
		URL:    srv.URL,
		Events: []string{"attestation.created"},
	}); err != nil {
		t.Fatal(err)
	}

	svc.Notify(ctx, "attestation.created", map[string]string{"agent_id": "ag_x"})

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if len(store.Deliveries()) > 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	deliveries := store.Deliveries()
	if len(deliveries) != 1 {
		t.Fatalf("got %d delivery records, want 1", len(deliveries))
	}
	if !deliveries[0].Success || deliveries[0].StatusCode != http.StatusOK {
		t.Errorf("delivery record: %+v, want success with 200", deliveries[0])
	}

	mu.Lock()
	defer mu.Unlock()
	if len(outcomes) != 1 || !outcomes[0] {
		t.Errorf("metrics recorder outcomes: %v, want [true]", outcomes)
	}
}

func TestNotify_retriesAfterFirstBackoff(t *testing.T) {
	var mu sync.Mutex
	var times []time.Time
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		mu.Lock()
		n := len(times)
		times = append(times, time.Now())
		mu.Unlock()
		if n == 0 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	store := events.NewMemoryStore()
	svc := events.NewService(store, zap.NewNop())
	if _, err := svc.Subscribe(ctx, &events.SubscribeRequest{
		URL:    srv.URL,
		Events: []string{"chain.extended"},
	}); err != nil {
		t.Fatal(err)
	}

	svc.Notify(ctx, "chain.extended", map[string]string{"agent_id": "ag_x"})

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(times)
		mu.Unlock()
		if n >= 2 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(times) != 2 {
		t.Fatalf("got %d delivery attempts, want 2", len(times))
	}
	// The second attempt follows the first backoff step of 1s, not a later one.
	gap := times[1].Sub(times[0])
	if gap < time.Second || gap > 4*time.Second {
		t.Errorf("retry gap %v, want about 1s", gap)
	}

	deliveries := store.Deliveries()
	if len(deliveries) != 2 || deliveries[0].Attempt != 1 || deliveries[1].Attempt != 2 {
		t.Errorf("delivery records: %+v, want attempts 1 and 2", deliveries)
	}
	if deliveries[0].Success || !deliveries[1].Success {
		t.Errorf("delivery outcomes: first=%v second=%v, want failure then success", deliveries[0].Success, deliveries[1].Success)
	}
}

func TestUnsubscribe(t *testing.T) {
	svc := events.NewService(events.NewMemoryStore(), zap.NewNop())
	sub, err := svc.Subscribe(ctx, &events.SubscribeRequest{
		URL:    "https://example.com/hook",
		Events: []string{"chain.extended"},
	})
	if err != nil {
		t.Fatal(err)
	}

	if err := svc.Unsubscribe(ctx, sub.ID); err != nil {
		t.Fatal(err)
	}
	if err := svc.Unsubscribe(ctx, sub.ID); err != events.ErrNotFound {
		t.Errorf("second unsubscribe: got %v, want ErrNotFound", err)
	}
}
