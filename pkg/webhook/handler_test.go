package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
)

var testSecret = []byte("webhook-secret")

// memoryDeduper is an in-process Deduper.
type memoryDeduper struct {
	mu       sync.Mutex
	seen     map[string]bool
	released []string
	err      error
}

func newMemoryDeduper() *memoryDeduper {
	return &memoryDeduper{seen: make(map[string]bool)}
}

func (d *memoryDeduper) Claim(_ context.Context, id string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return false, d.err
	}
	if d.seen[id] {
		return false, nil
	}
	d.seen[id] = true
	return true, nil
}

func (d *memoryDeduper) Release(_ context.Context, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.seen, id)
	d.released = append(d.released, id)
	return nil
}

func newDelivery(t *testing.T, event, id string, payload any) *http.Request {
	t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader(body))
	req.Header.Set(HeaderEvent, event)
	req.Header.Set(HeaderDelivery, id)
	req.Header.Set(HeaderSignature256, Sign(testSecret, body))
	return req
}

func serve(h http.Handler, req *http.Request) (int, string) {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	var resp response
	json.Unmarshal(rec.Body.Bytes(), &resp)
	return rec.Code, resp.Message
}

func TestHandler_Dispatch(t *testing.T) {
	h := NewHandler(testSecret, zerolog.Nop())

	var got Delivery
	h.On("issues.opened", func(_ context.Context, d Delivery) error {
		got = d
		return nil
	})

	payload := IssuesEvent{
		Action:       "opened",
		Issue:        Issue{Number: 3, Title: "crash", Labels: []IssueLabel{{Name: "triage"}}},
		Repository:   Repository{Name: "hello", Owner: Account{Login: "octo"}},
		Installation: InstallationRef{ID: 9},
	}
	status, message := serve(h, newDelivery(t, "issues", "d-1", payload))
	if status != http.StatusOK || message != "ok" {
		t.Fatalf("response = %d %q", status, message)
	}

	if got.Key() != "issues.opened" || got.ID != "d-1" {
		t.Errorf("delivery = %+v", got)
	}
	event, err := Decode[IssuesEvent](got)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if event.Issue.Number != 3 || event.Installation.ID != 9 {
		t.Errorf("event = %+v", event)
	}
	if names := event.Issue.LabelNames(); len(names) != 1 || names[0] != "triage" {
		t.Errorf("LabelNames() = %v", names)
	}
}

func TestHandler_Rejections(t *testing.T) {
	h := NewHandler(testSecret, zerolog.Nop())
	called := false
	h.On("issues.opened", func(context.Context, Delivery) error {
		called = true
		return nil
	})

	body := []byte(`{"action":"opened"}`)

	tests := []struct {
		name       string
		method     string
		headers    map[string]string
		body       []byte
		wantStatus int
	}{
		{
			name:       "wrong method",
			method:     http.MethodGet,
			wantStatus: http.StatusMethodNotAllowed,
		},
		{
			name:       "missing signature",
			method:     http.MethodPost,
			headers:    map[string]string{HeaderEvent: "issues"},
			body:       body,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:   "bad signature",
			method: http.MethodPost,
			headers: map[string]string{
				HeaderEvent:        "issues",
				HeaderSignature256: Sign([]byte("other"), body),
			},
			body:       body,
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:   "missing event",
			method: http.MethodPost,
			headers: map[string]string{
				HeaderSignature256: Sign(testSecret, body),
			},
			body:       body,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:   "not json",
			method: http.MethodPost,
			headers: map[string]string{
				HeaderEvent:        "issues",
				HeaderSignature256: Sign(testSecret, []byte("[1,2")),
			},
			body:       []byte("[1,2"),
			wantStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/webhook", bytes.NewReader(tt.body))
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			status, _ := serve(h, req)
			if status != tt.wantStatus {
				t.Errorf("status = %d, want %d", status, tt.wantStatus)
			}
		})
	}

	if called {
		t.Error("rejected deliveries must not reach handlers")
	}
}

func TestHandler_PayloadTooLarge(t *testing.T) {
	h := NewHandler(testSecret, zerolog.Nop())
	body := strings.Repeat("x", MaxBodyBytes+1)
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body))
	req.Header.Set(HeaderEvent, "issues")

	if status, _ := serve(h, req); status != http.StatusRequestEntityTooLarge {
		t.Errorf("status = %d, want 413", status)
	}
}

func TestHandler_UnknownEventAcknowledged(t *testing.T) {
	h := NewHandler(testSecret, zerolog.Nop())
	h.On("issues.opened", func(context.Context, Delivery) error {
		t.Error("wrong handler called")
		return nil
	})

	status, message := serve(h, newDelivery(t, "issues", "d-2", map[string]string{"action": "closed"}))
	if status != http.StatusOK || message != "ignored" {
		t.Errorf("response = %d %q, want 200 ignored", status, message)
	}

	status, _ = serve(h, newDelivery(t, "ping", "d-3", map[string]string{"zen": "Keep it simple."}))
	if status != http.StatusOK {
		t.Errorf("ping status = %d, want 200", status)
	}
}

func TestHandler_HandlerError(t *testing.T) {
	dedupe := newMemoryDeduper()
	h := NewHandler(testSecret, zerolog.Nop(), WithDeduper(dedupe))
	h.On("installation.created", func(context.Context, Delivery) error {
		return errors.New("boom")
	})

	status, _ := serve(h, newDelivery(t, "installation", "d-4", map[string]string{"action": "created"}))
	if status != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", status)
	}
	if len(dedupe.released) != 1 || dedupe.released[0] != "d-4" {
		t.Errorf("released = %v, want the failed delivery", dedupe.released)
	}
}

func TestHandler_Dedupe(t *testing.T) {
	dedupe := newMemoryDeduper()
	h := NewHandler(testSecret, zerolog.Nop(), WithDeduper(dedupe))
	calls := 0
	h.On("issues.opened", func(context.Context, Delivery) error {
		calls++
		return nil
	})

	payload := map[string]string{"action": "opened"}
	serve(h, newDelivery(t, "issues", "same", payload))
	status, message := serve(h, newDelivery(t, "issues", "same", payload))

	if status != http.StatusOK || message != "duplicate" {
		t.Errorf("redelivery = %d %q, want 200 duplicate", status, message)
	}
	if calls != 1 {
		t.Errorf("handler calls = %d, want 1", calls)
	}

	dedupe.err = errors.New("redis down")
	serve(h, newDelivery(t, "issues", "same", payload))
	if calls != 2 {
		t.Error("dedupe failures should not drop deliveries")
	}
}
