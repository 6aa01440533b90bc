package messenger

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/af-corp/chatrelay/internal/bus"
	"github.com/af-corp/chatrelay/internal/telemetry"
)

type scriptedTransport struct {
	calls int
	steps []func() (*bus.Response, error)
}

func (s *scriptedTransport) Send(ctx context.Context, env bus.Envelope) (*bus.Response, error) {
	step := s.steps[len(s.steps)-1]
	if s.calls < len(s.steps) {
		step = s.steps[s.calls]
	}
	s.calls++
	return step()
}

func fastClient(t bus.Transport, attempts int) *Client {
	c := newClient(t, attempts, time.Millisecond)
	return c
}

func disconnect() (*bus.Response, error) { return nil, bus.ErrNoReceiver }
func nilReply() (*bus.Response, error)   { return nil, nil }
func ok() (*bus.Response, error) {
	return bus.Succeed(map[string]string{"id": "c1"}), nil
}

func TestSend_Success(t *testing.T) {
	tr := &scriptedTransport{steps: []func() (*bus.Response, error){ok}}
	c := fastClient(tr, 3)

	data, err := c.Send(context.Background(), bus.TypeFetchConversation, bus.ConversationPayload{ConversationID: "c1"})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	var out map[string]string
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatal(err)
	}
	if out["id"] != "c1" {
		t.Errorf("data = %v", out)
	}
}

func TestSend_SuccessWithoutDataResolvesToNull(t *testing.T) {
	tr := &scriptedTransport{steps: []func() (*bus.Response, error){
		func() (*bus.Response, error) { return bus.Succeed(nil), nil },
	}}
	c := fastClient(tr, 3)

	data, err := c.Send(context.Background(), bus.TypeLogoutUser, nil)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if string(data) != "null" {
		t.Errorf("data = %s, want null", data)
	}
}

func TestSend_RetriesDisconnectThenSucceeds(t *testing.T) {
	tr := &scriptedTransport{steps: []func() (*bus.Response, error){disconnect, disconnect, ok}}
	c := fastClient(tr, 3)

	if _, err := c.Send(context.Background(), bus.TypeGetAuthState, nil); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if tr.calls != 3 {
		t.Errorf("calls = %d, want 3", tr.calls)
	}
}

func TestSend_RetriesAreCounted(t *testing.T) {
	reg := prometheus.NewRegistry()
	retryTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "test_chatrelay_retry_total",
		Help: "Test counter",
	}, []string{"component"})
	reg.MustRegister(retryTotal)

	tr := &scriptedTransport{steps: []func() (*bus.Response, error){disconnect, disconnect, ok}}
	c := fastClient(tr, 3).WithMetrics(&telemetry.Metrics{RetryTotal: retryTotal})

	if _, err := c.Send(context.Background(), bus.TypeGetAuthState, nil); err != nil {
		t.Fatalf("Send: %v", err)
	}

	var metric dto.Metric
	if err := retryTotal.WithLabelValues("messenger").Write(&metric); err != nil {
		t.Fatal(err)
	}
	if got := metric.GetCounter().GetValue(); got != 2 {
		t.Errorf("retry count = %v, want 2", got)
	}
}

func TestSend_ExhaustedDisconnectYieldsStableError(t *testing.T) {
	tr := &scriptedTransport{steps: []func() (*bus.Response, error){disconnect}}
	c := fastClient(tr, 3)

	_, err := c.Send(context.Background(), bus.TypeGetAuthState, nil)
	if !errors.Is(err, ErrWorkerUnavailable) {
		t.Fatalf("err = %v, want ErrWorkerUnavailable", err)
	}
	if tr.calls != 3 {
		t.Errorf("calls = %d, want exactly 3 attempts", tr.calls)
	}
}

func TestSend_NilReplyRetriedThenDistinctError(t *testing.T) {
	tr := &scriptedTransport{steps: []func() (*bus.Response, error){nilReply}}
	c := fastClient(tr, 3)

	_, err := c.Send(context.Background(), bus.TypeGetAuthState, nil)
	if !errors.Is(err, ErrWorkerCrashed) {
		t.Fatalf("err = %v, want ErrWorkerCrashed", err)
	}
	if tr.calls != 3 {
		t.Errorf("calls = %d, want 3", tr.calls)
	}
}

func TestSend_NilReplyThenRecovery(t *testing.T) {
	tr := &scriptedTransport{steps: []func() (*bus.Response, error){nilReply, ok}}
	c := fastClient(tr, 3)

	if _, err := c.Send(context.Background(), bus.TypeGetAuthState, nil); err != nil {
		t.Fatalf("Send: %v", err)
	}
}

func TestSend_ApplicationFailureNotRetried(t *testing.T) {
	tr := &scriptedTransport{steps: []func() (*bus.Response, error){
		func() (*bus.Response, error) {
			return bus.Fail(&bus.OpError{Name: "ValidationError", Message: "Conversation ID is required to delete."}), nil
		},
	}}
	c := fastClient(tr, 5)

	_, err := c.Send(context.Background(), bus.TypeDeleteConversation, bus.ConversationPayload{})
	if err == nil {
		t.Fatal("expected error")
	}
	var op *bus.OpError
	if !errors.As(err, &op) {
		t.Fatalf("err = %T, want *bus.OpError", err)
	}
	if op.Name != "ValidationError" {
		t.Errorf("Name = %q", op.Name)
	}
	if op.Message != "Conversation ID is required to delete." {
		t.Errorf("Message = %q", op.Message)
	}
	if tr.calls != 1 {
		t.Errorf("calls = %d, application failures must not be retried", tr.calls)
	}
}

func TestSend_OtherTransportErrorNotRetried(t *testing.T) {
	boom := errors.New("payload too large")
	tr := &scriptedTransport{steps: []func() (*bus.Response, error){
		func() (*bus.Response, error) { return nil, boom },
	}}
	c := fastClient(tr, 5)

	_, err := c.Send(context.Background(), bus.TypeGetAuthState, nil)
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want raw non-disconnect error", err)
	}
	if tr.calls != 1 {
		t.Errorf("calls = %d, want 1", tr.calls)
	}
}

func TestPageAndExtensionProfilesShareBehavior(t *testing.T) {
	for name, mk := range map[string]func(bus.Transport) *Client{
		"page":      NewPageClient,
		"extension": NewExtensionClient,
	} {
		t.Run(name, func(t *testing.T) {
			tr := &scriptedTransport{steps: []func() (*bus.Response, error){
				func() (*bus.Response, error) {
					return bus.Fail(&bus.OpError{Name: "E", Message: "m"}), nil
				},
			}}
			c := mk(tr)
			c.policy.Delay = time.Millisecond

			_, err := c.Send(context.Background(), bus.TypeGetAuthState, nil)
			var op *bus.OpError
			if !errors.As(err, &op) || op.Name != "E" {
				t.Errorf("err = %v", err)
			}
		})
	}
}

func TestHTTPTransport_MapsRefusedAndUnavailableToDisconnect(t *testing.T) {
	// Unreachable port: connection refused.
	tr := NewHTTPTransport("http://127.0.0.1:1", nil)
	_, err := tr.Send(context.Background(), bus.Envelope{Type: bus.TypeGetAuthState})
	if !bus.IsDisconnect(err) {
		t.Errorf("refused err = %v, want disconnect-class", err)
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	tr = NewHTTPTransport(srv.URL, nil)
	_, err = tr.Send(context.Background(), bus.Envelope{Type: bus.TypeGetAuthState})
	if !errors.Is(err, bus.ErrNoReceiver) {
		t.Errorf("503 err = %v, want ErrNoReceiver", err)
	}
}

func TestHTTPTransport_NullBodyIsNilReply(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "null")
	}))
	defer srv.Close()

	tr := NewHTTPTransport(srv.URL, nil)
	resp, err := tr.Send(context.Background(), bus.Envelope{Type: bus.TypeGetAuthState})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if resp != nil {
		t.Errorf("resp = %+v, want nil", resp)
	}
}

func TestHTTPTransport_RoundTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var env bus.Envelope
		if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
			t.Errorf("decode: %v", err)
		}
		if env.Type != bus.TypeFetchConversations {
			t.Errorf("type = %s", env.Type)
		}
		json.NewEncoder(w).Encode(bus.Succeed([]string{"c1"}))
	}))
	defer srv.Close()

	c := fastClient(NewHTTPTransport(srv.URL, nil), 2)
	data, err := c.Send(context.Background(), bus.TypeFetchConversations, bus.FetchConversationsPayload{Limit: 10})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		t.Fatal(err)
	}
	if len(ids) != 1 || ids[0] != "c1" {
		t.Errorf("ids = %v", ids)
	}
}
