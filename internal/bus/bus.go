package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"syscall"
)

// MsgType identifies one logical operation on the internal bus. The set is
// closed: the router replies with an "unrecognized operation" failure for
// anything else.
type MsgType string

const (
	// Upstream chat API proxy operations.
	TypeFetchConversations         MsgType = "fetchConversations"
	TypeFetchConversation          MsgType = "fetchConversation"
	TypeDeleteConversation         MsgType = "deleteConversation"
	TypeShareConversation          MsgType = "shareConversation"
	TypeArchiveConversation        MsgType = "archiveConversation"
	TypeRenameConversation         MsgType = "renameConversation"
	TypeGenerateAutocompletions    MsgType = "generateAutocompletions"
	TypeSendCopyFeedback           MsgType = "sendCopyFeedback"
	TypeGetAudio                   MsgType = "getAudio"
	TypeFetchConversationMsgIDs    MsgType = "fetchConversationMessageIds"
	TypeFetchConversationMessages  MsgType = "fetchConversationMessages"
	TypeFetchConversationContext   MsgType = "fetchConversationContext"
	TypeMarkThumbsUp               MsgType = "markThumbsUp"
	TypeMarkThumbsDown             MsgType = "markThumbsDown"
	TypeExportConversationMarkdown MsgType = "exportConversationMarkdown"
	TypeFetchAuthorCounts          MsgType = "fetchAuthorCounts"

	// Captured-data relays from the bridge.
	TypeHeadersReceived           MsgType = "headersReceived"
	TypeAuthReceived              MsgType = "authReceived"
	TypeAccountReceived           MsgType = "accountReceived"
	TypeConversationLimitReceived MsgType = "conversationLimitReceived"
	TypeModelsReceived            MsgType = "modelsReceived"

	// Account operations.
	TypeGetAuthState MsgType = "getAuthState"
	TypeLoginUser    MsgType = "loginUser"
	TypeRegisterUser MsgType = "registerUser"
	TypeLogoutUser   MsgType = "logoutUser"

	// Billing operations.
	TypeGetSubscriptionStatus MsgType = "getSubscriptionStatus"
	TypeCreateCheckoutSession MsgType = "createCheckoutSession"

	// Broadcast-only: sent by the worker, never handled by it.
	TypeAuthStateUpdated    MsgType = "authStateUpdated"
	TypeSubscriptionUpdated MsgType = "subscriptionUpdated"
)

// Envelope is one request on the internal bus. Immutable once sent.
type Envelope struct {
	Type    MsgType         `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewEnvelope marshals payload into an Envelope. A nil payload produces an
// envelope with no payload field.
func NewEnvelope(t MsgType, payload any) (Envelope, error) {
	env := Envelope{Type: t}
	if payload == nil {
		return env, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", t, err)
	}
	env.Payload = data
	return env, nil
}

// Bind unmarshals the envelope payload into dest.
func (e Envelope) Bind(dest any) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("%s: missing payload", e.Type)
	}
	if err := json.Unmarshal(e.Payload, dest); err != nil {
		return fmt.Errorf("%s: decode payload: %w", e.Type, err)
	}
	return nil
}

// ErrorInfo is the wire form of a failed operation's error.
type ErrorInfo struct {
	Name    string `json:"name,omitempty"`
	Message string `json:"message"`
	Stack   string `json:"stack,omitempty"`
}

// Response is the single reply produced for every Envelope that reaches the
// router.
type Response struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   *ErrorInfo      `json:"error,omitempty"`
}

// Succeed builds a success response. data may be nil for operations with no
// result.
func Succeed(data any) *Response {
	resp := &Response{Success: true}
	if data == nil {
		return resp
	}
	raw, err := json.Marshal(data)
	if err != nil {
		// Handler returned an unmarshalable value; surface it as the
		// operation's failure rather than dropping the reply.
		return Fail(fmt.Errorf("encode response data: %w", err))
	}
	resp.Data = raw
	return resp
}

// Fail builds a failure response from err, preserving the named-error form
// where one is present.
func Fail(err error) *Response {
	info := &ErrorInfo{Message: err.Error()}
	var op *OpError
	if errors.As(err, &op) {
		info.Name = op.Name
		info.Stack = op.Stack
	}
	return &Response{Success: false, Error: info}
}

// OpError is an application error reconstructed from (or destined for) the
// wire ErrorInfo form.
type OpError struct {
	Name    string
	Message string
	Stack   string
}

func (e *OpError) Error() string { return e.Message }

// Err converts wire error info back into a Go error.
func (i *ErrorInfo) Err() error {
	return &OpError{Name: i.Name, Message: i.Message, Stack: i.Stack}
}

// Transport is the one-shot request/reply primitive connecting an isolated
// context to the worker. A nil *Response with a nil error means the worker
// went away mid-handling; callers treat it like a disconnect.
type Transport interface {
	Send(ctx context.Context, env Envelope) (*Response, error)
}

// ErrNoReceiver reports that no worker is attached to the bus. It is the
// transient "receiving end does not exist" condition that senders retry.
var ErrNoReceiver = errors.New("bus: receiving end does not exist")

// IsDisconnect reports whether err is a channel-level failure (worker asleep,
// not yet started, or restarting) as opposed to the operation's own outcome.
func IsDisconnect(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrNoReceiver) {
		return true
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EPIPE) {
		return true
	}
	// Transports that cross a process boundary do not always surface typed
	// errno values.
	msg := err.Error()
	return strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "receiving end does not exist")
}
