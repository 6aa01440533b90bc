package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/af-corp/chatrelay/internal/billing"
	"github.com/af-corp/chatrelay/internal/bus"
	"github.com/af-corp/chatrelay/internal/creds"
	"github.com/af-corp/chatrelay/internal/identity"
)

const defaultConversationPageSize = 28

func validationErr(msg string) error {
	return &bus.OpError{Name: "ValidationError", Message: msg}
}

func namedErr(name string, err error) error {
	return &bus.OpError{Name: name, Message: err.Error()}
}

func (w *Worker) buildHandlers() map[bus.MsgType]handlerFunc {
	return map[bus.MsgType]handlerFunc{
		bus.TypeFetchConversations:         w.handleFetchConversations,
		bus.TypeFetchConversation:          w.handleFetchConversation,
		bus.TypeDeleteConversation:         w.handleDeleteConversation,
		bus.TypeShareConversation:          w.handleShareConversation,
		bus.TypeArchiveConversation:        w.handleArchiveConversation,
		bus.TypeRenameConversation:         w.handleRenameConversation,
		bus.TypeGenerateAutocompletions:    w.handleGenerateAutocompletions,
		bus.TypeSendCopyFeedback:           w.handleSendCopyFeedback,
		bus.TypeGetAudio:                   w.handleGetAudio,
		bus.TypeFetchConversationMsgIDs:    w.handleFetchConversationMessageIDs,
		bus.TypeFetchConversationMessages:  w.handleFetchConversationMessages,
		bus.TypeFetchConversationContext:   w.handleFetchConversationContext,
		bus.TypeMarkThumbsUp:               w.handleMarkThumbsUp,
		bus.TypeMarkThumbsDown:             w.handleMarkThumbsDown,
		bus.TypeExportConversationMarkdown: w.handleExportConversationMarkdown,
		bus.TypeFetchAuthorCounts:          w.handleFetchAuthorCounts,

		bus.TypeHeadersReceived:           w.handleHeadersReceived,
		bus.TypeAuthReceived:              w.handleAuthReceived,
		bus.TypeAccountReceived:           w.handleSnapshotReceived,
		bus.TypeConversationLimitReceived: w.handleSnapshotReceived,
		bus.TypeModelsReceived:            w.handleSnapshotReceived,

		bus.TypeGetAuthState: w.handleGetAuthState,
		bus.TypeLoginUser:    w.handleLoginUser,
		bus.TypeRegisterUser: w.handleRegisterUser,
		bus.TypeLogoutUser:   w.handleLogoutUser,

		bus.TypeGetSubscriptionStatus: w.handleGetSubscriptionStatus,
		bus.TypeCreateCheckoutSession: w.handleCreateCheckoutSession,
	}
}

func bindConversationID(env bus.Envelope, action string) (string, error) {
	var p bus.ConversationPayload
	if len(env.Payload) > 0 {
		if err := env.Bind(&p); err != nil {
			return "", validationErr(err.Error())
		}
	}
	if p.ConversationID == "" {
		return "", validationErr(fmt.Sprintf("Conversation ID is required to %s.", action))
	}
	return p.ConversationID, nil
}

func (w *Worker) handleFetchConversations(ctx context.Context, env bus.Envelope) (any, error) {
	var p bus.FetchConversationsPayload
	if len(env.Payload) > 0 {
		if err := env.Bind(&p); err != nil {
			return nil, validationErr(err.Error())
		}
	}
	if p.Limit <= 0 {
		p.Limit = defaultConversationPageSize
	}
	return w.deps.API.ListConversations(ctx, p.Offset, p.Limit)
}

func (w *Worker) handleFetchConversation(ctx context.Context, env bus.Envelope) (any, error) {
	id, err := bindConversationID(env, "fetch")
	if err != nil {
		return nil, err
	}
	return w.deps.API.GetConversation(ctx, id)
}

func (w *Worker) handleDeleteConversation(ctx context.Context, env bus.Envelope) (any, error) {
	id, err := bindConversationID(env, "delete")
	if err != nil {
		return nil, err
	}
	return nil, w.deps.API.DeleteConversation(ctx, id)
}

func (w *Worker) handleShareConversation(ctx context.Context, env bus.Envelope) (any, error) {
	id, err := bindConversationID(env, "share")
	if err != nil {
		return nil, err
	}
	return w.deps.API.ShareConversation(ctx, id)
}

func (w *Worker) handleArchiveConversation(ctx context.Context, env bus.Envelope) (any, error) {
	id, err := bindConversationID(env, "archive")
	if err != nil {
		return nil, err
	}
	return nil, w.deps.API.ArchiveConversation(ctx, id)
}

func (w *Worker) handleRenameConversation(ctx context.Context, env bus.Envelope) (any, error) {
	var p bus.RenameConversationPayload
	if len(env.Payload) > 0 {
		if err := env.Bind(&p); err != nil {
			return nil, validationErr(err.Error())
		}
	}
	if p.ConversationID == "" {
		return nil, validationErr("Conversation ID is required to rename.")
	}
	if p.Title == "" {
		return nil, validationErr("A new title is required to rename.")
	}
	return nil, w.deps.API.RenameConversation(ctx, p.ConversationID, p.Title)
}

func (w *Worker) handleGenerateAutocompletions(ctx context.Context, env bus.Envelope) (any, error) {
	var p bus.AutocompletionsPayload
	if len(env.Payload) > 0 {
		if err := env.Bind(&p); err != nil {
			return nil, validationErr(err.Error())
		}
	}
	if p.Text == "" {
		return nil, validationErr("Text is required to generate autocompletions.")
	}
	if p.Count <= 0 {
		p.Count = 3
	}
	if err := w.checkMeteredQuota(ctx); err != nil {
		return nil, err
	}
	return w.deps.API.GenerateAutocompletions(ctx, p.Text, p.Count)
}

func (w *Worker) handleSendCopyFeedback(ctx context.Context, env bus.Envelope) (any, error) {
	var p bus.FeedbackPayload
	if len(env.Payload) > 0 {
		if err := env.Bind(&p); err != nil {
			return nil, validationErr(err.Error())
		}
	}
	if p.ConversationID == "" || p.MessageID == "" {
		return nil, validationErr("Conversation ID and message ID are required to send feedback.")
	}
	return nil, w.deps.API.SendCopyFeedback(ctx, p.ConversationID, p.MessageID, p.Content)
}

func (w *Worker) handleGetAudio(ctx context.Context, env bus.Envelope) (any, error) {
	var p bus.AudioPayload
	if len(env.Payload) > 0 {
		if err := env.Bind(&p); err != nil {
			return nil, validationErr(err.Error())
		}
	}
	if p.ConversationID == "" || p.MessageID == "" {
		return nil, validationErr("Conversation ID and message ID are required to fetch audio.")
	}
	if err := w.checkMeteredQuota(ctx); err != nil {
		return nil, err
	}
	audio, err := w.deps.API.FetchAudio(ctx, p.ConversationID, p.MessageID, p.Voice, p.Format)
	if err != nil {
		return nil, err
	}
	// []byte marshals to base64, which is how binary crosses the bus.
	return map[string][]byte{"audio": audio}, nil
}

func (w *Worker) handleFetchConversationMessageIDs(ctx context.Context, env bus.Envelope) (any, error) {
	id, err := bindConversationID(env, "fetch message ids from")
	if err != nil {
		return nil, err
	}
	conv, err := w.deps.API.GetConversation(ctx, id)
	if err != nil {
		return nil, err
	}
	thread := threadOf(conv)
	ids := make([]string, 0, len(thread))
	for _, m := range thread {
		ids = append(ids, m.ID)
	}
	return map[string]any{"messageIds": ids}, nil
}

func (w *Worker) handleFetchConversationMessages(ctx context.Context, env bus.Envelope) (any, error) {
	id, err := bindConversationID(env, "fetch messages from")
	if err != nil {
		return nil, err
	}
	conv, err := w.deps.API.GetConversation(ctx, id)
	if err != nil {
		return nil, err
	}
	return map[string]any{"messages": threadOf(conv)}, nil
}

func (w *Worker) handleFetchConversationContext(ctx context.Context, env bus.Envelope) (any, error) {
	id, err := bindConversationID(env, "fetch context from")
	if err != nil {
		return nil, err
	}
	conv, err := w.deps.API.GetConversation(ctx, id)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"title":    conv.Title,
		"messages": threadOf(conv),
	}, nil
}

func (w *Worker) handleMarkThumbsUp(ctx context.Context, env bus.Envelope) (any, error) {
	return w.markThumbs(ctx, env, "thumbsUp")
}

func (w *Worker) handleMarkThumbsDown(ctx context.Context, env bus.Envelope) (any, error) {
	return w.markThumbs(ctx, env, "thumbsDown")
}

func (w *Worker) markThumbs(ctx context.Context, env bus.Envelope, rating string) (any, error) {
	var p bus.ThumbsPayload
	if len(env.Payload) > 0 {
		if err := env.Bind(&p); err != nil {
			return nil, validationErr(err.Error())
		}
	}
	if p.ConversationID == "" || p.MessageID == "" {
		return nil, validationErr("Conversation ID and message ID are required to rate a message.")
	}
	return nil, w.deps.API.MarkThumbs(ctx, p.ConversationID, p.MessageID, rating)
}

// handleExportConversationMarkdown returns the export source material; the
// UI layer owns the formatting.
func (w *Worker) handleExportConversationMarkdown(ctx context.Context, env bus.Envelope) (any, error) {
	id, err := bindConversationID(env, "export")
	if err != nil {
		return nil, err
	}
	conv, err := w.deps.API.GetConversation(ctx, id)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"title":    conv.Title,
		"messages": threadOf(conv),
	}, nil
}

func (w *Worker) handleFetchAuthorCounts(ctx context.Context, env bus.Envelope) (any, error) {
	id, err := bindConversationID(env, "count authors in")
	if err != nil {
		return nil, err
	}
	conv, err := w.deps.API.GetConversation(ctx, id)
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int)
	for _, m := range threadOf(conv) {
		counts[m.Role]++
	}
	return map[string]any{"authorCounts": counts}, nil
}

// checkMeteredQuota enforces the daily free-tier limit on expensive
// operations. Active subscribers are exempt; quota store errors fail open.
func (w *Worker) checkMeteredQuota(ctx context.Context) error {
	if w.deps.Quota == nil || w.deps.DailyOpLimit <= 0 {
		return nil
	}
	account := "anonymous"
	if u := w.currentUser(); u != nil {
		account = u.UID
		if w.deps.Subs != nil {
			if status, err := w.deps.Subs.SubscriptionStatus(ctx, u.UID); err == nil && status.Active {
				return nil
			}
		}
	}
	result, err := w.deps.Quota.CheckDailyOps(ctx, account, int64(w.deps.DailyOpLimit))
	if err != nil || result.Allowed {
		_ = w.deps.Quota.RecordOp(ctx, account)
		return nil
	}
	return &bus.OpError{
		Name:    "QuotaExceeded",
		Message: fmt.Sprintf("Daily limit of %d reached. Upgrade for unlimited use.", result.Limit),
	}
}

func (w *Worker) handleHeadersReceived(ctx context.Context, env bus.Envelope) (any, error) {
	var headers bus.HeadersPayload
	if err := env.Bind(&headers); err != nil {
		return nil, validationErr(err.Error())
	}
	if err := w.deps.Creds.Merge(ctx, headers); err != nil {
		return nil, err
	}
	return nil, nil
}

func (w *Worker) handleAuthReceived(ctx context.Context, env bus.Envelope) (any, error) {
	var p bus.AuthTokenPayload
	if err := env.Bind(&p); err != nil {
		return nil, validationErr(err.Error())
	}
	if p.AccessToken == "" {
		return nil, nil
	}
	err := w.deps.Creds.Merge(ctx, map[string]string{
		creds.HeaderAuthorization: "Bearer " + p.AccessToken,
	})
	return nil, err
}

// handleSnapshotReceived retains the latest captured snapshot for its type.
// Stale snapshots are overwritten wholesale.
func (w *Worker) handleSnapshotReceived(ctx context.Context, env bus.Envelope) (any, error) {
	w.mu.Lock()
	w.pageState[env.Type] = append([]byte(nil), env.Payload...)
	w.mu.Unlock()
	return nil, nil
}

// Snapshot returns the latest captured payload for a relay type, nil if none
// arrived yet.
func (w *Worker) Snapshot(t bus.MsgType) []byte {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.pageState[t]
}

// handleGetAuthState blocks until the provider's initial hydration
// notification so early callers never observe a default logged-out state
// that is about to be contradicted.
func (w *Worker) handleGetAuthState(ctx context.Context, env bus.Envelope) (any, error) {
	if _, err := w.ready.Wait(ctx); err != nil {
		return nil, err
	}
	return w.currentAuthState(), nil
}

func (w *Worker) handleLoginUser(ctx context.Context, env bus.Envelope) (any, error) {
	var p bus.CredentialsPayload
	if err := env.Bind(&p); err != nil {
		return nil, validationErr(err.Error())
	}
	if p.Email == "" || p.Password == "" {
		return nil, validationErr("Email and password are required to log in.")
	}
	u, err := w.deps.Provider.Login(ctx, p.Email, p.Password)
	if err != nil {
		return nil, namedErr("AuthError", err)
	}
	return identity.StateFor(u), nil
}

func (w *Worker) handleRegisterUser(ctx context.Context, env bus.Envelope) (any, error) {
	var p bus.CredentialsPayload
	if err := env.Bind(&p); err != nil {
		return nil, validationErr(err.Error())
	}
	if p.Email == "" || p.Password == "" {
		return nil, validationErr("Email and password are required to register.")
	}
	u, err := w.deps.Provider.Register(ctx, p.Email, p.Password)
	if err != nil {
		return nil, namedErr("AuthError", err)
	}
	return identity.StateFor(u), nil
}

func (w *Worker) handleLogoutUser(ctx context.Context, env bus.Envelope) (any, error) {
	return nil, w.deps.Provider.Logout(ctx)
}

func (w *Worker) handleGetSubscriptionStatus(ctx context.Context, env bus.Envelope) (any, error) {
	if _, err := w.ready.Wait(ctx); err != nil {
		return nil, err
	}
	u := w.currentUser()
	if u == nil {
		return nil, namedErr("NotLoggedIn", billing.ErrNotLoggedIn)
	}
	return w.readSubscription(ctx, u.UID)
}

func (w *Worker) handleCreateCheckoutSession(ctx context.Context, env bus.Envelope) (any, error) {
	var p bus.CheckoutPayload
	if err := env.Bind(&p); err != nil {
		return nil, validationErr(err.Error())
	}
	u := w.currentUser()
	url, err := w.deps.Checkout.CreateCheckoutSession(ctx, u, p.Plan)
	if err != nil {
		switch {
		case errors.Is(err, billing.ErrNotLoggedIn):
			return nil, namedErr("NotLoggedIn", err)
		case errors.Is(err, billing.ErrCheckoutTimeout):
			return nil, namedErr("CheckoutTimeout", err)
		}
		return nil, err
	}

	// Resolution means the biller issued a checkout page, not that payment
	// completed. Re-read standing so an already-settled purchase fans out;
	// anything still pending broadcasts on a later status read.
	if w.deps.Subs != nil && u != nil {
		if _, serr := w.readSubscription(ctx, u.UID); serr != nil {
			slog.Warn("subscription read after checkout failed", "uid", u.UID, "error", serr)
		}
	}
	return map[string]string{"url": url}, nil
}
