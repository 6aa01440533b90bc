package bus

import "encoding/json"

// Payload shapes for the closed operation set. Field names are part of the
// wire contract shared with the UI surfaces and must stay JSON-stable.

type ConversationPayload struct {
	ConversationID string `json:"conversationId"`
}

type RenameConversationPayload struct {
	ConversationID string `json:"conversationId"`
	Title          string `json:"title"`
}

type FetchConversationsPayload struct {
	Offset int `json:"offset"`
	Limit  int `json:"limit"`
}

type AutocompletionsPayload struct {
	Text  string `json:"text"`
	Count int    `json:"count"`
}

type FeedbackPayload struct {
	ConversationID string `json:"conversationId"`
	MessageID      string `json:"messageId"`
	Content        string `json:"content"`
}

type AudioPayload struct {
	ConversationID string `json:"conversationId"`
	MessageID      string `json:"messageId"`
	Voice          string `json:"voice"`
	Format         string `json:"format"`
}

type ThumbsPayload struct {
	ConversationID string `json:"conversationId"`
	MessageID      string `json:"messageId"`
}

type CredentialsPayload struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type CheckoutPayload struct {
	Plan string `json:"plan"`
}

// HeadersPayload carries the full accumulated captured-header map.
type HeadersPayload map[string]string

type AuthTokenPayload struct {
	AccessToken string `json:"accessToken"`
}

type AccountsPayload struct {
	Accounts json.RawMessage `json:"accounts"`
}

type ConversationLimitPayload struct {
	MessageCap json.RawMessage `json:"message_cap"`
}

type ModelsPayload struct {
	Models json.RawMessage `json:"models"`
}
