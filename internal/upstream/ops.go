package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
)

// Conversation is the subset of the upstream conversation resource the
// worker inspects. Everything else passes through as raw JSON.
type Conversation struct {
	Title       string          `json:"title"`
	CurrentNode string          `json:"current_node"`
	Mapping     map[string]Node `json:"mapping"`
}

type Node struct {
	ID       string   `json:"id"`
	Parent   string   `json:"parent"`
	Children []string `json:"children"`
	Message  *Message `json:"message"`
}

type Message struct {
	ID     string `json:"id"`
	Author struct {
		Role string `json:"role"`
	} `json:"author"`
	Content struct {
		ContentType string            `json:"content_type"`
		Parts       []json.RawMessage `json:"parts"`
	} `json:"content"`
	CreateTime float64 `json:"create_time"`
}

func (c *Client) ListConversations(ctx context.Context, offset, limit int) (json.RawMessage, error) {
	q := url.Values{}
	q.Set("offset", strconv.Itoa(offset))
	q.Set("limit", strconv.Itoa(limit))
	return c.doJSON(ctx, "listConversations", "GET", "/conversations?"+q.Encode(), nil)
}

func (c *Client) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	data, err := c.doJSON(ctx, "getConversation", "GET", "/conversation/"+url.PathEscape(id), nil)
	if err != nil {
		return nil, err
	}
	var conv Conversation
	if err := json.Unmarshal(data, &conv); err != nil {
		return nil, &ParseError{cause: fmt.Errorf("decode conversation: %w", err)}
	}
	return &conv, nil
}

// DeleteConversation hides the conversation, which is how the upstream
// models deletion.
func (c *Client) DeleteConversation(ctx context.Context, id string) error {
	_, err := c.doJSON(ctx, "deleteConversation", "PATCH", "/conversation/"+url.PathEscape(id), map[string]any{"is_visible": false})
	return err
}

func (c *Client) ShareConversation(ctx context.Context, id string) (json.RawMessage, error) {
	return c.doJSON(ctx, "shareConversation", "POST", "/share/create", map[string]any{
		"conversation_id": id,
		"is_anonymous":    true,
	})
}

func (c *Client) ArchiveConversation(ctx context.Context, id string) error {
	_, err := c.doJSON(ctx, "archiveConversation", "PATCH", "/conversation/"+url.PathEscape(id), map[string]any{"is_archived": true})
	return err
}

func (c *Client) RenameConversation(ctx context.Context, id, title string) error {
	_, err := c.doJSON(ctx, "renameConversation", "PATCH", "/conversation/"+url.PathEscape(id), map[string]any{"title": title})
	return err
}

func (c *Client) GenerateAutocompletions(ctx context.Context, text string, count int) (json.RawMessage, error) {
	return c.doJSON(ctx, "generateAutocompletions", "POST", "/completions", map[string]any{
		"text":  text,
		"count": count,
	})
}

func (c *Client) SendCopyFeedback(ctx context.Context, conversationID, messageID, content string) error {
	_, err := c.doJSON(ctx, "sendCopyFeedback", "POST", "/conversation/message_feedback", map[string]any{
		"conversation_id": conversationID,
		"message_id":      messageID,
		"content":         content,
	})
	return err
}

// FetchAudio returns synthesized speech for one message as raw bytes.
func (c *Client) FetchAudio(ctx context.Context, conversationID, messageID, voice, format string) ([]byte, error) {
	q := url.Values{}
	q.Set("conversation_id", conversationID)
	q.Set("message_id", messageID)
	if voice != "" {
		q.Set("voice", voice)
	}
	if format != "" {
		q.Set("format", format)
	}
	return c.doBinary(ctx, "fetchAudio", "GET", "/synthesize?"+q.Encode())
}

func (c *Client) MarkThumbs(ctx context.Context, conversationID, messageID, rating string) error {
	_, err := c.doJSON(ctx, "markThumbs", "POST", "/conversation/message_feedback", map[string]any{
		"conversation_id": conversationID,
		"message_id":      messageID,
		"rating":          rating,
	})
	return err
}
