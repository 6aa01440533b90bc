package messenger

import (
	"context"
	"sync"

	"github.com/af-corp/chatrelay/internal/bus"
)

// DeleteConversation deletes one conversation. An empty id is rejected here,
// before any envelope is built; nothing crosses the bus for it.
func (c *Client) DeleteConversation(ctx context.Context, id string) error {
	if id == "" {
		return &bus.OpError{Name: "ValidationError", Message: "Conversation ID is required to delete."}
	}
	_, err := c.Send(ctx, bus.TypeDeleteConversation, bus.ConversationPayload{ConversationID: id})
	return err
}

// DeleteReport aggregates the outcome of a bulk delete. Individual failures
// never abort the remaining deletions.
type DeleteReport struct {
	SuccessCount int      `json:"successCount"`
	FailureCount int      `json:"failureCount"`
	Failed       []string `json:"failed,omitempty"`
}

// BulkDeleteConversations issues one independent delete per id, all in
// flight concurrently, and joins when every one has completed. IDs that fail
// validation client-side are counted as failures without touching the bus.
func (c *Client) BulkDeleteConversations(ctx context.Context, ids []string) DeleteReport {
	results := make([]error, len(ids))
	var wg sync.WaitGroup
	for i, id := range ids {
		if id == "" {
			results[i] = c.DeleteConversation(ctx, id)
			continue
		}
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			results[i] = c.DeleteConversation(ctx, id)
		}(i, id)
	}
	wg.Wait()

	var report DeleteReport
	for i, err := range results {
		if err != nil {
			report.FailureCount++
			report.Failed = append(report.Failed, ids[i])
			continue
		}
		report.SuccessCount++
	}
	return report
}
