package notify

import (
	"context"
	"log/slog"
	"sync"

	"forumlinkbot/pkg/forumlink"
)

// MockProvider is a mock notification provider for local development.
// It records what it would have sent.
type MockProvider struct {
	logger *slog.Logger

	mu   sync.Mutex
	sent []Delivery
}

// Delivery is one notification captured by MockProvider.
type Delivery struct {
	ChannelID    forumlink.ID
	Notification *forumlink.Notification
}

// NewMockProvider creates a new mock provider.
func NewMockProvider(logger *slog.Logger) *MockProvider {
	return &MockProvider{
		logger: logger,
	}
}

// Send logs the notification instead of sending it.
func (m *MockProvider) Send(ctx context.Context, channelID forumlink.ID, n *forumlink.Notification) error {
	m.logger.Info("MOCK NOTIFICATION",
		"channel", channelID,
		"title", n.Title,
		"content", n.Content,
		"description_length", len(n.Description))

	m.mu.Lock()
	m.sent = append(m.sent, Delivery{ChannelID: channelID, Notification: n})
	m.mu.Unlock()
	return nil
}

// Sent returns the notifications captured so far.
func (m *MockProvider) Sent() []Delivery {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Delivery(nil), m.sent...)
}
