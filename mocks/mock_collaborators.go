package mocks

import (
	"context"
	"sync"

	campaign "github.com/jakekausler/campaign-manager-sub010"
)

// MockMembership answers authorization checks from a fixed map; users not in
// the map get the Default answer.
type MockMembership struct {
	mu      sync.Mutex
	allowed map[string]bool
	Default bool
}

func NewMockMembership(defaultAllow bool) *MockMembership {
	return &MockMembership{allowed: make(map[string]bool), Default: defaultAllow}
}

// Allow sets the answer for one user ID.
func (m *MockMembership) Allow(userID string, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.allowed[userID] = ok
}

func (m *MockMembership) CanEdit(ctx context.Context, user campaign.AuthenticatedUser, campaignID campaign.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ok, found := m.allowed[user.ID]; found {
		return ok, nil
	}
	return m.Default, nil
}

// MockAudit records audit entries for assertions.
type MockAudit struct {
	mu      sync.Mutex
	entries []campaign.AuditEntry
}

func NewMockAudit() *MockAudit {
	return &MockAudit{}
}

func (m *MockAudit) Log(ctx context.Context, entry campaign.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entry)
	return nil
}

func (m *MockAudit) Entries() []campaign.AuditEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]campaign.AuditEntry(nil), m.entries...)
}

// PublishedMessage is one recorded Publish call.
type PublishedMessage struct {
	Topic   string
	Payload any
}

// MockPublisher records published messages for assertions.
type MockPublisher struct {
	mu       sync.Mutex
	messages []PublishedMessage
}

func NewMockPublisher() *MockPublisher {
	return &MockPublisher{}
}

func (m *MockPublisher) Publish(ctx context.Context, topic string, payload any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, PublishedMessage{Topic: topic, Payload: payload})
	return nil
}

func (m *MockPublisher) Messages() []PublishedMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]PublishedMessage(nil), m.messages...)
}
