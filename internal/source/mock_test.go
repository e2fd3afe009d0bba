package source

import (
	"context"
	"sync"
	"time"

	"github.com/partsledger/partsledger/pkg/anthropic"
)

// mockTokenStore is an in-memory TokenStore.
type mockTokenStore struct {
	mu      sync.Mutex
	tokens  map[string]*OAuthToken
	getErr  error
	putErr  error
	upserts int
}

func newMockTokenStore() *mockTokenStore {
	return &mockTokenStore{tokens: map[string]*OAuthToken{}}
}

func (s *mockTokenStore) GetToken(_ context.Context, supplier string) (*OAuthToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return nil, s.getErr
	}
	return s.tokens[supplier], nil
}

func (s *mockTokenStore) UpsertToken(_ context.Context, token OAuthToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upserts++
	if s.putErr != nil {
		return s.putErr
	}
	t := token
	s.tokens[token.Supplier] = &t
	return nil
}

// mockAnthropic is a scriptable anthropic.Client.
type mockAnthropic struct {
	response *anthropic.MessageResponse
	err      error
	lastReq  anthropic.MessageRequest
	calls    int
}

func (m *mockAnthropic) CreateMessage(_ context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	m.calls++
	m.lastReq = req
	if m.err != nil {
		return nil, m.err
	}
	return m.response, nil
}

func textResponse(text string) *anthropic.MessageResponse {
	return &anthropic.MessageResponse{
		Content: []anthropic.ContentBlock{{Type: "text", Text: text}},
	}
}

func fixedNow() time.Time {
	return time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)
}
