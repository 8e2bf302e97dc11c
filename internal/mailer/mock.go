package mailer

import (
	"context"
	"fmt"
	"math/rand"

	"github.com/google/uuid"
)

// MockTransport simulates a mail provider for dev and seeding. SuccessRate of
// 1.0 always delivers; 0 always bounces.
type MockTransport struct {
	SuccessRate float64
	Sent        []OutgoingEmail
}

func NewMockTransport() *MockTransport {
	return &MockTransport{SuccessRate: 0.9}
}

func (m *MockTransport) Send(ctx context.Context, msg OutgoingEmail) (*SendResult, error) {
	if rand.Float64() >= m.SuccessRate {
		return nil, fmt.Errorf("mock sending failed")
	}
	m.Sent = append(m.Sent, msg)
	return &SendResult{ProviderID: "mock-" + uuid.New().String()}, nil
}

var _ Transport = (*MockTransport)(nil)
