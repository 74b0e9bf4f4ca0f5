package anthropic

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// MockClient implements Client for tests in this and dependent packages.
type MockClient struct {
	mock.Mock
}

var _ Client = (*MockClient)(nil)

func (m *MockClient) CreateMessage(ctx context.Context, req MessageRequest) (*MessageResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*MessageResponse), args.Error(1)
}
