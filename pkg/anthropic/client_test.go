package anthropic

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestMessageResponse_Text(t *testing.T) {
	resp := &MessageResponse{
		Content: []ContentBlock{
			{Type: "text", Text: "During the reporting period, "},
			{Type: "thinking", Text: "ignored"},
			{Type: "text", Text: "12 complaints were received."},
		},
	}
	assert.Equal(t, "During the reporting period, 12 complaints were received.", resp.Text())
}

func TestTokenUsage_EstimateCost(t *testing.T) {
	u := TokenUsage{
		InputTokens:  1_000_000,
		OutputTokens: 100_000,
	}
	cost := u.EstimateCost("claude-sonnet-4-5-20250929")
	assert.InDelta(t, 3.00+1.50, cost, 1e-9)

	assert.Zero(t, TokenUsage{InputTokens: 500}.EstimateCost("unknown-model"))
}

func TestTokenUsage_EstimateCost_CacheTokens(t *testing.T) {
	u := TokenUsage{
		CacheCreationInputTokens: 1_000_000,
		CacheReadInputTokens:     1_000_000,
	}
	cost := u.EstimateCost("claude-haiku-4-5-20251001")
	// Cache writes cost 1.25x input, reads 0.1x input.
	assert.InDelta(t, 0.80*1.25+0.80*0.1, cost, 1e-9)
}

func TestMockClient(t *testing.T) {
	m := &MockClient{}
	m.On("CreateMessage", mock.Anything, mock.Anything).Return(&MessageResponse{
		ID:         "msg-1",
		StopReason: "end_turn",
	}, nil)

	resp, err := m.CreateMessage(context.Background(), MessageRequest{Model: "claude-sonnet-4-5-20250929"})
	require.NoError(t, err)
	assert.Equal(t, "msg-1", resp.ID)
	m.AssertExpectations(t)
}
