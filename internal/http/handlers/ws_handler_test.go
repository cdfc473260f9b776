package handlers

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/marketplace-escrow/backend/internal/config"
	"github.com/marketplace-escrow/backend/internal/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"
)

type mockSubscriber struct {
	mock.Mock
}

func (m *mockSubscriber) Subscribe(ctx context.Context, stream string, handler func(events.Event)) error {
	return m.Called(ctx, stream, handler).Error(0)
}

func TestWSHubSubscribesToTransactionChannel(t *testing.T) {
	sub := &mockSubscriber{}
	sub.On("Subscribe", mock.Anything, events.Channel, mock.Anything).Return(nil)

	hub := NewWSHub(&config.Config{}, sub, zap.NewNop())
	assert.NoError(t, hub.Start(context.Background()))
	sub.AssertExpectations(t)
}

func TestWSHubRegistry(t *testing.T) {
	hub := NewWSHub(&config.Config{}, &mockSubscriber{}, zap.NewNop())
	user := uuid.New()
	a, b := &wsConn{}, &wsConn{}

	hub.register(user, a)
	hub.register(user, b)
	assert.Equal(t, 2, hub.Connected(user))

	hub.unregister(user, a)
	assert.Equal(t, 1, hub.Connected(user))
	hub.unregister(user, b)
	assert.Zero(t, hub.Connected(user))

	// No sockets: routing is a no-op.
	hub.route(events.Event{Type: events.EventDisputeOpened, Recipients: []uuid.UUID{user}})
}
