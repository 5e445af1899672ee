package event

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/desdobra/backend/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type testEvent struct {
	shared.BaseDomainEvent
}

func newTestEvent(eventType string) *testEvent {
	return &testEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(eventType, "TestAggregate", uuid.New(), uuid.New()),
	}
}

type recordingHandler struct {
	eventTypes []string
	err        error
	panics     bool

	mu      sync.Mutex
	handled []shared.DomainEvent
}

func (h *recordingHandler) Handle(ctx context.Context, event shared.DomainEvent) error {
	if h.panics {
		panic("handler exploded")
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handled = append(h.handled, event)
	return h.err
}

func (h *recordingHandler) EventTypes() []string {
	return h.eventTypes
}

func (h *recordingHandler) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.handled)
}

func TestInMemoryEventBus_Publish(t *testing.T) {
	bus := NewInMemoryEventBus(zap.NewNop())
	handler := &recordingHandler{eventTypes: []string{"fiscal.emission.status_changed"}}
	bus.Subscribe(handler)

	err := bus.Publish(context.Background(), newTestEvent("fiscal.emission.status_changed"))

	require.NoError(t, err)
	assert.Equal(t, 1, handler.count())
}

func TestInMemoryEventBus_Publish_OnlyMatchingHandlers(t *testing.T) {
	bus := NewInMemoryEventBus(zap.NewNop())
	matching := &recordingHandler{eventTypes: []string{"a"}}
	other := &recordingHandler{eventTypes: []string{"b"}}
	bus.Subscribe(matching)
	bus.Subscribe(other)

	require.NoError(t, bus.Publish(context.Background(), newTestEvent("a")))

	assert.Equal(t, 1, matching.count())
	assert.Equal(t, 0, other.count())
}

func TestInMemoryEventBus_Publish_WildcardHandler(t *testing.T) {
	bus := NewInMemoryEventBus(zap.NewNop())
	wildcardHandler := &recordingHandler{}
	bus.Subscribe(wildcardHandler)

	require.NoError(t, bus.Publish(context.Background(), newTestEvent("anything.at.all")))

	assert.Equal(t, 1, wildcardHandler.count())
}

func TestInMemoryEventBus_Publish_FailingHandlerDoesNotBlockOthers(t *testing.T) {
	bus := NewInMemoryEventBus(zap.NewNop())
	failing := &recordingHandler{eventTypes: []string{"a"}, err: errors.New("nope")}
	healthy := &recordingHandler{eventTypes: []string{"a"}}
	bus.Subscribe(failing)
	bus.Subscribe(healthy)

	err := bus.Publish(context.Background(), newTestEvent("a"))

	require.NoError(t, err)
	assert.Equal(t, 1, failing.count())
	assert.Equal(t, 1, healthy.count())
}

func TestInMemoryEventBus_Publish_PanickingHandlerIsIsolated(t *testing.T) {
	bus := NewInMemoryEventBus(zap.NewNop())
	panicking := &recordingHandler{eventTypes: []string{"a"}, panics: true}
	healthy := &recordingHandler{eventTypes: []string{"a"}}
	bus.Subscribe(panicking)
	bus.Subscribe(healthy)

	err := bus.Publish(context.Background(), newTestEvent("a"))

	require.NoError(t, err)
	assert.Equal(t, 1, healthy.count())
}

func TestInMemoryEventBus_Unsubscribe(t *testing.T) {
	bus := NewInMemoryEventBus(zap.NewNop())
	handler := &recordingHandler{eventTypes: []string{"a"}}
	bus.Subscribe(handler)

	require.NoError(t, bus.Publish(context.Background(), newTestEvent("a")))
	assert.Equal(t, 1, handler.count())

	bus.Unsubscribe(handler)

	require.NoError(t, bus.Publish(context.Background(), newTestEvent("a")))
	assert.Equal(t, 1, handler.count())
}
