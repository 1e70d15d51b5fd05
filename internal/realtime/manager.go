package realtime

import (
	"context"
	"sync"
)

// Manager owns the open subscriptions of one session, keyed by topic.
// Callers hold the handle it returns instead of a package-level channel
// variable, and release it through Close.
type Manager struct {
	svc Service

	mu   sync.Mutex
	open map[string]Subscription
}

// NewManager creates a connection manager on top of a topic service.
func NewManager(svc Service) *Manager {
	return &Manager{
		svc:  svc,
		open: make(map[string]Subscription),
	}
}

// Open subscribes to the topic. An existing subscription for the same topic
// is torn down first, so at most one is live per topic per manager.
func (m *Manager) Open(ctx context.Context, topic, key string) (Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if prev, ok := m.open[topic]; ok {
		_ = prev.Close()
		delete(m.open, topic)
	}

	sub, err := m.svc.Subscribe(ctx, topic, key)
	if err != nil {
		return nil, err
	}
	m.open[topic] = sub
	return sub, nil
}

// Close releases the subscription for the topic. Closing an unknown topic is
// a no-op.
func (m *Manager) Close(topic string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sub, ok := m.open[topic]
	if !ok {
		return nil
	}
	delete(m.open, topic)
	return sub.Close()
}

// CloseAll releases every open subscription.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for topic, sub := range m.open {
		_ = sub.Close()
		delete(m.open, topic)
	}
}
