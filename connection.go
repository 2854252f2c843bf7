package queueflow

import (
	"context"
	"sync"
)

// connProvider guards lazy creation of the shared broker connection so that
// concurrent first triggers cannot race to create two connections. After
// reset, the next get creates a fresh connection.
type connProvider struct {
	mu      sync.Mutex
	factory BrokerFactory
	broker  Broker
}

func newConnProvider(factory BrokerFactory) *connProvider {
	return &connProvider{factory: factory}
}

// get returns the shared broker, creating it on first use. A factory failure
// leaves the provider empty so a later call may retry.
func (p *connProvider) get(ctx context.Context) (Broker, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.broker != nil {
		return p.broker, nil
	}

	b, err := p.factory(ctx)
	if err != nil {
		return nil, err
	}
	p.broker = b
	return b, nil
}

// reset closes and forgets the shared broker. Safe to call when no connection
// was ever created.
func (p *connProvider) reset() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.broker == nil {
		return nil
	}
	err := p.broker.Close()
	p.broker = nil
	return err
}
