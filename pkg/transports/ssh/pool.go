package ssh

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"
)

// Pool shares one connected Client per host and login. Targets naming the
// same user with different passwords get separate clients.
type Pool struct {
	base   Config
	logger zerolog.Logger

	mu      sync.Mutex
	clients map[poolKey]*Client
}

type poolKey struct {
	address  string
	user     string
	auth     AuthMethod
	password string
}

// NewPool creates a pool. Clients are built from base with the host, port
// and credentials of each target.
func NewPool(base Config, logger zerolog.Logger) *Pool {
	return &Pool{
		base:    base,
		logger:  logger,
		clients: make(map[poolKey]*Client),
	}
}

// Get returns a connected client for the target, dialling on first use.
func (p *Pool) Get(ctx context.Context, t *Target) (*Client, error) {
	cfg := p.base.ForTarget(t)
	key := poolKey{address: cfg.Address(), user: cfg.User, auth: cfg.AuthMethod, password: cfg.Password}

	p.mu.Lock()
	client, ok := p.clients[key]
	if !ok {
		var err error
		client, err = NewClient(cfg, p.logger)
		if err != nil {
			p.mu.Unlock()
			return nil, &TransportError{Op: "connect", Host: cfg.Address(), Err: err}
		}
		p.clients[key] = client
	}
	p.mu.Unlock()

	if err := client.Connect(ctx); err != nil {
		return nil, err
	}
	return client, nil
}

// Close closes every pooled client.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var errs []error
	for key, client := range p.clients {
		if err := client.Close(); err != nil {
			errs = append(errs, err)
		}
		delete(p.clients, key)
	}
	return errors.Join(errs...)
}
