// Package registry owns adapter lifecycle: one constructed adapter per
// configured venue, built on first use and reused until Close.
package registry

import (
	"context"
	"sync"
	"time"

	"broker-gateway/internal/broker"
	"broker-gateway/internal/broker/alpaca"
	"broker-gateway/internal/broker/brokerobs"
	"broker-gateway/internal/broker/metatrader"
	"broker-gateway/internal/broker/oanda"
	"broker-gateway/internal/broker/symbols"
	"broker-gateway/internal/broker/tradier"
	"broker-gateway/internal/config"
	"broker-gateway/internal/interfaces"
)

type Registry struct {
	defaultVenue string
	venues       map[string]config.Venue

	mu      sync.Mutex
	brokers map[string]interfaces.Broker
	closed  bool
}

// New builds a registry from validated configuration. Adapters are not
// dialled here; construction is deferred to the first Get for each venue.
func New(cfg config.Config) *Registry {
	venues := make(map[string]config.Venue, len(cfg.Venues))
	for _, v := range cfg.Venues {
		venues[v.Name] = v
	}
	return &Registry{
		defaultVenue: cfg.DefaultVenue,
		venues:       venues,
		brokers:      make(map[string]interfaces.Broker),
	}
}

// Get returns the venue's broker, constructing and caching it on first use.
// Unknown venue names come back as UnsupportedVenueError.
func (r *Registry) Get(ctx context.Context, venue string) (interfaces.Broker, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, &broker.TransportError{Venue: venue, Op: "get", Err: errRegistryClosed}
	}
	if b, ok := r.brokers[venue]; ok {
		return b, nil
	}
	cfg, ok := r.venues[venue]
	if !ok {
		return nil, &broker.UnsupportedVenueError{Venue: venue}
	}
	b, err := r.build(ctx, cfg)
	if err != nil {
		return nil, err
	}
	b = brokerobs.Wrap(b)
	r.brokers[venue] = b
	return b, nil
}

// Default returns the broker for the configured default venue.
func (r *Registry) Default(ctx context.Context) (interfaces.Broker, error) {
	return r.Get(ctx, r.defaultVenue)
}

// Venues lists the configured venue names.
func (r *Registry) Venues() []string {
	names := make([]string, 0, len(r.venues))
	for name := range r.venues {
		names = append(names, name)
	}
	return names
}

func (r *Registry) build(ctx context.Context, v config.Venue) (interfaces.Broker, error) {
	timeout := time.Duration(v.TimeoutSeconds) * time.Second
	switch v.Name {
	case symbols.VenueAlpaca:
		return alpaca.New(alpaca.Params{
			APIKey:    v.APIKey,
			APISecret: v.APISecret,
			Live:      v.Live,
			Timeout:   timeout,
		}), nil
	case symbols.VenueTradier:
		return tradier.New(tradier.Params{
			APIKey:    v.APIKey,
			AccountID: v.AccountID,
			Live:      v.Live,
			Timeout:   timeout,
		}), nil
	case symbols.VenueOANDA:
		return oanda.New(oanda.Params{
			APIKey:    v.APIKey,
			AccountID: v.AccountID,
			Live:      v.Live,
			Timeout:   timeout,
		}), nil
	case symbols.VenueMetaTrader:
		return metatrader.New(ctx, metatrader.Params{
			Transport: v.Bridge.Transport,
			Host:      v.Bridge.Host,
			Port:      v.Bridge.Port,
			Timeout:   timeout,
		})
	default:
		return nil, &broker.UnsupportedVenueError{Venue: v.Name}
	}
}

// Close finalizes every constructed adapter. The first error wins; the rest
// still get closed.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.closed = true
	var first error
	for name, b := range r.brokers {
		if err := b.Close(); err != nil && first == nil {
			first = err
		}
		delete(r.brokers, name)
	}
	return first
}

var errRegistryClosed = &closedError{}

type closedError struct{}

func (*closedError) Error() string { return "registry closed" }
