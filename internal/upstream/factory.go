package upstream

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/ehr/pmsync/internal/domain/practice"
)

// Factory builds one Client per practice and keeps it for reuse so the
// practice's token cache survives across runs. A changed credential or
// environment yields a fresh Client.
type Factory struct {
	base          Options
	sandboxURL    string
	productionURL string

	mu      sync.Mutex
	clients map[uuid.UUID]*cachedClient
}

type cachedClient struct {
	fingerprint string
	client      *Client
}

// NewFactory returns a Factory whose clients inherit base (retry, timeout,
// logging, metrics) and select the base URL by practice environment.
func NewFactory(base Options, sandboxURL, productionURL string) *Factory {
	return &Factory{
		base:          base,
		sandboxURL:    sandboxURL,
		productionURL: productionURL,
		clients:       make(map[uuid.UUID]*cachedClient),
	}
}

// ForPractice returns the Client for p.
func (f *Factory) ForPractice(p *practice.Practice) (*Client, error) {
	if !p.Configured() {
		return nil, fmt.Errorf("practice %s is not configured for upstream access", p.ID)
	}
	baseURL := f.sandboxURL
	if p.Environment == practice.EnvProduction {
		baseURL = f.productionURL
	}
	fp := baseURL + "|" + p.Subdomain + "|" + p.LocationID + "|" + p.APIKey

	f.mu.Lock()
	defer f.mu.Unlock()
	if cached, ok := f.clients[p.ID]; ok && cached.fingerprint == fp {
		return cached.client, nil
	}

	opts := f.base
	opts.BaseURL = baseURL
	opts.APIKey = p.APIKey
	opts.Subdomain = p.Subdomain
	opts.LocationID = p.LocationID
	opts.Logger = f.base.Logger.With().Str("practice_id", p.ID.String()).Logger()
	c, err := New(opts)
	if err != nil {
		return nil, err
	}
	f.clients[p.ID] = &cachedClient{fingerprint: fp, client: c}
	return c, nil
}
