package github

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/aretw0/forkline/internal/logging"
	"github.com/aretw0/forkline/pkg/domain"
	"github.com/aretw0/forkline/pkg/ports"
)

// Connector builds one Client per identity, routed through its proxy binding.
type Connector struct {
	baseURL   string
	timeout   time.Duration
	transport *http.Transport
	logger    *slog.Logger
}

var _ ports.Connector = (*Connector)(nil)

// ConnectorOption configures a Connector.
type ConnectorOption func(*Connector)

// WithLogger sets the logger passed to every client.
func WithLogger(logger *slog.Logger) ConnectorOption {
	return func(c *Connector) {
		c.logger = logger
	}
}

// WithTransport sets the base transport cloned for every client.
func WithTransport(transport *http.Transport) ConnectorOption {
	return func(c *Connector) {
		c.transport = transport
	}
}

// NewConnector creates a Connector against baseURL.
func NewConnector(baseURL string, timeout time.Duration, opts ...ConnectorOption) *Connector {
	c := &Connector{
		baseURL:   baseURL,
		timeout:   timeout,
		transport: http.DefaultTransport.(*http.Transport),
		logger:    logging.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Connect implements ports.Connector.
func (c *Connector) Connect(identity domain.Identity, binding *domain.ProxyBinding) (ports.Remote, error) {
	transport := c.transport.Clone()
	logger := c.logger.With("identity", identity.String())
	if binding != nil {
		transport.Proxy = http.ProxyURL(binding.URL())
		logger = logger.With("proxy", binding.Address())
	}

	client, err := NewClient(Config{
		BaseURL:    c.baseURL,
		Token:      identity.Token,
		HTTPClient: &http.Client{Transport: transport, Timeout: c.timeout},
		Logger:     logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect identity %s: %w", identity.Redacted(), err)
	}
	return client, nil
}
