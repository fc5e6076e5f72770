package wompi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/gitshopapp/checkout/internal/observability"
)

const (
	SandboxBaseURL    = "https://sandbox.wompi.co/v1"
	ProductionBaseURL = "https://production.wompi.co/v1"

	defaultTimeout  = 15 * time.Second
	maxResponseSize = 1 << 20
)

var ErrTransactionNotFound = errors.New("wompi: transaction not found")

// BaseURLFor maps WOMPI_ENV to the API base URL. Anything but "production" is sandbox.
func BaseURLFor(env string) string {
	if strings.EqualFold(strings.TrimSpace(env), "production") {
		return ProductionBaseURL
	}
	return SandboxBaseURL
}

type ClientConfig struct {
	BaseURL    string
	PrivateKey string
	Timeout    time.Duration
	// Transport overrides the traced default transport, mainly for tests.
	Transport http.RoundTripper
}

// Client fetches transactions from the Wompi query API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(cfg ClientConfig) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("wompi base URL is required")
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("invalid wompi base URL: %w", err)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	transport := cfg.Transport
	if transport == nil {
		transport = observability.WrapRoundTripper(http.DefaultTransport)
	}

	var httpClient *http.Client
	if key := strings.TrimSpace(cfg.PrivateKey); key != "" {
		ctx := context.WithValue(context.Background(), oauth2.HTTPClient, &http.Client{Transport: transport})
		httpClient = oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{
			AccessToken: key,
			TokenType:   "Bearer",
		}))
	} else {
		httpClient = &http.Client{Transport: transport}
	}
	httpClient.Timeout = timeout

	return &Client{baseURL: baseURL, httpClient: httpClient}, nil
}

// GetTransaction fetches GET {base}/transactions/{id}. The caller's context bounds the call
// together with the client timeout.
func (c *Client) GetTransaction(ctx context.Context, id string) (*Transaction, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("transaction id is required")
	}

	endpoint := c.baseURL + "/transactions/" + url.PathEscape(id)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build transaction request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch transaction %s: %w", id, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read transaction %s: %w", id, err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrTransactionNotFound, id)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, fmt.Errorf("wompi returned status %d for transaction %s", resp.StatusCode, id)
	}

	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("failed to decode transaction %s: %w", id, err)
	}
	if len(envelope.Data) == 0 || string(envelope.Data) == "null" {
		return nil, fmt.Errorf("%w: %s", ErrTransactionNotFound, id)
	}

	txn, err := decodeTransaction(envelope.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode transaction %s: %w", id, err)
	}
	if txn.ID == "" {
		return nil, fmt.Errorf("wompi returned transaction without id for %s", id)
	}
	return txn, nil
}
