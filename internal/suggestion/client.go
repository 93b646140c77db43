package suggestion

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

	"github.com/weiawesome/wes-io-messenger/internal/domain"
	"github.com/weiawesome/wes-io-messenger/pkg/log"
)

const (
	lookupPath     = "/chat-suggestions/id"
	defaultTimeout = 3 * time.Second
	maxBodyBytes   = 64 << 10
)

// Reply is an auto-reply returned by the suggestion service.
type Reply struct {
	Reply string `json:"reply"`
	Type  string `json:"type"`
}

// Lookup resolves a suggestion id to an auto-reply. A nil reply with a nil
// error means no suggestion exists for the id.
type Lookup interface {
	Lookup(ctx context.Context, suggestionID string) (*Reply, error)
}

// Client calls the suggestion HTTP API.
type Client struct {
	baseURL string
	timeout time.Duration
	http    *http.Client
}

// NewClient returns a client for baseURL. Requests are bounded by timeout.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		timeout: timeout,
		http:    &http.Client{Timeout: timeout},
	}
}

// Lookup fetches the reply for suggestionID. 404 and an empty reply are
// reported as absent. Any other failure wraps domain.ErrExternalService.
func (c *Client) Lookup(ctx context.Context, suggestionID string) (*Reply, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	endpoint := c.baseURL + lookupPath + "?" + url.Values{"id": {suggestionID}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrExternalService, err)
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrExternalService, err)
	}
	defer resp.Body.Close()

	l := log.Ctx(ctx)
	l.Debug().
		Str("suggestion_id", suggestionID).
		Int(log.FieldStatus, resp.StatusCode).
		Dur(log.FieldLatency, time.Since(start)).
		Msg("suggestion lookup")

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: suggestion service returned %d", domain.ErrExternalService, resp.StatusCode)
	}

	var reply Reply
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(&reply); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: decode reply: %w", domain.ErrExternalService, err)
	}
	if strings.TrimSpace(reply.Reply) == "" {
		return nil, nil
	}
	return &reply, nil
}

// Disabled never returns a suggestion. It is used when no base URL is configured.
type Disabled struct{}

func (Disabled) Lookup(context.Context, string) (*Reply, error) { return nil, nil }

// New returns a Client, or Disabled when baseURL is empty.
func New(baseURL string, timeout time.Duration) Lookup {
	if strings.TrimSpace(baseURL) == "" {
		return Disabled{}
	}
	return NewClient(baseURL, timeout)
}
