// Package rte fetches actual generation per unit from the RTE open API.
package rte

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/02loveslollipop/rte-generation-watcher/services/watcher/internal/config"
	"github.com/02loveslollipop/rte-generation-watcher/services/watcher/internal/models"
)

// ErrUnexpectedStatus is wrapped into errors for non-2xx API responses.
var ErrUnexpectedStatus = errors.New("unexpected status")

// dateLayout is RFC 3339 with a numeric offset; the API rejects "Z".
const dateLayout = "2006-01-02T15:04:05-07:00"

// NewHTTPClient returns a client that authenticates with OAuth2 client
// credentials sent in the Authorization header. Tokens are cached and
// refreshed by the transport.
func NewHTTPClient(ctx context.Context, cfg config.RTEConfig) *http.Client {
	cc := clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     cfg.TokenURL,
		AuthStyle:    oauth2.AuthStyleInHeader,
	}
	base := &http.Client{Timeout: cfg.RequestTimeout}
	client := cc.Client(context.WithValue(ctx, oauth2.HTTPClient, base))
	client.Timeout = cfg.RequestTimeout
	return client
}

// Client fetches generation windows from one API endpoint.
type Client struct {
	http   *http.Client
	apiURL string
}

// NewClient builds an authenticated client for cfg.
func NewClient(ctx context.Context, cfg config.RTEConfig) *Client {
	return &Client{http: NewHTTPClient(ctx, cfg), apiURL: cfg.APIURL}
}

// Fetch retrieves the generation series for the window.
func (c *Client) Fetch(ctx context.Context, w models.Window) (Payload, error) {
	return FetchGenerations(ctx, c.http, c.apiURL, w)
}

// Payload is a decoded response together with the raw body it came from.
type Payload struct {
	Response models.GenerationResponse
	Raw      []byte
}

// FetchGenerations retrieves the generation series for the window.
func FetchGenerations(ctx context.Context, client *http.Client, apiURL string, w models.Window) (Payload, error) {
	endpoint, err := WindowURL(apiURL, w)
	if err != nil {
		return Payload{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Payload{}, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return Payload{}, fmt.Errorf("request generation feed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Payload{}, fmt.Errorf("read payload: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Payload{}, fmt.Errorf("%w %s: %s", ErrUnexpectedStatus, resp.Status, truncate(body, 256))
	}

	var payload models.GenerationResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return Payload{}, fmt.Errorf("decode payload: %w", err)
	}

	return Payload{Response: payload, Raw: body}, nil
}

// WindowURL adds the start_date/end_date query parameters to apiURL.
func WindowURL(apiURL string, w models.Window) (string, error) {
	u, err := url.Parse(apiURL)
	if err != nil {
		return "", fmt.Errorf("parse api url: %w", err)
	}
	q := u.Query()
	q.Set("start_date", FormatDate(w.Start))
	q.Set("end_date", FormatDate(w.End))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// FormatDate renders t in UTC with an explicit +00:00 offset.
func FormatDate(t time.Time) string {
	return t.UTC().Format(dateLayout)
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
