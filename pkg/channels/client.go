// Package channels is a client for the channel-type service that owns partner
// channel types and their default commission rates.
package channels

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// ErrNotFound is returned when the channel type does not exist
var ErrNotFound = errors.New("channel type not found")

// ChannelType is a partner channel type. CommissionRate is nil when the
// service does not report one.
type ChannelType struct {
	ID             string
	Name           string
	CommissionRate *float64
}

// Client fetches channel types
type Client interface {
	GetChannelType(ctx context.Context, id string) (*ChannelType, error)
}

// HTTPClient implements Client over the service's REST API
type HTTPClient struct {
	baseURL    string
	httpClient *http.Client
	log        logrus.FieldLogger
}

// NewHTTPClient creates a channel-type client
func NewHTTPClient(baseURL string, timeout time.Duration, log logrus.FieldLogger) *HTTPClient {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if log == nil {
		log = logrus.New()
	}
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
			Timeout:   timeout,
		},
		log: log,
	}
}

// flexString decodes a JSON string or number into its textual form
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*f = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("expected string or number, got %s", string(data))
	}
	*f = flexString(n.String())
	return nil
}

type channelTypeResponse struct {
	ID             flexString `json:"id"`
	Name           string     `json:"name"`
	CommissionRate flexString `json:"commissionRate"`
}

// GetChannelType fetches one channel type by id
func (c *HTTPClient) GetChannelType(ctx context.Context, id string) (*ChannelType, error) {
	u := c.baseURL + "/channel-types/" + url.PathEscape(id)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("channel type request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("channel type %s: %w", id, ErrNotFound)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("channel type request failed with status %d: %s", resp.StatusCode, string(body))
	}

	var body channelTypeResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to decode channel type: %w", err)
	}

	ct := &ChannelType{ID: string(body.ID), Name: body.Name}
	if body.CommissionRate != "" {
		rate, err := strconv.ParseFloat(string(body.CommissionRate), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid commission rate %q: %w", body.CommissionRate, err)
		}
		ct.CommissionRate = &rate
	}
	if ct.ID == "" {
		ct.ID = id
	}

	c.log.WithField("channel_type_id", ct.ID).Debug("fetched channel type")
	return ct, nil
}
