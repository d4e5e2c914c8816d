// Package geo resolves a network address to coarse location. Lookups are
// best-effort and timeout-bounded; any failure yields nil, never an error
// the caller must handle on its critical path.
package geo

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/tfchat/server/internal/model"
)

// Lookup resolves an IP address to an optional location.
type Lookup interface {
	Lookup(ctx context.Context, ip string) *model.GeoLocation
}

// IPAPIClient queries an ip-api.com style JSON endpoint.
type IPAPIClient struct {
	Endpoint   string
	HTTPClient *http.Client
}

// NewIPAPIClient creates a lookup client against the given endpoint base,
// e.g. "http://ip-api.com/json".
func NewIPAPIClient(endpoint string) *IPAPIClient {
	return &IPAPIClient{
		Endpoint:   endpoint,
		HTTPClient: &http.Client{Timeout: 3 * time.Second},
	}
}

type ipapiResponse struct {
	Status     string  `json:"status"`
	Country    string  `json:"country"`
	RegionName string  `json:"regionName"`
	City       string  `json:"city"`
	Lat        float64 `json:"lat"`
	Lon        float64 `json:"lon"`
}

func (c *IPAPIClient) Lookup(ctx context.Context, ip string) *model.GeoLocation {
	host := ip
	if h, _, err := net.SplitHostPort(ip); err == nil {
		host = h
	}
	if host == "" {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/%s", c.Endpoint, host), nil)
	if err != nil {
		return nil
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil
	}
	defer resp.Body.Close()

	var body ipapiResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil
	}
	if body.Status != "" && body.Status != "success" {
		return nil
	}
	return &model.GeoLocation{
		Country: body.Country,
		Region:  body.RegionName,
		City:    body.City,
		Lat:     body.Lat,
		Lon:     body.Lon,
	}
}

// NoopLookup always returns nil. Used when enrichment is disabled.
type NoopLookup struct{}

func (NoopLookup) Lookup(context.Context, string) *model.GeoLocation { return nil }
