// Package postcodes provides a client for a postcodes.io-compatible
// geocoding service: postcode lookup and free-text address geocoding.
package postcodes

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"
)

// Client for a postcodes.io-compatible API.
type Client struct {
	baseURL string
	client  *http.Client
	log     zerolog.Logger
}

// NewClient creates a new geocoding client.
func NewClient(baseURL string, log zerolog.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
		log:     log.With().Str("client", "postcodes").Logger(),
	}
}

// Point is a WGS84 coordinate pair.
type Point struct {
	Latitude  float64
	Longitude float64
}

type postcodeResponse struct {
	Status int `json:"status"`
	Result struct {
		Latitude  float64 `json:"latitude"`
		Longitude float64 `json:"longitude"`
	} `json:"result"`
}

type geocodeResponse struct {
	Status int `json:"status"`
	Result []struct {
		Latitude  float64 `json:"latitude"`
		Longitude float64 `json:"longitude"`
	} `json:"result"`
}

// LookupPostcode resolves a postcode to a coordinate.
func (c *Client) LookupPostcode(ctx context.Context, postcode string) (Point, error) {
	endpoint := fmt.Sprintf("%s/postcodes/%s", c.baseURL, url.PathEscape(postcode))

	var parsed postcodeResponse
	if err := c.getJSON(ctx, endpoint, &parsed); err != nil {
		return Point{}, err
	}
	if parsed.Status != http.StatusOK {
		return Point{}, fmt.Errorf("postcode %q not found (status %d)", postcode, parsed.Status)
	}

	return Point{Latitude: parsed.Result.Latitude, Longitude: parsed.Result.Longitude}, nil
}

// GeocodeAddress resolves a free-text address to a coordinate, taking
// the service's best match.
func (c *Client) GeocodeAddress(ctx context.Context, address string) (Point, error) {
	endpoint := fmt.Sprintf("%s/places?q=%s", c.baseURL, url.QueryEscape(address))

	var parsed geocodeResponse
	if err := c.getJSON(ctx, endpoint, &parsed); err != nil {
		return Point{}, err
	}
	if parsed.Status != http.StatusOK || len(parsed.Result) == 0 {
		return Point{}, fmt.Errorf("address %q could not be geocoded", address)
	}

	return Point{Latitude: parsed.Result[0].Latitude, Longitude: parsed.Result[0].Longitude}, nil
}

func (c *Client) getJSON(ctx context.Context, endpoint string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}

	c.log.Debug().Str("url", endpoint).Msg("Geocoding request")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("geocoding request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNotFound {
		return fmt.Errorf("geocoding service returned status %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode geocoding response: %w", err)
	}
	return nil
}
