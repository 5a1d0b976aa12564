// Package geocode talks to the OpenStreetMap Nominatim API and maps its
// responses onto Korean administrative depth fields.
package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// ErrUnavailable indicates the upstream geocoding service could not be
// reached or answered with an error. Non-fatal and retryable.
var ErrUnavailable = fmt.Errorf("geocoding service unavailable")

// Depths holds one hierarchy of administrative levels. Depth4 is the only
// level that may legitimately be empty.
type Depths struct {
	Depth1 string `json:"depth_1"`
	Depth2 string `json:"depth_2"`
	Depth3 string `json:"depth_3"`
	Depth4 string `json:"depth_4"`
}

// Address is a resolved location with both the road-address and the
// lot-address hierarchies, either of which may be partially empty.
type Address struct {
	Road        Depths  `json:"road"`
	Lot         Depths  `json:"lot"`
	RoadAddress string  `json:"road_address"`
	LotAddress  string  `json:"lot_address"`
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
	DisplayName string  `json:"display_name"`
}

// Merged returns one hierarchy with road-address fields preferred and
// lot-address fields filling any level the road hierarchy left empty.
func (a Address) Merged() Depths {
	pick := func(road, lot string) string {
		if road != "" {
			return road
		}
		return lot
	}
	return Depths{
		Depth1: pick(a.Road.Depth1, a.Lot.Depth1),
		Depth2: pick(a.Road.Depth2, a.Lot.Depth2),
		Depth3: pick(a.Road.Depth3, a.Lot.Depth3),
		Depth4: pick(a.Road.Depth4, a.Lot.Depth4),
	}
}

// Keyword returns the most specific useful location keyword, preferring
// the township/neighbourhood level over the detail level over the district.
func (d Depths) Keyword() string {
	if d.Depth3 != "" {
		return d.Depth3
	}
	if d.Depth4 != "" {
		return d.Depth4
	}
	return d.Depth2
}

// Joined renders the hierarchy as one address line.
func (d Depths) Joined() string {
	parts := make([]string, 0, 4)
	for _, p := range []string{d.Depth1, d.Depth2, d.Depth3, d.Depth4} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, " ")
}

// Client is a Nominatim HTTP client. Nominatim requires a User-Agent header
// (ASCII only) but no API key.
type Client struct {
	baseURL   string
	userAgent string
	http      *http.Client
}

// NewClient builds a geocoding client.
func NewClient(baseURL, userAgent string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = "https://nominatim.openstreetmap.org"
	}
	if userAgent == "" {
		userAgent = "placeagent/1.0"
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		userAgent: userAgent,
		http:      &http.Client{Timeout: timeout},
	}
}

type nominatimResponse struct {
	DisplayName string            `json:"display_name"`
	Lat         string            `json:"lat"`
	Lon         string            `json:"lon"`
	Address     map[string]string `json:"address"`
}

// Reverse converts coordinates into an Address.
func (c *Client) Reverse(ctx context.Context, latitude, longitude float64) (Address, error) {
	params := url.Values{}
	params.Set("format", "jsonv2")
	params.Set("lat", strconv.FormatFloat(latitude, 'f', -1, 64))
	params.Set("lon", strconv.FormatFloat(longitude, 'f', -1, 64))
	params.Set("zoom", "18")
	params.Set("addressdetails", "1")

	var resp nominatimResponse
	if err := c.get(ctx, "/reverse", params, &resp); err != nil {
		return Address{}, err
	}
	addr := c.parse(resp)
	if addr.DisplayName == "" && addr.Merged() == (Depths{}) {
		return Address{}, fmt.Errorf("%w: empty reverse geocoding result", ErrUnavailable)
	}
	return addr, nil
}

// Forward resolves a free-text location query into an Address.
func (c *Client) Forward(ctx context.Context, query string) (Address, error) {
	params := url.Values{}
	params.Set("format", "jsonv2")
	params.Set("q", query)
	params.Set("limit", "1")
	params.Set("addressdetails", "1")

	var list []nominatimResponse
	if err := c.get(ctx, "/search", params, &list); err != nil {
		return Address{}, err
	}
	if len(list) == 0 {
		return Address{}, fmt.Errorf("%w: no match for %q", ErrUnavailable, query)
	}
	return c.parse(list[0]), nil
}

func (c *Client) get(ctx context.Context, path string, params url.Values, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+params.Encode(), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Accept-Language", "ko")
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: %s: %s", ErrUnavailable, resp.Status, strings.TrimSpace(string(body)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decoding response: %v", ErrUnavailable, err)
	}
	return nil
}

// parse maps Nominatim's address keys onto the Korean hierarchy. The road
// hierarchy is taken from the primary keys (city/borough/suburb/quarter),
// the lot hierarchy from the secondary ones (state/county/village/
// neighbourhood), mirroring how the upstream mixes both addressing systems.
func (c *Client) parse(resp nominatimResponse) Address {
	get := func(keys ...string) string {
		for _, k := range keys {
			if v := resp.Address[k]; v != "" {
				return v
			}
		}
		return ""
	}
	lat, _ := strconv.ParseFloat(resp.Lat, 64)
	lon, _ := strconv.ParseFloat(resp.Lon, 64)

	road := Depths{
		Depth1: get("city"),
		Depth2: get("borough", "city_district"),
		Depth3: get("suburb", "town"),
		Depth4: get("quarter"),
	}
	lot := Depths{
		Depth1: get("state", "region"),
		Depth2: get("county"),
		Depth3: get("village"),
		Depth4: get("neighbourhood"),
	}
	return Address{
		Road:        road,
		Lot:         lot,
		RoadAddress: road.Joined(),
		LotAddress:  lot.Joined(),
		Latitude:    lat,
		Longitude:   lon,
		DisplayName: resp.DisplayName,
	}
}
