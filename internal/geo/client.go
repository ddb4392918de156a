// Package geo resolves coordinates to country and region through the
// geonames countrySubdivision service.
package geo

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

type Client struct {
	baseURL  string
	username string
	http     *http.Client
}

func NewClient(baseURL, username string) *Client {
	return &Client{
		baseURL:  baseURL,
		username: username,
		http:     &http.Client{Timeout: 10 * time.Second},
	}
}

// Subdivision is the answer handed back to the profile AJAX call.
type Subdivision struct {
	Success bool   `json:"success"`
	Country string `json:"country"`
	Region  string `json:"region"`
}

type subdivisionXML struct {
	XMLName     xml.Name `xml:"geonames"`
	CountryName string   `xml:"countrySubdivision>countryName"`
	AdminName1  string   `xml:"countrySubdivision>adminName1"`
	Status      struct {
		Message string `xml:"message,attr"`
	} `xml:"status"`
}

// Lookup calls countrySubdivision for the coordinates. Lookups that
// resolve nothing return Success=false, not an error.
func (c *Client) Lookup(ctx context.Context, lat, lng string) (Subdivision, error) {
	query := url.Values{}
	query.Set("lat", lat)
	query.Set("lng", lng)
	if c.username != "" {
		query.Set("username", c.username)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/countrySubdivision?"+query.Encode(), nil)
	if err != nil {
		return Subdivision{}, fmt.Errorf("build geonames request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return Subdivision{}, fmt.Errorf("call geonames: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Subdivision{}, fmt.Errorf("geonames status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Subdivision{}, fmt.Errorf("read geonames response: %w", err)
	}

	var parsed subdivisionXML
	if err := xml.Unmarshal(body, &parsed); err != nil {
		return Subdivision{}, fmt.Errorf("decode geonames response: %w", err)
	}

	if parsed.CountryName == "" {
		return Subdivision{Success: false}, nil
	}
	return Subdivision{
		Success: true,
		Country: parsed.CountryName,
		Region:  parsed.AdminName1,
	}, nil
}
