// Package gateway holds the HTTP clients for the external services the
// bot depends on: place resolution and cuisine/eatery discovery.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/tenderbot/tender/internal/domain"
)

// Places resolves free-text locations through an autocomplete API and
// checks whether the resolved place sits in a supported country.
type Places struct {
	AutocompleteEndpoint string
	DetailsEndpoint      string
	APIKey               string
	SupportedCountries   map[string]struct{}
	Client               *http.Client
}

func (p *Places) client() *http.Client {
	if p.Client != nil {
		return p.Client
	}
	return &http.Client{Timeout: 10 * time.Second}
}

// ResolveLocation returns the place candidates matching the text, empty
// when nothing matches.
func (p *Places) ResolveLocation(ctx context.Context, text string) ([]domain.Place, error) {
	u := fmt.Sprintf("%s?key=%s&types=geocode&input=%s",
		p.AutocompleteEndpoint, url.QueryEscape(p.APIKey), url.QueryEscape(text))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}

	resp, err := p.client().Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("resolve location: status %d", resp.StatusCode)
	}

	var body struct {
		Predictions []struct {
			PlaceID     string `json:"place_id"`
			Description string `json:"description"`
		} `json:"predictions"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, err
	}

	places := make([]domain.Place, 0, len(body.Predictions))
	for _, pr := range body.Predictions {
		places = append(places, domain.Place{ID: pr.PlaceID, Description: pr.Description})
	}
	return places, nil
}

// CountryCode looks up the ISO-3166-1 alpha-2 country of a place.
func (p *Places) CountryCode(ctx context.Context, placeID string) (string, error) {
	u := fmt.Sprintf("%s?key=%s&placeid=%s",
		p.DetailsEndpoint, url.QueryEscape(p.APIKey), url.QueryEscape(placeID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", err
	}

	resp, err := p.client().Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("place details: status %d", resp.StatusCode)
	}

	var body struct {
		Result struct {
			AddressComponents []struct {
				ShortName string   `json:"short_name"`
				Types     []string `json:"types"`
			} `json:"address_components"`
		} `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", err
	}

	for _, component := range body.Result.AddressComponents {
		for _, t := range component.Types {
			if t == "country" {
				return component.ShortName, nil
			}
		}
	}
	return "", fmt.Errorf("no country code found for place %s", placeID)
}

// SupportedCountry reports whether the place sits in the service area.
func (p *Places) SupportedCountry(ctx context.Context, placeID string) (bool, error) {
	code, err := p.CountryCode(ctx, placeID)
	if err != nil {
		return false, err
	}
	_, ok := p.SupportedCountries[code]
	return ok, nil
}
