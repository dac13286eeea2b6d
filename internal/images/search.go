package images

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Provider finds image URIs for a search term against one upstream API.
type Provider interface {
	Search(ctx context.Context, term string) ([]string, error)
}

// Chain tries each provider in order and returns the first non-empty
// result. Provider errors fall through to the next provider; only the
// last error is surfaced when every provider comes up empty.
func Chain(providers ...Provider) SearchFunc {
	return func(ctx context.Context, term string) ([]string, error) {
		var lastErr error
		for _, p := range providers {
			uris, err := p.Search(ctx, term)
			if err != nil {
				lastErr = err
				continue
			}
			if len(uris) > 0 {
				return uris, nil
			}
		}
		return nil, lastErr
	}
}

// RecipeSearch queries a recipe API whose matches carry small image URL
// lists, the primary image source.
type RecipeSearch struct {
	Endpoint   string
	AppID      string
	AppKey     string
	MaxResults int
	Client     *http.Client
}

func (r *RecipeSearch) Search(ctx context.Context, term string) ([]string, error) {
	u := fmt.Sprintf("%s?requirePictures=true&maxResult=%d&q=%s",
		r.Endpoint, r.MaxResults, url.QueryEscape(term))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-App-ID", r.AppID)
	req.Header.Set("X-App-Key", r.AppKey)

	resp, err := r.client().Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("recipe image search: status %d", resp.StatusCode)
	}

	var body struct {
		Matches []struct {
			SmallImageURLs []string `json:"smallImageUrls"`
		} `json:"matches"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, err
	}

	var uris []string
	for _, match := range body.Matches {
		if len(match.SmallImageURLs) == 0 {
			continue
		}
		uri := match.SmallImageURLs[len(match.SmallImageURLs)-1]
		// The API appends a thumbnail size suffix; strip it for the
		// full-size image.
		uris = append(uris, strings.TrimSuffix(uri, "=s90"))
	}
	return uris, nil
}

func (r *RecipeSearch) client() *http.Client {
	if r.Client != nil {
		return r.Client
	}
	return &http.Client{Timeout: 10 * time.Second}
}

// PhotoSearch queries a photo-sharing API as the fallback image source.
type PhotoSearch struct {
	Endpoint string
	APIKey   string
	Client   *http.Client
}

func (p *PhotoSearch) Search(ctx context.Context, term string) ([]string, error) {
	u := fmt.Sprintf("%s?method=photos.search&api_key=%s&tags=food&format=json&nojsoncallback=1&text=%s",
		p.Endpoint, url.QueryEscape(p.APIKey), url.QueryEscape(term))
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
		return nil, fmt.Errorf("photo image search: status %d", resp.StatusCode)
	}

	var body struct {
		Photos struct {
			Photo []struct {
				Farm   int    `json:"farm"`
				Server string `json:"server"`
				ID     string `json:"id"`
				Secret string `json:"secret"`
			} `json:"photo"`
		} `json:"photos"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, err
	}

	var uris []string
	for _, photo := range body.Photos.Photo {
		uris = append(uris, fmt.Sprintf("https://farm%d.staticflickr.com/%s/%s_%s.jpg",
			photo.Farm, photo.Server, photo.ID, photo.Secret))
	}
	return uris, nil
}

func (p *PhotoSearch) client() *http.Client {
	if p.Client != nil {
		return p.Client
	}
	return &http.Client{Timeout: 10 * time.Second}
}
