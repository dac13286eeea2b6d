package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/tenderbot/tender/internal/domain"
)

// ErrNoEatery signals that no eatery serves the cuisine near the location.
var ErrNoEatery = errors.New("no eatery found")

// fallbackCuisine covers areas where discovery comes up empty. When the
// world is on fire, pizza will still be there.
const fallbackCuisine = "pizza"

const pageSize = 20

// Yelp discovers cuisines and eateries near a location through a
// business-search API.
type Yelp struct {
	Endpoint     string
	CategoryURL  string
	APIKey       string
	Radius       int
	SampleSize   int
	ResultsLimit int
	Blacklist    map[string]struct{}
	Client       *http.Client

	mu     sync.Mutex
	catMap map[string]string
}

func (y *Yelp) client() *http.Client {
	if y.Client != nil {
		return y.Client
	}
	return &http.Client{Timeout: 10 * time.Second}
}

func (y *Yelp) get(ctx context.Context, u string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+y.APIKey)

	resp, err := y.client().Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("yelp: status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

type businessPage struct {
	Businesses []struct {
		Name       string `json:"name"`
		ImageURL   string `json:"image_url"`
		Categories []struct {
			Alias string `json:"alias"`
			Title string `json:"title"`
		} `json:"categories"`
	} `json:"businesses"`
}

// DiscoverCuisines pages through restaurants near the location and
// collects their distinct cuisine categories, skipping blacklisted ones.
// The result is sampled down to SampleSize; when nothing at all is found
// it falls back to a single default cuisine.
func (y *Yelp) DiscoverCuisines(ctx context.Context, location string) ([]string, error) {
	seen := make(map[string]struct{})
	base := fmt.Sprintf("%s?radius=%d&categories=restaurants&location=%s",
		y.Endpoint, y.Radius, url.QueryEscape(location))

	for offset := 0; offset < y.ResultsLimit; offset += pageSize {
		var page businessPage
		if err := y.get(ctx, fmt.Sprintf("%s&offset=%d", base, offset), &page); err != nil {
			return nil, err
		}
		if len(page.Businesses) == 0 {
			break
		}
		for _, business := range page.Businesses {
			for _, category := range business.Categories {
				if _, blocked := y.Blacklist[category.Title]; !blocked {
					seen[category.Title] = struct{}{}
				}
			}
		}
	}

	cuisines := make([]string, 0, len(seen))
	for cuisine := range seen {
		cuisines = append(cuisines, cuisine)
	}
	if len(cuisines) == 0 {
		return []string{fallbackCuisine}, nil
	}
	if len(cuisines) > y.SampleSize {
		rand.Shuffle(len(cuisines), func(i, j int) {
			cuisines[i], cuisines[j] = cuisines[j], cuisines[i]
		})
		cuisines = cuisines[:y.SampleSize]
	}
	return cuisines, nil
}

// FindEatery returns a random eatery serving the cuisine near the
// location, ErrNoEatery when the search finds nothing.
func (y *Yelp) FindEatery(ctx context.Context, cuisine, location string) (domain.Eatery, error) {
	category, err := y.categoryAlias(ctx, cuisine)
	if err != nil {
		return domain.Eatery{}, err
	}

	u := fmt.Sprintf("%s?radius=%d&categories=%s&location=%s",
		y.Endpoint, y.Radius, url.QueryEscape(category), url.QueryEscape(location))
	var page businessPage
	if err := y.get(ctx, u, &page); err != nil {
		return domain.Eatery{}, err
	}
	if len(page.Businesses) == 0 {
		return domain.Eatery{}, ErrNoEatery
	}
	pick := page.Businesses[rand.Intn(len(page.Businesses))]
	return domain.Eatery{Name: pick.Name, ImageURL: pick.ImageURL}, nil
}

// categoryAlias maps a cuisine title to the API's category alias. The
// mapping is fetched lazily and refreshed once when a title is missing;
// an unresolvable title degrades to the fallback category.
func (y *Yelp) categoryAlias(ctx context.Context, cuisine string) (string, error) {
	y.mu.Lock()
	defer y.mu.Unlock()

	if alias, ok := y.catMap[cuisine]; ok {
		return alias, nil
	}
	if err := y.refreshCategories(ctx); err != nil {
		return "", err
	}
	if alias, ok := y.catMap[cuisine]; ok {
		return alias, nil
	}
	return fallbackCuisine, nil
}

func (y *Yelp) refreshCategories(ctx context.Context) error {
	var body struct {
		Categories []struct {
			Alias string `json:"alias"`
			Title string `json:"title"`
		} `json:"categories"`
	}
	if err := y.get(ctx, y.CategoryURL, &body); err != nil {
		return err
	}
	if y.catMap == nil {
		y.catMap = make(map[string]string, len(body.Categories))
	}
	for _, category := range body.Categories {
		y.catMap[category.Title] = category.Alias
	}
	return nil
}
