// Package config loads process configuration from environment variables.
// The value is constructed once at startup and passed into every
// component; nothing reads the environment after that.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	TelegramToken string `env:"TELEGRAM_BOT_TOKEN,required"`
	BotDebug      bool   `env:"BOT_DEBUG" envDefault:"false"`

	DBPath      string `env:"DB_PATH" envDefault:"data/tender.db"`
	ImageDBPath string `env:"IMAGE_DB_PATH" envDefault:"data/images.db"`

	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
	LogJSON  bool   `env:"LOG_JSON" envDefault:"false"`

	// MetricsAddr exposes Prometheus metrics when non-empty.
	MetricsAddr string `env:"METRICS_ADDR"`

	SoloQuorum  int           `env:"SOLO_QUORUM" envDefault:"10"`
	PartyQuorum int           `env:"PARTY_QUORUM" envDefault:"20"`
	MemberTTL   time.Duration `env:"MEMBER_TTL" envDefault:"1h"`
	ImageWait   time.Duration `env:"IMAGE_WAIT" envDefault:"15s"`

	SearchRadius      int      `env:"SEARCH_RADIUS" envDefault:"10000"`
	CuisineSampleSize int      `env:"CUISINE_SAMPLE_SIZE" envDefault:"5"`
	SupportedLocales  []string `env:"SUPPORTED_LOCALES" envDefault:"US,CA,GB,IE,AU,NZ"`
	CuisineBlacklist  []string `env:"CUISINE_BLACKLIST"`

	YelpKey          string `env:"YELP_KEY"`
	YelpEndpoint     string `env:"YELP_ENDPOINT" envDefault:"https://api.yelp.com/v3/businesses/search"`
	YelpCategoryURL  string `env:"YELP_CATEGORY_URL" envDefault:"https://api.yelp.com/v3/categories"`
	YelpResultsLimit int    `env:"YELP_RESULTS_LIMIT" envDefault:"100"`

	PlacesKey                  string `env:"PLACES_KEY"`
	PlacesAutocompleteEndpoint string `env:"PLACES_AUTOCOMPLETE_ENDPOINT" envDefault:"https://maps.googleapis.com/maps/api/place/autocomplete/json"`
	PlacesDetailsEndpoint      string `env:"PLACES_DETAILS_ENDPOINT" envDefault:"https://maps.googleapis.com/maps/api/place/details/json"`

	RecipeAppID        string `env:"RECIPE_APP_ID"`
	RecipeAppKey       string `env:"RECIPE_APP_KEY"`
	RecipeEndpoint     string `env:"RECIPE_ENDPOINT" envDefault:"https://api.yummly.com/v1/api/recipes"`
	RecipeImageResults int    `env:"RECIPE_IMAGE_RESULTS" envDefault:"20"`
	PhotoKey           string `env:"PHOTO_KEY"`
	PhotoEndpoint      string `env:"PHOTO_ENDPOINT" envDefault:"https://api.flickr.com/services/rest/"`
}

func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

// StringSet turns a config list into a membership set.
func StringSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return set
}
