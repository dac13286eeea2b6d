package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/joho/godotenv"
	_ "github.com/mattn/go-sqlite3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tenderbot/tender/internal/app"
	"github.com/tenderbot/tender/internal/config"
	"github.com/tenderbot/tender/internal/gateway"
	"github.com/tenderbot/tender/internal/images"
	"github.com/tenderbot/tender/internal/logger"
	"github.com/tenderbot/tender/internal/metrics"
	"github.com/tenderbot/tender/internal/party"
	"github.com/tenderbot/tender/internal/partyname"
	"github.com/tenderbot/tender/internal/storage"
	"github.com/tenderbot/tender/internal/transport"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		// No logger yet at this point.
		panic(err)
	}

	log := logger.NewLogger(cfg.LogLevel, cfg.LogJSON)

	for _, path := range []string{cfg.DBPath, cfg.ImageDBPath} {
		if dir := filepath.Dir(path); dir != "." && dir != "" {
			_ = os.MkdirAll(dir, 0o755)
		}
	}

	db, err := sql.Open("sqlite3", cfg.DBPath+"?_busy_timeout=5000")
	if err != nil {
		log.Fatal().Err(err).Msg("open database")
	}
	defer db.Close()

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := storage.New(db)
	if err := store.InitSchema(); err != nil {
		log.Fatal().Err(err).Msg("init schema")
	}

	search := images.Chain(
		&images.RecipeSearch{
			Endpoint:   cfg.RecipeEndpoint,
			AppID:      cfg.RecipeAppID,
			AppKey:     cfg.RecipeAppKey,
			MaxResults: cfg.RecipeImageResults,
		},
		&images.PhotoSearch{
			Endpoint: cfg.PhotoEndpoint,
			APIKey:   cfg.PhotoKey,
		},
	)
	finder, err := images.Open(cfg.ImageDBPath, search, log)
	if err != nil {
		log.Fatal().Err(err).Msg("open image cache")
	}
	defer finder.Close()

	places := &gateway.Places{
		AutocompleteEndpoint: cfg.PlacesAutocompleteEndpoint,
		DetailsEndpoint:      cfg.PlacesDetailsEndpoint,
		APIKey:               cfg.PlacesKey,
		SupportedCountries:   config.StringSet(cfg.SupportedLocales),
	}
	yelp := &gateway.Yelp{
		Endpoint:     cfg.YelpEndpoint,
		CategoryURL:  cfg.YelpCategoryURL,
		APIKey:       cfg.YelpKey,
		Radius:       cfg.SearchRadius,
		SampleSize:   cfg.CuisineSampleSize,
		ResultsLimit: cfg.YelpResultsLimit,
		Blacklist:    config.StringSet(cfg.CuisineBlacklist),
	}

	names, err := partyname.New()
	if err != nil {
		log.Fatal().Err(err).Msg("load party name word lists")
	}

	m := metrics.New("")
	if err := m.Register(prometheus.DefaultRegisterer); err != nil {
		log.Fatal().Err(err).Msg("register metrics")
	}
	if cfg.MetricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			server := &http.Server{Addr: cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error().Err(err).Msg("metrics server")
			}
		}()
	}

	bot, err := tgbotapi.NewBotAPI(cfg.TelegramToken)
	if err != nil {
		log.Fatal().Err(err).Msg("create bot")
	}
	bot.Debug = cfg.BotDebug
	log.Info().Msgf("bot running as @%s", bot.Self.UserName)

	tg := transport.NewTelegram(bot, log)

	application := app.New(app.Options{
		Store:       store,
		Messenger:   tg,
		Places:      places,
		Food:        yelp,
		Images:      finder,
		Names:       names,
		Parties:     party.New(store, cfg.MemberTTL),
		Metrics:     m,
		Logger:      log,
		SoloQuorum:  cfg.SoloQuorum,
		PartyQuorum: cfg.PartyQuorum,
		ImageWait:   cfg.ImageWait,
	})

	tg.Run(ctx, application.HandleMessage)

	log.Info().Msg("shutting down")
}
