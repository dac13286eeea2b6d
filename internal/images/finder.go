// Package images caches cuisine images and hands out random ones for
// voting prompts. The cache is a bbolt bucket mapping cuisine to a JSON
// list of image URIs, populated in the background by Prefetch.
package images

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"time"

	"github.com/rs/zerolog"
	bolt "go.etcd.io/bbolt"
)

var ErrTimeout = errors.New("timed out waiting for cuisine images")

var bucketCuisines = []byte("cuisines")

// SearchFunc finds image URIs for a search term.
type SearchFunc func(ctx context.Context, term string) ([]string, error)

type Finder struct {
	db        *bolt.DB
	search    SearchFunc
	logger    *zerolog.Logger
	pollEvery time.Duration
}

func Open(path string, search SearchFunc, logger *zerolog.Logger) (*Finder, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketCuisines)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Finder{db: db, search: search, logger: logger, pollEvery: 200 * time.Millisecond}, nil
}

func (f *Finder) Close() error {
	return f.db.Close()
}

// Has reports whether images for the cuisine are already cached.
func (f *Finder) Has(cuisine string) bool {
	var found bool
	_ = f.db.View(func(tx *bolt.Tx) error {
		found = tx.Bucket(bucketCuisines).Get([]byte(cuisine)) != nil
		return nil
	})
	return found
}

// Prefetch starts one background fetch per cuisine that has no cached
// images yet. Fetch failures are logged and retried on the next session
// that needs the same cuisine.
func (f *Finder) Prefetch(ctx context.Context, cuisines []string) {
	for _, cuisine := range cuisines {
		if f.Has(cuisine) {
			continue
		}
		go func(cuisine string) {
			if err := f.fetch(ctx, cuisine); err != nil {
				f.logger.Warn().Err(err).Str("cuisine", cuisine).Msg("image prefetch failed")
			}
		}(cuisine)
	}
}

func (f *Finder) fetch(ctx context.Context, cuisine string) error {
	uris, err := f.search(ctx, cuisine+" food")
	if err != nil {
		return err
	}
	if len(uris) == 0 {
		return nil
	}
	encoded, err := json.Marshal(uris)
	if err != nil {
		return err
	}
	return f.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketCuisines).Put([]byte(cuisine), encoded)
	})
}

// RandomImage returns one cached image URI for the cuisine, waiting for a
// background fetch to land if necessary. The wait is bounded by the
// context deadline; exceeding it yields ErrTimeout instead of polling
// forever.
func (f *Finder) RandomImage(ctx context.Context, cuisine string) (string, error) {
	ticker := time.NewTicker(f.pollEvery)
	defer ticker.Stop()

	for {
		var encoded []byte
		err := f.db.View(func(tx *bolt.Tx) error {
			if v := tx.Bucket(bucketCuisines).Get([]byte(cuisine)); v != nil {
				encoded = append([]byte(nil), v...)
			}
			return nil
		})
		if err != nil {
			return "", err
		}
		if encoded != nil {
			var uris []string
			if err := json.Unmarshal(encoded, &uris); err != nil {
				return "", err
			}
			if len(uris) > 0 {
				return uris[rand.Intn(len(uris))], nil
			}
		}

		select {
		case <-ctx.Done():
			return "", ErrTimeout
		case <-ticker.C:
		}
	}
}
