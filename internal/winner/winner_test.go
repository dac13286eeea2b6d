package winner

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tenderbot/tender/internal/domain"
)

type fakeByScore struct {
	byScore map[int][]string
	err     error
}

func (f fakeByScore) CuisinesWithScore(party string, score int) ([]string, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.byScore[score], nil
}

func TestPickSolo(t *testing.T) {
	assert := assert.New(t)

	t.Run("empty scores", func(t *testing.T) {
		_, err := PickSolo(nil)
		assert.ErrorIs(err, ErrEmptyScores)

		_, err = PickSolo(map[string]int{})
		assert.ErrorIs(err, ErrEmptyScores)
	})

	t.Run("single maximum", func(t *testing.T) {
		scores := map[string]int{"thai": 3, "sushi": 1, "pizza": -2}
		for range 50 {
			got, err := PickSolo(scores)
			assert.Nil(err)
			assert.Equal("thai", got)
		}
	})

	t.Run("ties never include a loser", func(t *testing.T) {
		scores := map[string]int{"thai": 2, "sushi": 2, "pizza": 1}
		seen := make(map[string]int)
		for range 2000 {
			got, err := PickSolo(scores)
			assert.Nil(err)
			assert.NotEqual("pizza", got)
			seen[got]++
		}
		// Uniform tie-break: both tied cuisines must show up.
		assert.Greater(seen["thai"], 0)
		assert.Greater(seen["sushi"], 0)
	})

	t.Run("negative scores only", func(t *testing.T) {
		got, err := PickSolo(map[string]int{"thai": -5, "sushi": -1})
		assert.Nil(err)
		assert.Equal("sushi", got)
	})
}

func TestPickParty(t *testing.T) {
	assert := assert.New(t)

	t.Run("empty snapshot", func(t *testing.T) {
		_, err := PickParty("Foo", nil, fakeByScore{})
		assert.ErrorIs(err, ErrEmptyScores)
	})

	t.Run("re-queries at the maximum score", func(t *testing.T) {
		snapshot := []domain.CuisineScore{
			{Cuisine: "pizza", Score: 1},
			{Cuisine: "thai", Score: 4},
		}
		store := fakeByScore{byScore: map[int][]string{4: {"thai", "sushi"}}}
		seen := make(map[string]int)
		for range 2000 {
			got, err := PickParty("Foo", snapshot, store)
			assert.Nil(err)
			seen[got]++
		}
		// sushi overtook thai between snapshot and decision; the re-read
		// must make it eligible.
		assert.Greater(seen["thai"], 0)
		assert.Greater(seen["sushi"], 0)
		assert.Zero(seen["pizza"])
	})

	t.Run("falls back to the snapshot when the re-read is empty", func(t *testing.T) {
		snapshot := []domain.CuisineScore{
			{Cuisine: "pizza", Score: 1},
			{Cuisine: "thai", Score: 4},
		}
		got, err := PickParty("Foo", snapshot, fakeByScore{byScore: map[int][]string{}})
		assert.Nil(err)
		assert.Equal("thai", got)
	})

	t.Run("store error propagates", func(t *testing.T) {
		snapshot := []domain.CuisineScore{{Cuisine: "thai", Score: 1}}
		_, err := PickParty("Foo", snapshot, fakeByScore{err: errors.New("boom")})
		assert.NotNil(err)
	})
}
