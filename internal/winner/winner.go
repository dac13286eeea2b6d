// Package winner picks the winning cuisine from an accumulated tally.
// Ties are broken uniformly at random; that randomness is intentional.
package winner

import (
	"errors"
	"math/rand"

	"github.com/tenderbot/tender/internal/domain"
)

// ErrEmptyScores signals an invariant violation: every session is seeded
// with at least one cuisine before voting starts.
var ErrEmptyScores = errors.New("no scores to pick a winner from")

// PickSolo returns a cuisine holding the maximum score in the private
// tally, chosen uniformly at random among ties.
func PickSolo(scores map[string]int) (string, error) {
	if len(scores) == 0 {
		return "", ErrEmptyScores
	}

	var (
		max     int
		winners []string
		first   = true
	)
	for cuisine, score := range scores {
		switch {
		case first || score > max:
			max = score
			winners = append(winners[:0], cuisine)
			first = false
		case score == max:
			winners = append(winners, cuisine)
		}
	}
	return winners[rand.Intn(len(winners))], nil
}

// ByScore re-reads the cuisines holding a given aggregate score.
type ByScore interface {
	CuisinesWithScore(party string, score int) ([]string, error)
}

// PickParty returns a cuisine holding the maximum aggregate score of a
// party. The snapshot is sorted ascending by score; its last entry fixes
// the maximum, then the shared store is re-queried for every cuisine at
// that score since other members may still be voting. The re-read is a
// best-effort reconciliation, not a consistency guarantee: if the scores
// moved and nothing matches anymore, the snapshot decides.
func PickParty(party string, snapshot []domain.CuisineScore, store ByScore) (string, error) {
	if len(snapshot) == 0 {
		return "", ErrEmptyScores
	}

	max := snapshot[len(snapshot)-1].Score
	winners, err := store.CuisinesWithScore(party, max)
	if err != nil {
		return "", err
	}
	if len(winners) == 0 {
		for _, cs := range snapshot {
			if cs.Score == max {
				winners = append(winners, cs.Cuisine)
			}
		}
	}
	return winners[rand.Intn(len(winners))], nil
}
