// Package party coordinates the shared state of a named voting group:
// membership, score aggregation, the quorum counter, and resolution.
//
// Correctness under concurrent members rests on two rules. Operations
// that only need to converge to an aggregate (score and counter
// increments, roster adds) are single atomic store operations and need
// no locking here. The quorum check and the teardown that follows are
// deliberately not atomic with the preceding vote; two members may both
// observe quorum reached and race to resolve. Resolve tolerates that:
// the party-row delete is the single linearization point, so exactly one
// caller wins and the rest see an already-gone party.
package party

import (
	"time"

	"github.com/tenderbot/tender/internal/domain"
	"github.com/tenderbot/tender/internal/storage"
	"github.com/tenderbot/tender/internal/winner"
)

// Store is the slice of the session store the coordinator drives.
type Store interface {
	CreateParty(name, location string, quorum int, cuisines []string) error
	GetParty(name string) (*domain.Party, error)
	PartyExists(name string) (bool, error)
	AddPartyMember(name, senderID string, expiresAt time.Time) error
	PartyMembers(name string) ([]string, error)
	IncrementPartyScore(name, cuisine string, delta int) error
	IncrementImagesShown(name string) error
	PartyScores(name string) ([]domain.CuisineScore, error)
	CuisinesWithScore(party string, score int) ([]string, error)
	DeleteParty(name string) (bool, error)
}

type Coordinator struct {
	store     Store
	memberTTL time.Duration
}

func New(store Store, memberTTL time.Duration) *Coordinator {
	return &Coordinator{store: store, memberTTL: memberTTL}
}

// Create registers the party with the creator as its first member.
// Returns storage.ErrNameTaken when the name belongs to an active party.
func (c *Coordinator) Create(name, location string, quorum int, cuisines []string, creator string) error {
	if err := c.store.CreateParty(name, location, quorum, cuisines); err != nil {
		return err
	}
	return c.store.AddPartyMember(name, creator, time.Now().Add(c.memberTTL))
}

// Join adds a member to an active party's roster; storage.ErrNotFound
// when the party does not exist.
func (c *Coordinator) Join(name, senderID string) (*domain.Party, error) {
	p, err := c.store.GetParty(name)
	if err != nil {
		return nil, err
	}
	if err := c.store.AddPartyMember(name, senderID, time.Now().Add(c.memberTTL)); err != nil {
		return nil, err
	}
	return p, nil
}

// RecordVote applies the ballot to the cuisine's aggregate and bumps the
// shared vote counter. The two increments are independent atomic store
// operations, not a combined check-then-act; each converges to the
// correct sum regardless of interleaving.
func (c *Coordinator) RecordVote(name, cuisine string, delta int) error {
	if err := c.store.IncrementPartyScore(name, cuisine, delta); err != nil {
		return err
	}
	return c.store.IncrementImagesShown(name)
}

// RecordShown bumps the vote counter alone, for the first image presented
// to a member before any ballot comes back.
func (c *Coordinator) RecordShown(name string) error {
	return c.store.IncrementImagesShown(name)
}

// QuorumReached compares the shared counter against the threshold. Not
// atomic with the vote that preceded it; callers must treat a positive
// answer as a claim to attempt resolution, not a guarantee of winning it.
func (c *Coordinator) QuorumReached(name string) (bool, error) {
	p, err := c.store.GetParty(name)
	if err != nil {
		return false, err
	}
	return p.ImagesShown >= p.Quorum, nil
}

// Resolution carries everything the caller needs to notify the party
// after a successful teardown.
type Resolution struct {
	Winner   string
	Location string
	Members  []string
}

// Resolve computes the winner and tears the party down. The second and
// later callers get resolved=false with no error: the party's keys are
// already gone and the winner was (or is being) broadcast by whoever won
// the delete.
func (c *Coordinator) Resolve(name string) (res Resolution, resolved bool, err error) {
	p, err := c.store.GetParty(name)
	if err != nil {
		if err == storage.ErrNotFound {
			return Resolution{}, false, nil
		}
		return Resolution{}, false, err
	}

	scores, err := c.store.PartyScores(name)
	if err != nil {
		return Resolution{}, false, err
	}
	if len(scores) == 0 {
		return Resolution{}, false, nil
	}

	win, err := winner.PickParty(name, scores, c.store)
	if err != nil {
		return Resolution{}, false, err
	}

	members, err := c.store.PartyMembers(name)
	if err != nil {
		return Resolution{}, false, err
	}

	deleted, err := c.store.DeleteParty(name)
	if err != nil {
		return Resolution{}, false, err
	}
	if !deleted {
		// Lost the race to a concurrent resolver.
		return Resolution{}, false, nil
	}
	return Resolution{Winner: win, Location: p.Location, Members: members}, true, nil
}
