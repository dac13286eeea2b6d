package storage

import (
	"database/sql"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/jackc/fake"
	_ "github.com/mattn/go-sqlite3"

	"github.com/tenderbot/tender/internal/domain"
)

func newTestStore(t *testing.T) (*Store, *sql.DB) {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "test.db")
	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	db.SetMaxOpenConns(1)

	s := New(db)
	if err := s.InitSchema(); err != nil {
		t.Fatalf("init schema: %v", err)
	}
	return s, db
}

func mustCount(t *testing.T, db *sql.DB, q string, args ...any) int64 {
	t.Helper()
	var n int64
	if err := db.QueryRow(q, args...).Scan(&n); err != nil {
		t.Fatalf("count query failed: %v", err)
	}
	return n
}

func TestStore_SessionRoundtrip(t *testing.T) {
	s, _ := newTestStore(t)

	sess := &domain.Session{
		SenderID:       "+15550001",
		State:          domain.StateVoting,
		Location:       fake.WordsN(3),
		Cuisines:       []string{"thai", "sushi"},
		CurrentCuisine: "thai",
		ImagesSent:     3,
		Scores:         map[string]int{"thai": 2, "sushi": -1},
	}
	if err := s.SaveSession(sess); err != nil {
		t.Fatalf("SaveSession: %v", err)
	}

	got, err := s.GetSession("+15550001")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got.State != domain.StateVoting || got.Location != sess.Location {
		t.Fatalf("unexpected session: %+v", got)
	}
	if got.Scores["thai"] != 2 || got.Scores["sushi"] != -1 {
		t.Fatalf("unexpected scores: %+v", got.Scores)
	}
	if len(got.Cuisines) != 2 || got.CurrentCuisine != "thai" || got.ImagesSent != 3 {
		t.Fatalf("unexpected session: %+v", got)
	}

	// Saving again overwrites in place.
	sess.State = domain.StateAwaitingMode
	if err := s.SaveSession(sess); err != nil {
		t.Fatalf("SaveSession(update): %v", err)
	}
	got, err = s.GetSession("+15550001")
	if err != nil {
		t.Fatalf("GetSession(update): %v", err)
	}
	if got.State != domain.StateAwaitingMode {
		t.Fatalf("expected updated state, got %s", got.State)
	}

	if err := s.DeleteSession("+15550001"); err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}
	if _, err := s.GetSession("+15550001"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got: %v", err)
	}

	// Deleting a missing session is a no-op.
	if err := s.DeleteSession("+15550001"); err != nil {
		t.Fatalf("DeleteSession(again): %v", err)
	}
}

func TestStore_SessionAmbiguousLocations(t *testing.T) {
	s, _ := newTestStore(t)

	sess := &domain.Session{
		SenderID: "u1",
		State:    domain.StateDisambiguating,
		Ambiguous: []domain.Place{
			{ID: "p1", Description: "Paris, France"},
			{ID: "p2", Description: "Paris, Ontario"},
		},
	}
	if err := s.SaveSession(sess); err != nil {
		t.Fatalf("SaveSession: %v", err)
	}
	got, err := s.GetSession("u1")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if len(got.Ambiguous) != 2 || got.Ambiguous[1].ID != "p2" {
		t.Fatalf("unexpected candidates: %+v", got.Ambiguous)
	}
}

func TestStore_CreateParty_NameReservation(t *testing.T) {
	s, db := newTestStore(t)

	cuisines := []string{"thai", "sushi", "pizza"}
	if err := s.CreateParty("SpicyTaco", "Waterloo", 20, cuisines); err != nil {
		t.Fatalf("CreateParty: %v", err)
	}

	// Every cuisine starts at zero.
	if got := mustCount(t, db, `SELECT COUNT(*) FROM party_scores WHERE party_name = ? AND score = 0`, "SpicyTaco"); got != 3 {
		t.Fatalf("expected 3 zero scores, got %d", got)
	}

	// Same name again -> ErrNameTaken.
	if err := s.CreateParty("SpicyTaco", "Elsewhere", 5, cuisines); !errors.Is(err, ErrNameTaken) {
		t.Fatalf("expected ErrNameTaken, got: %v", err)
	}

	p, err := s.GetParty("SpicyTaco")
	if err != nil {
		t.Fatalf("GetParty: %v", err)
	}
	if p.Location != "Waterloo" || p.Quorum != 20 || p.ImagesShown != 0 || len(p.Cuisines) != 3 {
		t.Fatalf("unexpected party: %+v", p)
	}
}

func TestStore_PartyNameReusableAfterTeardown(t *testing.T) {
	s, _ := newTestStore(t)

	if err := s.CreateParty("Foo", "loc", 3, []string{"thai"}); err != nil {
		t.Fatalf("CreateParty: %v", err)
	}
	deleted, err := s.DeleteParty("Foo")
	if err != nil || !deleted {
		t.Fatalf("DeleteParty: deleted=%v err=%v", deleted, err)
	}
	// Once torn down, the name is free again.
	if err := s.CreateParty("Foo", "loc2", 3, []string{"sushi"}); err != nil {
		t.Fatalf("CreateParty(reuse): %v", err)
	}
}

func TestStore_VoteCounterMonotonicUnderConcurrency(t *testing.T) {
	s, _ := newTestStore(t)

	if err := s.CreateParty("Foo", "loc", 100, []string{"thai", "sushi"}); err != nil {
		t.Fatalf("CreateParty: %v", err)
	}

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			cuisine := "thai"
			if i%2 == 0 {
				cuisine = "sushi"
			}
			if err := s.IncrementPartyScore("Foo", cuisine, 1); err != nil {
				t.Errorf("IncrementPartyScore: %v", err)
			}
			if err := s.IncrementImagesShown("Foo"); err != nil {
				t.Errorf("IncrementImagesShown: %v", err)
			}
		}(i)
	}
	wg.Wait()

	p, err := s.GetParty("Foo")
	if err != nil {
		t.Fatalf("GetParty: %v", err)
	}
	if p.ImagesShown != n {
		t.Fatalf("expected counter %d, got %d", n, p.ImagesShown)
	}

	scores, err := s.PartyScores("Foo")
	if err != nil {
		t.Fatalf("PartyScores: %v", err)
	}
	total := 0
	for _, cs := range scores {
		total += cs.Score
	}
	if total != n {
		t.Fatalf("expected score total %d, got %d", n, total)
	}
}

func TestStore_PartyScoresAscendingAndByValue(t *testing.T) {
	s, _ := newTestStore(t)

	if err := s.CreateParty("Foo", "loc", 10, []string{"thai", "sushi", "pizza"}); err != nil {
		t.Fatalf("CreateParty: %v", err)
	}
	_ = s.IncrementPartyScore("Foo", "thai", 2)
	_ = s.IncrementPartyScore("Foo", "sushi", 2)
	_ = s.IncrementPartyScore("Foo", "pizza", -1)

	scores, err := s.PartyScores("Foo")
	if err != nil {
		t.Fatalf("PartyScores: %v", err)
	}
	if len(scores) != 3 {
		t.Fatalf("expected 3 scores, got %d", len(scores))
	}
	for i := 1; i < len(scores); i++ {
		if scores[i].Score < scores[i-1].Score {
			t.Fatalf("scores not ascending: %+v", scores)
		}
	}
	if scores[len(scores)-1].Score != 2 {
		t.Fatalf("expected max 2, got %d", scores[len(scores)-1].Score)
	}

	tied, err := s.CuisinesWithScore("Foo", 2)
	if err != nil {
		t.Fatalf("CuisinesWithScore: %v", err)
	}
	if len(tied) != 2 {
		t.Fatalf("expected 2 cuisines at max, got %v", tied)
	}
}

func TestStore_MembersAndCascade(t *testing.T) {
	s, db := newTestStore(t)

	if err := s.CreateParty("Foo", "loc", 3, []string{"thai"}); err != nil {
		t.Fatalf("CreateParty: %v", err)
	}
	expires := time.Now().Add(time.Hour)
	if err := s.AddPartyMember("Foo", "u1", expires); err != nil {
		t.Fatalf("AddPartyMember: %v", err)
	}
	if err := s.AddPartyMember("Foo", "u2", expires); err != nil {
		t.Fatalf("AddPartyMember(u2): %v", err)
	}
	// Joining twice is a no-op.
	if err := s.AddPartyMember("Foo", "u1", expires); err != nil {
		t.Fatalf("AddPartyMember(again): %v", err)
	}

	members, err := s.PartyMembers("Foo")
	if err != nil {
		t.Fatalf("PartyMembers: %v", err)
	}
	if len(members) != 2 {
		t.Fatalf("expected 2 members, got %v", members)
	}

	// Joining a party that doesn't exist -> ErrNotFound.
	if err := s.AddPartyMember("Nope", "u1", expires); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got: %v", err)
	}

	// An expired membership stays in the table but never reaches a reader.
	if err := s.AddPartyMember("Foo", "ghost", time.Now().Add(-2*time.Hour)); err != nil {
		t.Fatalf("AddPartyMember(ghost): %v", err)
	}
	members, err = s.PartyMembers("Foo")
	if err != nil {
		t.Fatalf("PartyMembers: %v", err)
	}
	for _, m := range members {
		if m == "ghost" {
			t.Fatalf("expired member still in roster: %v", members)
		}
	}
	if len(members) != 2 {
		t.Fatalf("expected 2 live members, got %v", members)
	}
	if got := mustCount(t, db, `SELECT COUNT(*) FROM party_members WHERE party_name = ?`, "Foo"); got != 3 {
		t.Fatalf("expected 3 rows including the expired one, got %d", got)
	}

	deleted, err := s.DeleteParty("Foo")
	if err != nil || !deleted {
		t.Fatalf("DeleteParty: deleted=%v err=%v", deleted, err)
	}

	// Scores and roster must vanish with the party.
	if got := mustCount(t, db, `SELECT COUNT(*) FROM party_scores WHERE party_name = ?`, "Foo"); got != 0 {
		t.Fatalf("expected 0 scores after delete, got %d", got)
	}
	if got := mustCount(t, db, `SELECT COUNT(*) FROM party_members WHERE party_name = ?`, "Foo"); got != 0 {
		t.Fatalf("expected 0 members after delete, got %d", got)
	}

	// Second teardown is a silent no-op.
	deleted, err = s.DeleteParty("Foo")
	if err != nil {
		t.Fatalf("DeleteParty(again): %v", err)
	}
	if deleted {
		t.Fatalf("expected deleted=false on second teardown")
	}
}
