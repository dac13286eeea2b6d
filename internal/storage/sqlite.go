package storage

import (
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/tenderbot/tender/internal/domain"
)

//go:embed schema.sql
var embeddedSchema embed.FS

var (
	ErrNotFound  = errors.New("not found")
	ErrNameTaken = errors.New("party name already taken")
)

type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) InitSchema() error {
	if _, err := s.db.Exec(`PRAGMA foreign_keys = ON;`); err != nil {
		return err
	}

	b, err := embeddedSchema.ReadFile("schema.sql")
	if err != nil {
		return err
	}

	schema := strings.TrimSpace(string(b))
	_, err = s.db.Exec(schema)
	return err
}

// ---------- Sessions ----------

func (s *Store) SaveSession(sess *domain.Session) error {
	cuisines, err := json.Marshal(sess.Cuisines)
	if err != nil {
		return err
	}
	ambiguous, err := json.Marshal(sess.Ambiguous)
	if err != nil {
		return err
	}
	scores := []byte("{}")
	if sess.Scores != nil {
		if scores, err = json.Marshal(sess.Scores); err != nil {
			return err
		}
	}
	_, err = s.db.Exec(`
INSERT INTO sessions(sender_id, state, location, current_cuisine, images_sent, party_name, cuisines, ambiguous, scores, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
ON CONFLICT(sender_id) DO UPDATE SET
    state = excluded.state,
    location = excluded.location,
    current_cuisine = excluded.current_cuisine,
    images_sent = excluded.images_sent,
    party_name = excluded.party_name,
    cuisines = excluded.cuisines,
    ambiguous = excluded.ambiguous,
    scores = excluded.scores,
    updated_at = excluded.updated_at
`, sess.SenderID, string(sess.State), sess.Location, sess.CurrentCuisine,
		sess.ImagesSent, sess.PartyName, string(cuisines), string(ambiguous), string(scores))
	return err
}

func (s *Store) GetSession(senderID string) (*domain.Session, error) {
	row := s.db.QueryRow(`
SELECT state, location, current_cuisine, images_sent, party_name, cuisines, ambiguous, scores
FROM sessions WHERE sender_id = ?
`, senderID)

	var (
		sess                        domain.Session
		state                       string
		cuisines, ambiguous, scores string
	)
	err := row.Scan(&state, &sess.Location, &sess.CurrentCuisine, &sess.ImagesSent,
		&sess.PartyName, &cuisines, &ambiguous, &scores)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	sess.SenderID = senderID
	sess.State = domain.State(state)
	if err := json.Unmarshal([]byte(cuisines), &sess.Cuisines); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(ambiguous), &sess.Ambiguous); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(scores), &sess.Scores); err != nil {
		return nil, err
	}
	return &sess, nil
}

func (s *Store) DeleteSession(senderID string) error {
	_, err := s.db.Exec(`DELETE FROM sessions WHERE sender_id = ?`, senderID)
	return err
}

// ---------- Parties ----------

// CreateParty reserves the name and seeds every cuisine's score at zero.
// The insert on the primary key is the atomic reservation: a concurrent
// creator loses with ErrNameTaken instead of clobbering the winner.
func (s *Store) CreateParty(name, location string, quorum int, cuisines []string) error {
	encoded, err := json.Marshal(cuisines)
	if err != nil {
		return err
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.Exec(`
INSERT INTO parties(name, location, quorum, cuisines)
VALUES (?, ?, ?, ?)
ON CONFLICT(name) DO NOTHING
`, name, location, quorum, string(encoded))
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNameTaken
	}

	for _, cuisine := range cuisines {
		if _, err := tx.Exec(`
INSERT INTO party_scores(party_name, cuisine, score) VALUES (?, ?, 0)
ON CONFLICT(party_name, cuisine) DO NOTHING
`, name, cuisine); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *Store) GetParty(name string) (*domain.Party, error) {
	row := s.db.QueryRow(`SELECT location, quorum, images_shown, cuisines FROM parties WHERE name = ?`, name)

	var (
		p        domain.Party
		cuisines string
	)
	if err := row.Scan(&p.Location, &p.Quorum, &p.ImagesShown, &cuisines); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	p.Name = name
	if err := json.Unmarshal([]byte(cuisines), &p.Cuisines); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Store) PartyExists(name string) (bool, error) {
	var cnt int
	err := s.db.QueryRow(`SELECT COUNT(1) FROM parties WHERE name = ?`, name).Scan(&cnt)
	if err != nil {
		return false, err
	}
	return cnt > 0, nil
}

// AddPartyMember is an atomic set-add: joining twice is a no-op.
func (s *Store) AddPartyMember(name, senderID string, expiresAt time.Time) error {
	_, err := s.db.Exec(`
INSERT OR IGNORE INTO party_members(party_name, sender_id, expires_at) VALUES (?, ?, ?)
`, name, senderID, expiresAt)
	if err != nil {
		exists, checkErr := s.PartyExists(name)
		if checkErr == nil && !exists {
			return ErrNotFound
		}
		return err
	}
	return nil
}

// PartyMembers returns the roster with expired memberships filtered out.
// Expiry is enforced at read time; stale rows linger until the party's
// cascade delete but never reach a caller.
func (s *Store) PartyMembers(name string) ([]string, error) {
	rows, err := s.db.Query(`
SELECT sender_id FROM party_members WHERE party_name = ? AND expires_at > ? ORDER BY sender_id
`, name, time.Now())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var members []string
	for rows.Next() {
		var m string
		if err := rows.Scan(&m); err != nil {
			return nil, err
		}
		members = append(members, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return members, nil
}

// ---------- Votes / Scores ----------

// IncrementPartyScore adds delta to one cuisine's aggregate. A single
// UPDATE converges to the correct sum under any interleaving of members.
func (s *Store) IncrementPartyScore(name, cuisine string, delta int) error {
	_, err := s.db.Exec(`
UPDATE party_scores SET score = score + ? WHERE party_name = ? AND cuisine = ?
`, delta, name, cuisine)
	return err
}

// IncrementImagesShown bumps the party's shared vote counter by one.
func (s *Store) IncrementImagesShown(name string) error {
	_, err := s.db.Exec(`UPDATE parties SET images_shown = images_shown + 1 WHERE name = ?`, name)
	return err
}

// PartyScores returns the aggregate tally in ascending score order.
func (s *Store) PartyScores(name string) ([]domain.CuisineScore, error) {
	rows, err := s.db.Query(`
SELECT cuisine, score FROM party_scores WHERE party_name = ? ORDER BY score ASC, cuisine
`, name)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var scores []domain.CuisineScore
	for rows.Next() {
		var cs domain.CuisineScore
		if err := rows.Scan(&cs.Cuisine, &cs.Score); err != nil {
			return nil, err
		}
		scores = append(scores, cs)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return scores, nil
}

// CuisinesWithScore re-reads the cuisines holding exactly the given
// aggregate score, tolerating scores mutated since a snapshot was taken.
func (s *Store) CuisinesWithScore(name string, score int) ([]string, error) {
	rows, err := s.db.Query(`
SELECT cuisine FROM party_scores WHERE party_name = ? AND score = ? ORDER BY cuisine
`, name, score)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cuisines []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, err
		}
		cuisines = append(cuisines, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return cuisines, nil
}

// DeleteParty removes the party and, via cascade, its scores and roster.
// Returns false when the party was already gone, which makes a second
// concurrent teardown a silent no-op.
func (s *Store) DeleteParty(name string) (bool, error) {
	res, err := s.db.Exec(`DELETE FROM parties WHERE name = ?`, name)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}
