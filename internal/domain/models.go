package domain

// State names the step of the protocol a sender is currently at.
type State string

const (
	StateAwaitingLocation State = "awaiting_location"
	StateDisambiguating   State = "disambiguating_location"
	StateAwaitingMode     State = "awaiting_mode"
	StateAwaitingParty    State = "awaiting_party_name"
	StateVoting           State = "voting"
)

// Place is a location candidate returned by the places gateway.
type Place struct {
	ID          string `json:"id"`
	Description string `json:"description"`
}

// Session is the per-sender protocol state, one row per active sender.
// Fields are populated per state: Ambiguous only while disambiguating,
// Scores and ImagesSent only in solo voting, PartyName only in party
// voting. Scores and PartyName are mutually exclusive.
type Session struct {
	SenderID       string
	State          State
	Location       string
	Ambiguous      []Place
	Cuisines       []string
	CurrentCuisine string
	ImagesSent     int
	Scores         map[string]int
	PartyName      string
}

// Solo reports whether the session carries its own private tally.
func (s *Session) Solo() bool {
	return s.PartyName == ""
}

// Party is the shared state of a named group voting session.
type Party struct {
	Name        string
	Location    string
	Quorum      int
	ImagesShown int
	Cuisines    []string
}

// CuisineScore is one entry of a party's aggregate tally.
type CuisineScore struct {
	Cuisine string
	Score   int
}

// Eatery is a suggested restaurant for the winning cuisine.
type Eatery struct {
	Name     string
	ImageURL string
}
