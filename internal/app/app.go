// Package app routes inbound (sender, text) messages through the
// per-sender session state machine and drives the party coordinator.
package app

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tenderbot/tender/internal/domain"
	"github.com/tenderbot/tender/internal/metrics"
	"github.com/tenderbot/tender/internal/party"
	"github.com/tenderbot/tender/internal/partyname"
	"github.com/tenderbot/tender/internal/storage"
	"github.com/tenderbot/tender/internal/winner"
)

const (
	msgWelcome           = "Welcome to Tender! Please send 'food' to begin! Or send the name of a party you want to join."
	msgAskLocation       = "Whereabouts would you like to eat?"
	msgWhichLocation     = "Which of these do you mean?"
	msgBadLocation       = "Something's wrong... please start over."
	msgUnsupported       = "Sorry, this location is currently not supported."
	msgInvalidOption     = "Invalid option. Please start again."
	msgAskMode           = "Are we eating (s)olo or (y)olo?"
	msgVotePrompt        = "Fork (R)ight if yumm or (L)eft if dumb"
	msgSpoiledBallot     = "That's not how you fork..."
	msgNoEatery          = "We couldn't find an eatery for that nearby. Please start over."
	msgImagesUnavailable = "We couldn't find food images right now. Please start over."
)

// affirmatives accepted at the party-name confirmation step.
var affirmatives = map[string]struct{}{
	"y": {}, `"y"`: {}, "'y'": {}, "yes": {}, `"yes"`: {}, "'yes'": {},
}

// Messenger delivers outbound messages. Sends are fire-and-forget from
// the state machine's perspective; delivery failures never alter state.
type Messenger interface {
	Send(recipient, body string, mediaURLs ...string) error
}

// LocationResolver turns free text into place candidates and checks the
// service area.
type LocationResolver interface {
	ResolveLocation(ctx context.Context, text string) ([]domain.Place, error)
	SupportedCountry(ctx context.Context, placeID string) (bool, error)
}

// CuisineSource discovers cuisines and eateries near a location.
type CuisineSource interface {
	DiscoverCuisines(ctx context.Context, location string) ([]string, error)
	FindEatery(ctx context.Context, cuisine, location string) (domain.Eatery, error)
}

// ImageSource supplies voting images for cuisines.
type ImageSource interface {
	Prefetch(ctx context.Context, cuisines []string)
	Has(cuisine string) bool
	RandomImage(ctx context.Context, cuisine string) (string, error)
}

type App struct {
	store     *storage.Store
	messenger Messenger
	places    LocationResolver
	food      CuisineSource
	images    ImageSource
	names     *partyname.Generator
	parties   *party.Coordinator
	metrics   *metrics.Metrics
	logger    *zerolog.Logger

	soloQuorum  int
	partyQuorum int
	imageWait   time.Duration
}

type Options struct {
	Store       *storage.Store
	Messenger   Messenger
	Places      LocationResolver
	Food        CuisineSource
	Images      ImageSource
	Names       *partyname.Generator
	Parties     *party.Coordinator
	Metrics     *metrics.Metrics
	Logger      *zerolog.Logger
	SoloQuorum  int
	PartyQuorum int
	ImageWait   time.Duration
}

func New(opts Options) *App {
	return &App{
		store:       opts.Store,
		messenger:   opts.Messenger,
		places:      opts.Places,
		food:        opts.Food,
		images:      opts.Images,
		names:       opts.Names,
		parties:     opts.Parties,
		metrics:     opts.Metrics,
		logger:      opts.Logger,
		soloQuorum:  opts.SoloQuorum,
		partyQuorum: opts.PartyQuorum,
		imageWait:   opts.ImageWait,
	}
}

// HandleMessage processes one inbound message end to end: shortcut
// routing, state handler, and persisting the resulting transition.
// Store failures abort the message outright rather than proceeding with
// partial state.
func (a *App) HandleMessage(ctx context.Context, senderID, text string) {
	a.metrics.MessagesReceived.Inc()
	log := a.logger.With().Str("message_id", uuid.NewString()).Str("sender", senderID).Logger()

	if err := a.handle(ctx, &log, senderID, text); err != nil {
		log.Error().Err(err).Msg("message handling failed")
	}
}

func (a *App) handle(ctx context.Context, log *zerolog.Logger, senderID, text string) error {
	lower := strings.ToLower(strings.TrimSpace(text))

	// Unconditional quit, valid in any state.
	if lower == "d" {
		if err := a.store.DeleteSession(senderID); err != nil {
			return err
		}
		a.metrics.SessionsEnded.WithLabelValues("quit").Inc()
		return nil
	}

	// Session start.
	if strings.HasPrefix(lower, "food") {
		sess := &domain.Session{SenderID: senderID, State: domain.StateAwaitingLocation}
		if err := a.store.SaveSession(sess); err != nil {
			return err
		}
		a.send(log, senderID, msgAskLocation)
		return nil
	}

	sess, err := a.store.GetSession(senderID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return err
	}

	if sess == nil {
		// No session: a message matching an active party's name joins it
		// directly in voting state.
		exists, err := a.store.PartyExists(text)
		if err != nil {
			return err
		}
		if exists {
			return a.joinParty(ctx, log, senderID, text)
		}
		a.send(log, senderID, msgWelcome)
		return nil
	}

	switch sess.State {
	case domain.StateAwaitingLocation:
		return a.handleLocation(ctx, log, sess, text)
	case domain.StateDisambiguating:
		return a.handleDisambiguation(ctx, log, sess, text)
	case domain.StateAwaitingMode:
		return a.handleMode(ctx, log, sess, lower)
	case domain.StateAwaitingParty:
		return a.handlePartyName(ctx, log, sess, text, lower)
	case domain.StateVoting:
		return a.handleVote(ctx, log, sess, lower)
	default:
		return a.invalidOption(log, senderID)
	}
}

// ---------- Joining an existing party ----------

func (a *App) joinParty(ctx context.Context, log *zerolog.Logger, senderID, name string) error {
	p, err := a.parties.Join(name, senderID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			// The party dissolved between the existence check and the
			// join; the sender starts from scratch.
			a.send(log, senderID, msgWelcome)
			return nil
		}
		return err
	}

	a.send(log, senderID, fmt.Sprintf("You have joined the %s Party!", name))

	sess := &domain.Session{
		SenderID:       senderID,
		State:          domain.StateVoting,
		PartyName:      name,
		CurrentCuisine: p.Cuisines[rand.Intn(len(p.Cuisines))],
	}
	return a.sendFirstCuisine(ctx, log, sess)
}

// ---------- Location ----------

func (a *App) handleLocation(ctx context.Context, log *zerolog.Logger, sess *domain.Session, text string) error {
	candidates, err := a.places.ResolveLocation(ctx, text)
	if err != nil {
		return err
	}

	switch len(candidates) {
	case 0:
		a.send(log, sess.SenderID, msgBadLocation)
		return a.endSession(sess.SenderID, "no_location")
	case 1:
		return a.confirmLocation(ctx, log, sess, candidates[0])
	default:
		a.send(log, sess.SenderID, msgWhichLocation)
		for i, place := range candidates {
			a.send(log, sess.SenderID, fmt.Sprintf("%d: %s", i+1, place.Description))
		}
		sess.Ambiguous = candidates
		sess.State = domain.StateDisambiguating
		return a.store.SaveSession(sess)
	}
}

func (a *App) handleDisambiguation(ctx context.Context, log *zerolog.Logger, sess *domain.Session, text string) error {
	trimmed := strings.TrimSpace(text)
	if !allDigits(trimmed) {
		return a.invalidOption(log, sess.SenderID)
	}
	choice, err := strconv.Atoi(trimmed)
	if err != nil || choice < 1 || choice > len(sess.Ambiguous) {
		return a.invalidOption(log, sess.SenderID)
	}
	place := sess.Ambiguous[choice-1]
	sess.Ambiguous = nil
	return a.confirmLocation(ctx, log, sess, place)
}

// allDigits reports whether s is a non-empty run of ASCII digits. Signs
// do not count; "+2" is not a menu choice.
func allDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func (a *App) confirmLocation(ctx context.Context, log *zerolog.Logger, sess *domain.Session, place domain.Place) error {
	supported, err := a.places.SupportedCountry(ctx, place.ID)
	if err != nil {
		return err
	}
	if !supported {
		a.send(log, sess.SenderID, msgUnsupported)
		return a.endSession(sess.SenderID, "unsupported_location")
	}

	sess.Location = place.Description
	sess.State = domain.StateAwaitingMode
	if err := a.store.SaveSession(sess); err != nil {
		return err
	}
	a.send(log, sess.SenderID, msgAskMode)
	return nil
}

// ---------- Mode selection ----------

func (a *App) handleMode(ctx context.Context, log *zerolog.Logger, sess *domain.Session, lower string) error {
	solo := strings.HasPrefix(lower, "s")
	if !solo && !strings.HasPrefix(lower, "y") {
		return a.invalidOption(log, sess.SenderID)
	}

	cuisines, err := a.food.DiscoverCuisines(ctx, sess.Location)
	if err != nil {
		return err
	}
	a.images.Prefetch(ctx, cuisines)

	// Prefer starting with a cuisine whose images are already cached, so
	// the first prompt goes out without waiting on a fetch.
	for i, cuisine := range cuisines {
		if a.images.Has(cuisine) {
			cuisines[0], cuisines[i] = cuisines[i], cuisines[0]
			break
		}
	}

	sess.Cuisines = cuisines
	sess.CurrentCuisine = cuisines[0]

	if solo {
		return a.sendFirstCuisine(ctx, log, sess)
	}

	name, err := a.names.Generate(a.store)
	if err != nil {
		return err
	}
	a.send(log, sess.SenderID, proposeName(name, false))
	sess.PartyName = name
	sess.State = domain.StateAwaitingParty
	return a.store.SaveSession(sess)
}

// ---------- Party naming ----------

func (a *App) handlePartyName(ctx context.Context, log *zerolog.Logger, sess *domain.Session, text, lower string) error {
	if _, ok := affirmatives[lower]; !ok {
		// The sender wants a custom name.
		taken, err := a.store.PartyExists(text)
		if err != nil {
			return err
		}
		if taken {
			return a.proposeAnotherName(log, sess)
		}
		sess.PartyName = text
	}

	err := a.parties.Create(sess.PartyName, sess.Location, a.partyQuorum, sess.Cuisines, sess.SenderID)
	if errors.Is(err, storage.ErrNameTaken) {
		// A concurrent creator claimed the name between our check and the
		// reservation; propose a fresh one and stay in this state.
		return a.proposeAnotherName(log, sess)
	}
	if err != nil {
		return err
	}
	a.metrics.PartiesCreated.Inc()

	sess.State = domain.StateVoting
	return a.sendFirstCuisine(ctx, log, sess)
}

func (a *App) proposeAnotherName(log *zerolog.Logger, sess *domain.Session) error {
	name, err := a.names.Generate(a.store)
	if err != nil {
		return err
	}
	a.send(log, sess.SenderID, "Sorry! There is already a party with that name. "+proposeName(name, true))
	sess.PartyName = name
	return a.store.SaveSession(sess)
}

func proposeName(name string, retry bool) string {
	if retry {
		return fmt.Sprintf(`Send a "y" if you want to be the %q Party instead... or send your own choice of name!`, name)
	}
	return fmt.Sprintf(`Send a "y" if you want to call this the %q Party... or text back your own choice of name!`, name)
}

// ---------- Voting ----------

func (a *App) handleVote(ctx context.Context, log *zerolog.Logger, sess *domain.Session, lower string) error {
	var (
		shown, quorum int
		partyCuisines []string
	)
	if sess.Solo() {
		shown, quorum = sess.ImagesSent, a.soloQuorum
	} else {
		p, err := a.store.GetParty(sess.PartyName)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				// The party resolved under a concurrent member's message;
				// nothing left to vote on.
				return a.endSession(sess.SenderID, "resolved")
			}
			return err
		}
		shown, quorum, partyCuisines = p.ImagesShown, p.Quorum, p.Cuisines
	}

	// The vote counter is checked first, as a separate step from the
	// mutation below. Two members can both see quorum unreached and each
	// cast one more vote; resolution tolerates the overshoot.
	if shown >= quorum {
		return a.resolve(ctx, log, sess)
	}

	var delta int
	kind := "spoiled"
	switch {
	case strings.HasPrefix(lower, "r"):
		delta, kind = 1, "approve"
	case strings.HasPrefix(lower, "l"):
		delta, kind = -1, "reject"
	default:
		// Spoiled ballot: no score effect, but the sender is told and
		// voting continues.
		a.send(log, sess.SenderID, msgSpoiledBallot)
	}
	a.metrics.VotesCast.WithLabelValues(kind).Inc()

	cuisines := sess.Cuisines
	if sess.Solo() {
		if sess.Scores == nil {
			sess.Scores = make(map[string]int)
		}
		sess.Scores[sess.CurrentCuisine] += delta
	} else {
		if err := a.parties.RecordVote(sess.PartyName, sess.CurrentCuisine, delta); err != nil {
			return err
		}
		cuisines = partyCuisines
	}

	next := cuisines[rand.Intn(len(cuisines))]
	if err := a.sendCuisineImage(ctx, log, sess.SenderID, next); err != nil {
		a.send(log, sess.SenderID, msgImagesUnavailable)
		if endErr := a.endSession(sess.SenderID, "image_failure"); endErr != nil {
			return endErr
		}
		return err
	}
	sess.ImagesSent++
	sess.CurrentCuisine = next
	return a.store.SaveSession(sess)
}

func (a *App) resolve(ctx context.Context, log *zerolog.Logger, sess *domain.Session) error {
	if sess.Solo() {
		win, err := winner.PickSolo(sess.Scores)
		if err != nil {
			// Empty scores can only mean a broken invariant upstream.
			if endErr := a.endSession(sess.SenderID, "invariant"); endErr != nil {
				return endErr
			}
			return err
		}
		eatery, err := a.food.FindEatery(ctx, win, sess.Location)
		if err != nil {
			a.send(log, sess.SenderID, msgNoEatery)
			if endErr := a.endSession(sess.SenderID, "no_eatery"); endErr != nil {
				return endErr
			}
			return err
		}
		a.sendWinner(log, sess.SenderID, win, eatery, "")
		return a.endSession(sess.SenderID, "resolved")
	}

	res, resolved, err := a.parties.Resolve(sess.PartyName)
	if err != nil {
		return err
	}
	if !resolved {
		// Another member won the teardown race and is broadcasting. Our
		// session may already be gone; deleting it again is harmless.
		return a.endSession(sess.SenderID, "resolved")
	}

	eatery, err := a.food.FindEatery(ctx, res.Winner, res.Location)
	if err != nil {
		for _, member := range res.Members {
			a.send(log, member, msgNoEatery)
			if endErr := a.endSession(member, "no_eatery"); endErr != nil {
				log.Error().Err(endErr).Str("member", member).Msg("session cleanup failed")
			}
		}
		return err
	}

	for _, member := range res.Members {
		a.sendWinner(log, member, res.Winner, eatery, sess.PartyName)
		if endErr := a.endSession(member, "resolved"); endErr != nil {
			log.Error().Err(endErr).Str("member", member).Msg("session cleanup failed")
		}
	}
	a.metrics.PartiesResolved.Inc()
	return nil
}

// ---------- Outbound helpers ----------

// sendFirstCuisine presents the session's first cuisine and seeds the
// counters: the private tally in solo mode, the shared vote counter in
// party mode.
func (a *App) sendFirstCuisine(ctx context.Context, log *zerolog.Logger, sess *domain.Session) error {
	if err := a.sendCuisineImage(ctx, log, sess.SenderID, sess.CurrentCuisine); err != nil {
		a.send(log, sess.SenderID, msgImagesUnavailable)
		if endErr := a.endSession(sess.SenderID, "image_failure"); endErr != nil {
			return endErr
		}
		return err
	}

	if sess.Solo() {
		sess.Scores = map[string]int{sess.CurrentCuisine: 0}
	} else if err := a.parties.RecordShown(sess.PartyName); err != nil {
		return err
	}
	sess.ImagesSent = 1
	sess.State = domain.StateVoting
	return a.store.SaveSession(sess)
}

func (a *App) sendCuisineImage(ctx context.Context, log *zerolog.Logger, recipient, cuisine string) error {
	waitCtx, cancel := context.WithTimeout(ctx, a.imageWait)
	defer cancel()

	image, err := a.images.RandomImage(waitCtx, cuisine)
	if err != nil {
		return fmt.Errorf("image for %s: %w", cuisine, err)
	}
	a.send(log, recipient, msgVotePrompt, image)
	return nil
}

func (a *App) sendWinner(log *zerolog.Logger, recipient, win string, eatery domain.Eatery, partyName string) {
	if partyName != "" {
		a.send(log, recipient, fmt.Sprintf(
			"The results are in for the %s Party! Looks like the party is feeling like %s cuisine.", partyName, win))
	} else {
		a.send(log, recipient, fmt.Sprintf("Looks like you might want %s cuisine.", win))
	}
	if eatery.ImageURL != "" {
		a.send(log, recipient, fmt.Sprintf("How about %s?", eatery.Name), eatery.ImageURL)
	} else {
		a.send(log, recipient, fmt.Sprintf("How about %s?", eatery.Name))
	}
}

func (a *App) invalidOption(log *zerolog.Logger, senderID string) error {
	a.send(log, senderID, msgInvalidOption)
	return a.endSession(senderID, "invalid_input")
}

func (a *App) endSession(senderID, reason string) error {
	if err := a.store.DeleteSession(senderID); err != nil {
		return err
	}
	a.metrics.SessionsEnded.WithLabelValues(reason).Inc()
	return nil
}

func (a *App) send(log *zerolog.Logger, recipient, body string, mediaURLs ...string) {
	if err := a.messenger.Send(recipient, body, mediaURLs...); err != nil {
		log.Warn().Err(err).Str("recipient", recipient).Msg("send failed")
	}
}
