// Package transport adapts the abstract (sender, text) message pairs the
// core works with to a concrete messaging backend.
package transport

import (
	"context"
	"strconv"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

// Handler processes one inbound message.
type Handler func(ctx context.Context, senderID, text string)

// mailboxIdle is how long a sender's worker lingers without messages
// before it retires and frees its map entry.
const mailboxIdle = 2 * time.Minute

// Telegram delivers and receives messages over the Telegram bot API.
// Each sender gets a serial mailbox so their messages are handled in
// order, while different senders' messages run in parallel. Idle
// mailboxes retire after mailboxIdle so the worker count tracks active
// senders, not every sender ever seen.
type Telegram struct {
	bot    *tgbotapi.BotAPI
	logger *zerolog.Logger
	idle   time.Duration

	mu        sync.Mutex
	mailboxes map[string]chan inbound
	wg        sync.WaitGroup
}

type inbound struct {
	senderID string
	text     string
}

func NewTelegram(bot *tgbotapi.BotAPI, logger *zerolog.Logger) *Telegram {
	return &Telegram{
		bot:       bot,
		logger:    logger,
		idle:      mailboxIdle,
		mailboxes: make(map[string]chan inbound),
	}
}

// Send delivers one message, optionally with a photo attachment. The
// first media URL wins; extra ones are ignored, matching the one-image
// prompts the state machine sends.
func (t *Telegram) Send(recipient, body string, mediaURLs ...string) error {
	chatID, err := strconv.ParseInt(recipient, 10, 64)
	if err != nil {
		return err
	}
	if len(mediaURLs) > 0 && mediaURLs[0] != "" {
		photo := tgbotapi.NewPhoto(chatID, tgbotapi.FileURL(mediaURLs[0]))
		photo.Caption = body
		_, err = t.bot.Send(photo)
		return err
	}
	_, err = t.bot.Send(tgbotapi.NewMessage(chatID, body))
	return err
}

// Run pumps updates into per-sender mailboxes until the context ends,
// then drains the workers.
func (t *Telegram) Run(ctx context.Context, handle Handler) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := t.bot.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			t.bot.StopReceivingUpdates()
			t.closeMailboxes()
			t.wg.Wait()
			return

		case update, ok := <-updates:
			if !ok {
				t.closeMailboxes()
				t.wg.Wait()
				return
			}
			msg := update.Message
			if msg == nil || msg.From == nil {
				continue
			}
			senderID := strconv.FormatInt(msg.Chat.ID, 10)
			t.deliver(ctx, handle, inbound{senderID: senderID, text: msg.Text})
		}
	}
}

// deliver hands the message to the sender's mailbox, spawning a worker
// on first contact. The non-blocking send happens under the mutex so a
// worker deciding to retire and a message arriving for it serialize:
// the worker re-checks its mailbox under the same lock before exiting.
func (t *Telegram) deliver(ctx context.Context, handle Handler, in inbound) {
	t.mu.Lock()
	defer t.mu.Unlock()

	box, ok := t.mailboxes[in.senderID]
	if !ok {
		box = make(chan inbound, 16)
		t.mailboxes[in.senderID] = box
		t.wg.Add(1)
		go t.work(ctx, handle, in.senderID, box)
	}

	select {
	case box <- in:
	default:
		t.logger.Warn().Str("sender", in.senderID).Msg("mailbox full, dropping message")
	}
}

func (t *Telegram) work(ctx context.Context, handle Handler, senderID string, box chan inbound) {
	defer t.wg.Done()

	timer := time.NewTimer(t.idle)
	defer timer.Stop()

	for {
		select {
		case m, ok := <-box:
			if !ok {
				return
			}
			handle(ctx, m.senderID, m.text)
			if !timer.Stop() {
				<-timer.C
			}
			timer.Reset(t.idle)

		case <-timer.C:
			t.mu.Lock()
			if len(box) > 0 {
				// A message slipped in while the timer fired; keep going.
				t.mu.Unlock()
				timer.Reset(t.idle)
				continue
			}
			delete(t.mailboxes, senderID)
			t.mu.Unlock()
			return
		}
	}
}

func (t *Telegram) closeMailboxes() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, box := range t.mailboxes {
		close(box)
	}
	t.mailboxes = make(map[string]chan inbound)
}
