// Package notify delivers pre-formatted messages to clients.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/time/rate"

	"salonagenda/internal/model"
)

var ErrNoDestination = errors.New("notify: no destination")

// Error is a failed dispatch.
type Error struct {
	Destination string
	Err         error
}

func (e *Error) Error() string {
	return fmt.Sprintf("notify %s: %v", e.Destination, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Dispatcher sends text to a destination.
type Dispatcher interface {
	SendMessage(ctx context.Context, destination, text string) error
}

// TelegramSender is the part of the bot API used for delivery.
type TelegramSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Telegram delivers messages to Telegram chats. Destination is a chat id.
type Telegram struct {
	bot     TelegramSender
	limiter *rate.Limiter
}

// DefaultMessagesPerSecond stays under the bot API's broadcast limit.
const DefaultMessagesPerSecond = 25

// NewTelegram wraps a bot. perSecond <= 0 uses DefaultMessagesPerSecond.
func NewTelegram(bot TelegramSender, perSecond float64) *Telegram {
	if perSecond <= 0 {
		perSecond = DefaultMessagesPerSecond
	}
	return &Telegram{
		bot:     bot,
		limiter: rate.NewLimiter(rate.Limit(perSecond), 1),
	}
}

func (t *Telegram) SendMessage(ctx context.Context, destination, text string) error {
	if strings.TrimSpace(destination) == "" {
		return &Error{Destination: destination, Err: ErrNoDestination}
	}
	chatID, err := strconv.ParseInt(destination, 10, 64)
	if err != nil {
		return &Error{Destination: destination, Err: fmt.Errorf("invalid chat id: %w", err)}
	}
	if err := t.limiter.Wait(ctx); err != nil {
		return &Error{Destination: destination, Err: fmt.Errorf("rate limiter: %w", err)}
	}
	if _, err := t.bot.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		return &Error{Destination: destination, Err: err}
	}
	return nil
}

// Nop drops every message.
type Nop struct{}

func (Nop) SendMessage(context.Context, string, string) error { return nil }

// Confirmation is the data rendered into a booking confirmation.
type Confirmation struct {
	ClientName    string
	TreatmentName string
	Appointment   model.Appointment
}

// FormatConfirmation renders the fixed confirmation template.
func FormatConfirmation(c Confirmation) string {
	var b strings.Builder
	if c.ClientName != "" {
		fmt.Fprintf(&b, "Hello %s!\n", c.ClientName)
	} else {
		b.WriteString("Hello!\n")
	}
	b.WriteString("Your appointment is booked.\n")
	a := c.Appointment
	fmt.Fprintf(&b, "Date: %s\nTime: %s\nBox: %s\n", a.Date.Format("02/01/2006"), a.Time, a.Box)
	if c.TreatmentName != "" {
		fmt.Fprintf(&b, "Treatment: %s\n", c.TreatmentName)
	}
	if a.Price > 0 {
		fmt.Fprintf(&b, "Price: %s\n", a.Price)
	}
	if a.Deposit > 0 {
		fmt.Fprintf(&b, "Deposit: %s\n", a.Deposit)
	}
	return b.String()
}
