package notify

import (
	"context"
	"errors"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"salonagenda/internal/model"
	"salonagenda/internal/timegrid"
)

type MockSender struct {
	mock.Mock
}

func (m *MockSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	args := m.Called(c)
	return args.Get(0).(tgbotapi.Message), args.Error(1)
}

func TestTelegram_SendMessage(t *testing.T) {
	sender := new(MockSender)
	sender.On("Send", mock.MatchedBy(func(c tgbotapi.Chattable) bool {
		msg, ok := c.(tgbotapi.MessageConfig)
		return ok && msg.ChatID == 12345 && msg.Text == "hi"
	})).Return(tgbotapi.Message{}, nil).Once()

	tg := NewTelegram(sender, 100)
	require.NoError(t, tg.SendMessage(context.Background(), "12345", "hi"))
	sender.AssertExpectations(t)
}

func TestTelegram_SendMessageErrors(t *testing.T) {
	sender := new(MockSender)
	sender.On("Send", mock.Anything).Return(tgbotapi.Message{}, errors.New("Forbidden: bot was blocked by the user")).Once()
	tg := NewTelegram(sender, 100)
	ctx := context.Background()

	err := tg.SendMessage(ctx, "", "hi")
	assert.ErrorIs(t, err, ErrNoDestination)

	err = tg.SendMessage(ctx, "@someone", "hi")
	var ne *Error
	require.True(t, errors.As(err, &ne))
	assert.Equal(t, "@someone", ne.Destination)

	err = tg.SendMessage(ctx, "42", "hi")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "blocked")
	sender.AssertNumberOfCalls(t, "Send", 1)

	canceled, cancel := context.WithCancel(ctx)
	cancel()
	tg = NewTelegram(sender, 0.001)
	_ = tg.limiter.Allow()
	assert.Error(t, tg.SendMessage(canceled, "42", "hi"))
}

func TestFormatConfirmation(t *testing.T) {
	d, err := timegrid.ParseDate("2024-01-15")
	require.NoError(t, err)
	text := FormatConfirmation(Confirmation{
		ClientName:    "Ana",
		TreatmentName: "Facial",
		Appointment: model.Appointment{
			Date:    d,
			Time:    timegrid.MustClock("10:00"),
			Box:     "Box 1",
			Price:   4500,
			Deposit: 1000,
		},
	})
	assert.Equal(t, "Hello Ana!\nYour appointment is booked.\nDate: 15/01/2024\nTime: 10:00\nBox: Box 1\n"+
		"Treatment: Facial\nPrice: 45.00\nDeposit: 10.00\n", text)

	assert.Contains(t, FormatConfirmation(Confirmation{}), "Hello!\n")
}
