package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/Spok95/filter-ledger/internal/domain/inventory"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type senderMock struct{ mock.Mock }

func (m *senderMock) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	args := m.Called(c)
	return tgbotapi.Message{}, args.Error(0)
}

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestLowStockText(t *testing.T) {
	text := LowStockText([]inventory.Movement{
		{SKU: "RO-10CF", Location: "BODEGA", Previous: 60, Current: 59, MinStock: 60},
		{SKU: "PP-10CF", Location: "BODEGA", Previous: 0, Current: -1, MinStock: 5},
	})
	assert.Contains(t, text, "RO-10CF (BODEGA) — 59 шт, минимум 60")
	assert.Contains(t, text, "PP-10CF (BODEGA) закончились, остаток -1")
}

func TestNotifyLowStockSendsOncePerChat(t *testing.T) {
	api := &senderMock{}
	api.On("Send", mock.MatchedBy(func(c tgbotapi.MessageConfig) bool { return c.ChatID == 100 })).Return(nil).Once()
	api.On("Send", mock.MatchedBy(func(c tgbotapi.MessageConfig) bool { return c.ChatID == 200 })).Return(errors.New("blocked")).Once()

	n := NewTelegram(api, discard(), 100, 0, 200, 100)
	err := n.NotifyLowStock(context.Background(), []inventory.Movement{{SKU: "RO-10CF", Location: "BODEGA", Current: 1, MinStock: 2}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chat 200")
	api.AssertExpectations(t)
}

func TestNotifyLowStockNothingToSend(t *testing.T) {
	api := &senderMock{}
	n := NewTelegram(api, discard(), 100)
	require.NoError(t, n.NotifyLowStock(context.Background(), nil))
	api.AssertNotCalled(t, "Send", mock.Anything)
}

func TestSendDocument(t *testing.T) {
	api := &senderMock{}
	api.On("Send", mock.MatchedBy(func(c tgbotapi.DocumentConfig) bool {
		f, ok := c.File.(tgbotapi.FileBytes)
		return c.ChatID == 100 && ok && f.Name == "projection.xlsx" && c.Caption == "прогноз"
	})).Return(nil).Once()

	n := NewTelegram(api, discard(), 100)
	require.NoError(t, n.SendDocument(context.Background(), "projection.xlsx", []byte("x"), "прогноз"))
	api.AssertExpectations(t)
}
