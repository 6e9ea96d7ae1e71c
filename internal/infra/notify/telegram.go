// Package notify рассылает оповещения о низком остатке фильтров в Telegram.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Spok95/filter-ledger/internal/domain/inventory"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Sender — часть *tgbotapi.BotAPI, которая нужна для рассылки.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

type Telegram struct {
	api   Sender
	chats []int64
	log   *slog.Logger
}

func NewTelegram(api Sender, log *slog.Logger, chatIDs ...int64) *Telegram {
	return &Telegram{api: api, chats: chatIDs, log: log}
}

// LowStockText собирает одно сообщение по всем позициям ниже минимума.
func LowStockText(movements []inventory.Movement) string {
	var sb strings.Builder
	sb.WriteString("⚠️ Фильтры:")
	for _, m := range movements {
		if m.Current <= 0 {
			fmt.Fprintf(&sb, "\n— %s (%s) закончились, остаток %d", m.SKU, m.Location, m.Current)
			continue
		}
		fmt.Fprintf(&sb, "\n— %s (%s) — %d шт, минимум %d", m.SKU, m.Location, m.Current, m.MinStock)
	}
	return sb.String()
}

func (t *Telegram) NotifyLowStock(ctx context.Context, movements []inventory.Movement) error {
	if len(movements) == 0 {
		return nil
	}
	text := LowStockText(movements)

	// не шлём одному и тому же chat_id дважды
	sent := map[int64]struct{}{}
	var errs []error
	for _, chatID := range t.chats {
		if err := ctx.Err(); err != nil {
			return err
		}
		if chatID == 0 {
			continue
		}
		if _, ok := sent[chatID]; ok {
			continue
		}
		sent[chatID] = struct{}{}
		if _, err := t.api.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
			t.log.Error("telegram send failed", "chat_id", chatID, "err", err)
			errs = append(errs, fmt.Errorf("chat %d: %w", chatID, err))
		}
	}
	return errors.Join(errs...)
}

// SendDocument отправляет файл (например, выгрузку прогноза) во все чаты.
func (t *Telegram) SendDocument(ctx context.Context, name string, data []byte, caption string) error {
	sent := map[int64]struct{}{}
	var errs []error
	for _, chatID := range t.chats {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, ok := sent[chatID]; ok || chatID == 0 {
			continue
		}
		sent[chatID] = struct{}{}
		doc := tgbotapi.NewDocument(chatID, tgbotapi.FileBytes{Name: name, Bytes: data})
		doc.Caption = caption
		if _, err := t.api.Send(doc); err != nil {
			t.log.Error("telegram document failed", "chat_id", chatID, "file", name, "err", err)
			errs = append(errs, fmt.Errorf("chat %d: %w", chatID, err))
		}
	}
	return errors.Join(errs...)
}
