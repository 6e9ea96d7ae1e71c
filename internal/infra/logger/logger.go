package logger

import (
	"io"
	"log/slog"
	"os"
	"time"
)

// New: dev — текстовый вывод с debug, иначе JSON с info. Время в логах
// переводится в timezone (хранение и расчёты при этом остаются в UTC).
func New(env, timezone string) *slog.Logger {
	return NewWriter(os.Stdout, env, timezone)
}

func NewWriter(w io.Writer, env, timezone string) *slog.Logger {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		loc = time.UTC
	}
	opts := &slog.HandlerOptions{
		Level: slog.LevelInfo,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if len(groups) == 0 && a.Key == slog.TimeKey {
				a.Value = slog.TimeValue(a.Value.Time().In(loc))
			}
			return a
		},
	}
	var h slog.Handler
	if env == "dev" {
		opts.Level = slog.LevelDebug
		h = slog.NewTextHandler(w, opts)
	} else {
		h = slog.NewJSONHandler(w, opts)
	}
	l := slog.New(h).With("service", "filter-ledger")
	if err != nil {
		l.Warn("unknown timezone, using UTC", "timezone", timezone)
	}
	return l
}
