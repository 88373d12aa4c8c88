package mylog

import (
	"context"
	"log/slog"
	"os"
	"sibyl/app/config"

	"github.com/phsym/console-slog"
	slogmulti "github.com/samber/slog-multi"
	slogtelegram "github.com/samber/slog-telegram/v2"
)

// Preinit installs a console logger before the config is available.
func Preinit() {
	slog.SetDefault(slog.New(console.NewHandler(os.Stderr, &console.HandlerOptions{
		AddSource: true,
		Level:     slog.LevelDebug,
	})))
}

func Init(cfg config.Log) error {
	router := slogmulti.Router()

	router = router.Add(console.NewHandler(os.Stderr, &console.HandlerOptions{
		AddSource: true,
		Level:     slog.LevelDebug,
	}))

	if cfg.Telegram.Token != "" {
		router = router.Add(
			slogtelegram.Option{
				Level:    slog.LevelDebug,
				Token:    cfg.Telegram.Token,
				Username: cfg.Telegram.ChatID,
			}.NewTelegramHandler(),

			func(_ context.Context, r slog.Record) bool {
				wantTelegram := false

				r.Attrs(func(attr slog.Attr) bool {
					if attr.Key == "telegram" {
						wantTelegram = true
						return false
					}

					return true
				})

				return r.Level >= slog.LevelError || wantTelegram
			},
		)
	}

	slog.SetDefault(slog.New(router.Handler()))

	return nil
}
