package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"

	"sibyl/app/api"
	"sibyl/app/bus"
	"sibyl/app/client/espeak"
	"sibyl/app/client/ollama"
	"sibyl/app/client/whisper"
	"sibyl/app/config"
	"sibyl/app/service/agent"
	"sibyl/app/service/caption"
	"sibyl/app/service/functions"
	"sibyl/app/service/memory"
	"sibyl/app/service/orchestrator"
	"sibyl/app/service/state"
	"sibyl/app/util/mylog"

	"github.com/gofiber/fiber/v2/log"
	"github.com/samber/do"
	"github.com/spf13/pflag"
)

func main() {
	configPath := pflag.String("config", "config.yaml", "path to the config file")
	pflag.Parse()

	di := do.New()
	defer di.Shutdown()
	defer log.Info("Waiting for services to finish...")

	mylog.Preinit()

	appCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	do.ProvideValue(di, appCtx)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	do.ProvideValue(di, cfg)

	if err = mylog.Init(cfg.Log); err != nil {
		log.Fatalf("logging init failed: %v", err)
	}

	do.Provide(di, bus.New)
	do.Provide(di, state.NewMachine)
	do.Provide(di, memory.New)
	do.Provide(di, functions.New)
	do.Provide(di, func(di *do.Injector) (agent.Backend, error) {
		return ollama.NewClient(di)
	})
	do.Provide(di, agent.New)
	do.Provide(di, caption.New)
	do.Provide(di, func(di *do.Injector) (orchestrator.SpeechInput, error) {
		return whisper.NewClient(di)
	})
	do.Provide(di, func(di *do.Injector) (orchestrator.SpeechOutput, error) {
		return espeak.NewClient(di)
	})
	do.Provide(di, orchestrator.New)
	do.Provide(di, api.New)

	slog.Info("Service started")

	go func() {
		sigint := make(chan os.Signal, 1)
		signal.Notify(sigint, os.Interrupt)
		<-sigint

		log.Info("Shutting down...")

		cancel()
	}()

	do.MustInvoke[*orchestrator.Service](di)

	do.MustInvoke[*api.Server](di).Run(appCtx)
}
