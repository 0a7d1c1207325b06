package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/savaki/iothub-ota/cmd/ota/commands"
	"github.com/savaki/iothub-ota/internal/di"
	otaerrors "github.com/savaki/iothub-ota/internal/errors"
)

func main() {
	logger := di.NewLogger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	ctx = logger.WithContext(ctx)

	app := commands.NewApp(&logger)
	err := app.RunContext(ctx, commands.Args(app, os.Args))
	stop()

	if err != nil {
		logger.Error().Err(err).Msg("ota failed")
		os.Exit(otaerrors.ExitCode(err))
	}
}
