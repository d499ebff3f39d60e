package app

import (
	"context"
	"os/signal"
	"syscall"
)

// Once refreshes the odds board and runs a single loop iteration.
func (a *App) Once(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	rt, err := a.build(ctx)
	if err != nil {
		return err
	}
	defer rt.close()

	if err := rt.service.RunOnce(ctx); err != nil {
		return err
	}
	a.Logger.Info().Int("odds_games", rt.cache.Len()).Msg("single iteration complete")
	return nil
}
