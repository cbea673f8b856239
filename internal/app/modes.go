package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/condvault/internal/crypto"
	"github.com/alanyoungcy/condvault/internal/proposal"
	"github.com/alanyoungcy/condvault/internal/server"
	"github.com/alanyoungcy/condvault/internal/server/handler"
	"github.com/alanyoungcy/condvault/internal/server/ws"
)

// ServerMode serves the HTTP and WebSocket API without the expiry sweeper.
// Proposals are still finalized on explicit request.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	g, ctx := errgroup.WithContext(ctx)
	if err := a.recoverProposals(ctx, deps); err != nil {
		return fmt.Errorf("server mode: %w", err)
	}
	a.startHTTPServer(ctx, g, deps)
	return g.Wait()
}

// FinalizerMode runs only the sweeper that finalizes expired proposals.
func (a *App) FinalizerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting finalizer mode")

	g, ctx := errgroup.WithContext(ctx)
	if err := a.startSweeper(ctx, g, deps); err != nil {
		return fmt.Errorf("finalizer mode: %w", err)
	}
	return g.Wait()
}

// FullMode runs the API and the sweeper in one process.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)
	if err := a.startSweeper(ctx, g, deps); err != nil {
		return fmt.Errorf("full mode: %w", err)
	}
	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps)
	}
	return g.Wait()
}

// recoverProposals reloads proposals persisted by an earlier run.
func (a *App) recoverProposals(ctx context.Context, deps *Dependencies) error {
	n, err := deps.Proposals.Recover(ctx)
	if err != nil {
		return fmt.Errorf("recover proposals: %w", err)
	}
	a.logger.InfoContext(ctx, "proposals recovered", slog.Int("count", n))
	return nil
}

// startSweeper recovers persisted proposals and adds the expiry sweeper to g.
func (a *App) startSweeper(ctx context.Context, g *errgroup.Group, deps *Dependencies) error {
	if err := a.recoverProposals(ctx, deps); err != nil {
		return err
	}
	sweeper := proposal.NewSweeper(deps.Proposals, a.cfg.Proposal.SweepInterval.Duration, a.logger)
	g.Go(func() error {
		if err := sweeper.Run(ctx); err != nil && ctx.Err() == nil {
			return fmt.Errorf("sweeper: %w", err)
		}
		return nil
	})
	return nil
}

// startHTTPServer adds the API server and WebSocket hub to g. The server is
// shut down gracefully when the context is cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	hub := ws.NewHub(deps.SignalBus, a.logger, ws.Config{
		Mode:           a.cfg.Mode,
		StartedAt:      time.Now().UTC(),
		AllowedOrigins: a.cfg.Server.CORSOrigins,
	})
	g.Go(func() error {
		return hub.Run(ctx)
	})

	var signer *crypto.RequestSigner
	if a.cfg.Server.AdminSecret != "" {
		signer = crypto.NewRequestSigner(a.cfg.Server.AdminSecret)
	}

	srv := server.NewServer(server.Config{
		Port:            a.cfg.Server.Port,
		CORSOrigins:     a.cfg.Server.CORSOrigins,
		APIKey:          a.cfg.Server.APIKey,
		Signer:          signer,
		RateLimit:       a.cfg.Server.RateLimit,
		RateLimitWindow: a.cfg.Server.RateLimitWindow.Duration,
	}, server.Handlers{
		Health:     handler.NewHealthHandler(a.cfg.Mode, deps.Checks, a.logger),
		Proposals:  handler.NewProposalHandler(deps.Proposals, a.logger),
		Vaults:     handler.NewVaultHandler(deps.Proposals, a.logger),
		Executions: handler.NewExecutionHandler(deps.Proposals, a.logger),
	}, hub, deps.RateLimiter, a.logger)

	g.Go(srv.Start)

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}
