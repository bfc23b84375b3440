package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"concierge/core"
	"concierge/factories"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	env, err := factories.LoadAppConfig()
	if err != nil {
		core.GetLogger().With(map[string]any{"error": err}).Fatal("failed to process environment config")
	}
	if env.Env == "production" {
		core.SetLogger(*core.NewProductionLogger())
	} else {
		core.SetLogger(*core.NewDevelopmentLogger())
	}
	logger := core.GetLogger().With(map[string]any{"component": "main"})

	session, err := env.Settings().ResolveSession(ctx)
	if err != nil {
		logger.With(map[string]any{"error": err}).Fatal("failed to resolve session config")
	}
	session.InjectAPIKeys(env.APIKeys())

	app, err := factories.NewApp(ctx, env, session)
	if err != nil {
		logger.With(map[string]any{"error": err}).Fatal("failed to build concierge")
	}
	defer app.Close()

	logger.Info("concierge ready", "conversation_id", app.ID, "addr", env.HTTPAddr)
	if err := app.Run(ctx); err != nil {
		logger.With(map[string]any{"error": err}).Error("concierge stopped")
	}
}
