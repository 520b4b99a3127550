package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"baobab/internal/app"
	"baobab/internal/applicationform/cli"
	jwttoken "baobab/internal/jwt_token"
	"baobab/internal/platform/config"
	"baobab/internal/platform/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	connect := func(ctx context.Context) (cli.Forms, func(), error) {
		cfg, err := config.Load()
		if err != nil {
			return nil, nil, err
		}
		log := logger.NewWithWriter(os.Stderr, cfg.Log)
		a, err := app.Build(ctx, cfg, log, app.RequireDatabase())
		if err != nil {
			return nil, nil, err
		}
		return a.Forms, a.Close, nil
	}

	issuer := func() (cli.TokenIssuer, error) {
		cfg, err := config.Load()
		if err != nil {
			return nil, err
		}
		return jwttoken.NewJWTService(cfg.Server.JWTSigningKey, cfg.Server.JWTIssuer), nil
	}

	root := cli.NewRootCommand(connect, cli.WithTokenIssuer(issuer))
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
