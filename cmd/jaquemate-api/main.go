package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/walterschell/jaquemate/apiserver"
	"github.com/walterschell/jaquemate/config"
	"github.com/walterschell/jaquemate/logx"
)

func main() {
	cfg, err := config.Load(os.Args[0], os.Args[1:], os.Getenv)
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	logx.Install(logx.NewLogger(cfg.LogLevel))
	log := logx.Component("main")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := apiserver.New()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Run(gctx, cfg.APIAddr)
	})
	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("api server stopped")
		os.Exit(1)
	}
}
