package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/pdvrieze/ProcessManager-sub007/server/config"
	"github.com/pdvrieze/ProcessManager-sub007/server/server"
	"github.com/pdvrieze/ProcessManager-sub007/telemetry"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	cfg, err := config.Load(os.Getenv("PE_CONFIG"))
	if err != nil {
		log.Fatal(err)
	}

	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		log.Fatal(err)
	}
	zcfg := zap.NewProductionConfig()
	zcfg.Level = zap.NewAtomicLevelAt(lvl)
	l, err := zcfg.Build()
	if err != nil {
		panic(err)
	}
	defer func() { _ = l.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tp := telemetry.RegisterOpenTelemetry(telemetry.GetJaegerExporterOrNoop(l, cfg.JaegerURL), "pengine", "prod")
	defer func() { _ = tp.Shutdown(context.Background()) }()

	svr, err := server.New(ctx, l, cfg)
	if err != nil {
		l.Fatal("failed to create server", zap.Error(err))
	}
	if err := svr.Run(ctx); err != nil {
		l.Error("server stopped with error", zap.Error(err))
		os.Exit(1)
	}
}
