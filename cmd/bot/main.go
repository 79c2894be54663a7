package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/coreos/go-systemd/v22/daemon"

	"radiobot/internal/app"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "./config.json", "path to config file (json or yaml)")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(cfgPath)
	if err != nil {
		fmt.Println("fatal:", err)
		os.Exit(1)
	}

	if err := a.Start(ctx); err != nil {
		fmt.Println("fatal start:", err)
		_ = a.Stop(context.Background(), app.StopAppStop)
		os.Exit(1)
	}

	// No-op outside a systemd unit.
	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)

	select {
	case <-ctx.Done():
		_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
		_ = a.Stop(context.Background(), app.StopSignal)
	case <-a.Done():
		// Fatal escalation path; Stop already ran via the shutdown hook.
		_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
		_ = a.Stop(context.Background(), app.StopFatalError)
	}

	if err := a.Err(); err != nil {
		fmt.Println("exited with error:", err)
		os.Exit(1)
	}
}
