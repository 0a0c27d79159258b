package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"deadman/internal/app"
	"deadman/internal/config"
	"deadman/pkg/logx"
)

func main() {
	var cfgPath string
	var check bool
	flag.StringVar(&cfgPath, "config", "./deadman.yaml", "path to config (yaml or json)")
	flag.BoolVar(&check, "check", false, "validate the config and exit")
	flag.Parse()

	if check {
		cfg, err := config.NewManager(cfgPath).Load()
		if err != nil {
			fmt.Fprintln(os.Stderr, "invalid config:", err)
			os.Exit(1)
		}
		fmt.Printf("config ok: %d watchdog(s) enabled\n", len(cfg.Enabled()))
		return
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(cfgPath)
	if err != nil {
		fmt.Println("fatal:", err)
		os.Exit(1)
	}
	if err := a.Start(ctx); err != nil {
		fmt.Println("fatal start:", err)
		_ = a.Stop(context.Background())
		os.Exit(1)
	}

	// SIGUSR1 dumps the watchdog table to the log.
	usr1 := make(chan os.Signal, 1)
	signal.Notify(usr1, syscall.SIGUSR1)
	defer signal.Stop(usr1)

	log := a.Logger()
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case <-a.Done():
			break loop
		case <-usr1:
			for _, w := range a.Snapshot().Watchdogs {
				log.Info("watchdog status",
					logx.String("watchdog", w.Name),
					logx.String("state", w.State),
					logx.Duration("period", w.Period),
					logx.Uint64("alarms", w.Alarms),
					logx.Uint64("resets", w.Resets),
					logx.Time("deadline", w.Deadline),
				)
			}
		}
	}

	exit := 0
	if err := a.Err(); err != nil {
		log.Error("fatal", logx.Err(err))
		exit = 1
	}
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	_ = a.Stop(stopCtx)
	stopCancel()
	os.Exit(exit)
}
