package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"netwarmer/internal/app"
)

const shutdownTimeout = 15 * time.Second

func main() {
	var (
		cfgPath  string
		schedule string
		once     bool
		logLevel string
	)
	flag.StringVar(&cfgPath, "config", "./netwarmer.yaml", "path to config (yaml or json)")
	flag.StringVar(&schedule, "schedule", "", "run as a daemon on this schedule (cron, duration or HH:MM)")
	flag.BoolVar(&once, "once", false, "run once even if the config enables a schedule")
	flag.StringVar(&logLevel, "log-level", "", "override logging.level")
	flag.Parse()

	os.Exit(run(cfgPath, schedule, once, logLevel))
}

func run(cfgPath, schedule string, once bool, logLevel string) int {
	sigs := make(chan os.Signal, 2)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigs)

	// ctx is canceled by the first signal; a second one exits immediately.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-sigs
		cancel()
		<-sigs
		fmt.Fprintln(os.Stderr, "forced exit")
		os.Exit(130)
	}()

	a, err := app.New(context.Background(), app.Options{
		ConfigPath: cfgPath,
		Schedule:   schedule,
		LogLevel:   logLevel,
	})
	if err != nil {
		fmt.Println("fatal:", err)
		return 1
	}
	defer func() {
		sctx, scancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer scancel()
		if err := a.Close(sctx); err != nil {
			fmt.Println("shutdown:", err)
		}
	}()

	if a.Daemon() && !once {
		if err := a.Serve(ctx); err != nil {
			fmt.Println("fatal:", err)
			return 1
		}
		return 0
	}

	if _, err := a.RunOnce(ctx); err != nil {
		fmt.Println("fatal:", err)
		return 1
	}
	return 0
}
