package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"searchalert/internal/app"
	logx "searchalert/pkg/logx"
)

func main() {
	var (
		cfgPath    string
		daemonMode bool
		importPath string
	)
	flag.StringVar(&cfgPath, "config", "./config.yaml", "path to config (json or yaml)")
	flag.BoolVar(&daemonMode, "daemon", false, "run batches on scheduler.schedule until stopped")
	flag.StringVar(&importPath, "import", "", "upsert subscriptions from a JSON array file, then exit")
	flag.Parse()

	// Until the config is loaded, log to the console.
	boot := logx.NewConsole("info")

	a, err := app.New(cfgPath)
	if err != nil {
		boot.Error("fatal: failed to initialize", logx.String("config", cfgPath), logx.Err(err))
		os.Exit(1)
	}

	switch {
	case importPath != "":
		os.Exit(runImport(a, boot, importPath))
	case daemonMode:
		os.Exit(runDaemon(a, boot))
	default:
		os.Exit(runOnce(a, boot))
	}
}

func runImport(a *app.App, boot logx.Logger, path string) int {
	defer a.Close()
	n, err := a.ImportSubscriptions(context.Background(), path)
	if err != nil {
		boot.Error("import failed", logx.Err(err))
		return 1
	}
	fmt.Printf("imported %d subscription(s)\n", n)
	return 0
}

func runOnce(a *app.App, boot logx.Logger) int {
	defer a.Close()
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	rep, err := a.RunOnce(ctx)
	if err != nil {
		boot.Error("batch failed", logx.Err(err))
		return 1
	}
	if err := rep.Err(); err != nil {
		boot.Warn("batch finished with failures", logx.Int("failed", rep.Failed()))
		return 2
	}
	return 0
}

func runDaemon(a *app.App, boot logx.Logger) int {
	if err := a.Start(context.Background()); err != nil {
		boot.Error("fatal: failed to start", logx.Err(err))
		_ = a.Close()
		return 1
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	reason := app.StopUnknown
	code := 0
	select {
	case sig := <-sigCh:
		if sig == syscall.SIGTERM {
			reason = app.StopSIGTERM
		} else {
			reason = app.StopSIGINT
		}
	case <-a.Done():
		reason = app.StopFatalError
		if err := a.Err(); err != nil {
			boot.Error("fatal error", logx.Err(err))
		}
		code = 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), 45*time.Second)
	defer cancel()
	_ = a.Stop(ctx, reason)
	return code
}
