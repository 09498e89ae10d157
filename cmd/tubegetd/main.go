package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tubeget/tubeget/internal/config"
	"github.com/tubeget/tubeget/internal/logger"
	"github.com/tubeget/tubeget/internal/scheduler"
)

var flagVerbose bool

var rootCmd = &cobra.Command{
	Use:          "tubegetd",
	Short:        "Download orchestration daemon driving yt-dlp workers",
	SilenceUsage: true,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "run the worker pool against the configured queue",
	RunE:  doRun,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "print build version",
	Run: func(cmd *cobra.Command, args []string) {
		info, ok := debug.ReadBuildInfo()
		if ok {
			fmt.Println(info.Main.Version)
			return
		}
		fmt.Println("unknown")
	},
}

func main() {
	rootCmd.PersistentFlags().BoolVar(&flagVerbose, "verbose", false, "verbose logging")
	rootCmd.SilenceErrors = true

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(versionCmd)

	if err := rootCmd.Execute(); err != nil {
		logger.Error(context.Background(), "tubegetd failed", err)
		os.Exit(1)
	}
}

func doRun(cmd *cobra.Command, args []string) error {
	cfg := config.Load()

	level := logger.ParseLevel(cfg.LogLevel)
	if flagVerbose {
		level = logger.LevelDebug
	}
	logger.SetDefault(logger.New(os.Stdout, level, ""))

	ctx := context.Background()

	svc, err := scheduler.NewService(&scheduler.ServiceConfig{
		RedisURL:          cfg.RedisURL,
		YtDlpPath:         cfg.YtDlpPath,
		WorkerCount:       cfg.WorkerCount,
		MaxConcurrent:     cfg.MaxConcurrent,
		CancelGracePeriod: cfg.CancelGracePeriod,
		DequeueTimeout:    cfg.DequeueTimeout,
	})
	if err != nil {
		return err
	}

	svc.Start()
	logger.Info(ctx, "tubegetd running", map[string]interface{}{
		"workers":        cfg.WorkerCount,
		"max_concurrent": cfg.MaxConcurrent,
	})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info(ctx, "shutting down", map[string]interface{}{"signal": sig.String()})

	stopCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	return svc.Stop(stopCtx)
}
