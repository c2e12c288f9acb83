package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"node.town/parley/api"
)

var serveCmd = &cobra.Command{
	Use:   "serve [file|-]",
	Short: "Join a meeting and serve it over HTTP",
	Long: `Serve transcribes the PCM input like transcribe does and exposes the live
transcript, usage and speech over HTTP until interrupted.`,
	Args: cobra.MaximumNArgs(1),
	Run:  runServe,
}

func runServe(cmd *cobra.Command, args []string) {
	mainLogger := logger.WithPrefix("main")

	cfg := loadConfig()
	flush, report := initSentry(cfg)
	defer flush()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	src, err := openInput(args)
	if err != nil {
		mainLogger.Fatal("input", "err", err)
	}
	defer src.Close()

	m, err := openMeeting(ctx, cfg, report)
	if err != nil {
		mainLogger.Fatal("start meeting", "err", err)
	}

	srv := api.New(m, logger.WithPrefix("http"))
	served := make(chan error, 1)
	go func() { served <- srv.ListenAndServe(ctx, cfg.HTTPPort) }()

	if err := listen(ctx, cfg, m, src); err != nil {
		mainLogger.Error("listen", "err", err)
	}
	mainLogger.Info("input ended", "segments", m.Segments().Len())

	// The API stays up after the input ends, until interrupted.
	if err := <-served; err != nil {
		mainLogger.Error("http", "err", err)
	}

	r, err := m.Close(context.Background())
	if err != nil {
		mainLogger.Error("close meeting", "err", err)
	}
	logReport(mainLogger, r)
}
