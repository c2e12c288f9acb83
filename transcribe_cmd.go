package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"node.town/parley/ui"
	"node.town/parley/usage"
)

var transcribeCmd = &cobra.Command{
	Use:   "transcribe [file|-]",
	Short: "Transcribe raw PCM from a file or stdin",
	Long: `Transcribe reads raw little-endian mono PCM, splits it into utterances and
prints the finished transcript with a usage table.`,
	Args: cobra.MaximumNArgs(1),
	Run:  runTranscribe,
}

func init() {
	transcribeCmd.Flags().Bool("ui", false, "Show the live transcript view")
	transcribeCmd.Flags().
		Bool("realtime", false, "Pace file input to the audio clock")
	transcribeCmd.Flags().Bool("summarize", false, "Summarize the meeting at the end")

	viper.BindPFlag("realtime", transcribeCmd.Flags().Lookup("realtime"))
	viper.BindPFlag("summarize", transcribeCmd.Flags().Lookup("summarize"))
}

func runTranscribe(cmd *cobra.Command, args []string) {
	mainLogger := logger.WithPrefix("main")

	showUI, _ := cmd.Flags().GetBool("ui")

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

	if showUI {
		listenCtx, cancel := context.WithCancel(ctx)
		done := make(chan error, 1)
		go func() { done <- listen(listenCtx, cfg, m, src) }()

		if err := ui.Run(ctx, m); err != nil {
			mainLogger.Error("ui", "err", err)
		}
		cancel()
		err = <-done
	} else {
		err = listen(ctx, cfg, m, src)
	}
	if err != nil {
		mainLogger.Error("listen", "err", err)
	}

	r, err := m.Close(context.Background())
	if err != nil {
		mainLogger.Error("close meeting", "err", err)
	}
	logReport(mainLogger, r)

	fmt.Print(r.Transcript.String())
	if r.Summary != "" {
		fmt.Printf("\n%s\n", r.Summary)
	}
	fmt.Println()
	usage.Render(os.Stdout, r.Usage)
}
