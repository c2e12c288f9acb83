package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"node.town/parley/config"
	"node.town/parley/tts"
	"node.town/parley/usage"
)

var speakCmd = &cobra.Command{
	Use:   "speak <text>",
	Short: "Say something through the configured voice",
	Long: `Speak synthesizes text chunk by chunk and writes the audio, paced as it
would be heard, to --out. Ctrl-C interrupts like a barge-in would.`,
	Args: cobra.MinimumNArgs(1),
	Run:  runSpeak,
}

func init() {
	speakCmd.Flags().String("out", "-", "Audio output file, - for stdout")
	speakCmd.Flags().String("voice", "", "ElevenLabs voice ID")

	viper.BindPFlag("tts_output", speakCmd.Flags().Lookup("out"))
	viper.BindPFlag("voice_id", speakCmd.Flags().Lookup("voice"))
}

func runSpeak(cmd *cobra.Command, args []string) {
	talkLogger := logger.WithPrefix("talk")

	cfg, err := config.LoadSpeech(viper.GetViper())
	if err != nil {
		talkLogger.Fatal("config", "err", err)
	}
	logger.SetLevel(cfg.LogLevel)

	acc := usage.NewAccumulator()
	ctrl := tts.NewController(tts.Options{
		Synthesizer: tts.NewElevenLabs(cfg.TTS.ElevenLabsAPIKey, cfg.TTS.VoiceID),
		Device: tts.FileDevice{
			Path:           cfg.TTS.Output,
			BytesPerSecond: tts.MP3BytesPerSecond,
		},
		Usage:  acc,
		Logger: talkLogger,
	})

	ctx := context.Background()
	if err := ctrl.Open(ctx); err != nil {
		talkLogger.Fatal("open", "err", err)
	}
	defer ctrl.Close()

	sc := make(chan os.Signal, 1)
	signal.Notify(sc, syscall.SIGINT, syscall.SIGTERM, os.Interrupt)
	defer signal.Stop(sc)
	go func() {
		for range sc {
			if ctrl.Interrupt() {
				talkLogger.Info("interrupted")
			}
		}
	}()

	err = ctrl.Speak(ctx, strings.Join(args, " "))

	var ie *tts.InterruptedError
	switch {
	case err == nil:
		talkLogger.Info("completed")
	case errors.As(err, &ie):
		fmt.Fprintf(os.Stderr, "spoken: %q\n", ie.SpokenText)
	default:
		talkLogger.Error("speak", "err", err)
	}

	usage.Render(os.Stderr, acc.Snapshot())
}
