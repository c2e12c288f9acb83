package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"node.town/parley/db"
)

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Write config.yaml interactively",
	Run:   runSetup,
}

func init() {
	setupCmd.Flags().String("file", "config.yaml", "Config file to write")
}

type setupAnswers struct {
	GeminiAPIKey     string
	ElevenLabsAPIKey string
	BotName          string
	SampleRate       string
	DatabaseURL      string
	SentryDSN        string
}

func runSetup(cmd *cobra.Command, args []string) {
	setupLogger := logger.WithPrefix("main")
	path, _ := cmd.Flags().GetString("file")

	a := setupAnswers{
		GeminiAPIKey:     viper.GetString("gemini_api_key"),
		ElevenLabsAPIKey: viper.GetString("elevenlabs_api_key"),
		BotName:          viper.GetString("bot_name"),
		SampleRate:       strconv.Itoa(viper.GetInt("sample_rate")),
		DatabaseURL:      viper.GetString("database_url"),
		SentryDSN:        viper.GetString("sentry_dsn"),
	}
	if a.BotName == "" {
		a.BotName = "parley"
	}

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Enter your Google Cloud (Gemini) API Key").
				Validate(required).
				Value(&a.GeminiAPIKey),
			huh.NewInput().
				Title("Enter your ElevenLabs API Key (empty disables speech)").
				Value(&a.ElevenLabsAPIKey),
			huh.NewInput().
				Title("Bot name as it appears in the meeting").
				Validate(required).
				Value(&a.BotName),
			huh.NewInput().
				Title("Input sample rate").
				Validate(positiveInt).
				Value(&a.SampleRate),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("Postgres URL for the meeting archive (optional)").
				Value(&a.DatabaseURL),
			huh.NewInput().
				Title("Sentry DSN (optional)").
				Value(&a.SentryDSN),
		),
	)

	if err := form.Run(); err != nil {
		setupLogger.Fatal("Error during setup", "error", err)
	}

	if a.DatabaseURL != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		archive, err := db.Open(ctx, a.DatabaseURL, logger.WithPrefix("data"))
		cancel()
		if err != nil {
			setupLogger.Warn("database not reachable, saving anyway", "err", err)
		} else {
			archive.Close()
			setupLogger.Info("Successfully connected to the database")
		}
	}

	if err := writeSetup(viper.New(), a, path); err != nil {
		setupLogger.Fatal("Error saving configuration", "error", err)
	}
	setupLogger.Info("Setup completed successfully!", "file", path)
}

func writeSetup(v *viper.Viper, a setupAnswers, path string) error {
	rate, err := strconv.Atoi(a.SampleRate)
	if err != nil {
		return fmt.Errorf("sample rate: %w", err)
	}
	v.Set("gemini_api_key", a.GeminiAPIKey)
	v.Set("bot_name", a.BotName)
	v.Set("sample_rate", rate)
	if a.ElevenLabsAPIKey != "" {
		v.Set("elevenlabs_api_key", a.ElevenLabsAPIKey)
	}
	if a.DatabaseURL != "" {
		v.Set("database_url", a.DatabaseURL)
	}
	if a.SentryDSN != "" {
		v.Set("sentry_dsn", a.SentryDSN)
	}
	return v.WriteConfigAs(path)
}

func required(s string) error {
	if s == "" {
		return errors.New("required")
	}
	return nil
}

func positiveInt(s string) error {
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return errors.New("must be a positive number")
	}
	return nil
}
