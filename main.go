package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"node.town/parley/config"
)

var logger *log.Logger

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.AddCommand(transcribeCmd)
	rootCmd.AddCommand(speakCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(setupCmd)
	rootCmd.AddCommand(listMeetingsCmd)

	rootCmd.PersistentFlags().String("log-level", "info", "Log level")
	rootCmd.PersistentFlags().String("gemini-api-key", "", "Gemini API key")
	rootCmd.PersistentFlags().
		String("elevenlabs-api-key", "", "ElevenLabs API key")
	rootCmd.PersistentFlags().
		String("database-url", "", "Postgres URL for the meeting archive")
	rootCmd.PersistentFlags().String("sentry-dsn", "", "Sentry DSN")
	rootCmd.PersistentFlags().Int("sample-rate", 16000, "Input sample rate")
	rootCmd.PersistentFlags().
		String("speaker", "", "Speaker label for the input stream")
	rootCmd.PersistentFlags().Int("http-port", 8081, "HTTP server port")

	viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag(
		"gemini_api_key",
		rootCmd.PersistentFlags().Lookup("gemini-api-key"),
	)
	viper.BindPFlag(
		"elevenlabs_api_key",
		rootCmd.PersistentFlags().Lookup("elevenlabs-api-key"),
	)
	viper.BindPFlag(
		"database_url",
		rootCmd.PersistentFlags().Lookup("database-url"),
	)
	viper.BindPFlag("sentry_dsn", rootCmd.PersistentFlags().Lookup("sentry-dsn"))
	viper.BindPFlag("sample_rate", rootCmd.PersistentFlags().Lookup("sample-rate"))
	viper.BindPFlag("speaker", rootCmd.PersistentFlags().Lookup("speaker"))
	viper.BindPFlag("http_port", rootCmd.PersistentFlags().Lookup("http-port"))
}

func initConfig() {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AutomaticEnv()

	logger = createLogger()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			logger.Warn("config", "err", err)
		}
	}
}

var rootCmd = &cobra.Command{
	Use:   "parley",
	Short: "Parley listens to a meeting, transcribes it and talks back",
	Long: `Parley turns a live audio stream into a speaker-attributed transcript,
speaks into the meeting on request and serves both over HTTP.`,
}

// loadConfig builds the validated configuration and applies its log level.
func loadConfig() config.Config {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		logger.Fatal("config", "err", err)
	}
	logger.SetLevel(cfg.LogLevel)
	return cfg
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func createLogger() *log.Logger {
	l := log.New(os.Stderr)
	l.SetReportCaller(true)
	l.SetCallerFormatter(relativeCaller)

	styles := log.DefaultStyles()
	styles.Prefix = styles.Prefix.MarginTop(1).
		Bold(false).Transform(func(s string) string {
		return strings.TrimSuffix(s, ":")
	})
	styles.Levels[log.InfoLevel] = styles.Levels[log.InfoLevel].
		MaxWidth(6).
		MarginRight(1).
		Bold(false)
	styles.Levels[log.ErrorLevel] = styles.Levels[log.ErrorLevel].
		MaxWidth(6).
		MarginRight(1).
		Bold(false)
	styles.Message = styles.Message.Bold(true).Width(24)
	styles.Key = styles.Key.MarginLeft(1).
		Bold(false).
		Foreground(lipgloss.Color("#ff8800"))

	l.SetStyles(styles)
	return l
}

func relativeCaller(file string, line int, funcName string) string {
	path, err := filepath.Rel(".", file)
	if err != nil {
		path = file
	}
	return fmt.Sprintf("%s:%d", path, line)
}
