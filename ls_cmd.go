package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"node.town/parley/db"
	"node.town/parley/session"
	"node.town/parley/usage"
)

var listMeetingsCmd = &cobra.Command{
	Use:   "ls [meeting-id]",
	Short: "List archived meetings, or show one meeting's report",
	Args:  cobra.MaximumNArgs(1),
	Run:   runListMeetings,
}

func init() {
	listMeetingsCmd.Flags().Int("limit", 20, "How many meetings to list")
}

func runListMeetings(cmd *cobra.Command, args []string) {
	dataLogger := logger.WithPrefix("data")
	limit, _ := cmd.Flags().GetInt("limit")

	url := viper.GetString("database_url")
	if url == "" {
		dataLogger.Fatal("missing DATABASE_URL or --database-url=")
	}

	ctx := context.Background()
	archive, err := db.Open(ctx, url, dataLogger)
	if err != nil {
		dataLogger.Fatal("open archive", "err", err)
	}
	defer archive.Close()

	if len(args) == 1 {
		r, err := archive.Load(ctx, args[0])
		if err != nil {
			dataLogger.Fatal("load meeting", "err", err)
		}
		printReport(os.Stdout, r)
		return
	}

	meetings, err := archive.Recent(ctx, limit)
	if err != nil {
		dataLogger.Fatal("list meetings", "err", err)
	}
	if len(meetings) == 0 {
		fmt.Println("No meetings found.")
		return
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"ID", "Started", "Duration", "Segments", "Summary"})
	table.SetBorder(false)
	table.SetCenterSeparator("|")
	table.SetColumnSeparator("|")
	table.SetRowSeparator("-")
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)

	for _, m := range meetings {
		table.Append([]string{
			m.ID,
			m.StartedAt.Local().Format("2006-01-02 15:04:05"),
			m.Duration().Round(time.Second).String(),
			fmt.Sprintf("%d", m.Segments),
			firstLine(m.Summary, 60),
		})
	}

	table.Render()
}

// printReport writes a finished meeting: summary, talk time per speaker,
// the transcript and its usage.
func printReport(w io.Writer, r session.Report) {
	fmt.Fprintf(w, "Meeting %s\n", r.ID)
	fmt.Fprintf(
		w,
		"%s, %s\n\n",
		r.Started.Local().Format("2006-01-02 15:04"),
		r.Ended.Sub(r.Started).Round(time.Second),
	)
	if r.Summary != "" {
		fmt.Fprintf(w, "%s\n\n", r.Summary)
	}

	talk := make(map[string]float64)
	for _, seg := range r.Transcript.Segments {
		talk[seg.Speaker] += seg.Duration()
	}
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Speaker", "Talk time", "Share"})
	table.SetBorder(false)
	table.SetAutoFormatHeaders(true)
	total := 0.0
	for _, secs := range talk {
		total += secs
	}
	speakers := r.Transcript.Speakers()
	if _, ok := talk[""]; ok {
		speakers = append(speakers, "")
	}
	for _, speaker := range speakers {
		name := speaker
		if name == "" {
			name = "unknown"
		}
		share := 0.0
		if total > 0 {
			share = talk[speaker] / total * 100
		}
		table.Append([]string{
			name,
			fmt.Sprintf("%.1f s", talk[speaker]),
			fmt.Sprintf("%.0f%%", share),
		})
	}
	table.Render()

	fmt.Fprintf(w, "\n%s\n", r.Transcript.String())
	usage.Render(w, r.Usage)
}

func firstLine(s string, width int) string {
	s, _, _ = strings.Cut(strings.TrimSpace(s), "\n")
	if r := []rune(s); len(r) > width {
		return string(r[:width-1]) + "…"
	}
	return s
}
