package usage

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/olekukonko/tablewriter"
)

// Render writes the usage report as a table, one row per counter.
func Render(w io.Writer, u Usage) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Service", "Counter", "Value", "Meta"})
	table.SetBorder(false)
	table.SetCenterSeparator("|")
	table.SetColumnSeparator("|")
	table.SetRowSeparator("-")
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)

	for _, service := range u.Services() {
		rec := u[service]
		meta := formatMeta(rec.Meta)

		counters := make([]string, 0, len(rec.Usage))
		for name := range rec.Usage {
			counters = append(counters, name)
		}
		sort.Strings(counters)

		for _, name := range counters {
			table.Append([]string{
				service,
				name,
				fmt.Sprintf("%.2f", rec.Usage[name]),
				meta,
			})
		}
	}

	table.Render()
}

func formatMeta(meta map[string]string) string {
	keys := make([]string, 0, len(meta))
	for k := range meta {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, k+"="+meta[k])
	}
	return strings.Join(pairs, " ")
}
