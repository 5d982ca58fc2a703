package cli

import (
	"io"
	"strings"

	"github.com/olekukonko/tablewriter"

	"intelpipe/internal/report"
)

func renderReport(w io.Writer, doc *report.Document) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Indicator", "Type", "Source", "Confidence", "Compliance"})
	for _, it := range doc.Items {
		if it == nil {
			continue
		}
		table.Append([]string{it.Indicator, it.Type, it.Source, it.Confidence.String(), strings.Join(it.Compliance, ",")})
	}
	table.Render()
}
