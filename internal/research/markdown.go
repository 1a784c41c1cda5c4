package research

import (
	"fmt"
	"strings"
	"time"
)

// RenderMarkdown formats a report for export.
func RenderMarkdown(r Report) string {
	meta := r.Metadata()
	model, content := "Unknown", ""
	switch v := r.(type) {
	case *SingleShotReport:
		model, content = v.Model, v.Content
	case *StagedReport:
		model, content = v.Model, v.Content
	case *DataDrivenReport:
		model, content = v.Model, v.Content
	case *ErrorReport:
		content = "**Error:** " + v.Error
	}
	if model == "" {
		model = "Unknown"
	}

	var b strings.Builder
	b.WriteString("# PMM Research Report\n\n")
	fmt.Fprintf(&b, "**Query:** %s\n", meta.Query)
	fmt.Fprintf(&b, "**Generated:** %s\n", meta.Timestamp.Format(time.RFC3339))
	fmt.Fprintf(&b, "**Model:** %s\n\n", model)
	b.WriteString(content)
	b.WriteString("\n")
	return b.String()
}

// ExportFileName mirrors the timestamped name used for downloads.
func ExportFileName(t time.Time) string {
	return "pmm_research_" + t.Format("20060102_150405") + ".md"
}
