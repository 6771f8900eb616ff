// Package render turns a Digest into its delivery representations: an HTML
// document and a plain-text fallback. Pure transforms; no detector logic and
// no clock reads, so rendering is deterministic given the digest.
package render

import (
	"fmt"
	"html/template"
	"strings"

	"github.com/singlethrowdata/scout/pkg/types"
)

const htmlTemplate = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<style>
body { font-family: Helvetica, Arial, sans-serif; color: #1a1a1a; margin: 24px; }
h1 { font-size: 20px; }
h2 { font-size: 16px; margin-top: 24px; }
table { border-collapse: collapse; width: 100%; }
th, td { text-align: left; padding: 6px 10px; border-bottom: 1px solid #ddd; font-size: 13px; }
th { background: #f4f4f4; }
.p0 { color: #b00020; font-weight: bold; }
.p1 { color: #d35400; font-weight: bold; }
.p2 { color: #8a6d00; }
.p3 { color: #1b7f3b; }
.allclear { color: #1b7f3b; }
.issue { color: #b00020; }
.muted { color: #767676; font-size: 12px; }
</style>
</head>
<body>
<h1>Scout daily digest &mdash; {{.Digest.ReferenceDate}}</h1>
<p class="muted">Analysis date {{.Digest.AnalysisDate}} &middot; generated {{.GeneratedAt}}</p>
{{if .Digest.AllClear}}
<p class="allclear">All clear: no alerts across {{len .Digest.Properties}} properties.</p>
{{else}}
<p>{{.Digest.TotalAlerts}} alerts ({{.Counts}}){{if .Digest.SuppressedCount}} &middot; {{.Digest.SuppressedCount}} suppressed by volume cap{{end}}</p>
<h2>Alerts</h2>
<table>
<tr><th>Priority</th><th>Property</th><th>Detector</th><th>Slice</th><th>Metric</th><th>Impact</th><th>Detail</th></tr>
{{range .Digest.Alerts}}
<tr>
<td class="{{printf "%s" .Priority | lower}}">{{.Priority}}</td>
<td>{{.PropertyID}}</td>
<td>{{.Detector}}</td>
<td>{{sliceLabel .}}</td>
<td>{{.Metric}}</td>
<td>{{.BusinessImpact}}</td>
<td>{{.Message}}</td>
</tr>
{{end}}
</table>
{{end}}
{{if .AllClearProperties}}
<h2>All clear</h2>
<p class="allclear">{{join .AllClearProperties ", "}}</p>
{{end}}
{{if .Digest.Issues}}
<h2>Issues</h2>
<table>
<tr><th>Property</th><th>Code</th><th>Detail</th></tr>
{{range .Digest.Issues}}
<tr class="issue"><td>{{.PropertyID}}</td><td>{{.Code}}</td><td>{{.Detail}}</td></tr>
{{end}}
</table>
{{end}}
</body>
</html>
`

var tmpl = template.Must(template.New("digest").Funcs(template.FuncMap{
	"lower":      strings.ToLower,
	"join":       strings.Join,
	"sliceLabel": sliceLabel,
}).Parse(htmlTemplate))

type htmlContext struct {
	Digest             *types.Digest
	GeneratedAt        string
	Counts             string
	AllClearProperties []string
}

// HTML renders the digest document.
func HTML(d *types.Digest) (string, error) {
	var buf strings.Builder
	ctx := htmlContext{
		Digest:             d,
		GeneratedAt:        d.GeneratedAt.UTC().Format("2006-01-02 15:04:05 UTC"),
		Counts:             countsLine(d),
		AllClearProperties: allClearProperties(d),
	}
	if err := tmpl.Execute(&buf, ctx); err != nil {
		return "", fmt.Errorf("rendering digest html: %w", err)
	}
	return buf.String(), nil
}

// Text renders the plain-text fallback.
func Text(d *types.Digest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "SCOUT DAILY DIGEST — %s\n", d.ReferenceDate)
	fmt.Fprintf(&b, "Analysis date %s, generated %s\n\n",
		d.AnalysisDate, d.GeneratedAt.UTC().Format("2006-01-02 15:04:05 UTC"))

	if d.AllClear() {
		fmt.Fprintf(&b, "ALL CLEAR: no alerts across %d properties.\n", len(d.Properties))
	} else {
		fmt.Fprintf(&b, "%d alerts (%s)", d.TotalAlerts, countsLine(d))
		if d.SuppressedCount > 0 {
			fmt.Fprintf(&b, ", %d suppressed by volume cap", d.SuppressedCount)
		}
		b.WriteString("\n\n")
		for _, a := range d.Alerts {
			fmt.Fprintf(&b, "[%s] %s %s %s impact=%d\n    %s\n",
				a.Priority, a.PropertyID, a.Detector, sliceLabel(a), a.BusinessImpact, a.Message)
		}
	}

	if clear := allClearProperties(d); len(clear) > 0 {
		fmt.Fprintf(&b, "\nAll clear: %s\n", strings.Join(clear, ", "))
	}

	if len(d.Issues) > 0 {
		b.WriteString("\nIssues:\n")
		for _, issue := range d.Issues {
			fmt.Fprintf(&b, "  %s: %s", issue.PropertyID, issue.Code)
			if issue.Detail != "" {
				fmt.Fprintf(&b, " (%s)", issue.Detail)
			}
			b.WriteString("\n")
		}
	}
	return b.String()
}

func sliceLabel(a types.Alert) string {
	if a.DimensionValue == "" {
		return string(a.Dimension)
	}
	return fmt.Sprintf("%s=%s", a.Dimension, a.DimensionValue)
}

func countsLine(d *types.Digest) string {
	parts := make([]string, 0, len(types.AllDetectors))
	for _, kind := range types.AllDetectors {
		parts = append(parts, fmt.Sprintf("%s %d", kind, d.DetectorCounts[kind]))
	}
	return strings.Join(parts, ", ")
}

func allClearProperties(d *types.Digest) []string {
	var out []string
	for _, r := range d.Properties {
		if r.AllClear {
			out = append(out, r.PropertyID)
		}
	}
	return out
}
