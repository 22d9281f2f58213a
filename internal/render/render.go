// Package render formats session outcomes for people: display labels,
// percentages, terminal bars, markdown tables and JSON.
package render

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/nao1215/markdown"

	"github.com/anime-shed/image-classifier-go/internal/session"
)

// Format selects an output writer
type Format string

const (
	FormatText     Format = "text"
	FormatMarkdown Format = "markdown"
	FormatJSON     Format = "json"
)

// ParseFormat accepts text, markdown (or md) and json
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "text":
		return FormatText, nil
	case "markdown", "md":
		return FormatMarkdown, nil
	case "json":
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("unknown format %q (want text, markdown or json)", s)
	}
}

// DisplayLabel keeps the text before the first ", ". ImageNet labels list
// synonyms ("tabby, tabby cat") and only the first is shown.
func DisplayLabel(label string) string {
	head, _, _ := strings.Cut(label, ", ")
	return head
}

// Percentage formats a score in [0,1] with one decimal, e.g. 0.9234 -> "92.3"
func Percentage(score float64) string {
	return fmt.Sprintf("%.1f", score*100)
}

// Bar draws a fixed-width gauge for a score in [0,1]
func Bar(score float64, width int) string {
	if width <= 0 {
		return ""
	}
	filled := int(math.Round(math.Max(0, math.Min(1, score)) * float64(width)))
	return strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
}

// ResultView is a result with its presentation fields
type ResultView struct {
	Label        string  `json:"label"`
	DisplayLabel string  `json:"display_label"`
	Score        float64 `json:"score"`
	Percentage   string  `json:"percentage"`
}

// Views converts results for display, keeping rank order
func Views(results []session.Result) []ResultView {
	views := make([]ResultView, 0, len(results))
	for _, r := range results {
		views = append(views, ResultView{
			Label:        r.Label,
			DisplayLabel: DisplayLabel(r.Label),
			Score:        r.Score,
			Percentage:   Percentage(r.Score),
		})
	}
	return views
}

// Write renders snap in the given format
func Write(w io.Writer, format Format, snap session.Snapshot) error {
	switch format {
	case FormatMarkdown:
		return Markdown(w, snap)
	case FormatJSON:
		return JSON(w, snap)
	default:
		return Text(w, snap)
	}
}

// Text writes one line per label with a bar, or the error title and message
func Text(w io.Writer, snap session.Snapshot) error {
	if snap.LastError != nil {
		_, err := fmt.Fprintf(w, "%s\n%s\n", snap.LastError.Title, snap.LastError.Message)
		return err
	}
	if len(snap.Results) == 0 {
		_, err := fmt.Fprintln(w, "No labels returned.")
		return err
	}

	views := Views(snap.Results)
	width := 0
	for _, v := range views {
		width = max(width, len(v.DisplayLabel))
	}
	for _, v := range views {
		if _, err := fmt.Fprintf(w, "%-*s %6s%%  %s\n", width, v.DisplayLabel, v.Percentage, Bar(v.Score, 20)); err != nil {
			return err
		}
	}
	return nil
}

// Markdown writes a results table, or a caution block on failure
func Markdown(w io.Writer, snap session.Snapshot) error {
	md := markdown.NewMarkdown(w)
	md.H2("AI Analysis")
	md.PlainText("")

	switch {
	case snap.LastError != nil:
		md.Cautionf("**%s** %s", snap.LastError.Title, snap.LastError.Message)
	case len(snap.Results) == 0:
		md.Note("No labels returned.")
	default:
		rows := make([][]string, 0, len(snap.Results))
		for i, v := range Views(snap.Results) {
			rows = append(rows, []string{fmt.Sprint(i + 1), v.DisplayLabel, v.Percentage + "%"})
		}
		md.Table(markdown.TableSet{
			Header: []string{"Rank", "Label", "Confidence"},
			Rows:   rows,
		})
	}
	md.PlainText("")
	return md.Build()
}

type jsonOutput struct {
	Image   string             `json:"image,omitempty"`
	Phase   session.Phase      `json:"phase"`
	Results []ResultView       `json:"results"`
	Error   *session.ErrorInfo `json:"error,omitempty"`
}

// JSON writes the outcome as an indented JSON document
func JSON(w io.Writer, snap session.Snapshot) error {
	out := jsonOutput{
		Phase:   snap.Phase,
		Results: Views(snap.Results),
		Error:   snap.LastError,
	}
	if snap.CurrentImage != nil && !strings.HasPrefix(*snap.CurrentImage, "data:") {
		out.Image = *snap.CurrentImage
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
