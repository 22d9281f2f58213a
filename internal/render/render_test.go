package render

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/anime-shed/image-classifier-go/internal/session"
)

func TestDisplayLabel(t *testing.T) {
	tests := map[string]string{
		"tabby, tabby cat":          "tabby",
		"Egyptian cat":              "Egyptian cat",
		"cat,feline":                "cat,feline",
		"":                          "",
		"a, b, c":                   "a",
		"trailing, ":                "trailing",
		"notebook, notebook computer": "notebook",
	}
	for in, want := range tests {
		if got := DisplayLabel(in); got != want {
			t.Errorf("DisplayLabel(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestPercentage(t *testing.T) {
	tests := map[float64]string{
		0.92:    "92.0",
		0.05:    "5.0",
		0.92345: "92.3",
		1:       "100.0",
		0:       "0.0",
	}
	for in, want := range tests {
		if got := Percentage(in); got != want {
			t.Errorf("Percentage(%v) = %q, want %q", in, got, want)
		}
	}
}

func TestBar(t *testing.T) {
	if got := Bar(0.5, 10); got != "█████░░░░░" {
		t.Errorf("got %q", got)
	}
	if got := Bar(2, 4); got != "████" {
		t.Errorf("score above 1 should fill the bar, got %q", got)
	}
	if Bar(0.5, 0) != "" {
		t.Error("zero width should be empty")
	}
}

func TestParseFormat(t *testing.T) {
	for in, want := range map[string]Format{"": FormatText, "TEXT": FormatText, "md": FormatMarkdown, "json": FormatJSON} {
		if got, err := ParseFormat(in); err != nil || got != want {
			t.Errorf("ParseFormat(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := ParseFormat("yaml"); err == nil {
		t.Error("Expected error")
	}
}

func succeeded() session.Snapshot {
	img := "https://example.com/cat.jpg"
	return session.Snapshot{
		Phase:        session.Succeeded,
		CurrentImage: &img,
		Results: []session.Result{
			{Label: "tabby, tabby cat", Score: 0.92},
			{Label: "dog", Score: 0.05},
		},
	}
}

func failed() session.Snapshot {
	info := session.ErrURLNotLoadable
	return session.Snapshot{Phase: session.Failed, LastError: &info, Results: []session.Result{}}
}

func TestText(t *testing.T) {
	var buf bytes.Buffer
	if err := Text(&buf, succeeded()); err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("Expected 2 lines, got %q", buf.String())
	}
	if !strings.HasPrefix(lines[0], "tabby") || !strings.Contains(lines[0], "92.0%") {
		t.Errorf("unexpected first line %q", lines[0])
	}

	buf.Reset()
	Text(&buf, failed())
	if !strings.Contains(buf.String(), "Could Not Load Image URL") {
		t.Errorf("unexpected output %q", buf.String())
	}
}

func TestMarkdown(t *testing.T) {
	var buf bytes.Buffer
	if err := Markdown(&buf, succeeded()); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{"## AI Analysis", "Rank", "tabby", "92.0%"} {
		if !strings.Contains(out, want) {
			t.Errorf("markdown missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "tabby cat") {
		t.Error("markdown should show the display label")
	}

	buf.Reset()
	if err := Markdown(&buf, failed()); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "Could Not Load Image URL") {
		t.Errorf("unexpected markdown %q", buf.String())
	}
}

func TestJSON(t *testing.T) {
	var buf bytes.Buffer
	if err := JSON(&buf, succeeded()); err != nil {
		t.Fatal(err)
	}

	var out struct {
		Image   string       `json:"image"`
		Phase   string       `json:"phase"`
		Results []ResultView `json:"results"`
	}
	if err := json.Unmarshal(buf.Bytes(), &out); err != nil {
		t.Fatal(err)
	}
	if out.Phase != "succeeded" || out.Image != "https://example.com/cat.jpg" || len(out.Results) != 2 {
		t.Errorf("unexpected %+v", out)
	}
	if out.Results[0].DisplayLabel != "tabby" || out.Results[0].Percentage != "92.0" {
		t.Errorf("unexpected view %+v", out.Results[0])
	}

	// Embedded uploads are not echoed back
	snap := succeeded()
	data := "data:image/png;base64,AAAA"
	snap.CurrentImage = &data
	buf.Reset()
	JSON(&buf, snap)
	if strings.Contains(buf.String(), "base64") {
		t.Error("data URI should be omitted")
	}
}
