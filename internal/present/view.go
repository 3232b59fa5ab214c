// Package present renders classification results and the capture screen
// chrome for the terminal.
package present

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/example/foodscan/internal/classifier"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#bbf7d0"))

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#a1a1aa"))

	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#d4d4d8"))

	actionStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#bae6fd"))

	footerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#71717a")).
			Italic(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#fca5a5"))
)

// Config holds the cosmetic strings shown around the capture flow.
type Config struct {
	Title        string
	CaptureLabel string
	UploadLabel  string
	ScanLabel    string
	FooterText   string
}

// DefaultConfig returns the stock labels.
func DefaultConfig() Config {
	return Config{
		Title:        "Scan food image",
		CaptureLabel: "Take Photo",
		UploadLabel:  "Add photos & files",
		ScanLabel:    "Scan Image",
	}
}

// Header renders the screen title followed by the available actions.
func (c Config) Header() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(c.Title))
	b.WriteString("\n")
	actions := make([]string, 0, 3)
	for _, label := range []string{c.CaptureLabel, c.UploadLabel, c.ScanLabel} {
		if label != "" {
			actions = append(actions, actionStyle.Render("["+label+"]"))
		}
	}
	b.WriteString(strings.Join(actions, "  "))
	return b.String()
}

// Footer renders the footer text, or "" when none is configured.
func (c Config) Footer() string {
	if c.FooterText == "" {
		return ""
	}
	return footerStyle.Render(c.FooterText)
}

// Error renders a user-facing error message.
func Error(message string) string {
	return errorStyle.Render(message)
}

// View is the result screen for one classification. The ingredient list
// starts collapsed.
type View struct {
	result          *classifier.Result
	config          Config
	ingredientsOpen bool
}

// Present builds a result view with the default configuration.
func Present(result *classifier.Result) *View {
	return PresentWith(result, DefaultConfig())
}

// PresentWith builds a result view using cfg for the surrounding chrome.
func PresentWith(result *classifier.Result, cfg Config) *View {
	if result == nil {
		result = &classifier.Result{}
	}
	return &View{result: result, config: cfg}
}

// Result returns the classification being shown.
func (v *View) Result() *classifier.Result { return v.result }

// IngredientsOpen reports whether the ingredient list is expanded.
func (v *View) IngredientsOpen() bool { return v.ingredientsOpen }

// Toggle expands or collapses the ingredient list.
func (v *View) Toggle() {
	v.ingredientsOpen = !v.ingredientsOpen
}

// Render draws the result.
func (v *View) Render() string {
	r := v.result
	var b strings.Builder

	b.WriteString(titleStyle.Render(orPlaceholder(r.FoodName)))
	b.WriteString("\n")
	if r.Description != "" {
		b.WriteString(valueStyle.Render(r.Description))
		b.WriteString("\n")
	}
	b.WriteString("\n")
	writeField(&b, "Origin", r.Origin)
	writeField(&b, "Spice level", r.SpiceLevel)
	if r.Preview != "" {
		writeField(&b, "Image", previewLabel(r.Preview))
	}

	marker := "▸"
	if v.ingredientsOpen {
		marker = "▾"
	}
	b.WriteString(labelStyle.Render(fmt.Sprintf("%s Main ingredients (%d)", marker, len(r.MainIngredients))))
	b.WriteString("\n")
	if v.ingredientsOpen {
		for _, ingredient := range r.MainIngredients {
			b.WriteString("  • ")
			b.WriteString(valueStyle.Render(ingredient))
			b.WriteString("\n")
		}
	}

	if footer := v.config.Footer(); footer != "" {
		b.WriteString("\n")
		b.WriteString(footer)
		b.WriteString("\n")
	}
	return b.String()
}

func writeField(b *strings.Builder, label, value string) {
	b.WriteString(labelStyle.Render(label + ":"))
	b.WriteString(" ")
	b.WriteString(valueStyle.Render(orPlaceholder(value)))
	b.WriteString("\n")
}

// previewLabel keeps inline image payloads out of the rendered view.
func previewLabel(ref string) string {
	if rest, ok := strings.CutPrefix(ref, "data:"); ok {
		mime, _, _ := strings.Cut(rest, ";")
		if mime == "" {
			mime = "image"
		}
		return "inline " + mime
	}
	return ref
}

func orPlaceholder(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}
