// Package ui renders CLI output with lipgloss.
//
// Colour follows the output terminal: a pipe or NO_COLOR gets plain text.
package ui

import (
	"io"
	"os"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

var (
	accentColor = lipgloss.AdaptiveColor{Light: "#005FAF", Dark: "#5FAFFF"}
	passColor   = lipgloss.AdaptiveColor{Light: "#008700", Dark: "#5FD75F"}
	warnColor   = lipgloss.AdaptiveColor{Light: "#AF8700", Dark: "#FFD75F"}
	failColor   = lipgloss.AdaptiveColor{Light: "#AF0000", Dark: "#FF5F5F"}
	mutedColor  = lipgloss.AdaptiveColor{Light: "#6C6C6C", Dark: "#8A8A8A"}
)

type styles struct {
	renderer *lipgloss.Renderer
	accent   lipgloss.Style
	pass     lipgloss.Style
	warn     lipgloss.Style
	fail     lipgloss.Style
	muted    lipgloss.Style
	header   lipgloss.Style
	cell     lipgloss.Style
	border   lipgloss.Style
}

var (
	mu      sync.RWMutex
	current = newStyles(lipgloss.NewRenderer(os.Stdout))
)

func newStyles(r *lipgloss.Renderer) *styles {
	return &styles{
		renderer: r,
		accent:   r.NewStyle().Foreground(accentColor).Bold(true),
		pass:     r.NewStyle().Foreground(passColor),
		warn:     r.NewStyle().Foreground(warnColor),
		fail:     r.NewStyle().Foreground(failColor).Bold(true),
		muted:    r.NewStyle().Foreground(mutedColor),
		header:   r.NewStyle().Bold(true).Padding(0, 1),
		cell:     r.NewStyle().Padding(0, 1),
		border:   r.NewStyle().Foreground(mutedColor),
	}
}

func get() *styles {
	mu.RLock()
	defer mu.RUnlock()
	return current
}

// SetOutput points rendering at w and detects its colour profile.
func SetOutput(w io.Writer) {
	r := lipgloss.NewRenderer(w)
	if os.Getenv("NO_COLOR") != "" {
		r.SetColorProfile(termenv.Ascii)
	}
	mu.Lock()
	current = newStyles(r)
	mu.Unlock()
}

// DisableColor forces plain output.
func DisableColor() {
	mu.Lock()
	defer mu.Unlock()
	r := current.renderer
	r.SetColorProfile(termenv.Ascii)
	current = newStyles(r)
}

// ColorEnabled reports whether output carries ANSI colour.
func ColorEnabled() bool {
	return get().renderer.ColorProfile() != termenv.Ascii
}

func RenderAccent(s string) string { return get().accent.Render(s) }
func RenderPass(s string) string   { return get().pass.Render(s) }
func RenderWarn(s string) string   { return get().warn.Render(s) }
func RenderFail(s string) string   { return get().fail.Render(s) }
func RenderMuted(s string) string  { return get().muted.Render(s) }
