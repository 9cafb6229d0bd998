package output

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"
)

// UI writes user-facing CLI output. Diagnostics go through zap instead.
type UI struct {
	Verbose bool
	DryRun  bool
	Out     io.Writer
	ErrOut  io.Writer
}

// New creates a UI on stdout and stderr.
func New() *UI {
	return &UI{Out: os.Stdout, ErrOut: os.Stderr}
}

type paint func(a ...any) string

var (
	cyan   paint = color.New(color.FgHiCyan).SprintFunc()
	green  paint = color.New(color.FgHiGreen).SprintFunc()
	yellow paint = color.New(color.FgHiYellow).SprintFunc()
	red    paint = color.New(color.FgHiRed).SprintFunc()
	blue   paint = color.New(color.FgHiBlue).SprintFunc()
	bold   paint = color.New(color.Bold).SprintFunc()
	faint  paint = color.New(color.Faint).SprintFunc()
)

func Cyan(s string) string   { return cyan(s) }
func Green(s string) string  { return green(s) }
func Yellow(s string) string { return yellow(s) }
func Red(s string) string    { return red(s) }
func Faint(s string) string  { return faint(s) }

// palette colors enum values, matched case-insensitively.
type palette map[string]paint

func (p palette) apply(s string) string {
	if fn, ok := p[strings.ToLower(s)]; ok {
		return fn(s)
	}
	return s
}

var (
	statusPalette = palette{
		"new":       green,
		"contacted": yellow,
		"waiting":   yellow,
		"pending":   yellow,
		"qualified": cyan,
		"completed": cyan,
		"lost":      red,
	}
	stagePalette = palette{
		"negotiation":   yellow,
		"documentation": cyan,
		"payment":       green,
		"closed":        bold,
	}
	temperaturePalette = palette{
		"hot":  red,
		"warm": yellow,
		"cold": cyan,
	}
)

// StatusColor colors a lead or follow-up status.
func StatusColor(status string) string { return statusPalette.apply(status) }

// StageColor colors a deal stage.
func StageColor(stage string) string { return stagePalette.apply(stage) }

// TemperatureColor colors a lead temperature.
func TemperatureColor(temp string) string { return temperaturePalette.apply(temp) }

// ScoreColor colors a 0-100 lead score: green from 70, yellow from 40.
func ScoreColor(score int) string {
	s := fmt.Sprintf("%d", score)
	switch {
	case score >= 70:
		return green(s)
	case score >= 40:
		return yellow(s)
	}
	return red(s)
}

// Bar renders percent (0-100) as a bar width cells wide.
func Bar(percent float64, width int) string {
	percent = max(0, min(percent, 100))
	filled := int(percent/100*float64(width) + 0.5)
	return strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
}

func (u *UI) line(w io.Writer, prefix, format string, a []any) {
	fmt.Fprintf(w, "%s %s\n", prefix, fmt.Sprintf(format, a...))
}

func (u *UI) Info(format string, a ...any)    { u.line(u.Out, blue("i"), format, a) }
func (u *UI) Success(format string, a ...any) { u.line(u.Out, green("✓"), format, a) }
func (u *UI) Warning(format string, a ...any) { u.line(u.ErrOut, yellow("⚠"), format, a) }
func (u *UI) Error(format string, a ...any)   { u.line(u.ErrOut, red("✗"), format, a) }

// VerboseLog prints only with --verbose.
func (u *UI) VerboseLog(format string, a ...any) {
	if u.Verbose {
		u.line(u.Out, blue("  →"), format, a)
	}
}

// DryRunMsg prints only with --dry-run.
func (u *UI) DryRunMsg(format string, a ...any) {
	if u.DryRun {
		u.Warning("[DRY-RUN] "+format, a...)
	}
}

// Field prints one labelled line of a detail view.
func (u *UI) Field(label string, value any) {
	fmt.Fprintf(u.Out, "  %-12s %v\n", label+":", value)
}

// Table returns a borderless, left-aligned table on Out.
func (u *UI) Table(headers []string) *tablewriter.Table {
	table := tablewriter.NewTable(u.Out,
		tablewriter.WithHeaderAlignment(tw.AlignLeft),
		tablewriter.WithRowAlignment(tw.AlignLeft),
		tablewriter.WithRendition(tw.Rendition{
			Borders:  tw.BorderNone,
			Settings: tw.Settings{Lines: tw.LinesNone, Separators: tw.SeparatorsNone},
		}),
		tablewriter.WithPadding(tw.Padding{Left: "", Right: "  "}),
	)
	table.Header(headers)
	return table
}
