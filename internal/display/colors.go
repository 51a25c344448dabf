package display

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/muesli/termenv"
)

// Color represents terminal color options
type Color int

const (
	ColorReset Color = iota
	ColorRed
	ColorGreen
	ColorYellow
	ColorBlue
	ColorCyan
	ColorWhite
	ColorBrightRed
	ColorBrightGreen
	ColorBrightYellow
	ColorBrightBlue
	ColorBrightCyan
	ColorBrightWhite
)

// ColorTheme defines color scheme for different message types
type ColorTheme struct {
	Primary   Color
	Success   Color
	Warning   Color
	Error     Color
	Info      Color
	Muted     Color
	Highlight Color
}

// ColorSystem handles color application and terminal detection
type ColorSystem interface {
	Colorize(text string, color Color) string
	Sprintf(color Color, format string, args ...interface{}) string
	IsColorSupported() bool
	GetTheme() ColorTheme
}

// colorSystem implements ColorSystem interface
type colorSystem struct {
	theme          ColorTheme
	colorSupported bool
	colorMap       map[Color]*color.Color
}

// NewColorSystem creates a color system. Colors are only emitted when
// enabled is true and the terminal can show them.
func NewColorSystem(theme ColorTheme, enabled bool) ColorSystem {
	cs := &colorSystem{
		theme:          theme,
		colorSupported: enabled && detectColorSupport(),
	}
	cs.initializeColorMap()
	return cs
}

// detectColorSupport checks if the terminal supports colors
func detectColorSupport() bool {
	if os.Getenv("FORCE_COLOR") != "" {
		return true
	}
	if os.Getenv("NO_COLOR") != "" || os.Getenv("TERM") == "dumb" {
		return false
	}
	if !isatty.IsTerminal(os.Stdout.Fd()) && !isatty.IsCygwinTerminal(os.Stdout.Fd()) {
		return false
	}
	return termenv.ColorProfile() != termenv.Ascii
}

// initializeColorMap sets up the mapping between Color constants and fatih/color colors
func (cs *colorSystem) initializeColorMap() {
	cs.colorMap = map[Color]*color.Color{
		ColorReset:        color.New(color.Reset),
		ColorRed:          color.New(color.FgRed),
		ColorGreen:        color.New(color.FgGreen),
		ColorYellow:       color.New(color.FgYellow),
		ColorBlue:         color.New(color.FgBlue),
		ColorCyan:         color.New(color.FgCyan),
		ColorWhite:        color.New(color.FgWhite),
		ColorBrightRed:    color.New(color.FgHiRed),
		ColorBrightGreen:  color.New(color.FgHiGreen),
		ColorBrightYellow: color.New(color.FgHiYellow),
		ColorBrightBlue:   color.New(color.FgHiBlue),
		ColorBrightCyan:   color.New(color.FgHiCyan),
		ColorBrightWhite:  color.New(color.FgHiWhite),
	}

	// fatih/color decides on its own from the tty; force it to agree with us
	for _, c := range cs.colorMap {
		if cs.colorSupported {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
}

// Colorize applies color to text if color is supported
func (cs *colorSystem) Colorize(text string, clr Color) string {
	if !cs.colorSupported {
		return text
	}
	if colorFunc, exists := cs.colorMap[clr]; exists {
		return colorFunc.Sprint(text)
	}
	return text
}

// Sprintf formats text with color using format string
func (cs *colorSystem) Sprintf(clr Color, format string, args ...interface{}) string {
	return cs.Colorize(fmt.Sprintf(format, args...), clr)
}

// IsColorSupported returns whether colors are supported
func (cs *colorSystem) IsColorSupported() bool {
	return cs.colorSupported
}

// GetTheme returns the current color theme
func (cs *colorSystem) GetTheme() ColorTheme {
	return cs.theme
}

// DarkColorTheme returns a color theme optimized for dark terminals
func DarkColorTheme() ColorTheme {
	return ColorTheme{
		Primary:   ColorBrightBlue,
		Success:   ColorBrightGreen,
		Warning:   ColorBrightYellow,
		Error:     ColorBrightRed,
		Info:      ColorCyan,
		Muted:     ColorWhite,
		Highlight: ColorBrightBlue,
	}
}

// LightColorTheme returns a color theme optimized for light terminals
func LightColorTheme() ColorTheme {
	return ColorTheme{
		Primary:   ColorBlue,
		Success:   ColorGreen,
		Warning:   ColorYellow,
		Error:     ColorRed,
		Info:      ColorCyan,
		Muted:     ColorReset,
		Highlight: ColorBlue,
	}
}

// HighContrastColorTheme returns a high-contrast color theme for accessibility
func HighContrastColorTheme() ColorTheme {
	return ColorTheme{
		Primary:   ColorBrightBlue,
		Success:   ColorBrightGreen,
		Warning:   ColorBrightYellow,
		Error:     ColorBrightRed,
		Info:      ColorBrightCyan,
		Muted:     ColorWhite,
		Highlight: ColorBrightWhite,
	}
}

// PlainTextTheme returns a theme that uses no colors
func PlainTextTheme() ColorTheme {
	return ColorTheme{}
}

// GetThemeByName returns a color theme by name
func GetThemeByName(name string) ColorTheme {
	switch ThemeName(name) {
	case ThemeLight:
		return LightColorTheme()
	case ThemeHighContrast:
		return HighContrastColorTheme()
	case ThemePlain, "none":
		return PlainTextTheme()
	default:
		return DarkColorTheme()
	}
}
