package display

import (
	"os"

	"github.com/mattn/go-isatty"
)

// Icon represents a visual icon with Unicode and ASCII fallbacks
type Icon struct {
	Unicode string
	ASCII   string
}

var icons = map[string]Icon{
	"success":  {Unicode: "✓", ASCII: "[OK]"},
	"error":    {Unicode: "✗", ASCII: "[FAIL]"},
	"warning":  {Unicode: "⚠", ASCII: "[WARN]"},
	"info":     {Unicode: "ℹ", ASCII: "[INFO]"},
	"clock":    {Unicode: "⏱", ASCII: "[NEXT]"},
	"upload":   {Unicode: "↑", ASCII: "[SYNC]"},
	"disabled": {Unicode: "⏸", ASCII: "[OFF]"},
}

// IconSet renders named icons, falling back to ASCII on terminals that
// cannot show Unicode
type IconSet struct {
	enabled bool
	unicode bool
}

// NewIconSet creates an icon set
func NewIconSet(enabled bool) *IconSet {
	return &IconSet{enabled: enabled, unicode: detectUnicodeSupport()}
}

// detectUnicodeSupport checks if the terminal supports Unicode characters
func detectUnicodeSupport() bool {
	if os.Getenv("FORCE_UNICODE") != "" {
		return true
	}
	if os.Getenv("NO_UNICODE") != "" {
		return false
	}
	if os.Getenv("LANG") == "C" || os.Getenv("LC_ALL") == "C" {
		return false
	}
	term := os.Getenv("TERM")
	if term == "dumb" || term == "vt100" {
		return false
	}
	return isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd())
}

// Render returns the icon followed by a space, or "" when icons are off
func (is *IconSet) Render(name string) string {
	if !is.enabled {
		return ""
	}
	icon, ok := icons[name]
	if !ok {
		return ""
	}
	if is.unicode {
		return icon.Unicode + " "
	}
	return icon.ASCII + " "
}
