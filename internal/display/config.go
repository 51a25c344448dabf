package display

import (
	"fmt"
	"io"
	"os"
	"strings"
)

// OutputFormat represents different output format options
type OutputFormat string

const (
	FormatTable   OutputFormat = "table"
	FormatJSON    OutputFormat = "json"
	FormatYAML    OutputFormat = "yaml"
	FormatCompact OutputFormat = "compact"
)

// ThemeName represents available color themes
type ThemeName string

const (
	ThemeDark         ThemeName = "dark"
	ThemeLight        ThemeName = "light"
	ThemeHighContrast ThemeName = "high-contrast"
	ThemePlain        ThemeName = "plain"
)

// DisplayConfig holds configuration for CLI output
type DisplayConfig struct {
	ColorEnabled bool   `mapstructure:"color_enabled" yaml:"color_enabled"`
	Theme        string `mapstructure:"theme" yaml:"theme"`
	OutputFormat string `mapstructure:"output_format" yaml:"output_format"`
	UseIcons     bool   `mapstructure:"use_icons" yaml:"use_icons"`
	QuietMode    bool   `mapstructure:"quiet" yaml:"quiet"`

	Writer io.Writer `mapstructure:"-" yaml:"-"`
}

// DefaultDisplayConfig returns a default display configuration
func DefaultDisplayConfig() *DisplayConfig {
	return &DisplayConfig{
		ColorEnabled: true,
		Theme:        string(ThemeDark),
		OutputFormat: string(FormatTable),
		UseIcons:     true,
		Writer:       os.Stdout,
	}
}

// Validate validates the display configuration
func (dc *DisplayConfig) Validate() error {
	var errs []error

	validThemes := []string{string(ThemeDark), string(ThemeLight), string(ThemeHighContrast), string(ThemePlain)}
	if !contains(validThemes, dc.Theme) {
		errs = append(errs, fmt.Errorf("invalid theme '%s', must be one of: %s", dc.Theme, strings.Join(validThemes, ", ")))
	}

	validFormats := []string{string(FormatTable), string(FormatJSON), string(FormatYAML), string(FormatCompact)}
	if !contains(validFormats, dc.OutputFormat) {
		errs = append(errs, fmt.Errorf("invalid output format '%s', must be one of: %s", dc.OutputFormat, strings.Join(validFormats, ", ")))
	}

	if len(errs) > 0 {
		return fmt.Errorf("display configuration validation failed: %v", errs)
	}
	return nil
}

// SetDefaults sets default values for unspecified configuration options
func (dc *DisplayConfig) SetDefaults() {
	if dc.Theme == "" {
		dc.Theme = string(ThemeDark)
	}
	if dc.OutputFormat == "" {
		dc.OutputFormat = string(FormatTable)
	}
	if dc.Writer == nil {
		dc.Writer = os.Stdout
	}
}

// GetColorTheme returns the ColorTheme based on the theme name
func (dc *DisplayConfig) GetColorTheme() ColorTheme {
	return GetThemeByName(dc.Theme)
}

// IsColorEnabled returns true if colors should be used
func (dc *DisplayConfig) IsColorEnabled() bool {
	return dc.ColorEnabled && !dc.QuietMode
}

// IsIconsEnabled returns true if icons should be used
func (dc *DisplayConfig) IsIconsEnabled() bool {
	return dc.UseIcons && !dc.QuietMode
}

// contains checks if a slice contains a string
func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
