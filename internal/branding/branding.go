// Package branding derives CSS custom properties from a workspace branding
// record. Output depends only on the record so it can be cached and
// compared byte for byte.
package branding

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/gatekeep/gatekeeper/internal/domain"
)

// ShadeFactor is the fraction used to lighten toward white and darken
// toward black.
const ShadeFactor = 0.20

// luminanceThreshold splits light from dark backgrounds for text contrast.
const luminanceThreshold = 0.5

// Defaults is the platform palette used for the default domain and for any
// field a tenant left empty or malformed.
func Defaults() domain.BrandingRecord {
	return domain.BrandingRecord{
		Colors: domain.BrandColors{
			Primary:    "#4f46e5",
			Secondary:  "#0ea5e9",
			Accent:     "#f59e0b",
			Background: "#ffffff",
			Text:       "#111827",
		},
		Fonts: domain.BrandFonts{
			Heading: "Inter, sans-serif",
			Body:    "Inter, sans-serif",
		},
		ThemeConfig: domain.ThemeConfig{BorderRadius: "8px", Mode: "light"},
	}
}

type rgb struct{ r, g, b uint8 }

func (c rgb) hex() string {
	return fmt.Sprintf("#%02x%02x%02x", c.r, c.g, c.b)
}

func parseHex(raw string) (rgb, bool) {
	s := strings.TrimPrefix(strings.TrimSpace(raw), "#")
	if len(s) == 3 {
		s = string([]byte{s[0], s[0], s[1], s[1], s[2], s[2]})
	}
	if len(s) != 6 {
		return rgb{}, false
	}
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return rgb{}, false
	}
	return rgb{r: uint8(v >> 16), g: uint8(v >> 8), b: uint8(v)}, true
}

func mix(c rgb, target float64, factor float64) rgb {
	ch := func(v uint8) uint8 {
		f := float64(v) + (target-float64(v))*factor
		return uint8(math.Round(math.Max(0, math.Min(255, f))))
	}
	return rgb{r: ch(c.r), g: ch(c.g), b: ch(c.b)}
}

// Lighten interpolates each channel toward white by factor.
func Lighten(hex string, factor float64) string {
	c, ok := parseHex(hex)
	if !ok {
		return hex
	}
	return mix(c, 255, factor).hex()
}

// Darken interpolates each channel toward black by factor.
func Darken(hex string, factor float64) string {
	c, ok := parseHex(hex)
	if !ok {
		return hex
	}
	return mix(c, 0, factor).hex()
}

// Luminance returns 0.299r + 0.587g + 0.114b normalized to [0,1].
func Luminance(hex string) float64 {
	c, ok := parseHex(hex)
	if !ok {
		return 0
	}
	return (0.299*float64(c.r) + 0.587*float64(c.g) + 0.114*float64(c.b)) / 255
}

// ContrastText picks black text for light colors and white for dark ones.
func ContrastText(hex string) string {
	if Luminance(hex) > luminanceThreshold {
		return "#000000"
	}
	return "#ffffff"
}

type declaration struct {
	name  string
	value string
}

func declarations(rec domain.BrandingRecord) []declaration {
	def := Defaults()
	colors := []struct {
		name     string
		value    string
		fallback string
	}{
		{"primary", rec.Colors.Primary, def.Colors.Primary},
		{"secondary", rec.Colors.Secondary, def.Colors.Secondary},
		{"accent", rec.Colors.Accent, def.Colors.Accent},
		{"background", rec.Colors.Background, def.Colors.Background},
		{"text", rec.Colors.Text, def.Colors.Text},
	}

	out := make([]declaration, 0, len(colors)*4+4)
	for _, c := range colors {
		base, ok := parseHex(c.value)
		if !ok {
			base, _ = parseHex(c.fallback)
		}
		hex := base.hex()
		out = append(out,
			declaration{"--brand-" + c.name, hex},
			declaration{"--brand-" + c.name + "-light", mix(base, 255, ShadeFactor).hex()},
			declaration{"--brand-" + c.name + "-dark", mix(base, 0, ShadeFactor).hex()},
			declaration{"--brand-" + c.name + "-contrast", ContrastText(hex)},
		)
	}

	out = append(out,
		declaration{"--brand-font-heading", cssValue(rec.Fonts.Heading, def.Fonts.Heading)},
		declaration{"--brand-font-body", cssValue(rec.Fonts.Body, def.Fonts.Body)},
		declaration{"--brand-radius", cssValue(rec.ThemeConfig.BorderRadius, def.ThemeConfig.BorderRadius)},
		declaration{"--brand-mode", cssValue(rec.ThemeConfig.Mode, def.ThemeConfig.Mode)},
	)
	return out
}

// cssValue strips characters that could terminate a declaration or block.
func cssValue(v, fallback string) string {
	v = strings.Map(func(r rune) rune {
		switch r {
		case ';', '{', '}', '<', '>', '\n', '\r', '\\':
			return -1
		}
		return r
	}, strings.TrimSpace(v))
	if v == "" {
		return fallback
	}
	return v
}

// GenerateCSS renders a :root block of brand custom properties.
func GenerateCSS(rec domain.BrandingRecord) string {
	var b strings.Builder
	b.WriteString(":root {\n")
	for _, d := range declarations(rec) {
		b.WriteString("  ")
		b.WriteString(d.name)
		b.WriteString(": ")
		b.WriteString(d.value)
		b.WriteString(";\n")
	}
	b.WriteString("}\n")
	return b.String()
}

// InlineVars renders the same declarations on a single line, suitable for
// a response header.
func InlineVars(rec domain.BrandingRecord) string {
	decls := declarations(rec)
	parts := make([]string, 0, len(decls))
	for _, d := range decls {
		parts = append(parts, d.name+":"+d.value)
	}
	return strings.Join(parts, ";")
}
