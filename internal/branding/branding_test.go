package branding

import (
	"strings"
	"testing"

	"github.com/gatekeep/gatekeeper/internal/domain"
)

func sampleRecord() domain.BrandingRecord {
	return domain.BrandingRecord{
		WorkspaceID: "W1",
		Colors: domain.BrandColors{
			Primary:    "#336699",
			Secondary:  "#ffcc00",
			Accent:     "#f0f",
			Background: "#ffffff",
			Text:       "#000000",
		},
		Fonts:       domain.BrandFonts{Heading: "Georgia, serif", Body: "Arial"},
		ThemeConfig: domain.ThemeConfig{BorderRadius: "4px", Mode: "dark"},
	}
}

func TestGenerateCSSDeterministic(t *testing.T) {
	t.Parallel()

	rec := sampleRecord()
	a := GenerateCSS(rec)
	b := GenerateCSS(rec)
	if a != b {
		t.Fatalf("expected identical output, got\n%s\nvs\n%s", a, b)
	}
}

func TestGenerateCSSDerivedShades(t *testing.T) {
	t.Parallel()

	css := GenerateCSS(sampleRecord())
	// #336699 lightened 20%: 0x33 + (255-51)*0.2 = 91.8 -> 92 (0x5c)
	// 0x66 + (255-102)*0.2 = 132.6 -> 133 (0x85); 0x99 + 102*0.2 = 173.4 -> 173 (0xad)
	want := []string{
		"--brand-primary: #336699;",
		"--brand-primary-light: #5c85ad;",
		"--brand-primary-dark: #29527a;",
		"--brand-primary-contrast: #ffffff;",
		"--brand-secondary-contrast: #000000;",
		"--brand-accent: #ff00ff;",
		"--brand-font-heading: Georgia, serif;",
		"--brand-radius: 4px;",
		"--brand-mode: dark;",
	}
	for _, w := range want {
		if !strings.Contains(css, w) {
			t.Fatalf("expected %q in output:\n%s", w, css)
		}
	}
	if !strings.HasPrefix(css, ":root {\n") || !strings.HasSuffix(css, "}\n") {
		t.Fatalf("unexpected css framing:\n%s", css)
	}
}

func TestGenerateCSSFallsBackOnInvalidColor(t *testing.T) {
	t.Parallel()

	rec := sampleRecord()
	rec.Colors.Primary = "not-a-color"
	css := GenerateCSS(rec)
	if !strings.Contains(css, "--brand-primary: "+Defaults().Colors.Primary+";") {
		t.Fatalf("expected default primary color, got:\n%s", css)
	}
}

func TestGenerateCSSStripsInjection(t *testing.T) {
	t.Parallel()

	rec := sampleRecord()
	rec.Fonts.Body = "Arial;}</style><script>"
	css := GenerateCSS(rec)
	if strings.Contains(css, "</style>") || strings.Contains(css, "Arial;}") {
		t.Fatalf("expected unsafe characters to be stripped:\n%s", css)
	}
}

func TestContrastText(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"#ffffff": "#000000",
		"#000000": "#ffffff",
		"#ffcc00": "#000000",
		"#336699": "#ffffff",
	}
	for in, want := range tests {
		if got := ContrastText(in); got != want {
			t.Fatalf("ContrastText(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestLightenDarkenBounds(t *testing.T) {
	t.Parallel()

	if got := Lighten("#ffffff", ShadeFactor); got != "#ffffff" {
		t.Fatalf("white should stay white, got %s", got)
	}
	if got := Darken("#000000", ShadeFactor); got != "#000000" {
		t.Fatalf("black should stay black, got %s", got)
	}
	if got := Darken("#ffffff", 0.5); got != "#808080" {
		t.Fatalf("expected #808080, got %s", got)
	}
}

func TestInlineVarsSingleLine(t *testing.T) {
	t.Parallel()

	v := InlineVars(sampleRecord())
	if strings.ContainsAny(v, "\n\r") {
		t.Fatalf("expected single line, got %q", v)
	}
	if !strings.HasPrefix(v, "--brand-primary:#336699;") {
		t.Fatalf("unexpected prefix: %q", v)
	}
}
