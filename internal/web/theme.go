package web

import (
	"embed"
	"fmt"
	"html/template"
	"io/fs"
	"math"
	"net/http"
	"path"
	"sort"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
)

//go:embed themes/*.toml
var themeFS embed.FS

const (
	// ThemeCookie stores the selected palette.
	ThemeCookie = "llmchat_theme"

	DefaultTheme    = "light"
	DefaultFontZoom = 0.8
)

// Theme is a named color palette rendered as CSS custom properties.
type Theme struct {
	Name    string            `toml:"name"`
	Label   string            `toml:"label"`
	Palette map[string]string `toml:"palette"`
}

// Themes holds the embedded palettes by name.
type Themes struct {
	byName map[string]Theme
	names  []string
}

// LoadThemes decodes every embedded palette.
func LoadThemes() (*Themes, error) {
	files, err := fs.Glob(themeFS, "themes/*.toml")
	if err != nil {
		return nil, err
	}

	t := &Themes{byName: make(map[string]Theme)}
	for _, f := range files {
		data, err := themeFS.ReadFile(f)
		if err != nil {
			return nil, fmt.Errorf("theme: read %s: %w", f, err)
		}
		var th Theme
		if _, err := toml.Decode(string(data), &th); err != nil {
			return nil, fmt.Errorf("theme: decode %s: %w", f, err)
		}
		if th.Name == "" {
			th.Name = strings.TrimSuffix(path.Base(f), ".toml")
		}
		t.byName[th.Name] = th
		t.names = append(t.names, th.Name)
	}
	sort.Strings(t.names)
	return t, nil
}

// Names lists the available palettes.
func (t *Themes) Names() []string {
	return append([]string(nil), t.names...)
}

// Get returns the named palette, falling back to the default.
func (t *Themes) Get(name string) Theme {
	if th, ok := t.byName[name]; ok {
		return th
	}
	return t.byName[DefaultTheme]
}

// Valid reports whether name is a known palette.
func (t *Themes) Valid(name string) bool {
	_, ok := t.byName[name]
	return ok
}

// FromRequest picks the palette named by the theme cookie.
func (t *Themes) FromRequest(r *http.Request) Theme {
	if c, err := r.Cookie(ThemeCookie); err == nil {
		return t.Get(c.Value)
	}
	return t.Get(DefaultTheme)
}

// CSS renders the palette as custom properties on :root, followed by the
// responsive zoom rules for the main area.
func (th Theme) CSS(fontZoom float64) template.CSS {
	if fontZoom <= 0 {
		fontZoom = DefaultFontZoom
	}

	keys := make([]string, 0, len(th.Palette))
	for k := range th.Palette {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(":root {\n")
	for _, k := range keys {
		fmt.Fprintf(&b, "  --%s: %s;\n", strings.ReplaceAll(k, "_", "-"), th.Palette[k])
	}
	b.WriteString("}\n")

	fmt.Fprintf(&b, ".main-content { zoom: %s; }\n", zoom(fontZoom))
	fmt.Fprintf(&b, "@media (max-width: 992px) { .main-content { zoom: %s; } }\n", zoom(fontZoom*0.95))
	fmt.Fprintf(&b, "@media (max-width: 768px) { .main-content { zoom: %s; } }\n", zoom(fontZoom*0.9))
	return template.CSS(b.String())
}

func zoom(x float64) string {
	return strconv.FormatFloat(math.Round(x*10000)/10000, 'f', -1, 64)
}
