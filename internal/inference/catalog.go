package inference

import (
	"fmt"
	"image/color"
	"sort"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Style describes a named style understood by the local engine
type Style struct {
	Name     string
	Palette  []color.RGBA
	Tile     int     // mosaic cell size in pixels for the fast variant
	Strength float64 // 0..1 blend towards the palette colour
	Grout    bool    // draw darkened cell borders
}

// Catalog is the registry of known styles
type Catalog struct {
	styles       map[string]Style
	names        []string
	defaultStyle string
	titler       cases.Caser
}

// NewCatalog creates a catalog from the given styles. defaultStyle must be one of them.
func NewCatalog(defaultStyle string, styles ...Style) (*Catalog, error) {
	if len(styles) == 0 {
		return nil, fmt.Errorf("catalog requires at least one style")
	}

	c := &Catalog{
		styles: make(map[string]Style, len(styles)),
		titler: cases.Title(language.English),
	}
	for _, s := range styles {
		name := normalizeName(s.Name)
		if name == "" {
			return nil, fmt.Errorf("style name is required")
		}
		if len(s.Palette) == 0 {
			return nil, fmt.Errorf("style %q has an empty palette", name)
		}
		if _, dup := c.styles[name]; dup {
			return nil, fmt.Errorf("duplicate style %q", name)
		}
		s.Name = name
		c.styles[name] = s
		c.names = append(c.names, name)
	}
	sort.Strings(c.names)

	defaultStyle = normalizeName(defaultStyle)
	if defaultStyle == "" {
		defaultStyle = c.names[0]
	}
	if _, ok := c.styles[defaultStyle]; !ok {
		return nil, fmt.Errorf("default style %q is not in the catalog", defaultStyle)
	}
	c.defaultStyle = defaultStyle

	return c, nil
}

// DefaultCatalog returns the built-in styles
func DefaultCatalog(defaultStyle string) (*Catalog, error) {
	return NewCatalog(defaultStyle, builtinStyles()...)
}

// Lookup returns the style with the given name
func (c *Catalog) Lookup(name string) (Style, bool) {
	s, ok := c.styles[normalizeName(name)]
	return s, ok
}

// Has reports whether name is a known style
func (c *Catalog) Has(name string) bool {
	_, ok := c.Lookup(name)
	return ok
}

// Names returns all style names in sorted order
func (c *Catalog) Names() []string {
	out := make([]string, len(c.names))
	copy(out, c.names)
	return out
}

// Default returns the style used when a submission does not name one
func (c *Catalog) Default() string {
	return c.defaultStyle
}

// DisplayName turns "rain_princess" into "Rain Princess"
func (c *Catalog) DisplayName(name string) string {
	return c.titler.String(strings.ReplaceAll(normalizeName(name), "_", " "))
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func builtinStyles() []Style {
	return []Style{
		{
			Name:     "mosaic",
			Palette:  hexPalette("1f3b73", "2f7fc1", "e8c547", "d9462f", "f2efe6", "3c8d5a", "8a4f9e"),
			Tile:     12,
			Strength: 0.75,
			Grout:    true,
		},
		{
			Name:     "candy",
			Palette:  hexPalette("ff5d8f", "ffd23f", "3bceac", "0ead69", "540d6e", "ee4266"),
			Tile:     6,
			Strength: 0.6,
		},
		{
			Name:     "udnie",
			Palette:  hexPalette("2b2d42", "8d99ae", "edf2f4", "ef233c", "d90429", "5c4d3c"),
			Tile:     8,
			Strength: 0.65,
		},
		{
			Name:     "rain_princess",
			Palette:  hexPalette("0d1b2a", "1b263b", "415a77", "e0a458", "ffdbb5", "c04abc"),
			Tile:     5,
			Strength: 0.55,
		},
		{
			Name:     "starry_night",
			Palette:  hexPalette("0b1d51", "1e3f8a", "4f7cac", "f5d547", "f2e8cf", "223322"),
			Tile:     10,
			Strength: 0.7,
			Grout:    true,
		},
	}
}

func hexPalette(codes ...string) []color.RGBA {
	out := make([]color.RGBA, 0, len(codes))
	for _, code := range codes {
		var r, g, b uint8
		if _, err := fmt.Sscanf(code, "%02x%02x%02x", &r, &g, &b); err != nil {
			continue
		}
		out = append(out, color.RGBA{R: r, G: g, B: b, A: 255})
	}
	return out
}
