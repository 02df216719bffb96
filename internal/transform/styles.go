package transform

import "github.com/tendant/simple-image-proxy/internal/magick"

// StyleResolver resolves a style name from the request into a text overlay
// style. Returning nil means the style is unknown and the paired text is
// skipped.
type StyleResolver interface {
	Resolve(name string) *magick.Style
}

// NoStyles is the default resolver. It knows no styles, so text overlay
// parameters are no-ops until a real resolver is installed.
type NoStyles struct{}

// Resolve always returns nil.
func (NoStyles) Resolve(string) *magick.Style { return nil }

// StyleMap resolves styles from a static map of name to style.
type StyleMap map[string]magick.Style

// Resolve returns the named style, or nil if it is not in the map.
func (m StyleMap) Resolve(name string) *magick.Style {
	if s, ok := m[name]; ok {
		return &s
	}
	return nil
}
