// Package transform turns request parameters into filter chains.
package transform

import (
	"fmt"
	"math"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"
)

// maxTexts is the number of text_N/style_N overlay pairs recognized.
const maxTexts = 5

// Size is a parsed NxM pair.
type Size struct {
	W int
	H int
}

// Shift is a parsed signed pixel offset pair. Left shifts the image right,
// Top shifts it down; negative values bias the opposite direction.
type Shift struct {
	Left int
	Top  int
}

// CropBox is an explicit coordinate crop region.
type CropBox struct {
	X int
	Y int
	W int
	H int
}

// Reflection holds resolved reflection parameters. Alpha values are clamped
// to [0, 1].
type Reflection struct {
	Height      int
	AlphaTop    float64
	AlphaBottom float64
}

// Blur holds resolved blur parameters.
type Blur struct {
	Radius  float64
	Sigma   float64
	Prepend bool
}

// Text is a text overlay paired with the name of its style.
type Text struct {
	Text  string
	Style string
}

// Params is the typed, already-validated transform parameter set. Absent
// optional parameters are nil pointers; the builder pattern-matches on
// presence. Malformed values never survive parsing: they resolve to absent
// or to documented defaults, so building a chain from any Params value
// cannot fail.
type Params struct {
	Size          *Size
	MaintainRatio bool
	Crop          bool
	CropAnchor    string
	CropCoords    *CropBox

	Extent           bool
	ExtentSize       *Size
	ExtentAnchor     string
	ExtentBackground string
	ExtentCompose    string
	ExtentShift      *Shift

	Splice           bool
	SpliceSize       *Size
	SpliceAnchor     string
	SpliceBackground string
	SpliceCompose    string

	PostCropSize   *Size
	PostCropAnchor string

	Reflection *Reflection

	Normalize          bool
	Equalize           bool
	ContrastStretch    *Size
	BrightnessContrast *Size

	OverlayImages []string
	Texts         []Text

	Quality *int
	Blur    *Blur

	// Format is "jpeg", "png" or "png16". Anything else means jpeg.
	Format string
}

// parseSize parses "NxM" into a Size. Floats are rounded to the nearest
// int. Malformed input yields nil.
func parseSize(s string) *Size {
	if s == "" {
		return nil
	}
	parts := strings.SplitN(s, "x", 2)
	if len(parts) != 2 {
		return nil
	}
	vals := make([]int, 2)
	for i, p := range parts {
		f, err := strconv.ParseFloat(p, 64)
		if err != nil {
			return nil
		}
		vals[i] = int(math.Round(f))
	}
	return &Size{W: vals[0], H: vals[1]}
}

// parseCropBox parses "XxYxWxH" into a CropBox. Malformed input yields nil.
func parseCropBox(s string) *CropBox {
	if s == "" {
		return nil
	}
	parts := strings.SplitN(s, "x", 4)
	if len(parts) != 4 {
		return nil
	}
	vals := make([]int, 4)
	for i, p := range parts {
		v, err := strconv.Atoi(p)
		if err != nil {
			return nil
		}
		vals[i] = v
	}
	if vals[2] <= 0 || vals[3] <= 0 {
		return nil
	}
	return &CropBox{X: vals[0], Y: vals[1], W: vals[2], H: vals[3]}
}

// parseBlur parses "RxS" into a Blur. Malformed input yields nil.
func parseBlur(s string, prepend bool) *Blur {
	if s == "" {
		return nil
	}
	parts := strings.SplitN(s, "x", 2)
	if len(parts) != 2 {
		return nil
	}
	radius, err := strconv.ParseFloat(parts[0], 64)
	if err != nil {
		return nil
	}
	sigma, err := strconv.ParseFloat(parts[1], 64)
	if err != nil {
		return nil
	}
	return &Blur{Radius: radius, Sigma: sigma, Prepend: prepend}
}

// parseOverlayList parses the comma separated list of overlay image names.
// Only bare filenames are allowed; a relative or absolute path is an error
// so that clients cannot reach files outside the overlay directory.
func parseOverlayList(s string) ([]string, error) {
	if s == "" {
		return nil, nil
	}
	var result []string
	for _, p := range strings.Split(s, ",") {
		if filepath.Base(p) != p {
			return nil, fmt.Errorf("relative path %q not allowed for image overlay", p)
		}
		result = append(result, p)
	}
	return result, nil
}

// restrictCompose restricts a compose method to the supported set, falling
// back to "over".
func restrictCompose(method string) string {
	switch method {
	case "over", "add", "subtract":
		return method
	}
	return "over"
}

// parseReflection resolves the reflection parameter triple. Any malformed
// numeric value silently disables the reflection; this is a documented
// soft failure, not an error.
func parseReflection(height, top, bottom string) *Reflection {
	if height == "" {
		return nil
	}
	h, err := strconv.Atoi(height)
	if err != nil {
		return nil
	}
	topAlpha := 1.0
	if top != "" {
		f, err := strconv.ParseFloat(top, 64)
		if err != nil {
			return nil
		}
		topAlpha = f
	}
	bottomAlpha := 0.0
	if bottom != "" {
		f, err := strconv.ParseFloat(bottom, 64)
		if err != nil {
			return nil
		}
		bottomAlpha = f
	}
	return &Reflection{
		Height:      h,
		AlphaTop:    math.Max(0, math.Min(1, topAlpha)),
		AlphaBottom: math.Max(0, math.Min(1, bottomAlpha)),
	}
}

func flagSet(v url.Values, name string) bool {
	n, err := strconv.Atoi(v.Get(name))
	return err == nil && n == 1
}

// ParseQuery parses the request query into a typed parameter set.
//
// Parsing is permissive by design: a malformed optional value resolves to
// absence or to its default rather than an error. The only rejected input
// is an overlay image name carrying a path component.
func ParseQuery(v url.Values) (Params, error) {
	p := Params{
		Size:       parseSize(v.Get("size")),
		Crop:       flagSet(v, "crop"),
		CropAnchor: v.Get("crop_anchor"),
		CropCoords: parseCropBox(v.Get("crop_coords")),

		MaintainRatio: flagSet(v, "maintain_ratio"),

		Extent:           flagSet(v, "extent"),
		ExtentAnchor:     v.Get("extent_anchor"),
		ExtentBackground: v.Get("extent_background"),
		ExtentCompose:    restrictCompose(v.Get("extent_compose")),
		ExtentShift:      parseSize2Shift(v.Get("extent_shift")),

		Splice:           flagSet(v, "splice"),
		SpliceAnchor:     v.Get("splice_anchor"),
		SpliceBackground: v.Get("splice_background"),
		SpliceCompose:    restrictCompose(v.Get("splice_compose")),

		PostCropSize:   parseSize(v.Get("post_crop_size")),
		PostCropAnchor: v.Get("post_crop_anchor"),

		Reflection: parseReflection(
			v.Get("reflection_height"),
			v.Get("reflection_alpha_top"),
			v.Get("reflection_alpha_bottom")),

		Normalize:          flagSet(v, "normalize"),
		Equalize:           flagSet(v, "equalize"),
		ContrastStretch:    parseSize(v.Get("contrast_stretch")),
		BrightnessContrast: parseSize(v.Get("brightness_contrast")),

		Blur:   parseBlur(v.Get("blur"), flagSet(v, "blur_prepend")),
		Format: strings.ToLower(v.Get("format")),
	}

	// extent_size and splice_size fall back to the main size parameter.
	p.ExtentSize = parseSize(v.Get("extent_size"))
	if p.ExtentSize == nil {
		p.ExtentSize = parseSize(v.Get("size"))
	}
	p.SpliceSize = parseSize(v.Get("splice_size"))
	if p.SpliceSize == nil {
		p.SpliceSize = parseSize(v.Get("size"))
	}

	if p.ExtentBackground == "" {
		p.ExtentBackground = "#00000000"
	}
	if p.SpliceBackground == "" {
		p.SpliceBackground = "#00000000"
	}
	if p.CropAnchor == "" {
		p.CropAnchor = "center"
	}
	if p.ExtentAnchor == "" {
		p.ExtentAnchor = "center"
	}
	if p.SpliceAnchor == "" {
		p.SpliceAnchor = "center"
	}
	if p.PostCropAnchor == "" {
		p.PostCropAnchor = "center"
	}

	if q := v.Get("quality"); q != "" {
		if n, err := strconv.Atoi(q); err == nil && n >= 0 && n <= 100 {
			p.Quality = &n
		}
	}

	overlays, err := parseOverlayList(v.Get("overlay_image"))
	if err != nil {
		return Params{}, err
	}
	p.OverlayImages = overlays

	// text_0..text_4 with matching style_0..style_4; the first incomplete
	// pair ends the list.
	for n := 0; n < maxTexts; n++ {
		text := v.Get(fmt.Sprintf("text_%d", n))
		style := v.Get(fmt.Sprintf("style_%d", n))
		if text == "" || style == "" {
			break
		}
		p.Texts = append(p.Texts, Text{Text: text, Style: style})
	}

	return p, nil
}

// parseSize2Shift parses "NxM" as a signed shift pair.
func parseSize2Shift(s string) *Shift {
	size := parseSize(s)
	if size == nil {
		return nil
	}
	return &Shift{Left: size.W, Top: size.H}
}
