package magick

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"strconv"
)

// Format identifies the output encoding produced by a conversion.
type Format string

// Supported output formats
const (
	JPEG Format = "jpeg"
	PNG  Format = "png"
)

// gravities maps request anchor words to ImageMagick gravity directions.
var gravities = map[string]string{
	"left":        "West",
	"right":       "East",
	"top":         "North",
	"bottom":      "South",
	"middle":      "Center",
	"center":      "Center",
	"topleft":     "NorthWest",
	"topright":    "NorthEast",
	"bottomleft":  "SouthWest",
	"bottomright": "SouthEast",
}

// Gravity resolves an anchor word (top, bottomleft, center, ...) to an
// ImageMagick gravity direction. Unknown anchors resolve to Center.
func Gravity(anchor string) string {
	if g, ok := gravities[anchor]; ok {
		return g
	}
	return "Center"
}

// Style describes a resolved text overlay style. The proxy core treats it as
// an opaque descriptor; resolving style names to descriptors is the caller's
// concern.
type Style struct {
	Font      string
	PointSize int
	Fill      string
	Anchor    string
	XOffset   int
	YOffset   int
}

// Chain is an ordered list of named transform operations together with the
// raw argument tokens handed to the convert process. Operation names are
// human-readable encodings of their parameters and double as the cache key
// material; names and arguments are mutated in lock-step.
//
// A Chain is built once per request and must not be modified after it is
// handed to the converter or the cache key deriver.
type Chain struct {
	filters []string
	args    []string
	format  Format
}

// NewChain creates an empty filter chain producing JPEG output.
func NewChain() *Chain {
	return &Chain{format: JPEG}
}

// Filters returns the ordered operation names.
func (c *Chain) Filters() []string {
	return c.filters
}

// Args returns the ordered argument tokens for the convert process.
func (c *Chain) Args() []string {
	return c.args
}

// Format returns the output format.
func (c *Chain) Format() Format {
	return c.format
}

// SetFormat selects the output format.
func (c *Chain) SetFormat(f Format) {
	c.format = f
}

// MimeType returns the MIME type matching the output format.
func (c *Chain) MimeType() string {
	switch c.format {
	case PNG:
		return "image/png"
	case JPEG:
		return "image/jpeg"
	}
	return "application/octet-stream"
}

// chainOp records a named operation. Prepend inserts at the front of both
// the name and argument sequences, shifting everything else back.
func (c *Chain) chainOp(name string, args []string, prepend bool) {
	if prepend {
		c.filters = append([]string{name}, c.filters...)
		c.args = append(append([]string{}, args...), c.args...)
	} else {
		c.filters = append(c.filters, name)
		c.args = append(c.args, args...)
	}
}

// RawArgs appends argument tokens without recording an operation name.
// Used for bookkeeping arguments (like +repage) that do not affect the
// cache key.
func (c *Chain) RawArgs(args ...string) {
	c.args = append(c.args, args...)
}

// PrependRawArgs inserts argument tokens at the front of the argument
// sequence without recording an operation name.
func (c *Chain) PrependRawArgs(args ...string) {
	c.args = append(append([]string{}, args...), c.args...)
}

// Repage appends a +repage marker, resetting the virtual canvas origin.
// Crops and splices are bracketed by these.
func (c *Chain) Repage() {
	c.RawArgs("+repage")
}

func signed(v int) string {
	if v >= 0 {
		return fmt.Sprintf("+%d", v)
	}
	return strconv.Itoa(v)
}

// Resize scales the image to w x h. With maintainRatio the aspect ratio is
// preserved; willCrop additionally lets the result fill (and overflow) the
// box instead of fitting inside it.
func (c *Chain) Resize(w, h int, maintainRatio, willCrop bool, prepend bool) {
	resizeType := 1
	size := fmt.Sprintf("%dx%d", w, h)
	if !maintainRatio {
		size += "!"
		resizeType = 0
	} else if willCrop {
		size += "^"
		resizeType = 2
	}
	c.chainOp(
		fmt.Sprintf("resize_%d_%d_%d", w, h, resizeType),
		[]string{"-resize", size},
		prepend)
}

// Crop cuts the image to w x h offset by (x, y) anchored at the given
// gravity direction.
func (c *Chain) Crop(w, h, x, y int, gravity string, prepend bool) {
	c.chainOp(
		fmt.Sprintf("crop_%s_%dx%d%s%s", gravity, w, h, signed(x), signed(y)),
		[]string{"-gravity", gravity, "-crop", fmt.Sprintf("%dx%d%s%s", w, h, signed(x), signed(y))},
		prepend)
}

// Constrain pads or crops the image to exactly w x h around the center on a
// transparent background. Useful after a ratio-preserving resize.
func (c *Chain) Constrain(w, h int, prepend bool) {
	c.chainOp(
		fmt.Sprintf("constrain_%d_%d", w, h),
		[]string{"-gravity", "Center", "-background", "transparent", "-extent", fmt.Sprintf("%dx%d", w, h)},
		prepend)
}

// Overlay composites the image at the given path onto the current image,
// offset by (x, y) with the given gravity direction.
func (c *Chain) Overlay(x, y int, gravity, imagePath string, prepend bool) {
	c.chainOp(
		fmt.Sprintf("overlay_%d_%d_%s", x, y, filepath.Base(imagePath)),
		[]string{imagePath, "-gravity", gravity, "-geometry", fmt.Sprintf("%s%s", signed(x), signed(y)), "-composite"},
		prepend)
}

// OverlayWithResize composites the image at the given path after resizing it
// to w x h, offset by (x, y) with the given gravity direction.
func (c *Chain) OverlayWithResize(x, y, w, h int, gravity, imagePath string, prepend bool) {
	c.chainOp(
		fmt.Sprintf("overlay_resize_%d_%d_%dx%d_%s", x, y, w, h, filepath.Base(imagePath)),
		[]string{
			"(", imagePath, "-resize", fmt.Sprintf("%dx%d", w, h), ")",
			"-gravity", gravity,
			"-geometry", fmt.Sprintf("%s%s", signed(x), signed(y)),
			"-composite",
		},
		prepend)
}

// Extent pads or crops the canvas to w x h, anchored at the given gravity
// direction, over the given background color using the given compose method.
func (c *Chain) Extent(w, h int, gravity, background, compose string, prepend bool) {
	c.chainOp(
		fmt.Sprintf("extent_%d_%d_%s_%s_%s", w, h, gravity, background, compose),
		[]string{
			"-gravity", gravity,
			"-background", background,
			"-compose", compose,
			"-extent", fmt.Sprintf("%dx%d", w, h),
		},
		prepend)
}

// Splice inserts w x h of blank space at the anchored position, growing the
// canvas.
func (c *Chain) Splice(w, h int, gravity, background, compose string, prepend bool) {
	c.chainOp(
		fmt.Sprintf("splice_%d_%d_%s_%s_%s", w, h, gravity, background, compose),
		[]string{
			"-gravity", gravity,
			"-background", background,
			"-compose", compose,
			"-splice", fmt.Sprintf("%dx%d", w, h),
		},
		prepend)
}

// Reflect flips the image upside down and crops to the last outHeight rows,
// blending a linear top-to-bottom alpha gradient between topAlpha and
// bottomAlpha.
func (c *Chain) Reflect(outHeight int, topAlpha, bottomAlpha float64, prepend bool) {
	cropParam := fmt.Sprintf("x%d!", outHeight)
	rng := topAlpha - bottomAlpha
	c.chainOp(
		fmt.Sprintf("reflect_%0.2f_%0.2f_%0.2f", float64(outHeight), topAlpha, bottomAlpha),
		[]string{
			"-gravity", "NorthWest",
			"-alpha", "on",
			"-flip",
			"(",
			"+clone", "-crop", cropParam, "-delete", "1-100",
			"-channel", "G", "-fx", fmt.Sprintf("%0.2f-(j/h)*%0.2f", topAlpha, rng),
			"-separate",
			")",
			"-alpha", "off", "-compose", "copy_opacity", "-composite",
			"-crop", cropParam, "-delete", "1-100",
		},
		prepend)
}

// Normalize stretches the channels together so the darkest pixels become
// black and the lightest white.
func (c *Chain) Normalize(prepend bool) {
	c.chainOp("normalize", []string{"-normalize"}, prepend)
}

// Equalize redistributes the image colors uniformly, per channel.
func (c *Chain) Equalize(prepend bool) {
	c.chainOp("equalize", []string{"-equalize"}, prepend)
}

// ContrastStretch maps the darkest a percent of pixels to black and the
// lightest b percent to white.
func (c *Chain) ContrastStretch(a, b int, prepend bool) {
	c.chainOp(
		fmt.Sprintf("contrast_stretch_%d_%d", a, b),
		[]string{"-contrast-stretch", fmt.Sprintf("%d%%x%d%%", a, b)},
		prepend)
}

// BrightnessContrast changes brightness and contrast by a and b percent.
func (c *Chain) BrightnessContrast(a, b int, prepend bool) {
	c.chainOp(
		fmt.Sprintf("brightness_contrast_%d_%d", a, b),
		[]string{"-brightness-contrast", fmt.Sprintf("%d%%x%d%%", a, b)},
		prepend)
}

// Quality sets the output quality for the encoder.
func (c *Chain) Quality(q int, prepend bool) {
	c.chainOp(
		fmt.Sprintf("quality_%d", q),
		[]string{"-quality", strconv.Itoa(q)},
		prepend)
}

// Blur applies a gaussian blur with the given radius and sigma.
func (c *Chain) Blur(radius, sigma float64, prepend bool) {
	c.chainOp(
		fmt.Sprintf("blur_%0.2f_%0.2f", radius, sigma),
		[]string{"-blur", fmt.Sprintf("%0.2fx%0.2f", radius, sigma)},
		prepend)
}

// Annotate draws text over the image using the given style. Fonts named in
// the style are resolved against fontDir. The operation name hashes the text
// so that arbitrary strings stay filesystem-safe in cache keys.
func (c *Chain) Annotate(text string, style Style, fontDir string) {
	sum := md5.Sum([]byte(text))
	name := fmt.Sprintf("text_%s_%d_%s_%s", style.Fill, style.PointSize, Gravity(style.Anchor), hex.EncodeToString(sum[:8]))

	args := []string{"-gravity", Gravity(style.Anchor)}
	if style.Font != "" {
		args = append(args, "-font", filepath.Join(fontDir, style.Font))
	}
	if style.PointSize > 0 {
		args = append(args, "-pointsize", strconv.Itoa(style.PointSize))
	}
	if style.Fill != "" {
		args = append(args, "-fill", style.Fill)
	}
	args = append(args, "-annotate", fmt.Sprintf("%s%s", signed(style.XOffset), signed(style.YOffset)), text)
	c.chainOp(name, args, false)
}

// RGB555Dither reduces the color channels to 5 bits by dithering against the
// given colormap image, preserving the alpha channel. Intended to improve
// rendering on 16-bit screens. The operation always runs first, so it uses
// prepend semantics no matter when it is chained.
func (c *Chain) RGB555Dither(colormap string) {
	c.chainOp(
		"rgb555_dither",
		[]string{
			"-background", "white",
			"(",
			"+clone", "-channel", "RGB", "-separate",
			"-type", "TrueColor", "-remap", colormap,
			")",
			"(",
			"-clone", "0", "-channel", "A", "-separate",
			"-alpha", "copy",
			")",
			"-delete", "0", "-channel", "RGBA", "-combine",
		},
		true)
}

// formatArgs returns the trailing convert arguments selecting the output
// encoding.
func (c *Chain) formatArgs() []string {
	switch c.format {
	case PNG:
		// zlib level 9 with adaptive filtering, 8 bits per channel,
		// alpha preserved via png32.
		return []string{"-quality", "95", "-depth", "8", "png32:-"}
	case JPEG:
		// Q=85 with 4:2:2 chroma subsampling, forced sRGB in case the
		// input carries another colorspace, EXIF stripped.
		return []string{"-quality", "85", "-sampling-factor", "2x1", "-colorspace", "sRGB", "-strip", "jpeg:-"}
	}
	return []string{fmt.Sprintf("%s:-", c.format)}
}

// CommandLine returns the full argument list for the convert process. When
// stdin is true the source image is read from standard input instead of the
// given path.
func (c *Chain) CommandLine(source string, stdin bool) []string {
	args := make([]string, 0, len(c.args)+8)
	if stdin {
		args = append(args, "-")
	} else {
		args = append(args, source)
	}
	args = append(args, c.args...)
	args = append(args, "-quiet")
	args = append(args, c.formatArgs()...)
	return args
}
