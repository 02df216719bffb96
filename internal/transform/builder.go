package transform

import (
	"log/slog"
	"os"
	"path/filepath"

	"github.com/tendant/simple-image-proxy/internal/magick"
)

// Options configures chain building for a deployment.
type Options struct {
	// ImageDir is the directory overlay image names are resolved against.
	// Empty disables overlays.
	ImageDir string

	// FontDir is the directory style font names are resolved against.
	FontDir string

	// Styles resolves style names for text overlays. Nil behaves like
	// NoStyles.
	Styles StyleResolver

	// DitherColormap is the palette image used by the png16 dithering
	// step.
	DitherColormap string

	Logger *slog.Logger
}

func (o Options) styles() StyleResolver {
	if o.Styles != nil {
		return o.Styles
	}
	return NoStyles{}
}

func (o Options) logger() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return slog.Default()
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// Build produces the filter chain for the given parameters. It is a pure
// function of its inputs apart from the overlay-file existence probe: the
// same parameters always yield the same operation and argument sequences,
// which is what makes the chain usable as cache key material.
//
// The precedence order is fixed: coordinate crop, resize, overlays,
// ratio crop or constrain, text, quality, extent, shift-splice or splice,
// post-crop, reflection, normalize, equalize, contrast-stretch,
// brightness-contrast, format and dither, blur.
func Build(p Params, opts Options) *magick.Chain {
	chain := magick.NewChain()
	logger := opts.logger()

	// Explicit coordinate crop always runs before any resize.
	if p.CropCoords != nil {
		chain.Crop(p.CropCoords.W, p.CropCoords.H, p.CropCoords.X, p.CropCoords.Y, "NorthWest", false)
	}

	if p.Size != nil {
		w, h := p.Size.W, p.Size.H
		chain.Resize(w, h, p.MaintainRatio, p.Crop, false)

		// Overlays apply to the resized canvas, before cropping.
		if opts.ImageDir != "" {
			for _, name := range p.OverlayImages {
				imgPath := filepath.Join(opts.ImageDir, name)
				if _, err := os.Stat(imgPath); err != nil {
					logger.Warn("requested overlay image does not exist", "path", imgPath)
					continue
				}
				chain.OverlayWithResize(0, 0, w, h, "Center", imgPath, false)
			}
		}

		if p.MaintainRatio && p.Crop {
			// Reset the canvas origin around the crop.
			chain.Repage()
			chain.Crop(w, h, 0, 0, magick.Gravity(p.CropAnchor), false)
			chain.Repage()
		} else if p.Reflection == nil && !p.Extent {
			chain.Constrain(w, h, false)
		}

		for _, t := range p.Texts {
			if style := opts.styles().Resolve(t.Style); style != nil {
				chain.Annotate(t.Text, *style, opts.FontDir)
			}
		}
	}

	if p.Quality != nil {
		chain.Quality(*p.Quality, false)
	}

	// An extent_shift reduces the extent by the shift magnitude and later
	// splices the difference back in on the side the sign selects.
	shiftAlign := ""
	if p.Extent && p.ExtentSize != nil {
		w, h := p.ExtentSize.W, p.ExtentSize.H
		if p.ExtentShift != nil {
			w -= abs(p.ExtentShift.Left)
			h -= abs(p.ExtentShift.Top)

			if p.ExtentShift.Top >= 0 {
				shiftAlign = "top"
			} else {
				shiftAlign = "bottom"
			}
			if p.ExtentShift.Left >= 0 {
				shiftAlign += "left"
			} else {
				shiftAlign += "right"
			}
		}

		chain.Repage()
		chain.Extent(w, h, magick.Gravity(p.ExtentAnchor), p.ExtentBackground, p.ExtentCompose, false)
		chain.Repage()
	}

	// A shift-splice and an ordinary splice are mutually exclusive; shift
	// wins when both are requested.
	if p.ExtentShift != nil && shiftAlign != "" {
		chain.Repage()
		chain.Splice(p.ExtentShift.Left, p.ExtentShift.Top, magick.Gravity(shiftAlign), p.ExtentBackground, p.ExtentCompose, false)
		chain.Repage()
	} else if p.Splice && p.SpliceSize != nil {
		chain.Repage()
		chain.Splice(p.SpliceSize.W, p.SpliceSize.H, magick.Gravity(p.SpliceAnchor), p.SpliceBackground, p.SpliceCompose, false)
		chain.Repage()
	}

	if p.PostCropSize != nil {
		chain.Repage()
		chain.Crop(p.PostCropSize.W, p.PostCropSize.H, 0, 0, magick.Gravity(p.PostCropAnchor), false)
		chain.Repage()
	}

	if p.Reflection != nil {
		chain.Reflect(p.Reflection.Height, p.Reflection.AlphaTop, p.Reflection.AlphaBottom, false)
	}

	if p.Normalize {
		chain.Normalize(false)
	}
	if p.Equalize {
		chain.Equalize(false)
	}
	if p.ContrastStretch != nil {
		chain.ContrastStretch(p.ContrastStretch.W, p.ContrastStretch.H, false)
	}
	if p.BrightnessContrast != nil {
		chain.BrightnessContrast(p.BrightnessContrast.W, p.BrightnessContrast.H, false)
	}

	chain.SetFormat(magick.JPEG)
	if len(p.Format) >= 3 && p.Format[:3] == "png" {
		chain.SetFormat(magick.PNG)
		if p.Format == "png16" {
			chain.RGB555Dither(opts.DitherColormap)
		}
	} else {
		// Force a standard colorspace up front so non-PNG output does
		// not pick up banding from an exotic input colorspace.
		chain.PrependRawArgs("-colorspace", "sRGB")
	}

	if p.Blur != nil {
		chain.Blur(p.Blur.Radius, p.Blur.Sigma, p.Blur.Prepend)
	}

	return chain
}
