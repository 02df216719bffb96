package transform

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func query(s string) url.Values {
	v, err := url.ParseQuery(s)
	if err != nil {
		panic(err)
	}
	return v
}

func TestParseSize(t *testing.T) {
	tests := []struct {
		in   string
		want *Size
	}{
		{"", nil},
		{"200x100", &Size{200, 100}},
		{"200.4x99.6", &Size{200, 100}}, // floats round to nearest
		{"200", nil},
		{"200x", nil},
		{"axb", nil},
		{"-5x10", &Size{-5, 10}},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, parseSize(tt.in), "size %q", tt.in)
	}
}

func TestParseQueryDefaults(t *testing.T) {
	p, err := ParseQuery(query(""))
	require.NoError(t, err)

	assert.Nil(t, p.Size)
	assert.False(t, p.Crop)
	assert.False(t, p.MaintainRatio)
	assert.Equal(t, "center", p.CropAnchor)
	assert.Equal(t, "center", p.ExtentAnchor)
	assert.Equal(t, "#00000000", p.ExtentBackground)
	assert.Equal(t, "over", p.ExtentCompose)
	assert.Nil(t, p.Reflection)
	assert.Nil(t, p.Quality)
	assert.Empty(t, p.Format)
}

func TestParseQueryFlagsRequireOne(t *testing.T) {
	p, err := ParseQuery(query("crop=1&maintain_ratio=2&normalize=yes&equalize=1"))
	require.NoError(t, err)

	assert.True(t, p.Crop)
	assert.False(t, p.MaintainRatio)
	assert.False(t, p.Normalize)
	assert.True(t, p.Equalize)
}

func TestParseQueryExtentSizeFallsBackToSize(t *testing.T) {
	p, err := ParseQuery(query("size=300x200&extent=1"))
	require.NoError(t, err)
	assert.Equal(t, &Size{300, 200}, p.ExtentSize)
	assert.Equal(t, &Size{300, 200}, p.SpliceSize)

	p, err = ParseQuery(query("size=300x200&extent_size=400x400"))
	require.NoError(t, err)
	assert.Equal(t, &Size{400, 400}, p.ExtentSize)
}

func TestParseQueryComposeRestricted(t *testing.T) {
	p, err := ParseQuery(query("extent_compose=subtract&splice_compose=multiply"))
	require.NoError(t, err)
	assert.Equal(t, "subtract", p.ExtentCompose)
	assert.Equal(t, "over", p.SpliceCompose) // unknown methods fall back
}

func TestParseQueryReflection(t *testing.T) {
	p, err := ParseQuery(query("reflection_height=60&reflection_alpha_top=1&reflection_alpha_bottom=0"))
	require.NoError(t, err)
	require.NotNil(t, p.Reflection)
	assert.Equal(t, 60, p.Reflection.Height)
	assert.Equal(t, 1.0, p.Reflection.AlphaTop)
	assert.Equal(t, 0.0, p.Reflection.AlphaBottom)
}

func TestParseQueryReflectionClampsAlpha(t *testing.T) {
	p, err := ParseQuery(query("reflection_height=60&reflection_alpha_top=3.5&reflection_alpha_bottom=-1"))
	require.NoError(t, err)
	require.NotNil(t, p.Reflection)
	assert.Equal(t, 1.0, p.Reflection.AlphaTop)
	assert.Equal(t, 0.0, p.Reflection.AlphaBottom)
}

func TestParseQueryReflectionInvalidDisables(t *testing.T) {
	// Malformed numbers silently disable the reflection, they are not an
	// error.
	for _, q := range []string{
		"reflection_height=abc",
		"reflection_height=60&reflection_alpha_top=abc",
		"reflection_height=60&reflection_alpha_bottom=abc",
	} {
		p, err := ParseQuery(query(q))
		require.NoError(t, err, q)
		assert.Nil(t, p.Reflection, q)
	}
}

func TestParseQueryOverlayList(t *testing.T) {
	p, err := ParseQuery(query("overlay_image=logo.png,badge.png"))
	require.NoError(t, err)
	assert.Equal(t, []string{"logo.png", "badge.png"}, p.OverlayImages)
}

func TestParseQueryOverlayRejectsPaths(t *testing.T) {
	for _, q := range []string{
		"overlay_image=../secret.png",
		"overlay_image=a/b.png",
		"overlay_image=/etc/passwd",
	} {
		_, err := ParseQuery(query(q))
		assert.Error(t, err, q)
	}
}

func TestParseQueryTexts(t *testing.T) {
	p, err := ParseQuery(query("text_0=hello&style_0=title&text_1=world&style_1=caption"))
	require.NoError(t, err)
	assert.Equal(t, []Text{{"hello", "title"}, {"world", "caption"}}, p.Texts)
}

func TestParseQueryTextsStopAtFirstIncompletePair(t *testing.T) {
	p, err := ParseQuery(query("text_0=hello&style_0=title&text_1=orphan&text_2=x&style_2=y"))
	require.NoError(t, err)
	assert.Equal(t, []Text{{"hello", "title"}}, p.Texts)
}

func TestParseQueryQualityBounds(t *testing.T) {
	p, err := ParseQuery(query("quality=85"))
	require.NoError(t, err)
	require.NotNil(t, p.Quality)
	assert.Equal(t, 85, *p.Quality)

	for _, q := range []string{"quality=-1", "quality=101", "quality=high"} {
		p, err := ParseQuery(query(q))
		require.NoError(t, err)
		assert.Nil(t, p.Quality, q)
	}
}

func TestParseQueryCropCoords(t *testing.T) {
	p, err := ParseQuery(query("crop_coords=5x10x100x50"))
	require.NoError(t, err)
	assert.Equal(t, &CropBox{X: 5, Y: 10, W: 100, H: 50}, p.CropCoords)

	p, err = ParseQuery(query("crop_coords=5x10x100"))
	require.NoError(t, err)
	assert.Nil(t, p.CropCoords)
}

func TestParseQueryBlur(t *testing.T) {
	p, err := ParseQuery(query("blur=2x1.5&blur_prepend=1"))
	require.NoError(t, err)
	require.NotNil(t, p.Blur)
	assert.Equal(t, 2.0, p.Blur.Radius)
	assert.Equal(t, 1.5, p.Blur.Sigma)
	assert.True(t, p.Blur.Prepend)
}

func TestParseQueryExtentShift(t *testing.T) {
	p, err := ParseQuery(query("extent_shift=10x-5"))
	require.NoError(t, err)
	assert.Equal(t, &Shift{Left: 10, Top: -5}, p.ExtentShift)
}
