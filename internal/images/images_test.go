package images

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newProcessor(t *testing.T) *Processor {
	t.Helper()
	p, err := New(Config{ScratchDir: t.TempDir()}, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { p.Close() })
	return p
}

func encodeJPEG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	return buf.Bytes()
}

func serveBytes(t *testing.T, data []byte) string {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(data)
	}))
	t.Cleanup(ts.Close)
	return ts.URL
}

func TestSquareCrop_LandscapeCropsSymmetrically(t *testing.T) {
	src := imaging.New(800, 600, color.NRGBA{R: 10, G: 20, B: 30, A: 255})
	out := SquareCrop(src)

	bounds := out.Bounds()
	assert.Equal(t, 600, bounds.Dx())
	assert.Equal(t, 600, bounds.Dy())
}

func TestSquareCrop_PortraitKeepsTop(t *testing.T) {
	src := imaging.New(300, 500, color.NRGBA{A: 255})
	// Top-left pixel red, bottom strip green; the bottom must be discarded.
	src.Set(0, 0, color.NRGBA{R: 255, A: 255})
	src.Set(0, 499, color.NRGBA{G: 255, A: 255})

	out := SquareCrop(src)
	bounds := out.Bounds()
	require.Equal(t, 300, bounds.Dx())
	require.Equal(t, 300, bounds.Dy())

	r, _, _, _ := out.At(0, 0).RGBA()
	assert.NotZero(t, r)
}

func TestSquareCrop_SquareUntouched(t *testing.T) {
	src := imaging.New(200, 200, color.NRGBA{A: 255})
	out := SquareCrop(src)
	assert.Equal(t, 200, out.Bounds().Dx())
	assert.Equal(t, 200, out.Bounds().Dy())
}

func TestThumbnail_LandscapeCroppedAndScaled(t *testing.T) {
	p := newProcessor(t)
	url := serveBytes(t, encodeJPEG(t, imaging.New(800, 600, color.NRGBA{R: 40, A: 255})))

	local, err := p.Thumbnail(context.Background(), url, "big.jpg")
	require.NoError(t, err)

	out, err := imaging.Open(local)
	require.NoError(t, err)
	assert.Equal(t, 400, out.Bounds().Dx())
	assert.Equal(t, 400, out.Bounds().Dy())
}

func TestThumbnail_SmallImageNeverUpscaled(t *testing.T) {
	p := newProcessor(t)
	url := serveBytes(t, encodeJPEG(t, imaging.New(300, 200, color.NRGBA{R: 40, A: 255})))

	local, err := p.Thumbnail(context.Background(), url, "small.jpg")
	require.NoError(t, err)

	out, err := imaging.Open(local)
	require.NoError(t, err)
	assert.Equal(t, 200, out.Bounds().Dx())
	assert.Equal(t, 200, out.Bounds().Dy())
}

func TestThumbnail_MixedDimensionsNotScaled(t *testing.T) {
	// Only one dimension exceeds the box: crop, but no downscale.
	p := newProcessor(t)
	url := serveBytes(t, encodeJPEG(t, imaging.New(800, 300, color.NRGBA{R: 40, A: 255})))

	local, err := p.Thumbnail(context.Background(), url, "wide.jpg")
	require.NoError(t, err)

	out, err := imaging.Open(local)
	require.NoError(t, err)
	assert.Equal(t, 300, out.Bounds().Dx())
	assert.Equal(t, 300, out.Bounds().Dy())
}

func TestThumbnail_UndecodableBytes(t *testing.T) {
	p := newProcessor(t)
	url := serveBytes(t, []byte("definitely not an image"))

	_, err := p.Thumbnail(context.Background(), url, "junk.jpg")
	require.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestFetch_WritesToScratch(t *testing.T) {
	p := newProcessor(t)
	url := serveBytes(t, []byte("payload"))

	local, err := p.Fetch(context.Background(), url, "file.bin")
	require.NoError(t, err)

	data, err := os.ReadFile(local)
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), data)
}

func TestIsPDF(t *testing.T) {
	assert.True(t, IsPDF("contract.pdf"))
	assert.True(t, IsPDF("contract.PDF"))
	assert.False(t, IsPDF("photo.jpg"))
	assert.False(t, IsPDF("noext"))
}
