package image

import (
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writePNG(t *testing.T, path string, w, h int, c color.RGBA) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, img))
}

func TestIsSupported(t *testing.T) {
	assert.True(t, IsSupported("1__M_Left_index_finger.BMP"))
	assert.True(t, IsSupported("a.TiFF"))
	assert.True(t, IsSupported("x.jpeg"))
	assert.False(t, IsSupported("notes.txt"))
	assert.False(t, IsSupported("noext"))
}

func TestLoadDecodesBGR(t *testing.T) {
	path := filepath.Join(t.TempDir(), "red.png")
	writePNG(t, path, 6, 4, color.RGBA{R: 200, G: 10, B: 30, A: 255})

	mat, err := Load(path)
	require.NoError(t, err)
	defer mat.Close()

	assert.Equal(t, 4, mat.Rows())
	assert.Equal(t, 6, mat.Cols())
	assert.Equal(t, 3, mat.Channels())
	assert.Equal(t, uint8(30), mat.GetUCharAt(0, 0))
	assert.Equal(t, uint8(200), mat.GetUCharAt(0, 2))
}

func TestLoadMissingFile(t *testing.T) {
	mat, err := Load(filepath.Join(t.TempDir(), "missing.png"))
	defer mat.Close()
	assert.Error(t, err)
}

func TestImageMatRoundTrip(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 3, 2))
	src.Set(1, 1, color.RGBA{R: 1, G: 2, B: 3, A: 255})

	mat := ImageToMat(src)
	defer mat.Close()
	back := MatToImage(mat)
	assert.Equal(t, color.RGBA{R: 1, G: 2, B: 3, A: 255}, back.RGBAAt(1, 1))
}

func TestCacheServesResizedCopies(t *testing.T) {
	path := filepath.Join(t.TempDir(), "g.png")
	writePNG(t, path, 40, 30, color.RGBA{G: 128, A: 255})

	cache, err := NewCache(4)
	require.NoError(t, err)

	first, err := cache.LoadResized(path, 16)
	require.NoError(t, err)
	defer first.Close()
	assert.Equal(t, 1, cache.Len())

	second, err := cache.LoadResized(path, 16)
	require.NoError(t, err)
	defer second.Close()
	assert.Equal(t, 16, second.Rows())
	assert.Equal(t, first.ToBytes(), second.ToBytes())
}

func TestNilCacheStillLoads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "b.png")
	writePNG(t, path, 10, 10, color.RGBA{B: 255, A: 255})

	cache, err := NewCache(0)
	require.NoError(t, err)
	require.Nil(t, cache)

	mat, err := cache.LoadResized(path, 8)
	require.NoError(t, err)
	defer mat.Close()
	assert.Equal(t, 8, mat.Cols())
	assert.Equal(t, 0, cache.Len())
}
