package main

import (
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/bmp"
)

func TestWriteBMP(t *testing.T) {
	path := filepath.Join(t.TempDir(), "1__M_Left_thumb_finger.BMP")
	require.NoError(t, writeBMP(path, ridges(24, 0, rand.New(rand.NewSource(1)))))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	img, err := bmp.Decode(f)
	require.NoError(t, err)
	assert.Equal(t, 24, img.Bounds().Dx())
}

func TestWriteBMPWrapsCreateError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing", "x.BMP")
	err := writeBMP(path, ridges(8, 1, rand.New(rand.NewSource(1))))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to create")
	assert.True(t, os.IsNotExist(errors.Cause(err)))
}
