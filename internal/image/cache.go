package image

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"
	"gocv.io/x/gocv"
)

// Cache keeps decoded images, already resized, as packed BGR bytes keyed by
// path and size. It is safe for concurrent use. A nil *Cache disables caching.
type Cache struct {
	lru *lru.Cache
}

// NewCache creates a cache holding up to size images. size <= 0 returns nil.
func NewCache(size int) (*Cache, error) {
	if size <= 0 {
		return nil, nil
	}
	c, err := lru.New(size)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create image cache")
	}
	return &Cache{lru: c}, nil
}

func cacheKey(path string, size int) string {
	return fmt.Sprintf("%s@%d", path, size)
}

// LoadResized returns the image at path resized to size×size as a BGR Mat
// owned by the caller, decoding it only on a cache miss.
func (c *Cache) LoadResized(path string, size int) (gocv.Mat, error) {
	if c != nil {
		if v, ok := c.lru.Get(cacheKey(path, size)); ok {
			return FromBGR(v.([]byte), size, size)
		}
	}

	src, err := Load(path)
	if err != nil {
		return src, err
	}
	defer src.Close()

	resized := Resize(src, size)
	if c != nil {
		c.lru.Add(cacheKey(path, size), resized.ToBytes())
	}
	return resized, nil
}

// Len returns the number of cached images.
func (c *Cache) Len() int {
	if c == nil {
		return 0
	}
	return c.lru.Len()
}
