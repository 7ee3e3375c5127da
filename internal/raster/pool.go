package raster

import (
	"image"
	"sync"
)

// maxPooledBytes caps the buffers kept for reuse (64 MiB, a 4096×4096 raster).
// Larger rasters are left to the GC.
const maxPooledBytes = 64 << 20

// bufPool holds *[]byte pixel buffers of any size. A buffer is reused by any
// raster that fits in its capacity, so the pool does not grow with the
// number of distinct image sizes.
var bufPool sync.Pool

// Get returns a zeroed *image.NRGBA with Rect (0,0)-(w,h), backed by a
// pooled buffer when one is large enough.
func Get(w, h int) *image.NRGBA {
	n := 4 * w * h
	var pix []byte
	if v, ok := bufPool.Get().(*[]byte); ok {
		if cap(*v) >= n {
			pix = (*v)[:n]
			clear(pix)
		} else {
			bufPool.Put(v)
		}
	}
	if pix == nil {
		pix = make([]byte, n)
	}
	return &image.NRGBA{Pix: pix, Stride: 4 * w, Rect: image.Rect(0, 0, w, h)}
}

// Put hands the pixel buffer of a raster obtained from Get back for reuse.
// img must not be used afterwards. Nil images are ignored.
func Put(img *image.NRGBA) {
	if img == nil || cap(img.Pix) == 0 || cap(img.Pix) > maxPooledBytes {
		return
	}
	pix := img.Pix[:0]
	img.Pix = nil
	bufPool.Put(&pix)
}
