// Package source supplies camera frames to the decision loop.
//
// A Source delivers frames through a callback, strictly one at a time:
// the next frame is not delivered until the callback returns. Frames
// that arrive while the callback is busy are dropped, never queued, so
// a slow effect (disk write, notification) delays processing instead of
// building a backlog.
package source

import (
	"context"
	"image"
	"time"

	"golang.org/x/image/draw"
)

// Frame is one camera frame as delivered to the decision loop.
type Frame struct {
	// Processed is the frame scaled to the model input size.
	Processed image.Image
	// Full is the full-resolution frame, used for persistence.
	Full image.Image
	// Seq is the monotonic sequence number.
	Seq uint64
	// Timestamp is when the frame was captured/decoded.
	Timestamp time.Time
	// TraceID correlates a frame across log records.
	TraceID string
}

// Callback handles one frame. It owns the frame for the duration of the
// call; the source will not deliver another frame until it returns.
type Callback func(Frame)

// Source delivers frames serially to a callback until the context is
// cancelled or the source is exhausted.
type Source interface {
	Run(ctx context.Context, cb Callback) error
}

// scaleRGBA returns img scaled to exactly w x h.
func scaleRGBA(img image.Image, w, h int) image.Image {
	b := img.Bounds()
	if b.Dx() == w && b.Dy() == h {
		return img
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, b, draw.Over, nil)
	return dst
}
