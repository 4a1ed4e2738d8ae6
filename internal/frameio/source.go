// Package frameio implements the two FrameSource variants a Session may
// drive from: an in-process gocv.VideoCapture decoder for files and MJPEG
// streams, and an external subprocess decoder for HLS (spec §4.2).
package frameio

import (
	"context"

	"gocv.io/x/gocv"
)

// Frame is one decoded BGR image plus the position it came from. Img is
// owned by the caller once returned and must be Close()d after use.
type Frame struct {
	Img      gocv.Mat
	Index    int
	VideoSec float64
}

// Source is the common contract the pacing loop drives. NextFrame blocks
// until a frame is available, the source is exhausted, or ctx is done.
// ok is false from the call that discovers end-of-stream or a fatal read
// error onward; Err distinguishes the two.
type Source interface {
	NextFrame(ctx context.Context) (frame Frame, ok bool)
	// NominalFPS is the source's own declared frame rate, used by the
	// wall-clock pacing variant; when the source can't report one, the
	// direct decoder returns the last value probed for the same source, or
	// 30.0 if there is none (spec §4.2, §4.6).
	NominalFPS() float64
	Err() error
	Close() error
}
