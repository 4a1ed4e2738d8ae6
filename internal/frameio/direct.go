package frameio

import (
	"context"
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"gocv.io/x/gocv"
)

// fpsCache remembers the last positive nominal fps probed for recently
// opened sources. Every open still probes gocv.VideoCapture; the cached
// value is used only when that probe reports <= 0, before falling back to
// the 30fps default.
var fpsCache, _ = lru.New[string, float64](128)

// directSource decodes file and MJPEG sources in-process with
// gocv.VideoCapture, keeping a small internal read-ahead buffer so a slow
// consumer doesn't stall the OS-level capture pipeline (spec §4.2).
type directSource struct {
	cap *gocv.VideoCapture
	fps float64

	mu      sync.Mutex
	idx     int
	err     error
	closed  bool
	buf     chan Frame
	done    chan struct{}
	readErr chan error
}

const readAheadDepth = 4

// OpenDirect opens resolved (a local file path or an MJPEG http(s) URL)
// with gocv's own backend selection and starts the background reader.
func OpenDirect(resolved string) (Source, error) {
	cap, err := gocv.OpenVideoCapture(resolved)
	if err != nil {
		return nil, fmt.Errorf("frameio: open %q: %w", resolved, err)
	}

	fps := cap.Get(gocv.VideoCaptureFPS)
	if fps <= 0 {
		if cached, ok := fpsCache.Get(resolved); ok {
			fps = cached
		} else {
			fps = 30.0
		}
	} else {
		fpsCache.Add(resolved, fps)
	}

	s := &directSource{
		cap:     cap,
		fps:     fps,
		buf:     make(chan Frame, readAheadDepth),
		done:    make(chan struct{}),
		readErr: make(chan error, 1),
	}
	go s.readLoop()
	return s, nil
}

func (s *directSource) readLoop() {
	defer close(s.buf)
	idx := 0
	for {
		mat := gocv.NewMat()
		ok := s.cap.Read(&mat)
		if !ok || mat.Empty() {
			mat.Close()
			return
		}
		videoSec := 0.0
		if s.fps > 0 {
			videoSec = float64(idx) / s.fps
		}
		select {
		case s.buf <- Frame{Img: mat, Index: idx, VideoSec: videoSec}:
			idx++
		case <-s.done:
			mat.Close()
			return
		}
	}
}

func (s *directSource) NextFrame(ctx context.Context) (Frame, bool) {
	select {
	case f, ok := <-s.buf:
		return f, ok
	case <-ctx.Done():
		s.mu.Lock()
		s.err = ctx.Err()
		s.mu.Unlock()
		return Frame{}, false
	}
}

func (s *directSource) NominalFPS() float64 {
	return s.fps
}

func (s *directSource) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *directSource) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	close(s.done)
	for f := range s.buf {
		f.Img.Close()
	}
	s.cap.Close()
	return nil
}
