package frameio

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"sync"

	"gocv.io/x/gocv"
)

// subprocessSource decodes HLS sources by shelling out to ffmpeg, which
// handles segment fetch/demux/decode far more robustly than gocv's own HLS
// support, and streams back fixed-size raw BGR24 frame packets on stdout
// (spec §4.2). A short read or EOF on stdout is treated as stream end.
type subprocessSource struct {
	cmd    *exec.Cmd
	stdout *bufio.Reader
	logf   *os.File

	width, height int
	frameSize     int
	fps           float64

	mu     sync.Mutex
	idx    int
	err    error
	closed bool
}

// OpenSubprocess spawns an ffmpeg decoder against resolved (an HLS
// playlist URL), decoding to raw BGR24 frames at width x height and the
// given fps. logDir, if non-empty, receives the decoder's stderr for
// post-mortem debugging the way the recorder subprocess does.
func OpenSubprocess(ctx context.Context, resolved string, width, height int, fps float64, logDir string) (Source, error) {
	if width <= 0 {
		width = 1280
	}
	if height <= 0 {
		height = 720
	}
	if fps <= 0 {
		fps = 30.0
	}

	args := []string{
		"-loglevel", "error",
		"-i", resolved,
		"-f", "rawvideo",
		"-pix_fmt", "bgr24",
		"-vf", fmt.Sprintf("scale=%d:%d,fps=%g", width, height, fps),
		"pipe:1",
	}
	cmd := exec.CommandContext(ctx, "ffmpeg", args...)

	var logf *os.File
	if logDir != "" {
		if err := os.MkdirAll(logDir, 0755); err == nil {
			logf, _ = os.Create(filepath.Join(logDir, "decoder.log"))
		}
	}
	if logf != nil {
		cmd.Stderr = logf
	} else {
		cmd.Stderr = io.Discard
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("frameio: stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("frameio: start decoder: %w", err)
	}

	return &subprocessSource{
		cmd:       cmd,
		stdout:    bufio.NewReaderSize(stdout, 1<<20),
		logf:      logf,
		width:     width,
		height:    height,
		frameSize: width * height * 3,
		fps:       fps,
	}, nil
}

func (s *subprocessSource) NextFrame(ctx context.Context) (Frame, bool) {
	buf := make([]byte, s.frameSize)
	n, err := io.ReadFull(s.stdout, buf)
	if n < s.frameSize {
		s.mu.Lock()
		if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
			s.err = fmt.Errorf("frameio: decoder read: %w", err)
		}
		s.mu.Unlock()
		return Frame{}, false
	}

	mat, matErr := gocv.NewMatFromBytes(s.height, s.width, gocv.MatTypeCV8UC3, buf)
	if matErr != nil {
		s.mu.Lock()
		s.err = fmt.Errorf("frameio: decode frame: %w", matErr)
		s.mu.Unlock()
		return Frame{}, false
	}

	s.mu.Lock()
	idx := s.idx
	s.idx++
	s.mu.Unlock()

	videoSec := 0.0
	if s.fps > 0 {
		videoSec = float64(idx) / s.fps
	}
	return Frame{Img: mat, Index: idx, VideoSec: videoSec}, true
}

func (s *subprocessSource) NominalFPS() float64 {
	return s.fps
}

func (s *subprocessSource) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *subprocessSource) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	if s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
	}
	err := s.cmd.Wait()
	if s.logf != nil {
		s.logf.Close()
	}
	if err != nil {
		log.Printf("frameio: decoder exited: %v", err)
	}
	return nil
}
