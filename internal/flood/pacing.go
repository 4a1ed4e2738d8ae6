package flood

import (
	"context"
	"log"
	"time"

	"gocv.io/x/gocv"

	"github.com/technosupport/ts-vms/internal/frameio"
)

// Decoder is the frame source the pacing loop drives: either variant of
// frameio.Source.
type Decoder = frameio.Source

// Inferer is the subset of inference.Stage the pacing loop drives.
type Inferer interface {
	Infer(frame gocv.Mat, params Params, needMask bool) (TickResult, error)
}

// Persister is the subset of the flood persistence repository the pacing
// loop uses; a nil Persister means save_to_db was false for this session.
type Persister interface {
	SaveTick(ctx context.Context, sessionID int64, r TickResult) error
	FinishSession(ctx context.Context, sessionID int64, status Status) error
}

// Sender delivers one outbound frame to the client. A non-nil error is
// treated as a fatal send failure (spec §4.6 step 5).
type Sender func(v any) error

// PacingLoop drives one Session end to end: frame acquisition, inference,
// mask-cache gating, persistence, and outbound delivery, until stop_flag,
// EOF, or a fatal error.
type PacingLoop struct {
	Session   *Session
	Decoder   Decoder
	Infer     Inferer
	Params    *ParamStore
	Persist   Persister // nil if save_to_db is false
	Send      Sender
	StopFlag  <-chan struct{}
	IsHLS     bool

	tickIdx     int
	cachedMask  string
	startedWall time.Time
	stats       pacingStats
}

// pacingStats keeps an exponential moving average of the three latencies
// that bound achievable fps: frame read, dual-model inference, and
// outbound send. Logged as a one-line summary every fps ticks and mirrored
// into prometheus histograms on every tick (SPEC_FULL §3.1).
type pacingStats struct {
	emaRead, emaInfer, emaSend float64
	seeded                     bool
}

const statsEMAAlpha = 0.2

func (s *pacingStats) observe(readMs, inferMs, sendMs float64) {
	if !s.seeded {
		s.emaRead, s.emaInfer, s.emaSend = readMs, inferMs, sendMs
		s.seeded = true
		return
	}
	s.emaRead = ema(s.emaRead, readMs)
	s.emaInfer = ema(s.emaInfer, inferMs)
	s.emaSend = ema(s.emaSend, sendMs)
}

func ema(prev, sample float64) float64 {
	return statsEMAAlpha*sample + (1-statsEMAAlpha)*prev
}

// Run executes the loop to completion and returns the terminal status it
// reached. Teardown (closing the decoder, finishing the persisted session)
// is the caller's responsibility so it can be sequenced alongside recorder
// and receiver teardown per spec §5's cancellation steps.
func (p *PacingLoop) Run(ctx context.Context) Status {
	p.startedWall = time.Now()
	sourceFPS := p.Decoder.NominalFPS()

	var nextWall time.Time
	var tickPeriod time.Duration
	var framesPerTick int
	if !p.IsHLS {
		fps := p.Params.Snapshot().FPS
		tickPeriod = time.Duration(float64(time.Second) / float64(max1(fps)))
		framesPerTick = maxInt(1, roundInt(sourceFPS/float64(max1(fps))))
		nextWall = time.Now()
	}

	for {
		select {
		case <-p.StopFlag:
			return StatusStopped
		case <-ctx.Done():
			return StatusStopped
		default:
		}

		if !p.IsHLS {
			sleepUntil(nextWall)
			for i := 0; i < framesPerTick-1; i++ {
				if skipped, ok := p.Decoder.NextFrame(ctx); !ok {
					return p.handleEOFOrError()
				} else {
					skipped.Img.Close()
				}
			}
		}

		readStart := time.Now()
		frame, ok := p.Decoder.NextFrame(ctx)
		if !ok {
			return p.handleEOFOrError()
		}
		readMs := time.Since(readStart).Seconds() * 1000
		metricReadLatency.Observe(readMs)

		status, fatal := p.runTick(ctx, frame.Img, frame.Index, frame.VideoSec, readMs)
		frame.Img.Close()
		if fatal {
			return status
		}

		if !p.IsHLS {
			nextWall = nextWall.Add(tickPeriod)
			if time.Since(nextWall) > tickPeriod {
				nextWall = time.Now()
			}
		}
	}
}

func (p *PacingLoop) runTick(ctx context.Context, img gocv.Mat, frameIdx int, videoSec float64, readMs float64) (Status, bool) {
	params := p.Params.Snapshot()

	needMask := params.SendMaskEvery > 0 && p.tickIdx%params.SendMaskEvery == 0
	computeMask := needMask || p.IsHLS // HLS keeps a warm cache per spec §4.6 step 2

	inferStart := time.Now()
	result, err := p.Infer.Infer(img, params, computeMask)
	inferMs := time.Since(inferStart).Seconds() * 1000
	metricInferLatency.Observe(inferMs)
	if err != nil {
		// Spec §7: an inference error on a single tick is logged and the
		// tick is skipped; repeated failures do not by themselves end the
		// session, so tick_idx is left unadvanced and the loop continues.
		log.Printf("flood: session %s: inference error, tick skipped: %v", p.Session.ID, err)
		metricInferenceFailures.Inc()
		return StatusRunning, false
	}

	result.TickIdx = p.tickIdx
	if p.IsHLS {
		elapsed := time.Since(p.startedWall)
		result.TSMs = elapsed.Milliseconds()
		videoSec = elapsed.Seconds()
	} else {
		result.TSMs = int64(videoSec * 1000)
	}
	result.VideoSec = videoSec
	_ = frameIdx

	p.applyMaskCache(&result, params)

	if p.Persist != nil && p.Session.SessionID != 0 {
		if err := p.Persist.SaveTick(ctx, p.Session.SessionID, result); err != nil {
			log.Printf("flood: session %s: persist tick failed: %v", p.Session.ID, err)
			metricPersistFailures.WithLabelValues("save_tick").Inc()
		}
	}

	sendStart := time.Now()
	if err := p.Send(map[string]any{"type": "tick", "tick": result}); err != nil {
		log.Printf("flood: session %s: send failed: %v", p.Session.ID, err)
		return StatusStopped, true
	}
	sendMs := time.Since(sendStart).Seconds() * 1000
	metricSendLatency.Observe(sendMs)

	p.stats.observe(readMs, inferMs, sendMs)
	p.tickIdx++
	metricTicksTotal.WithLabelValues(string(p.Session.SourceType)).Inc()

	fps := max1(params.FPS)
	if p.tickIdx%fps == 0 {
		log.Printf("flood: session %s: perf avg_read_ms=%.1f avg_infer_ms=%.1f avg_send_ms=%.1f",
			p.Session.ID, p.stats.emaRead, p.stats.emaInfer, p.stats.emaSend)
	}

	return StatusRunning, false
}

// applyMaskCache implements spec §4.6 step 4 exactly. HLS sessions compute a
// fresh mask on every tick to keep the cache warm (runTick's computeMask),
// so the gate has to be re-checked on the fresh-mask path too — otherwise
// every HLS tick would carry a mask regardless of send_mask_every.
func (p *PacingLoop) applyMaskCache(result *TickResult, params Params) {
	if params.SendMaskEvery == 0 {
		p.cachedMask = ""
		result.Water.MaskPNGB64 = ""
		return
	}

	gated := p.tickIdx%params.SendMaskEvery == 0

	if result.Water.MaskPNGB64 != "" {
		p.cachedMask = result.Water.MaskPNGB64
		if !gated {
			result.Water.MaskPNGB64 = ""
		}
		return
	}

	if gated && p.cachedMask != "" {
		result.Water.MaskPNGB64 = p.cachedMask
	}
}

func (p *PacingLoop) handleEOFOrError() Status {
	if err := p.Decoder.Err(); err != nil {
		log.Printf("flood: session %s: decoder error: %v", p.Session.ID, err)
		_ = p.Send(map[string]any{"type": "error", "error": err.Error()})
		return StatusError
	}
	_ = p.Send(map[string]any{"type": "eof"})
	return StatusDone
}

func sleepUntil(t time.Time) {
	d := time.Until(t)
	if d > 0 {
		time.Sleep(d)
	}
}

func max1(v int) int {
	if v < 1 {
		return 1
	}
	return v
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func roundInt(v float64) int {
	if v < 0 {
		return int(v - 0.5)
	}
	return int(v + 0.5)
}
