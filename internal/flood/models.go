// Package flood implements the real-time urban-flood monitoring stream
// pipeline: one Session per connected client, driving frame ingestion,
// dual-model inference, and tick delivery over a full-duplex channel.
package flood

import "time"

// Status is the terminal lifecycle state of a Session. It is monotonic once
// it leaves StatusRunning.
type Status string

const (
	StatusRunning Status = "running"
	StatusDone    Status = "done"
	StatusStopped Status = "stopped"
	StatusError   Status = "error"
)

// SourceType identifies how a Session's video should be opened and paced.
type SourceType string

const (
	SourceVideo SourceType = "video"
	SourceLive  SourceType = "live"
	SourceHLS   SourceType = "hls"
	SourceMJPEG SourceType = "mjpeg"
)

// Params are the tunable inference/pacing knobs for a Session. A single
// tick's inference call always observes a consistent snapshot — see
// ParamStore.
type Params struct {
	FPS           int     `json:"fps"`
	ConfWater     float64 `json:"conf_water"`
	IOUWater      float64 `json:"iou_water"`
	ConfRisk      float64 `json:"conf_risk"`
	IOURisk       float64 `json:"iou_risk"`
	SendMaskEvery int     `json:"send_mask_every"`
	ImgszWater    int     `json:"imgsz_water"`
	ImgszRisk     int     `json:"imgsz_risk"`
}

// DefaultParams mirrors the original service's WS start defaults.
func DefaultParams() Params {
	return Params{
		FPS:           10,
		ConfWater:     0.25,
		IOUWater:      0.45,
		ConfRisk:      0.25,
		IOURisk:       0.45,
		SendMaskEvery: 1,
		ImgszWater:    640,
		ImgszRisk:     640,
	}
}

// Clip clamps every field to its permitted range (spec §3).
func (p Params) Clip() Params {
	p.FPS = clampInt(p.FPS, 1, 30)
	p.ConfWater = clampFloat(p.ConfWater, 0, 1)
	p.IOUWater = clampFloat(p.IOUWater, 0, 1)
	p.ConfRisk = clampFloat(p.ConfRisk, 0, 1)
	p.IOURisk = clampFloat(p.IOURisk, 0, 1)
	if p.SendMaskEvery < 0 {
		p.SendMaskEvery = 0
	}
	if p.ImgszWater < 64 {
		p.ImgszWater = 64
	}
	if p.ImgszRisk < 64 {
		p.ImgszRisk = 64
	}
	return p
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// allowedParamKeys whitelists the set_params fields a client may update.
var allowedParamKeys = map[string]bool{
	"fps": true, "conf_water": true, "iou_water": true,
	"conf_risk": true, "iou_risk": true, "send_mask_every": true,
	"imgsz_water": true, "imgsz_risk": true,
}

// Polygon is one connected water region: an outer ring plus any enclosed
// non-water holes, all in normalised [0,1] image coordinates.
type Polygon struct {
	Outer [][2]float64   `json:"outer"`
	Holes [][][2]float64 `json:"holes"`
}

// Classification is the optional top-1 classification head of the risk model.
type Classification struct {
	Label string  `json:"label"`
	Score float64 `json:"score"`
	Level int     `json:"level"`
}

// DetectionSet is the optional detection head of the risk model.
type DetectionSet struct {
	Levels    []int        `json:"levels"`
	LevelMax  int          `json:"level_max"`
	BoxesNorm [][5]float64 `json:"boxes_norm"` // [x1, y1, x2, y2, level]
}

// RiskResult composes whichever of the two risk-model heads produced output.
type RiskResult struct {
	Cls *Classification `json:"cls,omitempty"`
	Det *DetectionSet   `json:"det,omitempty"`
}

// ObjectDetection is a raw per-instance detection from the water model,
// declared alongside the derived polygons for parity with the upstream
// service's contract. inference.Stage does not populate it, so
// WaterResult.Objects is always empty and omitted from the tick record.
type ObjectDetection struct {
	Label      string     `json:"label"`
	Confidence float64    `json:"confidence"`
	Box        [4]float64 `json:"box"` // x1,y1,x2,y2 normalised
}

// WaterResult is the water-segmentation model's per-tick payload.
type WaterResult struct {
	Objects    []ObjectDetection `json:"objects,omitempty"`
	ImageW     int               `json:"image_w"`
	ImageH     int               `json:"image_h"`
	Polygons   []Polygon         `json:"polygons"`
	MaskPNGB64 string            `json:"mask_png_b64,omitempty"`
}

// TickResult is the inference output for a single sampled frame.
type TickResult struct {
	TickIdx  int         `json:"tick_idx"`
	TSMs     int64       `json:"ts"`
	VideoSec float64     `json:"-"`
	Pct      float64     `json:"pct"`
	Level    int         `json:"level"`
	Water    WaterResult `json:"water"`
	Risk     RiskResult  `json:"risk"`
}

// Session is the live context of one streaming client, from the start
// record through a terminal Status.
type Session struct {
	// ID is the in-memory handle; SessionID is the persisted row id, 0 if
	// save_to_db was not requested.
	ID        string
	SessionID int64

	CameraID       string
	CameraName     string
	Location       string
	SourceType     SourceType
	SourceURL      string // as given by the client
	ResolvedSource string // what the decoder actually opens

	StartedAt time.Time
	EndedAt   time.Time
	Status    Status

	RecordPath string // relative to the configured record root's parent
}
