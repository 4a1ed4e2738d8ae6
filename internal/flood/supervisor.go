package flood

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/technosupport/ts-vms/internal/frameio"
	"github.com/technosupport/ts-vms/internal/recorder"
)

// StartRequest is the decoded "start" record a client must send first
// (spec §4.1).
type StartRequest struct {
	VideoURL    string         `json:"video_url"`
	URL         string         `json:"url"`
	CameraID    string         `json:"camera_id"`
	CameraName  string         `json:"camera_name"`
	Location    string         `json:"location"`
	SourceType  string         `json:"source_type"`
	SaveToDB    bool           `json:"save_to_db"`
	RecordVideo *bool          `json:"record_video"`
	Params      map[string]any `json:"params"`
}

func (r StartRequest) url() string {
	if r.VideoURL != "" {
		return r.VideoURL
	}
	return r.URL
}

// Config is the process-wide configuration the supervisor needs to resolve
// and run a session.
type Config struct {
	VideoRoot  string
	RecordRoot string
}

// Deps are the per-session collaborators the supervisor wires together.
// Persist is nil-able: a nil Persist is legal, save_to_db simply can't be
// honoured.
type Deps struct {
	Persist Persister
	Infer   Inferer
}

// Supervisor runs client sessions; each Run call drives one client
// connection's session from the start record through a terminal status
// (spec §4.1, §4.6, §5).
type Supervisor struct {
	cfg  Config
	deps Deps
}

func NewSupervisor(cfg Config, deps Deps) *Supervisor {
	return &Supervisor{cfg: cfg, deps: deps}
}

// Run drives one session. inbox/outbox are the raw JSON channels the
// transport layer (e.g. the websocket handler) bridges to the network.
// The first message read from inbox must be the start record; Run returns
// once the session reaches a terminal status. A done or error session has
// sent its final eof or error record to outbox; a stopped session sends no
// final record.
func (sv *Supervisor) Run(ctx context.Context, inbox <-chan []byte, outbox chan<- []byte) {
	startRaw, ok := <-inbox
	if !ok {
		return
	}

	var req StartRequest
	if err := json.Unmarshal(startRaw, &req); err != nil {
		sendErr(ctx, outbox, "malformed start record")
		return
	}
	if req.url() == "" {
		sendErr(ctx, outbox, "video_url is required")
		return
	}

	sess := &Session{
		ID:         uuid.NewString(),
		CameraID:   req.CameraID,
		CameraName: req.CameraName,
		Location:   req.Location,
		SourceType: SourceType(req.SourceType),
		SourceURL:  req.url(),
		StartedAt:  time.Now().UTC(),
		Status:     StatusRunning,
	}
	if sess.SourceType == "" {
		sess.SourceType = SourceVideo
	}
	sess.ResolvedSource = MapSourceURL(sv.cfg.VideoRoot, sess.SourceURL)
	isHLS := sess.SourceType == SourceHLS || IsHLS(sess.ResolvedSource)
	if isHLS {
		sess.SourceType = SourceHLS
	}

	params := DefaultParams()
	if len(req.Params) > 0 {
		store := NewParamStore(params)
		store.Update(req.Params)
		params = store.Snapshot()
	}
	paramStore := NewParamStore(params)

	recordVideo := sess.SourceType == SourceHLS || sess.SourceType == SourceMJPEG
	if req.RecordVideo != nil {
		recordVideo = *req.RecordVideo
	}

	metricSessionsTotal.WithLabelValues(string(sess.SourceType)).Inc()
	metricSessionsActive.Inc()
	defer metricSessionsActive.Dec()

	if req.SaveToDB && sv.deps.Persist != nil {
		if createID, err := sv.createSession(ctx, sess, paramStore.Snapshot()); err != nil {
			log.Printf("flood: session %s: create_session failed: %v", sess.ID, err)
			sendErr(ctx, outbox, "failed to initialise persistence")
		} else {
			sess.SessionID = createID
		}
	}
	_ = sendCtx(ctx, outbox, ServerMessage{Type: "session_created", SessionID: sess.SessionID})

	stopFlag := make(chan struct{})
	recvInbox := make(chan []byte, 16)
	recvOutbox := make(chan ServerMessage, 4)
	receiver := NewReceiverTask(paramStore, recvInbox, recvOutbox)

	go func() {
		receiver.Run()
		close(recvOutbox)
	}()
	go func() {
		defer close(recvInbox)
		for raw := range inbox {
			select {
			case recvInbox <- raw:
			case <-ctx.Done():
				return
			}
		}
	}()
	go func() {
		for msg := range recvOutbox {
			_ = sendCtx(ctx, outbox, msg)
		}
	}()
	go func() {
		<-receiver.Stopped()
		close(stopFlag)
	}()

	decoder, err := sv.openDecoder(ctx, sess, paramStore.Snapshot())
	if err != nil {
		log.Printf("flood: session %s: open source failed: %v", sess.ID, err)
		sendErr(ctx, outbox, fmt.Sprintf("failed to open source: %v", err))
		sv.finish(ctx, sess, StatusError)
		return
	}
	defer decoder.Close()

	var rec *recorder.Recorder
	if recordVideo {
		rec, err = recorder.Start(ctx, sv.cfg.RecordRoot, sess.CameraID, sess.ResolvedSource, sess.StartedAt, paramStore.Snapshot().FPS)
		if err != nil {
			log.Printf("flood: session %s: recorder start failed: %v", sess.ID, err)
			metricRecorderFailures.Inc()
			rec = nil
		}
	}

	loop := &PacingLoop{
		Session:  sess,
		Decoder:  decoder,
		Infer:    sv.deps.Infer,
		Params:   paramStore,
		Persist:  sv.persistForSession(sess),
		Send:     func(v any) error { return sendCtx(ctx, outbox, v) },
		StopFlag: stopFlag,
		IsHLS:    isHLS,
	}

	status := loop.Run(ctx)

	if rec != nil {
		if err := rec.Stop(); err != nil {
			log.Printf("flood: session %s: recorder stop: %v", sess.ID, err)
			metricRecorderFailures.Inc()
		} else if sess.SessionID != 0 && sv.deps.Persist != nil {
			relPath := recorderRelPath(sv.cfg.RecordRoot, rec.Path)
			if err := sv.updateRecordPath(ctx, sess.SessionID, relPath); err != nil {
				log.Printf("flood: session %s: update_record_path failed: %v", sess.ID, err)
			}
			sess.RecordPath = relPath
		}
	}

	sv.finish(ctx, sess, status)
	metricSessionEndTotal.WithLabelValues(string(status)).Inc()
}

func (sv *Supervisor) openDecoder(ctx context.Context, sess *Session, params Params) (frameio.Source, error) {
	if sess.SourceType == SourceHLS {
		return frameio.OpenSubprocess(ctx, sess.ResolvedSource, 640, 360, float64(params.FPS), "")
	}
	return frameio.OpenDirect(sess.ResolvedSource)
}

func (sv *Supervisor) createSession(ctx context.Context, sess *Session, params Params) (int64, error) {
	type creator interface {
		CreateSession(ctx context.Context, camID, camName, location, sourceType, sourceURL string, params Params) (int64, error)
	}
	c, ok := sv.deps.Persist.(creator)
	if !ok {
		return 0, errors.New("flood: persistence does not support create_session")
	}
	return c.CreateSession(ctx, sess.CameraID, sess.CameraName, sess.Location, string(sess.SourceType), sess.SourceURL, params)
}

func (sv *Supervisor) updateRecordPath(ctx context.Context, sessionID int64, path string) error {
	type updater interface {
		UpdateRecordPath(ctx context.Context, sessionID int64, path string) error
	}
	u, ok := sv.deps.Persist.(updater)
	if !ok {
		return nil
	}
	return u.UpdateRecordPath(ctx, sessionID, path)
}

func (sv *Supervisor) persistForSession(sess *Session) Persister {
	if sess.SessionID == 0 {
		return nil
	}
	return sv.deps.Persist
}

func (sv *Supervisor) finish(ctx context.Context, sess *Session, status Status) {
	sess.Status = status
	sess.EndedAt = time.Now().UTC()
	if sess.SessionID != 0 && sv.deps.Persist != nil {
		if err := sv.deps.Persist.FinishSession(ctx, sess.SessionID, status); err != nil {
			log.Printf("flood: session %s: finish_session failed: %v", sess.ID, err)
			metricPersistFailures.WithLabelValues("finish_session").Inc()
		}
	}
}

// recorderRelPath rewrites an absolute recorded-file path to be relative
// to recordRoot's parent directory (spec §4.7, §6), so a static file
// server rooted one level above recordRoot can serve it unchanged. Falls
// back to the absolute path if the rewrite can't be computed.
func recorderRelPath(recordRoot, absPath string) string {
	parent := filepath.Dir(filepath.Clean(recordRoot))
	rel, err := filepath.Rel(parent, absPath)
	if err != nil {
		return absPath
	}
	return rel
}

// sendErr delivers a one-shot error record. These occur before any tick
// traffic and on fatal teardown, so they block on outbox (bounded by ctx)
// rather than risk being silently dropped by a full buffer (spec §4.1, §7).
func sendErr(ctx context.Context, outbox chan<- []byte, msg string) {
	_ = sendCtx(ctx, outbox, ServerMessage{Type: "error", Error: msg})
}

// sendCtx marshals v and delivers it to outbox, but also unblocks (and
// reports failure) if ctx is cancelled — the transport's write goroutine
// cancels ctx the moment a real network write fails, so a stuck consumer
// never wedges the pacing loop (spec §4.1, §5 cancellation).
func sendCtx(ctx context.Context, outbox chan<- []byte, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	select {
	case outbox <- b:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
