package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/technosupport/ts-vms/internal/flood"
)

// FloodSession is the persisted row for one flood-monitoring Session.
type FloodSession struct {
	ID         int64
	CameraID   string
	CameraName string
	Location   string
	SourceType string
	SourceURL  string
	Params     flood.Params
	Status     string
	StartedAt  time.Time
	EndedAt    sql.NullTime
	RecordPath sql.NullString
}

// FloodTick is the persisted row for one sampled tick.
type FloodTick struct {
	ID            int64
	SessionID     int64
	TSMs          int64
	VideoSec      float64
	WaterPercent  int
	RiskLevel     int
	MaskH, MaskW  int
	PolygonsJSON  string
	RiskBoxesJSON string
}

// FloodModel implements the Persistence operations of spec §4.7 on top of
// a raw-SQL session/tick schema, using the DBTX repository pattern.
type FloodModel struct {
	DB DBTX
}

// CreateSession inserts a new session row and returns its id.
func (m FloodModel) CreateSession(ctx context.Context, camID, camName, location, sourceType, sourceURL string, params flood.Params) (int64, error) {
	query := `
		INSERT INTO flood_session (
			camera_id, camera_name, location, source_type, source_url,
			fps, conf_water, iou_water, conf_risk, iou_risk,
			send_mask_every, imgsz_water, imgsz_risk, status, started_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
		RETURNING id`

	var id int64
	err := m.DB.QueryRowContext(ctx, query,
		camID, camName, location, sourceType, sourceURL,
		params.FPS, params.ConfWater, params.IOUWater, params.ConfRisk, params.IOURisk,
		params.SendMaskEvery, params.ImgszWater, params.ImgszRisk, string(flood.StatusRunning), time.Now().UTC(),
	).Scan(&id)
	if err != nil {
		return 0, err
	}
	return id, nil
}

// SaveTick inserts one tick row. Per spec §6, water_polys stores outer
// rings only (holes are a wire-only detail) and risk_boxes stores the
// flat [x1,y1,x2,y2,level] rows from the detection head, if any.
func (m FloodModel) SaveTick(ctx context.Context, sessionID int64, r flood.TickResult) error {
	outers := make([][][2]float64, 0, len(r.Water.Polygons))
	for _, p := range r.Water.Polygons {
		outers = append(outers, p.Outer)
	}
	polyJSON, err := json.Marshal(outers)
	if err != nil {
		return err
	}

	boxes := [][5]float64{}
	if r.Risk.Det != nil {
		boxes = r.Risk.Det.BoxesNorm
	}
	boxJSON, err := json.Marshal(boxes)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO flood_tick (
			session_id, ts_ms, video_sec, water_percent, risk_level,
			mask_h, mask_w, water_polys, risk_boxes
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`

	_, err = m.DB.ExecContext(ctx, query,
		sessionID, r.TSMs, r.VideoSec, int(r.Pct+0.5), r.Level,
		r.Water.ImageH, r.Water.ImageW, string(polyJSON), string(boxJSON),
	)
	return err
}

// FinishSession marks a session terminal.
func (m FloodModel) FinishSession(ctx context.Context, sessionID int64, status flood.Status) error {
	query := `UPDATE flood_session SET status = $1, ended_at = $2 WHERE id = $3`
	_, err := m.DB.ExecContext(ctx, query, string(status), time.Now().UTC(), sessionID)
	return err
}

// UpdateRecordPath is called before FinishSession when recording occurred.
// path is relative to the configured record root's parent.
func (m FloodModel) UpdateRecordPath(ctx context.Context, sessionID int64, path string) error {
	query := `UPDATE flood_session SET record_path = $1 WHERE id = $2`
	_, err := m.DB.ExecContext(ctx, query, path, sessionID)
	return err
}

// ListSessions supports out-of-core history browsing; it is never called
// from the pacing loop (spec §4.7).
func (m FloodModel) ListSessions(ctx context.Context, cameraID string, limit int) ([]FloodSession, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT id, camera_id, camera_name, location, source_type, source_url,
		       fps, conf_water, iou_water, conf_risk, iou_risk,
		       send_mask_every, imgsz_water, imgsz_risk,
		       status, started_at, ended_at, record_path
		FROM flood_session
		WHERE ($1 = '' OR camera_id = $1)
		ORDER BY started_at DESC
		LIMIT $2`

	rows, err := m.DB.QueryContext(ctx, query, cameraID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []FloodSession
	for rows.Next() {
		var s FloodSession
		if err := rows.Scan(
			&s.ID, &s.CameraID, &s.CameraName, &s.Location, &s.SourceType, &s.SourceURL,
			&s.Params.FPS, &s.Params.ConfWater, &s.Params.IOUWater, &s.Params.ConfRisk, &s.Params.IOURisk,
			&s.Params.SendMaskEvery, &s.Params.ImgszWater, &s.Params.ImgszRisk,
			&s.Status, &s.StartedAt, &s.EndedAt, &s.RecordPath,
		); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// ListTicks returns a session's ticks ordered by (video_sec, ts_ms).
func (m FloodModel) ListTicks(ctx context.Context, sessionID int64, limit int) ([]FloodTick, error) {
	if limit <= 0 {
		limit = 1000
	}
	query := `
		SELECT id, session_id, ts_ms, video_sec, water_percent, risk_level,
		       mask_h, mask_w, water_polys, risk_boxes
		FROM flood_tick
		WHERE session_id = $1
		ORDER BY video_sec ASC, ts_ms ASC
		LIMIT $2`

	rows, err := m.DB.QueryContext(ctx, query, sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []FloodTick
	for rows.Next() {
		var t FloodTick
		if err := rows.Scan(
			&t.ID, &t.SessionID, &t.TSMs, &t.VideoSec, &t.WaterPercent, &t.RiskLevel,
			&t.MaskH, &t.MaskW, &t.PolygonsJSON, &t.RiskBoxesJSON,
		); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// DeleteSession removes a session and its ticks (FK cascade is assumed;
// the explicit tick delete guards schemas without ON DELETE CASCADE).
func (m FloodModel) DeleteSession(ctx context.Context, sessionID int64) error {
	if _, err := m.DB.ExecContext(ctx, `DELETE FROM flood_tick WHERE session_id = $1`, sessionID); err != nil {
		return err
	}
	res, err := m.DB.ExecContext(ctx, `DELETE FROM flood_session WHERE id = $1`, sessionID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrRecordNotFound
	}
	return nil
}
