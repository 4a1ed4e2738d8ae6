package flood

import "sync/atomic"

// ParamStore holds a Session's current tunable parameters behind an atomic
// pointer so that Snapshot never observes a partially-applied Update:
// concurrent readers see either the full prior state or the full posterior
// state, never a mix (spec §4.5).
type ParamStore struct {
	current atomic.Pointer[Params]
}

// NewParamStore seeds the store with initial, clipped to the permitted
// ranges.
func NewParamStore(initial Params) *ParamStore {
	s := &ParamStore{}
	p := initial.Clip()
	s.current.Store(&p)
	return s
}

// Snapshot returns an atomic copy of the current params.
func (s *ParamStore) Snapshot() Params {
	return *s.current.Load()
}

// Update filters partial to the whitelist, parses and clips each accepted
// value against the prior snapshot, and atomically replaces the stored
// struct. It returns the keys that were recognised and applied.
func (s *ParamStore) Update(partial map[string]any) []string {
	prior := s.Snapshot()
	next := prior
	var updated []string

	for key := range allowedParamKeys {
		raw, ok := partial[key]
		if !ok {
			continue
		}
		if !applyParam(&next, key, raw) {
			continue
		}
		updated = append(updated, key)
	}

	next = next.Clip()
	s.current.Store(&next)
	return updated
}

// applyParam type-coerces raw (typically JSON-decoded float64/bool/string)
// into the matching field of p. Returns false if the value couldn't be
// coerced, in which case the key is treated as rejected, not applied.
func applyParam(p *Params, key string, raw any) bool {
	switch key {
	case "fps":
		v, ok := asInt(raw)
		if !ok {
			return false
		}
		p.FPS = v
	case "conf_water":
		v, ok := asFloat(raw)
		if !ok {
			return false
		}
		p.ConfWater = v
	case "iou_water":
		v, ok := asFloat(raw)
		if !ok {
			return false
		}
		p.IOUWater = v
	case "conf_risk":
		v, ok := asFloat(raw)
		if !ok {
			return false
		}
		p.ConfRisk = v
	case "iou_risk":
		v, ok := asFloat(raw)
		if !ok {
			return false
		}
		p.IOURisk = v
	case "send_mask_every":
		v, ok := asInt(raw)
		if !ok {
			return false
		}
		p.SendMaskEvery = v
	case "imgsz_water":
		v, ok := asInt(raw)
		if !ok {
			return false
		}
		p.ImgszWater = v
	case "imgsz_risk":
		v, ok := asInt(raw)
		if !ok {
			return false
		}
		p.ImgszRisk = v
	default:
		return false
	}
	return true
}

func asFloat(raw any) (float64, bool) {
	switch v := raw.(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	}
	return 0, false
}

func asInt(raw any) (int, bool) {
	switch v := raw.(type) {
	case float64:
		return int(v), true
	case int:
		return v, true
	}
	return 0, false
}
