package flood

import (
	"path/filepath"
	"strings"
)

// MapSourceURL resolves a client-supplied video_url/url into the path or
// URL the FrameSource should actually open (spec §6):
//
//	(a) "/video/<x>" or "/videos/<x>"   -> <videoRoot>/<basename(x)>
//	(b) non-URL, non-absolute path      -> <videoRoot>/<basename(path)>
//	(c) http(s):// URL                   -> passed through unchanged
//	(d) absolute local path              -> passed through unchanged
func MapSourceURL(videoRoot, raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}

	if strings.HasPrefix(raw, "/video/") || strings.HasPrefix(raw, "/videos/") {
		return filepath.Join(videoRoot, filepath.Base(raw))
	}

	if !strings.HasPrefix(raw, "http://") && !strings.HasPrefix(raw, "https://") {
		if !filepath.IsAbs(raw) {
			return filepath.Join(videoRoot, filepath.Base(raw))
		}
		return raw
	}

	return raw
}

// IsHLS reports whether resolved should be decoded via the subprocess (HLS)
// FrameSource variant: an http(s) URL whose path contains ".m3u8",
// case-insensitively.
func IsHLS(resolved string) bool {
	lower := strings.ToLower(resolved)
	if !strings.HasPrefix(lower, "http://") && !strings.HasPrefix(lower, "https://") {
		return false
	}
	return strings.Contains(lower, ".m3u8")
}
