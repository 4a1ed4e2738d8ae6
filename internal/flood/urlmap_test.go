package flood

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMapSourceURL(t *testing.T) {
	root := "/data/videos"

	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"videos prefix", "/videos/flood1.mp4", filepath.Join(root, "flood1.mp4")},
		{"video prefix", "/video/flood1.mp4", filepath.Join(root, "flood1.mp4")},
		{"bare filename", "flood1.mp4", filepath.Join(root, "flood1.mp4")},
		{"http passthrough", "http://cam.local/stream.m3u8", "http://cam.local/stream.m3u8"},
		{"https passthrough", "https://cam.local/stream.m3u8", "https://cam.local/stream.m3u8"},
		{"absolute path passthrough", "/mnt/external/clip.mp4", "/mnt/external/clip.mp4"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, MapSourceURL(root, tc.raw))
		})
	}
}

func TestIsHLS(t *testing.T) {
	assert.True(t, IsHLS("http://cam.local/live/index.m3u8"))
	assert.True(t, IsHLS("HTTPS://cam.local/live/INDEX.M3U8"))
	assert.False(t, IsHLS("/data/videos/flood1.mp4"))
	assert.False(t, IsHLS("http://cam.local/stream.mjpeg"))
}
