package job

import (
	"fmt"
	"strings"

	apperrors "github.com/tubeget/tubeget/internal/errors"
)

// Known quality ceilings (video height) plus "best".
var validQualities = map[string]bool{
	"144": true, "240": true, "360": true, "480": true, "720": true,
	"1080": true, "1440": true, "2160": true, "4320": true, "best": true,
}

var validFormats = map[string]bool{
	"mp4": true, "webm": true, "mkv": true, "avi": true, "mov": true,
}

var validAudioFormats = map[string]bool{
	"mp3": true, "aac": true, "m4a": true, "opus": true, "flac": true, "wav": true,
}

// Config is the immutable download configuration for one job. Optional
// fields are pointers; absent means omitted, never a sentinel value.
type Config struct {
	URL       string `json:"url"`
	OutputDir string `json:"output_dir"`

	// Quality settings
	Quality string `json:"quality"`
	Format  string `json:"format"`
	FPS     *int   `json:"fps,omitempty"`

	// Audio settings
	AudioOnly    bool   `json:"audio_only"`
	ExtractAudio bool   `json:"extract_audio"`
	AudioFormat  string `json:"audio_format"`

	// Subtitle settings
	Subtitles     bool     `json:"subtitles"`
	AutoSubtitles bool     `json:"auto_subtitles"`
	SubtitleLangs []string `json:"subtitle_langs,omitempty"`

	// Additional artifacts
	Thumbnail bool `json:"thumbnail"`
	Metadata  bool `json:"metadata"`

	// Time range (HH:MM:SS)
	StartTime *string `json:"start_time,omitempty"`
	EndTime   *string `json:"end_time,omitempty"`

	// Playlist slice (1-based, inclusive)
	PlaylistStart *int `json:"playlist_start,omitempty"`
	PlaylistEnd   *int `json:"playlist_end,omitempty"`

	// Throttling and scheduling
	RateLimit  *string `json:"rate_limit,omitempty"`
	Priority   int     `json:"priority"`
	MaxRetries int     `json:"max_retries"`
}

// Validate fills in defaults and rejects contradictory configurations.
// The command builder assumes it only ever sees a validated Config.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.URL) == "" {
		return apperrors.ValidationError("url is required")
	}

	if c.OutputDir == "" {
		c.OutputDir = "downloads"
	}
	if c.Quality == "" {
		c.Quality = "1080"
	}
	if c.Format == "" {
		c.Format = "mp4"
	}
	if c.AudioFormat == "" {
		c.AudioFormat = "mp3"
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}

	if !validQualities[c.Quality] {
		return apperrors.ValidationError(fmt.Sprintf("invalid quality %q", c.Quality))
	}
	if !validFormats[c.Format] {
		return apperrors.ValidationError(fmt.Sprintf("invalid format %q", c.Format))
	}
	if !validAudioFormats[c.AudioFormat] {
		return apperrors.ValidationError(fmt.Sprintf("invalid audio format %q", c.AudioFormat))
	}

	if c.FPS != nil && (*c.FPS < 1 || *c.FPS > 120) {
		return apperrors.ValidationError(fmt.Sprintf("fps %d out of range [1,120]", *c.FPS))
	}

	if c.PlaylistStart != nil && *c.PlaylistStart < 1 {
		return apperrors.ValidationError("playlist_start must be >= 1")
	}
	if c.PlaylistEnd != nil && *c.PlaylistEnd < 1 {
		return apperrors.ValidationError("playlist_end must be >= 1")
	}
	if c.PlaylistStart != nil && c.PlaylistEnd != nil && *c.PlaylistEnd < *c.PlaylistStart {
		return apperrors.ValidationError("playlist_end must be >= playlist_start")
	}

	if c.Priority < -10 || c.Priority > 10 {
		return apperrors.ValidationError(fmt.Sprintf("priority %d out of range [-10,10]", c.Priority))
	}

	if c.Subtitles && len(c.SubtitleLangs) == 0 {
		c.SubtitleLangs = []string{"en"}
	}

	return nil
}
