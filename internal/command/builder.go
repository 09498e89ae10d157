// Package command translates a validated job configuration into the
// argument vector for the yt-dlp executable. The translation is mechanical;
// rejecting contradictory configurations is the job package's concern.
package command

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/tubeget/tubeget/internal/job"
)

// DefaultBinary is the downloader executable looked up on PATH.
const DefaultBinary = "yt-dlp"

// Builder produces yt-dlp invocations for download jobs.
type Builder struct {
	binary string
}

// New creates a Builder for the given executable path. An empty path means
// DefaultBinary.
func New(binary string) *Builder {
	if binary == "" {
		binary = DefaultBinary
	}
	return &Builder{binary: binary}
}

// Build returns the full argument vector, executable first, URL last.
// Its only side effect is ensuring the output directory exists.
func (b *Builder) Build(cfg *job.Config) ([]string, error) {
	if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	args := []string{b.binary}

	args = append(args, "-o", filepath.Join(cfg.OutputDir, "%(title)s.%(ext)s"))
	args = append(args, "-f", formatSelector(cfg))

	if cfg.ExtractAudio {
		args = append(args, "--extract-audio", "--audio-format", cfg.AudioFormat)
	}

	// Remux only applies to plain video downloads; it is mutually
	// exclusive with audio-only and audio extraction.
	if !cfg.AudioOnly && !cfg.ExtractAudio {
		args = append(args, "--remux-video", cfg.Format)
	}

	if cfg.Subtitles {
		args = append(args, "--write-subs")
		if len(cfg.SubtitleLangs) > 0 {
			args = append(args, "--sub-langs", strings.Join(cfg.SubtitleLangs, ","))
		}
	}
	if cfg.AutoSubtitles {
		args = append(args, "--write-auto-subs")
	}

	if cfg.Thumbnail {
		args = append(args, "--write-thumbnail")
	}
	if cfg.Metadata {
		args = append(args, "--write-info-json", "--write-description")
	}

	// Time trimming routes through ffmpeg for precise seeking. An absent
	// start offset means "from 0", so an end offset alone still selects
	// the external downloader.
	if cfg.StartTime != nil || cfg.EndTime != nil {
		args = append(args, "--external-downloader", "ffmpeg")
		if cfg.StartTime != nil {
			args = append(args, "--external-downloader-args", fmt.Sprintf("-ss %s", *cfg.StartTime))
		}
		if cfg.EndTime != nil {
			args = append(args, "--external-downloader-args", fmt.Sprintf("-to %s", *cfg.EndTime))
		}
	}

	if cfg.PlaylistStart != nil {
		args = append(args, "--playlist-start", strconv.Itoa(*cfg.PlaylistStart))
	}
	if cfg.PlaylistEnd != nil {
		args = append(args, "--playlist-end", strconv.Itoa(*cfg.PlaylistEnd))
	}

	if cfg.RateLimit != nil {
		args = append(args, "--limit-rate", *cfg.RateLimit)
	}

	args = append(args,
		"--embed-chapters",
		"--ignore-errors",
		"--no-warnings",
		"--progress",
		"--newline",
	)

	args = append(args, cfg.URL)

	return args, nil
}

// formatSelector builds the ordered fallback chain: height-and-fps bounded
// video plus best audio, then the same without the fps filter, then a
// single best stream within the height bound. First satisfiable wins.
func formatSelector(cfg *job.Config) string {
	if cfg.AudioOnly {
		return "bestaudio/best"
	}

	if cfg.Quality == "best" {
		return "bestvideo+bestaudio/best"
	}

	height := fmt.Sprintf("[height<=%s]", cfg.Quality)

	var chain []string
	if cfg.FPS != nil {
		chain = append(chain, fmt.Sprintf("bestvideo%s[fps<=%d]+bestaudio", height, *cfg.FPS))
	}
	chain = append(chain,
		fmt.Sprintf("bestvideo%s+bestaudio", height),
		fmt.Sprintf("best%s", height),
		"best",
	)

	return strings.Join(chain, "/")
}
