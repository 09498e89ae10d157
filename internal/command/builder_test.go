package command

import (
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/tubeget/tubeget/internal/job"
)

func intPtr(v int) *int { return &v }

func strPtr(v string) *string { return &v }

// validated builds a Config through Validate so defaults are applied, the
// same way the service hands configs to the builder.
func validated(t *testing.T, cfg job.Config) *job.Config {
	t.Helper()
	cfg.OutputDir = t.TempDir()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	return &cfg
}

func argValue(t *testing.T, args []string, flag string) string {
	t.Helper()
	i := slices.Index(args, flag)
	if i < 0 || i+1 >= len(args) {
		t.Fatalf("flag %s not found in %v", flag, args)
	}
	return args[i+1]
}

func TestBuild_VideoFormatSelector(t *testing.T) {
	cfg := validated(t, job.Config{
		URL:     "https://youtube.com/watch?v=abc",
		Quality: "720",
		Format:  "mp4",
	})

	args, err := New("yt-dlp").Build(cfg)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	sel := argValue(t, args, "-f")
	if !strings.Contains(sel, "height<=720") {
		t.Errorf("selector should bound height to 720, got %q", sel)
	}
	if strings.HasPrefix(sel, "bestaudio") {
		t.Errorf("video selector must not be audio-only, got %q", sel)
	}
	if argValue(t, args, "--remux-video") != "mp4" {
		t.Errorf("expected remux target mp4, got %v", args)
	}
}

func TestBuild_FPSFallbackChain(t *testing.T) {
	cfg := validated(t, job.Config{
		URL:     "https://youtube.com/watch?v=abc",
		Quality: "1080",
		FPS:     intPtr(60),
	})

	args, err := New("yt-dlp").Build(cfg)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	sel := argValue(t, args, "-f")
	stages := strings.Split(sel, "/")
	if len(stages) != 4 {
		t.Fatalf("expected 4 fallback stages, got %d: %q", len(stages), sel)
	}
	if !strings.Contains(stages[0], "[fps<=60]") {
		t.Errorf("first stage should filter fps, got %q", stages[0])
	}
	if strings.Contains(stages[1], "fps") {
		t.Errorf("second stage should drop the fps filter, got %q", stages[1])
	}
	if stages[len(stages)-1] != "best" {
		t.Errorf("final stage should be the unconstrained best, got %q", stages[len(stages)-1])
	}
}

func TestBuild_AudioOnly(t *testing.T) {
	cfg := validated(t, job.Config{
		URL:       "https://youtube.com/watch?v=abc",
		AudioOnly: true,
	})

	args, err := New("yt-dlp").Build(cfg)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	if argValue(t, args, "-f") != "bestaudio/best" {
		t.Errorf("expected bestaudio selector, got %q", argValue(t, args, "-f"))
	}
	if slices.Contains(args, "--remux-video") {
		t.Error("audio-only download must not remux video")
	}
}

func TestBuild_ExtractAudioExcludesRemux(t *testing.T) {
	cfg := validated(t, job.Config{
		URL:          "https://youtube.com/watch?v=abc",
		ExtractAudio: true,
		AudioFormat:  "opus",
	})

	args, err := New("yt-dlp").Build(cfg)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	if !slices.Contains(args, "--extract-audio") {
		t.Error("expected --extract-audio")
	}
	if argValue(t, args, "--audio-format") != "opus" {
		t.Errorf("expected audio format opus, got %v", args)
	}
	if slices.Contains(args, "--remux-video") {
		t.Error("remux must not be combined with audio extraction")
	}
}

func TestBuild_Subtitles(t *testing.T) {
	cfg := validated(t, job.Config{
		URL:           "https://youtube.com/watch?v=abc",
		Subtitles:     true,
		SubtitleLangs: []string{"en", "de"},
		AutoSubtitles: true,
	})

	args, err := New("yt-dlp").Build(cfg)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	if !slices.Contains(args, "--write-subs") {
		t.Error("expected --write-subs")
	}
	if argValue(t, args, "--sub-langs") != "en,de" {
		t.Errorf("expected comma-joined languages, got %v", args)
	}
	if !slices.Contains(args, "--write-auto-subs") {
		t.Error("expected --write-auto-subs alongside --write-subs")
	}
}

func TestBuild_TrimEndOnly(t *testing.T) {
	cfg := validated(t, job.Config{
		URL:     "https://youtube.com/watch?v=abc",
		EndTime: strPtr("00:02:00"),
	})

	args, err := New("yt-dlp").Build(cfg)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	// An end offset alone still selects the external downloader; no
	// start offset means from 0.
	if argValue(t, args, "--external-downloader") != "ffmpeg" {
		t.Errorf("expected ffmpeg external downloader, got %v", args)
	}
	if argValue(t, args, "--external-downloader-args") != "-to 00:02:00" {
		t.Errorf("expected -to arg, got %v", args)
	}
	if slices.ContainsFunc(args, func(a string) bool { return strings.HasPrefix(a, "-ss") }) {
		t.Error("no start offset should be emitted without a start time")
	}
}

func TestBuild_PlaylistSliceOmittedWhenAbsent(t *testing.T) {
	cfg := validated(t, job.Config{URL: "https://youtube.com/playlist?list=x"})

	args, err := New("yt-dlp").Build(cfg)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	if slices.Contains(args, "--playlist-start") || slices.Contains(args, "--playlist-end") {
		t.Error("absent playlist bounds must be omitted, not defaulted")
	}

	cfg = validated(t, job.Config{
		URL:           "https://youtube.com/playlist?list=x",
		PlaylistStart: intPtr(3),
		PlaylistEnd:   intPtr(7),
	})

	args, err = New("yt-dlp").Build(cfg)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	if argValue(t, args, "--playlist-start") != "3" || argValue(t, args, "--playlist-end") != "7" {
		t.Errorf("expected playlist slice flags, got %v", args)
	}
}

func TestBuild_AlwaysFlagsAndOrdering(t *testing.T) {
	cfg := validated(t, job.Config{
		URL:       "https://youtube.com/watch?v=abc",
		RateLimit: strPtr("2M"),
	})

	b := New("")
	args, err := b.Build(cfg)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	if args[0] != DefaultBinary {
		t.Errorf("expected executable first, got %q", args[0])
	}
	if args[len(args)-1] != cfg.URL {
		t.Errorf("expected URL as final positional argument, got %q", args[len(args)-1])
	}
	if argValue(t, args, "--limit-rate") != "2M" {
		t.Errorf("expected rate limit flag, got %v", args)
	}

	for _, flag := range []string{"--embed-chapters", "--ignore-errors", "--no-warnings", "--progress", "--newline"} {
		if !slices.Contains(args, flag) {
			t.Errorf("expected always-on flag %s in %v", flag, args)
		}
	}

	if argValue(t, args, "-o") != filepath.Join(cfg.OutputDir, "%(title)s.%(ext)s") {
		t.Errorf("unexpected output template: %v", args)
	}
}

func TestBuild_CreatesOutputDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "out")
	cfg := &job.Config{URL: "https://youtube.com/watch?v=abc", OutputDir: dir}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}

	if _, err := New("yt-dlp").Build(cfg); err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	info, err := os.Stat(dir)
	if err != nil {
		t.Fatalf("output dir not created: %v", err)
	}
	if !info.IsDir() {
		t.Fatalf("%s is not a directory", dir)
	}
}
