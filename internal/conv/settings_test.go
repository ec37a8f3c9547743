package conv

import (
	"strings"
	"testing"
)

func setAll(t *testing.T) {
	t.Helper()
	t.Setenv("FFMPEG_COMMAND", "ffmpeg -i [input] [output]")
	t.Setenv("FILE_EXTENSION", ".webm")
	t.Setenv("COMPLETED_PATH", "/srv/completed")
	t.Setenv("RSYNC_USER", "media")
}

func TestFromEnv(t *testing.T) {
	setAll(t)

	s, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}
	if s.FFmpegCommand != "ffmpeg -i [input] [output]" {
		t.Errorf("FFmpegCommand = %q", s.FFmpegCommand)
	}
	if s.FileExtension != ".webm" || s.CompletedPath != "/srv/completed" || s.RsyncUser != "media" {
		t.Errorf("unexpected settings: %+v", s)
	}
}

func TestFromEnvDefaultCommand(t *testing.T) {
	setAll(t)
	t.Setenv("FFMPEG_COMMAND", "")

	s, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}
	if s.FFmpegCommand != DefaultCommand {
		t.Errorf("FFmpegCommand = %q, want default", s.FFmpegCommand)
	}
}

func TestFromEnvMissingRequired(t *testing.T) {
	for _, name := range []string{"FILE_EXTENSION", "COMPLETED_PATH", "RSYNC_USER"} {
		t.Run(name, func(t *testing.T) {
			setAll(t)
			t.Setenv(name, "")

			if _, err := FromEnv(); err == nil {
				t.Fatalf("FromEnv succeeded with %s unset", name)
			} else if !strings.Contains(err.Error(), name) {
				t.Errorf("error %q does not name %s", err, name)
			}
		})
	}
}

func TestInfoBody(t *testing.T) {
	s := Settings{
		FFmpegCommand: "ffmpeg -i [input] [output]",
		FileExtension: ".webm",
		CompletedPath: "/srv/completed",
		RsyncUser:     "media",
	}

	want := "ffmpeg: ffmpeg -i [input] [output]\n" +
		"file_extension: .webm\n" +
		"completed: /srv/completed\n" +
		"rsync_user: media\n"
	if got := s.InfoBody(); got != want {
		t.Errorf("InfoBody = %q, want %q", got, want)
	}
}

func TestParseInfoRoundTrip(t *testing.T) {
	in := Settings{
		FFmpegCommand: "ffmpeg -i [input] -f webm [output].webm",
		FileExtension: ".webm",
		CompletedPath: "/srv/completed",
		RsyncUser:     "media",
	}

	out, err := ParseInfo(in.InfoBody())
	if err != nil {
		t.Fatalf("ParseInfo: %v", err)
	}
	if out != in {
		t.Errorf("round trip: got %+v, want %+v", out, in)
	}
}

func TestParseInfoShortBody(t *testing.T) {
	if _, err := ParseInfo("ffmpeg: x\nfile_extension: y"); err == nil {
		t.Fatal("ParseInfo accepted a two-line body")
	}
}

func TestOutputName(t *testing.T) {
	tests := []struct {
		path string
		ext  string
		want string
	}{
		{"/data/incoming/a.mp4", ".webm", "a.webm"},
		{"/data/incoming/a.mp4", "webm", "a.webm"},
		{"/data/incoming/clip.old.avi", "mkv", "clip.old.mkv"},
		{"/data/incoming/noext", "webm", "noext.webm"},
		{"a.mp4", ".webm", "a.webm"},
		{"/data/incoming/a.mp4", "", "a"},
	}
	for _, tt := range tests {
		if got := OutputName(tt.path, tt.ext); got != tt.want {
			t.Errorf("OutputName(%q, %q) = %q, want %q", tt.path, tt.ext, got, tt.want)
		}
	}
}
