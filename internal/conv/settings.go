// Package conv holds the conversion settings and wire formats shared by the
// coordinator and the worker agent: the env-backed settings served on /info,
// the converter command template, and the failure report body.
package conv

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// DefaultCommand is the converter template used when FFMPEG_COMMAND is unset.
const DefaultCommand = "ffmpeg -i [input] -f webm [output].webm"

// Settings are the conversion parameters exchanged over /info. On the
// coordinator they are read from the environment on every request, never
// cached at startup.
type Settings struct {
	FFmpegCommand string
	FileExtension string
	CompletedPath string
	RsyncUser     string
}

// FromEnv reads the settings from the environment. FFMPEG_COMMAND falls back
// to DefaultCommand; the other three variables are required.
func FromEnv() (Settings, error) {
	s := Settings{
		FFmpegCommand: os.Getenv("FFMPEG_COMMAND"),
		FileExtension: os.Getenv("FILE_EXTENSION"),
		CompletedPath: os.Getenv("COMPLETED_PATH"),
		RsyncUser:     os.Getenv("RSYNC_USER"),
	}
	if s.FFmpegCommand == "" {
		s.FFmpegCommand = DefaultCommand
	}
	if s.FileExtension == "" {
		return Settings{}, fmt.Errorf("conv: FILE_EXTENSION is not set")
	}
	if s.CompletedPath == "" {
		return Settings{}, fmt.Errorf("conv: COMPLETED_PATH is not set")
	}
	if s.RsyncUser == "" {
		return Settings{}, fmt.Errorf("conv: RSYNC_USER is not set")
	}
	return s, nil
}

// InfoBody renders the four-line /info response. Workers parse the lines by
// prefix, in this order; the format is part of the wire contract.
func (s Settings) InfoBody() string {
	return fmt.Sprintf("ffmpeg: %s\nfile_extension: %s\ncompleted: %s\nrsync_user: %s\n",
		s.FFmpegCommand, s.FileExtension, s.CompletedPath, s.RsyncUser)
}

// ParseInfo decodes an /info response body.
func ParseInfo(body string) (Settings, error) {
	lines := strings.Split(body, "\n")
	if len(lines) < 4 {
		return Settings{}, fmt.Errorf("conv: short /info response: %d lines", len(lines))
	}
	return Settings{
		FFmpegCommand: strings.TrimPrefix(lines[0], "ffmpeg: "),
		FileExtension: strings.TrimPrefix(lines[1], "file_extension: "),
		CompletedPath: strings.TrimPrefix(lines[2], "completed: "),
		RsyncUser:     strings.TrimPrefix(lines[3], "rsync_user: "),
	}, nil
}

// OutputName derives the completed-file name for a job path: the base name
// with its extension replaced by ext. A leading dot on ext is stripped, so
// ".webm" and "webm" are equivalent.
func OutputName(jobPath, ext string) string {
	base := filepath.Base(jobPath)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	if stem == "" {
		stem = base
	}
	ext = strings.TrimPrefix(ext, ".")
	if ext == "" {
		return stem
	}
	return stem + "." + ext
}
