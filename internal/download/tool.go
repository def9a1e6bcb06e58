package download

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	ffmpeg "github.com/u2takey/ffmpeg-go"

	ferrors "git.home.luguber.info/inful/washer/internal/foundation/errors"
	"git.home.luguber.info/inful/washer/internal/model"
)

var imageExts = map[string]bool{".jpg": true, ".jpeg": true, ".png": true, ".webp": true, ".gif": true}

// partial or bookkeeping files left by the extraction tool
var ignoredExts = map[string]bool{".part": true, ".ytdl": true, ".temp": true, ".tmp": true}

// ToolArgs maps a job's flags to extraction tool arguments.
func ToolArgs(d model.Download, dir, ffmpegPath, userAgent string) []string {
	args := []string{
		"--no-progress", "--no-playlist", "--no-mtime",
		"--paths", dir,
		"--output", "%(id)s.%(ext)s",
	}
	if userAgent != "" {
		args = append(args, "--user-agent", userAgent)
	}
	if ffmpegPath != "" {
		args = append(args, "--ffmpeg-location", ffmpegPath)
	}
	if d.JSON {
		args = append(args, "--write-info-json")
	}
	if d.Image {
		args = append(args, "--write-thumbnail", "--convert-thumbnails", "jpg")
	}
	switch {
	case !d.Media && !d.Audio:
		args = append(args, "--skip-download")
	case d.Audio && d.Transcode:
		args = append(args, "--extract-audio", "--audio-format", "mp3")
	case d.Audio:
		args = append(args, "--format", "bestaudio")
	case d.Transcode:
		args = append(args, "--recode-video", "mp4")
	}
	return append(args, "--", d.URL)
}

func (m *Manager) fetchTool(ctx context.Context, d model.Download, dir string) (model.DownloadResult, error) {
	ffmpegPath := ""
	if _, err := os.Stat(m.cfg.FFmpeg); err == nil {
		ffmpegPath = m.cfg.FFmpeg
	}
	out, err := m.run(ctx, m.cfg.YtDlp, ToolArgs(d, dir, ffmpegPath, m.cfg.UserAgent)...)
	if err != nil {
		return model.DownloadResult{}, ferrors.WrapError(err, ferrors.CategoryNetwork, "extraction tool failed").
			Retryable().
			WithContext("url", d.URL).
			WithContext("output", lastLine(out)).
			Build()
	}
	res, err := ScanDir(dir, d.JSON)
	if err != nil {
		return model.DownloadResult{}, err
	}
	if (d.Media || d.Audio) && res.Media == "" {
		return model.DownloadResult{}, fmt.Errorf("no media file produced for %s", d.URL)
	}
	return res, nil
}

// ScanDir finds the info JSON, the thumbnail and the remaining media file the
// extraction tool left in dir. When parse is set the JSON is decoded into
// Data.
func ScanDir(dir string, parse bool) (model.DownloadResult, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return model.DownloadResult{}, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	res := model.DownloadResult{Dir: dir}
	for _, name := range names {
		ext := strings.ToLower(filepath.Ext(name))
		switch {
		case ignoredExts[ext]:
		case ext == ".json":
			if res.JSON == "" {
				res.JSON = name
			}
		case imageExts[ext]:
			if res.Image == "" {
				res.Image = name
			}
		default:
			if res.Media == "" {
				res.Media = name
			}
		}
	}
	if parse && res.JSON != "" {
		raw, err := os.ReadFile(filepath.Join(dir, res.JSON)) // #nosec G304 - file inside job workspace
		if err != nil {
			return model.DownloadResult{}, err
		}
		var data any
		if err := json.Unmarshal(raw, &data); err != nil {
			return model.DownloadResult{}, fmt.Errorf("parse %s: %w", res.JSON, err)
		}
		res.Data = data
	}
	return res, nil
}

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...) // #nosec G204 - configured tool path
	return cmd.CombinedOutput()
}

func ffprobeDuration(path string) (float64, error) {
	out, err := ffmpeg.Probe(path)
	if err != nil {
		return 0, err
	}
	var probe struct {
		Format struct {
			Duration string `json:"duration"`
		} `json:"format"`
	}
	if err := json.Unmarshal([]byte(out), &probe); err != nil {
		return 0, err
	}
	return strconv.ParseFloat(probe.Format.Duration, 64)
}

func lastLine(out []byte) string {
	s := strings.TrimSpace(string(out))
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	return s
}
