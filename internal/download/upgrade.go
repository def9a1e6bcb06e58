package download

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strings"

	"git.home.luguber.info/inful/washer/internal/httpqueue"
	"git.home.luguber.info/inful/washer/internal/logfields"
)

const versionsFile = "versions.json"

// Tool is an external binary kept up to date from a release feed.
type Tool struct {
	Name        string
	Path        string
	ReleasesURL string
	// Assets lists acceptable release asset names, best first.
	Assets []string
}

// Tools returns the managed binaries for this platform.
func (m *Manager) Tools() []Tool {
	return []Tool{
		{Name: "yt-dlp", Path: m.cfg.YtDlp, ReleasesURL: m.cfg.ReleasesURL, Assets: ytDlpAssets(runtime.GOOS, runtime.GOARCH)},
		{Name: "ffmpeg", Path: m.cfg.FFmpeg, ReleasesURL: m.cfg.FFmpegReleasesURL, Assets: ffmpegAssets(runtime.GOOS, runtime.GOARCH)},
	}
}

func ytDlpAssets(goos, goarch string) []string {
	switch goos {
	case "linux":
		if goarch == "arm64" {
			return []string{"yt-dlp_linux_aarch64", "yt-dlp"}
		}
		return []string{"yt-dlp_linux", "yt-dlp"}
	case "darwin":
		return []string{"yt-dlp_macos", "yt-dlp"}
	case "windows":
		return []string{"yt-dlp.exe"}
	}
	return []string{"yt-dlp"}
}

func ffmpegAssets(goos, goarch string) []string {
	arch := map[string]string{"amd64": "x64", "arm64": "arm64", "386": "ia32", "arm": "arm"}[goarch]
	return []string{fmt.Sprintf("ffmpeg-%s-%s", goos, arch)}
}

type release struct {
	TagName string  `json:"tag_name"`
	Assets  []asset `json:"assets"`
}

type asset struct {
	Name string `json:"name"`
	URL  string `json:"browser_download_url"`
}

// UpgradeResult reports what Upgrade did for one tool.
type UpgradeResult struct {
	Tool     string
	Version  string
	Upgraded bool
}

// Upgrade installs the latest release of every tool whose recorded version
// differs from the release feed. Versions are kept in versions.json next to
// the binaries, so an unchanged release costs one API call.
func (m *Manager) Upgrade(ctx context.Context) ([]UpgradeResult, error) {
	if err := os.MkdirAll(m.cfg.ToolsDir, 0o750); err != nil {
		return nil, fmt.Errorf("create tools dir: %w", err)
	}
	versions, err := m.readVersions()
	if err != nil {
		return nil, err
	}

	var (
		results []UpgradeResult
		errs    []error
	)
	for _, tool := range m.Tools() {
		res, err := m.upgradeTool(ctx, tool, versions[tool.Name])
		if err != nil {
			m.logger.Error("Tool upgrade failed", logfields.Tool(tool.Name), logfields.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", tool.Name, err))
			continue
		}
		results = append(results, res)
		if res.Upgraded {
			versions[tool.Name] = res.Version
			if err := m.writeVersions(versions); err != nil {
				return results, err
			}
		}
	}
	return results, errors.Join(errs...)
}

func (m *Manager) upgradeTool(ctx context.Context, tool Tool, current string) (UpgradeResult, error) {
	if tool.ReleasesURL == "" {
		return UpgradeResult{Tool: tool.Name, Version: current}, nil
	}
	resp, err := m.queue.Do(ctx, "upgrade", "releases", httpqueue.Request{
		Method: http.MethodGet,
		URL:    tool.ReleasesURL,
		Header: http.Header{"Accept": {"application/vnd.github+json"}},
	}, nil)
	if err != nil {
		return UpgradeResult{}, err
	}
	var rel release
	if err := json.Unmarshal(resp.Body, &rel); err != nil {
		return UpgradeResult{}, fmt.Errorf("decode release: %w", err)
	}
	if rel.TagName == "" {
		return UpgradeResult{}, fmt.Errorf("release without tag at %s", tool.ReleasesURL)
	}

	_, statErr := os.Stat(tool.Path)
	if rel.TagName == current && statErr == nil {
		m.logger.Debug("Tool is current", logfields.Tool(tool.Name), logfields.Version(current))
		return UpgradeResult{Tool: tool.Name, Version: current}, nil
	}

	assetURL := ""
	for _, want := range tool.Assets {
		i := slices.IndexFunc(rel.Assets, func(a asset) bool { return a.Name == want })
		if i >= 0 {
			assetURL = rel.Assets[i].URL
			break
		}
	}
	if assetURL == "" {
		return UpgradeResult{}, fmt.Errorf("no asset for %s in release %s", strings.Join(tool.Assets, ", "), rel.TagName)
	}
	if err := m.install(ctx, assetURL, tool.Path); err != nil {
		return UpgradeResult{}, err
	}
	m.logger.Info("Installed tool", logfields.Tool(tool.Name), logfields.Version(rel.TagName), logfields.Path(tool.Path))
	return UpgradeResult{Tool: tool.Name, Version: rel.TagName, Upgraded: true}, nil
}

func (m *Manager) install(ctx context.Context, assetURL, dst string) error {
	resp, err := m.queue.Stream(ctx, "upgrade", "", httpqueue.Get(assetURL), nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o750); err != nil {
		return err
	}
	tmp := dst + ".part"
	out, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o755) // #nosec G302 G304 - executable in tools dir
	if err != nil {
		return err
	}
	_, err = io.Copy(out, resp.Body)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("download %s: %w", assetURL, err)
	}
	return os.Rename(tmp, dst)
}

func (m *Manager) readVersions() (map[string]string, error) {
	versions := map[string]string{}
	data, err := os.ReadFile(filepath.Join(m.cfg.ToolsDir, versionsFile))
	if os.IsNotExist(err) {
		return versions, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, &versions); err != nil {
		m.logger.Warn("Ignoring corrupt tool versions file", logfields.Error(err))
		return map[string]string{}, nil
	}
	return versions, nil
}

func (m *Manager) writeVersions(versions map[string]string) error {
	data, err := json.MarshalIndent(versions, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(m.cfg.ToolsDir, versionsFile), data, 0o600)
}
