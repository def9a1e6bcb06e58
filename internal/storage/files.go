package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"mime"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	ferrors "git.home.luguber.info/inful/washer/internal/foundation/errors"
	"git.home.luguber.info/inful/washer/internal/logfields"
	"git.home.luguber.info/inful/washer/internal/model"
)

const (
	manifestName = "manifest.json"
	stringsRoot  = "_strings"
)

// Store implements the per-stage file store contract over a Backend.
type Store struct {
	backend   Backend
	stage     string
	publicURL string
	logger    *slog.Logger
}

// New wraps backend for stageID. An empty publicURL uses the backend default.
func New(backend Backend, stageID, publicURL string) *Store {
	if publicURL == "" {
		publicURL = backend.BaseURL()
	}
	return &Store{
		backend:   backend,
		stage:     stageID,
		publicURL: strings.TrimRight(publicURL, "/"),
		logger:    slog.Default().With(logfields.StageID(stageID), logfields.Store(backend.String())),
	}
}

// Open selects a backend from a connection string: s3:// URLs use object
// storage, anything else is a local path.
func Open(ctx context.Context, conn, stageID, publicURL string) (*Store, error) {
	var (
		b   Backend
		err error
	)
	if strings.HasPrefix(conn, "s3://") {
		b, err = NewS3Backend(ctx, conn)
	} else {
		b, err = NewFSBackend(conn)
	}
	if err != nil {
		return nil, ferrors.StorageError(stageID, "open file store").WithCause(err).Build()
	}
	return New(b, stageID, publicURL), nil
}

// Backend returns the underlying backend.
func (s *Store) Backend() Backend { return s.backend }

func (s *Store) String() string {
	return s.stage + "@" + s.backend.String()
}

// Validate checks that the backend is reachable and writable.
func (s *Store) Validate(ctx context.Context) error {
	if err := s.backend.Validate(ctx); err != nil {
		return ferrors.StorageError(s.stage, "file store is not usable").
			WithContext("store", s.backend.String()).
			WithCause(err).
			Build()
	}
	return nil
}

// PublicURL maps a storage key to its external URL.
func (s *Store) PublicURL(key string) string {
	parts := strings.Split(key, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return s.publicURL + "/" + strings.Join(parts, "/")
}

// DownloadDir is the storage key directory for a download job.
func (s *Store) DownloadDir(d model.Download) string {
	return joinKey(s.stage, Bucket(d.Created), Name(d.Created, d.URL))
}

type manifest struct {
	URL      string  `json:"url"`
	JSON     string  `json:"json,omitempty"`
	Image    string  `json:"image,omitempty"`
	Media    string  `json:"media,omitempty"`
	Size     int64   `json:"size,omitempty"`
	Type     string  `json:"type,omitempty"`
	Duration float64 `json:"duration,omitempty"`
}

// Existing returns the stored result for d when every part the job asks for
// is already present. The manifest is written last on promotion so its
// presence means the set is complete.
func (s *Store) Existing(ctx context.Context, d model.Download) (model.DownloadResult, bool, error) {
	dir := s.DownloadDir(d)
	data, err := s.backend.Get(ctx, joinKey(dir, manifestName))
	if IsNotFound(err) {
		return model.DownloadResult{}, false, nil
	}
	if err != nil {
		return model.DownloadResult{}, false, fmt.Errorf("read manifest: %w", err)
	}
	var m manifest
	if err := json.Unmarshal(data, &m); err != nil {
		s.logger.Warn("Ignoring corrupt manifest", logfields.Path(dir), logfields.Error(err))
		return model.DownloadResult{}, false, nil
	}

	if (d.JSON && m.JSON == "") || (d.Image && m.Image == "") || ((d.Media || d.Audio) && m.Media == "") {
		return model.DownloadResult{}, false, nil
	}
	if d.IsDirect() && m.Media == "" && m.Image == "" {
		return model.DownloadResult{}, false, nil
	}

	res := s.result(d, dir, m)
	if d.JSON && m.JSON != "" {
		raw, err := s.backend.Get(ctx, joinKey(dir, m.JSON))
		if err != nil && !IsNotFound(err) {
			return model.DownloadResult{}, false, fmt.Errorf("read json: %w", err)
		}
		if err == nil {
			var payload any
			if json.Unmarshal(raw, &payload) == nil {
				res.Data = payload
			}
		}
	}
	return res, true, nil
}

func (s *Store) result(d model.Download, dir string, m manifest) model.DownloadResult {
	res := model.DownloadResult{
		ItemURL:  d.ItemURL,
		URL:      s.PublicURL(dir),
		Dir:      dir,
		Size:     m.Size,
		Type:     m.Type,
		Duration: m.Duration,
	}
	if m.JSON != "" {
		res.JSON = s.PublicURL(joinKey(dir, m.JSON))
	}
	if m.Image != "" {
		res.Image = s.PublicURL(joinKey(dir, m.Image))
	}
	if m.Media != "" {
		res.Media = s.PublicURL(joinKey(dir, m.Media))
	}
	return res
}

// SaveDownload copies a local file to <stage>/<bucket(date)>/<subdir>/<name>
// and returns the durable directory key.
func (s *Store) SaveDownload(ctx context.Context, date time.Time, localPath, subdir, name string) (string, error) {
	dir := joinKey(s.stage, Bucket(date), subdir)
	ctype := mime.TypeByExtension(filepath.Ext(name))
	if _, err := s.backend.PutFile(ctx, joinKey(dir, name), localPath, ctype); err != nil {
		return "", fmt.Errorf("save %s: %w", name, err)
	}
	return dir, nil
}

// Downloaded promotes a temp-workspace result to durable storage and returns
// the result rewritten to public URLs. res.Dir is the temp directory and the
// JSON/Image/Media fields are file names inside it.
func (s *Store) Downloaded(ctx context.Context, d model.Download, res model.DownloadResult) (model.DownloadResult, error) {
	subdir := Name(d.Created, d.URL)
	dir := s.DownloadDir(d)
	m := manifest{URL: d.URL, Size: res.Size, Type: res.Type, Duration: res.Duration}

	parts := []struct {
		file string
		role string
		dst  *string
	}{
		{res.JSON, "data", &m.JSON},
		{res.Image, "image", &m.Image},
		{res.Media, "media", &m.Media},
	}
	for _, p := range parts {
		if p.file == "" {
			continue
		}
		name := p.role + strings.ToLower(path.Ext(p.file))
		if _, err := s.SaveDownload(ctx, d.Created, filepath.Join(res.Dir, p.file), subdir, name); err != nil {
			return model.DownloadResult{}, err
		}
		*p.dst = name
	}
	if m.Media != "" && m.Size == 0 {
		if fi, err := os.Stat(filepath.Join(res.Dir, res.Media)); err == nil {
			m.Size = fi.Size()
		}
	}

	data, err := json.Marshal(m)
	if err != nil {
		return model.DownloadResult{}, err
	}
	if err := s.backend.Put(ctx, joinKey(dir, manifestName), data); err != nil {
		return model.DownloadResult{}, fmt.Errorf("write manifest: %w", err)
	}

	out := s.result(d, dir, m)
	out.Data = res.Data
	return out, nil
}

// Clean removes every day bucket of this stage that ends before cutoff.
func (s *Store) Clean(ctx context.Context, cutoff time.Time) (int, error) {
	n, err := s.backend.CleanBefore(ctx, s.stage+"/", Bucket(cutoff))
	if err != nil {
		return n, fmt.Errorf("clean %s: %w", s.stage, err)
	}
	if n > 0 {
		s.logger.Info("Removed expired files", slog.Int("objects", n), slog.Time("cutoff", cutoff))
	}
	return n, nil
}

// CleanRetention applies a retention value in days.
func (s *Store) CleanRetention(ctx context.Context, now time.Time, retain int) (int, error) {
	cutoff, ok := model.RetentionCutoff(now, retain)
	if !ok {
		return 0, nil
	}
	return s.Clean(ctx, cutoff)
}

func (s *Store) stringKey(name string) string {
	return joinKey(stringsRoot, s.stage, name)
}

// SaveString stores a small named string for the stage.
func (s *Store) SaveString(ctx context.Context, name, content string) error {
	return s.backend.Put(ctx, s.stringKey(name), []byte(content))
}

// ReadString returns a stored string and whether it exists.
func (s *Store) ReadString(ctx context.Context, name string) (string, bool, error) {
	data, err := s.backend.Get(ctx, s.stringKey(name))
	if IsNotFound(err) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return string(data), true, nil
}

// DeleteString removes a stored string.
func (s *Store) DeleteString(ctx context.Context, name string) error {
	return s.backend.Delete(ctx, s.stringKey(name))
}
