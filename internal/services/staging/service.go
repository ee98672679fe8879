package staging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/xhspub/internal/interfaces"
	"github.com/ternarybob/xhspub/internal/models"
)

// Service gives every task its own copy of the video under the staging directory,
// downloaded from the request URL or copied from the configured default, and removes it afterwards.
// Callers can never name a local file.
type Service struct {
	dir          string
	defaultVideo string
	client       *http.Client
	logger       arbor.ILogger
}

var _ interfaces.Stager = (*Service)(nil)

// NewService creates a staging service rooted at dir
func NewService(dir, defaultVideo string, client *http.Client, logger arbor.ILogger) (*Service, error) {
	if dir == "" {
		return nil, fmt.Errorf("staging directory is required")
	}
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve staging directory: %w", err)
	}
	if err := os.MkdirAll(absDir, 0o755); err != nil {
		return nil, fmt.Errorf("create staging directory: %w", err)
	}
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Service{dir: absDir, defaultVideo: defaultVideo, client: client, logger: logger}, nil
}

// Dir returns the absolute staging directory
func (s *Service) Dir() string {
	return s.dir
}

// Stage resolves the request's video to an absolute, task-owned file.
// Any failure is a precondition failure: the browser is never started for a task without a video.
func (s *Service) Stage(ctx context.Context, req *models.PublishRequest) (*models.Artifact, error) {
	if req.VideoURL != "" {
		return s.download(ctx, req.ID, req.VideoURL)
	}

	return s.copyLocal(req.ID, s.defaultVideo)
}

// Cleanup removes a staged artifact; artifacts that were not staged are left alone
func (s *Service) Cleanup(artifact *models.Artifact) error {
	if artifact == nil || !artifact.Staged || artifact.Path == "" {
		return nil
	}
	if err := os.Remove(artifact.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove staged artifact: %w", err)
	}
	s.logger.Debug().Str("task_id", artifact.TaskID).Str("path", artifact.Path).Msg("Staged artifact removed")
	return nil
}

// PruneOlderThan removes staged files last modified before cutoff and returns how many were removed
func (s *Service) PruneOlderThan(cutoff time.Time) (int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, fmt.Errorf("read staging directory: %w", err)
	}

	removed := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, entry.Name())); err != nil && !errors.Is(err, os.ErrNotExist) {
			s.logger.Warn().Err(err).Str("file", entry.Name()).Msg("Failed to prune staged file")
			continue
		}
		removed++
	}
	return removed, nil
}

func (s *Service) target(taskID, ext string) (string, error) {
	if taskID == "" || strings.ContainsAny(taskID, `/\`) {
		return "", fmt.Errorf("invalid task id %q", taskID)
	}
	if ext == "" {
		ext = ".mp4"
	}
	return filepath.Join(s.dir, taskID+ext), nil
}

func (s *Service) download(ctx context.Context, taskID, rawURL string) (*models.Artifact, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return nil, precondition(fmt.Errorf("invalid video url %q", rawURL))
	}
	dst, err := s.target(taskID, strings.ToLower(path.Ext(parsed.Path)))
	if err != nil {
		return nil, precondition(err)
	}

	startTime := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, precondition(err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, precondition(fmt.Errorf("download video: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, precondition(fmt.Errorf("download video: unexpected status %d", resp.StatusCode))
	}

	written, err := writeAtomic(dst, resp.Body)
	if err != nil {
		return nil, precondition(fmt.Errorf("download video: %w", err))
	}
	if written == 0 {
		_ = os.Remove(dst)
		return nil, precondition(errors.New("download video: empty response body"))
	}

	s.logger.Info().
		Str("task_id", taskID).
		Str("url", rawURL).
		Int64("bytes", written).
		Dur("duration", time.Since(startTime)).
		Msg("Video downloaded")

	return &models.Artifact{TaskID: taskID, Path: dst, Source: rawURL, Staged: true}, nil
}

func (s *Service) copyLocal(taskID, source string) (*models.Artifact, error) {
	if source == "" {
		return nil, precondition(errors.New("no video url given and no default video configured"))
	}
	absSource, err := filepath.Abs(source)
	if err != nil {
		return nil, precondition(err)
	}

	in, err := os.Open(absSource)
	if err != nil {
		return nil, precondition(fmt.Errorf("open video: %w", err))
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return nil, precondition(err)
	}
	if !info.Mode().IsRegular() {
		return nil, precondition(fmt.Errorf("video %s is not a regular file", absSource))
	}

	dst, err := s.target(taskID, strings.ToLower(filepath.Ext(absSource)))
	if err != nil {
		return nil, precondition(err)
	}
	if _, err := writeAtomic(dst, in); err != nil {
		return nil, precondition(fmt.Errorf("copy video: %w", err))
	}

	s.logger.Debug().Str("task_id", taskID).Str("source", absSource).Str("path", dst).Msg("Video staged")
	return &models.Artifact{TaskID: taskID, Path: dst, Source: absSource, Staged: true}, nil
}

// writeAtomic streams r into a temp file beside dst and renames it into place
func writeAtomic(dst string, r io.Reader) (int64, error) {
	tmp, err := os.CreateTemp(filepath.Dir(dst), "."+filepath.Base(dst)+".part-*")
	if err != nil {
		return 0, err
	}
	tmpName := tmp.Name()

	written, err := io.Copy(tmp, r)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err == nil {
		err = os.Rename(tmpName, dst)
	}
	if err != nil {
		_ = os.Remove(tmpName)
		return 0, err
	}
	return written, nil
}

func precondition(err error) error {
	return models.NewStateError(models.StateUploading, models.ErrPreconditionFailure, "", err)
}
