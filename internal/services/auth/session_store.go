package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/xhspub/internal/models"
)

// FileSessionStore keeps one JSON cookie array per account under a directory.
// Writes go through a temp file and rename so a failed save never corrupts the previous session.
type FileSessionStore struct {
	dir    string
	logger arbor.ILogger
}

// NewFileSessionStore creates the cookie directory if needed
func NewFileSessionStore(dir string, logger arbor.ILogger) (*FileSessionStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("cookie directory is required")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create cookie directory: %w", err)
	}
	return &FileSessionStore{dir: dir, logger: logger}, nil
}

// Path returns the cookie file for account
func (s *FileSessionStore) Path(account string) (string, error) {
	account = strings.TrimSpace(account)
	if account == "" {
		return "", fmt.Errorf("account is required")
	}
	if account == "." || account == ".." || strings.ContainsAny(account, `/\`) {
		return "", fmt.Errorf("invalid account name %q", account)
	}
	return filepath.Join(s.dir, account+".json"), nil
}

// Load reads the account's cookie file. Missing, empty or unparseable files yield ErrNoSession.
func (s *FileSessionStore) Load(account string) (*models.Session, error) {
	path, err := s.Path(account)
	if err != nil {
		return nil, err
	}

	unlock, err := s.lock(path)
	if err != nil {
		return nil, err
	}
	defer unlock()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, models.ErrNoSession
		}
		return nil, fmt.Errorf("read cookie file: %w", err)
	}

	var cookies []*models.Cookie
	if err := json.Unmarshal(data, &cookies); err != nil {
		s.logger.Warn().Err(err).Str("account", account).Str("path", path).Msg("Cookie file is not valid JSON, treating as no session")
		return nil, models.ErrNoSession
	}
	cookies = compactCookies(cookies)
	if len(cookies) == 0 {
		return nil, models.ErrNoSession
	}

	savedAt := time.Time{}
	if info, err := os.Stat(path); err == nil {
		savedAt = info.ModTime()
	}

	return &models.Session{
		Account: account,
		Cookies: cookies,
		SavedAt: savedAt,
		Valid:   true,
	}, nil
}

// Save replaces the account's cookie file atomically. Cookies are stored verbatim, expiry included.
func (s *FileSessionStore) Save(account string, cookies []*models.Cookie) error {
	path, err := s.Path(account)
	if err != nil {
		return err
	}
	cookies = compactCookies(cookies)
	if len(cookies) == 0 {
		return fmt.Errorf("refusing to save an empty cookie set for %s", account)
	}

	data, err := json.MarshalIndent(cookies, "", "  ")
	if err != nil {
		return fmt.Errorf("encode cookies: %w", err)
	}

	unlock, err := s.lock(path)
	if err != nil {
		return err
	}
	defer unlock()

	if err := writeFileAtomic(path, data, 0o600); err != nil {
		return fmt.Errorf("write cookie file: %w", err)
	}

	s.logger.Info().
		Str("account", account).
		Int("cookies", len(cookies)).
		Str("path", path).
		Msg("Session saved")
	return nil
}

// Delete removes the account's cookie file if present
func (s *FileSessionStore) Delete(account string) error {
	path, err := s.Path(account)
	if err != nil {
		return err
	}

	unlock, err := s.lock(path)
	if err != nil {
		return err
	}
	defer unlock()

	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete cookie file: %w", err)
	}

	s.logger.Info().Str("account", account).Msg("Session deleted")
	return nil
}

// Info reports whether a session exists without returning cookie values
func (s *FileSessionStore) Info(account string) (*models.SessionInfo, error) {
	session, err := s.Load(account)
	if errors.Is(err, models.ErrNoSession) {
		return &models.SessionInfo{Account: account}, nil
	}
	if err != nil {
		return nil, err
	}
	return &models.SessionInfo{
		Account:     account,
		Exists:      true,
		CookieCount: len(session.Cookies),
		SavedAt:     session.SavedAt,
	}, nil
}

// lock serialises access to one cookie file across processes (server and CLI login)
func (s *FileSessionStore) lock(path string) (func(), error) {
	fileLock := flock.New(path + ".lock")
	if err := fileLock.Lock(); err != nil {
		return nil, fmt.Errorf("lock cookie file: %w", err)
	}
	return func() { _ = fileLock.Unlock() }, nil
}

func compactCookies(cookies []*models.Cookie) []*models.Cookie {
	out := make([]*models.Cookie, 0, len(cookies))
	for _, c := range cookies {
		if c == nil || c.Name == "" {
			continue
		}
		out = append(out, c)
	}
	return out
}

// writeFileAtomic writes data to a temp file in the same directory and renames it into place
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		_ = tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return err
	}
	return nil
}
