package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const spoolFile = "audit_spool.log"

var ErrSpoolFull = errors.New("audit spool full")

// Spool is a local JSONL file that holds entries the database refused.
type Spool struct {
	dir     string
	maxSize int64

	mu sync.Mutex // serialises append against replay rotation
}

func NewSpool(dir string, maxMB int64) (*Spool, error) {
	if dir == "" {
		return nil, errors.New("audit spool dir required")
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, err
	}
	size := int64(64) << 20
	if maxMB > 0 {
		size = maxMB << 20
	}
	return &Spool{dir: dir, maxSize: size}, nil
}

func (s *Spool) path() string { return filepath.Join(s.dir, spoolFile) }

func (s *Spool) Append(e Entry) error {
	line, err := json.Marshal(e)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if info, err := os.Stat(s.path()); err == nil && info.Size()+int64(len(line))+1 > s.maxSize {
		return ErrSpoolFull
	}

	f, err := os.OpenFile(s.path(), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = f.Write(append(line, '\n'))
	return err
}

// take moves the live spool aside and returns the renamed path, or "" when
// there is nothing to replay.
func (s *Spool) take() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	info, err := os.Stat(s.path())
	if os.IsNotExist(err) || (err == nil && info.Size() == 0) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	replay := filepath.Join(s.dir, fmt.Sprintf("replay_%d.log", time.Now().UnixNano()))
	if err := os.Rename(s.path(), replay); err != nil {
		return "", err
	}
	return replay, nil
}

// StartReplayer flushes the spool every interval until ctx is done.
func (s *Service) StartReplayer(ctx context.Context, interval time.Duration) {
	if s.spool == nil {
		return
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.ReplaySpool(ctx)
			}
		}
	}()
}

// ReplaySpool re-inserts spooled entries and returns how many landed. Entries
// that fail again go back into the live spool; inserts are idempotent on id.
func (s *Service) ReplaySpool(ctx context.Context) int {
	if s.spool == nil {
		return 0
	}
	replay, err := s.spool.take()
	if err != nil {
		s.log.WithError(err).Error("rotate audit spool for replay")
		return 0
	}
	if replay == "" {
		return 0
	}

	f, err := os.Open(replay)
	if err != nil {
		s.log.WithError(err).Error("open audit replay file")
		return 0
	}

	var flushed, bad int
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var e Entry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			bad++
			continue
		}
		if err := s.insert(ctx, e); err != nil {
			if err := s.spool.Append(e); err != nil {
				s.log.WithError(err).WithField("entry_id", e.ID).Error("audit entry dropped on replay")
			}
			continue
		}
		flushed++
	}
	f.Close()
	os.Remove(replay)

	if flushed > 0 || bad > 0 {
		s.log.WithField("flushed", flushed).WithField("malformed", bad).Info("audit spool replayed")
	}
	return flushed
}
