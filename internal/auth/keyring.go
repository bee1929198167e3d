package auth

import (
	"bufio"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// KeyRing verifies admin keys against configured hashes plus those in an
// optional key file (one hash per line, # comments). The file is re-read when
// it changes, so keys rotate without a restart.
type KeyRing struct {
	static []string
	path   string
	log    *logrus.Entry

	mu      sync.RWMutex
	current *Verifier // nil when no hashes are loaded
	modTime time.Time
}

// NewKeyRing loads the initial hashes. A missing key file is not an error;
// the ring simply rejects every key until hashes appear.
func NewKeyRing(static []string, path string, log *logrus.Entry) (*KeyRing, error) {
	k := &KeyRing{static: static, path: path, log: log}
	if err := k.Reload(); err != nil && !errors.Is(err, ErrNoAdminKeys) {
		return nil, err
	}
	return k, nil
}

func (k *KeyRing) Verify(key string) bool {
	k.mu.RLock()
	v := k.current
	k.mu.RUnlock()
	return v != nil && v.Verify(key)
}

// Size reports how many hashes are active.
func (k *KeyRing) Size() int {
	k.mu.RLock()
	defer k.mu.RUnlock()
	if k.current == nil {
		return 0
	}
	return len(k.current.hashes)
}

// Reload re-reads the key file. A malformed file leaves the previous hashes in place.
func (k *KeyRing) Reload() error {
	hashes := append([]string(nil), k.static...)

	var modTime time.Time
	if k.path != "" {
		fromFile, mt, err := readKeyFile(k.path)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
		hashes = append(hashes, fromFile...)
		modTime = mt
	}

	v, err := NewVerifier(hashes)
	if errors.Is(err, ErrNoAdminKeys) {
		k.swap(nil, modTime)
		return err
	}
	if err != nil {
		return err
	}
	k.swap(v, modTime)
	return nil
}

func (k *KeyRing) swap(v *Verifier, modTime time.Time) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.current = v
	k.modTime = modTime
}

// ReloadIfChanged reloads only when the key file's mtime moved.
func (k *KeyRing) ReloadIfChanged() {
	if k.path == "" {
		return
	}
	var mt time.Time
	if fi, err := os.Stat(k.path); err == nil {
		mt = fi.ModTime()
	}
	k.mu.RLock()
	same := mt.Equal(k.modTime)
	k.mu.RUnlock()
	if same {
		return
	}
	k.reloadAndLog()
}

func (k *KeyRing) reloadAndLog() {
	err := k.Reload()
	switch {
	case errors.Is(err, ErrNoAdminKeys):
		k.log.Warn("admin key file reloaded with no hashes; admin API rejects all keys")
	case err != nil:
		k.log.WithError(err).Error("admin key file reload failed; keeping previous keys")
	default:
		k.log.WithField("keys", k.Size()).Info("admin keys reloaded")
	}
}

// Watch follows the key file with fsnotify and also polls every interval,
// which covers platforms and editors where events are lost.
func (k *KeyRing) Watch(ctx context.Context, interval time.Duration) {
	if k.path == "" {
		return
	}
	if interval <= 0 {
		interval = time.Minute
	}

	// Watch the directory so atomic renames and late file creation are seen.
	watcher, err := fsnotify.NewWatcher()
	if err == nil {
		if err = watcher.Add(filepath.Dir(k.path)); err != nil {
			watcher.Close()
		}
	}
	if err != nil {
		k.log.WithError(err).Warn("admin key file watch unavailable, polling only")
	} else {
		go func() {
			defer watcher.Close()
			target := filepath.Clean(k.path)
			for {
				select {
				case <-ctx.Done():
					return
				case ev, ok := <-watcher.Events:
					if !ok {
						return
					}
					if filepath.Clean(ev.Name) != target {
						continue
					}
					if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename) || ev.Has(fsnotify.Remove) {
						// Let writers finish.
						time.Sleep(100 * time.Millisecond)
						k.reloadAndLog()
					}
				case err, ok := <-watcher.Errors:
					if !ok {
						return
					}
					k.log.WithError(err).Warn("admin key file watcher error")
				}
			}
		}()
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				k.ReloadIfChanged()
			}
		}
	}()
}

func readKeyFile(path string) ([]string, time.Time, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, time.Time{}, err
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, time.Time{}, err
	}

	var hashes []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		hashes = append(hashes, line)
	}
	return hashes, fi.ModTime(), scanner.Err()
}
