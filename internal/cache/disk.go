package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/xregistry/xrbridge/internal/logger"
)

// diskEnvelope is the on-disk form of one cached response.
type diskEnvelope struct {
	StoredAt time.Time       `json:"storedAt"`
	TTL      time.Duration   `json:"ttl"`
	Body     json.RawMessage `json:"body"`
}

// DiskTier persists one file per key under dir. Keys are hashed so that
// arbitrary upstream URLs map to safe file names.
type DiskTier struct {
	dir string
}

// NewDiskTier creates dir if needed and returns the tier.
func NewDiskTier(dir string) (*DiskTier, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &DiskTier{dir: dir}, nil
}

// Dir returns the tier's directory.
func (d *DiskTier) Dir() string { return d.dir }

func (d *DiskTier) path(key string) string {
	sum := sha256.Sum256([]byte(key))
	return filepath.Join(d.dir, hex.EncodeToString(sum[:])+".json")
}

// Read loads the value stored for key. Corrupt files are deleted and
// reported as a miss. The caller decides whether the entry is still fresh.
func (d *DiskTier) Read(key string) (value any, storedAt time.Time, ttl time.Duration, ok bool) {
	p := d.path(key)
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, time.Time{}, 0, false
	}
	var env diskEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		logger.Warnf("removing corrupt cache file %s: %v", p, err)
		_ = os.Remove(p)
		return nil, time.Time{}, 0, false
	}
	var v any
	if err := json.Unmarshal(env.Body, &v); err != nil {
		logger.Warnf("removing corrupt cache file %s: %v", p, err)
		_ = os.Remove(p)
		return nil, time.Time{}, 0, false
	}
	return v, env.StoredAt, env.TTL, true
}

// Write stores value for key atomically (temp file + rename) so that a
// cancelled request never leaves a partially written entry behind.
func (d *DiskTier) Write(key string, value any, storedAt time.Time, ttl time.Duration) error {
	body, err := json.Marshal(value)
	if err != nil {
		return err
	}
	env, err := json.Marshal(diskEnvelope{StoredAt: storedAt, TTL: ttl, Body: body})
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(d.dir, ".tmp-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(env); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), d.path(key))
}

// Remove deletes the entry for key if present.
func (d *DiskTier) Remove(key string) {
	err := os.Remove(d.path(key))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Warnf("failed to remove cache file for %s: %v", key, err)
	}
}
