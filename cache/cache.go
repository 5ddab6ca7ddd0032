// Package cache keeps attestation artifacts on disk so keeps can be
// launched and audited without network access. Artifacts carry their
// own validity windows; freshness checks compare those against an
// injectable clock.
package cache

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"golang.org/x/sys/unix"
	"k8s.io/utils/clock"
)

// defaultDir is where artifacts live unless WARDEN_CACHE_DIR says
// otherwise.
const defaultDir = "/var/cache/warden"

// Dir resolves the cache directory. It must already exist and be
// read-write; warden never creates it, since it is typically
// root-owned and package-managed.
func Dir() (string, error) {
	dir := os.Getenv("WARDEN_CACHE_DIR")
	if dir == "" {
		dir = defaultDir
	}

	info, err := os.Stat(dir)
	if err != nil {
		return "", fmt.Errorf("cache: %w (warden expects the directory %q to exist and be read-write accessible)", err, dir)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("cache: %q is not a directory", dir)
	}
	if err := unix.Access(dir, unix.R_OK|unix.W_OK); err != nil {
		return "", fmt.Errorf("cache: directory %q not read-write accessible: %w", dir, err)
	}
	return dir, nil
}

// Store reads and refreshes cached artifacts under one directory.
type Store struct {
	dir       string
	base      string
	client    *http.Client
	clock     clock.PassiveClock
	retryWait time.Duration
}

// NewStore returns a store over the resolved cache directory.
func NewStore() (*Store, error) {
	dir, err := Dir()
	if err != nil {
		return nil, err
	}
	return &Store{
		dir:       dir,
		base:      kdsBase,
		client:    http.DefaultClient,
		clock:     clock.RealClock{},
		retryWait: time.Second,
	}, nil
}

// Dir returns the directory the store operates on.
func (s *Store) Dir() string {
	return s.dir
}
