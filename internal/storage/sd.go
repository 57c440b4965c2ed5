// Package storage implements the removable persistence area on top of a
// go-billy filesystem: face templates, models, and the device config file.
package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"os"
	"path"
	"strings"

	"github.com/disintegration/imaging"
	"go.uber.org/atomic"
	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-billy/v5/util"

	"github.com/roach88/visiontool/internal/config"
	"github.com/roach88/visiontool/internal/hal"
)

// ErrUnavailable is returned when the storage root is not mounted.
var ErrUnavailable = errors.New("storage not available")

// SD is the storage card. It implements hal.Storage.
type SD struct {
	fs     billy.Filesystem
	layout config.StorageConfig
	probe  func() bool
}

var _ hal.Storage = (*SD)(nil)

// NewOS opens the card mounted at layout.Root. The root is probed on every
// Available call so a removed card is noticed.
func NewOS(layout config.StorageConfig) *SD {
	root := layout.Root
	return &SD{
		fs:     osfs.New(root),
		layout: layout,
		probe: func() bool {
			info, err := os.Stat(root)
			return err == nil && info.IsDir()
		},
	}
}

// Memory is an in-memory card whose presence can be toggled.
type Memory struct {
	*SD
	present *atomic.Bool
}

// NewMemory creates an inserted in-memory card.
func NewMemory(layout config.StorageConfig) *Memory {
	present := atomic.NewBool(true)
	return &Memory{
		SD:      &SD{fs: memfs.New(), layout: layout, probe: present.Load},
		present: present,
	}
}

// Eject makes the card unavailable.
func (m *Memory) Eject() { m.present.Store(false) }

// Insert makes the card available again.
func (m *Memory) Insert() { m.present.Store(true) }

// Filesystem exposes the backing filesystem.
func (s *SD) Filesystem() billy.Filesystem {
	return s.fs
}

// Available reports whether the root is mounted.
func (s *SD) Available() bool {
	return s.probe()
}

// EnsureLayout creates the faces and models directories.
func (s *SD) EnsureLayout() error {
	if !s.Available() {
		return ErrUnavailable
	}
	for _, dir := range []string{s.layout.FacesDir, s.layout.ModelsDir} {
		if err := s.fs.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return nil
}

// FacePath returns faces_dir/<person>.jpg with the person name lower-cased.
func (s *SD) FacePath(person string) string {
	return path.Join(s.layout.FacesDir, strings.ToLower(person)+".jpg")
}

// LoadFace decodes a stored template. JPEG and BMP payloads are accepted
// regardless of the file extension.
func (s *SD) LoadFace(person string) (image.Image, error) {
	if !s.Available() {
		return nil, ErrUnavailable
	}
	f, err := s.fs.Open(s.FacePath(person))
	if err != nil {
		return nil, fmt.Errorf("open template %s: %w", person, err)
	}
	defer f.Close()

	img, err := imaging.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode template %s: %w", person, err)
	}
	return img, nil
}

// SaveFace writes an encoded template, creating the layout first.
func (s *SD) SaveFace(person string, data []byte) error {
	if err := s.EnsureLayout(); err != nil {
		return err
	}
	if err := util.WriteFile(s.fs, s.FacePath(person), data, 0o644); err != nil {
		return fmt.Errorf("write template %s: %w", person, err)
	}
	return nil
}

// DeleteFace removes a stored template. Removing a missing template is not
// an error.
func (s *SD) DeleteFace(person string) error {
	if !s.Available() {
		return ErrUnavailable
	}
	err := s.fs.Remove(s.FacePath(person))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove template %s: %w", person, err)
	}
	return nil
}

// ResetFaces removes every file in the faces directory.
func (s *SD) ResetFaces() (int, error) {
	if !s.Available() {
		return 0, ErrUnavailable
	}
	entries, err := s.fs.ReadDir(s.layout.FacesDir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("list templates: %w", err)
	}

	removed := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if err := s.fs.Remove(path.Join(s.layout.FacesDir, e.Name())); err != nil {
			return removed, fmt.Errorf("remove %s: %w", e.Name(), err)
		}
		removed++
	}
	return removed, nil
}

// Exists reports whether a storage-relative path exists.
func (s *SD) Exists(rel string) bool {
	if !s.Available() {
		return false
	}
	_, err := s.fs.Stat(rel)
	return err == nil
}

// ReadFile reads a storage-relative file.
func (s *SD) ReadFile(rel string) ([]byte, error) {
	if !s.Available() {
		return nil, ErrUnavailable
	}
	data, err := util.ReadFile(s.fs, rel)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", rel, err)
	}
	return data, nil
}

// ReadConfig reads the device config object. A missing file yields an
// empty map; a file that is not a JSON object is an error.
func (s *SD) ReadConfig() (map[string]any, error) {
	if !s.Exists(s.layout.ConfigFile) {
		return map[string]any{}, nil
	}
	data, err := s.ReadFile(s.layout.ConfigFile)
	if err != nil {
		return nil, err
	}
	var cfg map[string]any
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", s.layout.ConfigFile, err)
	}
	if cfg == nil {
		return nil, fmt.Errorf("parse %s: not an object", s.layout.ConfigFile)
	}
	return cfg, nil
}

// WriteConfig stores the device config as compact JSON.
func (s *SD) WriteConfig(cfg map[string]any) error {
	if err := s.EnsureLayout(); err != nil {
		return err
	}
	if cfg == nil {
		cfg = map[string]any{}
	}
	data, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := util.WriteFile(s.fs, s.layout.ConfigFile, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", s.layout.ConfigFile, err)
	}
	return nil
}
