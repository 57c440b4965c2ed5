package hal

import (
	"fmt"
	"image"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/disintegration/imaging"
)

var frameExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".bmp":  true,
}

// DirCamera replays image files from a directory in name order, wrapping
// around at the end. It stands in for the sensor on a bench host.
type DirCamera struct {
	dir string

	mu     sync.Mutex
	files  []string
	next   int
	opened bool
}

// NewDirCamera creates a camera over dir. The directory is scanned on Init.
func NewDirCamera(dir string) *DirCamera {
	return &DirCamera{dir: dir}
}

// Init lists the frames. It fails when the directory has no images.
func (c *DirCamera) Init() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.opened {
		return nil
	}

	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return fmt.Errorf("camera: read frames: %w", err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() || !frameExtensions[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		files = append(files, filepath.Join(c.dir, e.Name()))
	}
	if len(files) == 0 {
		return fmt.Errorf("camera: no frames in %s", c.dir)
	}
	sort.Strings(files)

	c.files = files
	c.next = 0
	c.opened = true
	return nil
}

// Snapshot decodes the next frame.
func (c *DirCamera) Snapshot() (image.Image, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.opened {
		return nil, fmt.Errorf("camera: not initialised")
	}

	path := c.files[c.next]
	c.next = (c.next + 1) % len(c.files)

	img, err := imaging.Open(path)
	if err != nil {
		return nil, fmt.Errorf("camera: decode %s: %w", filepath.Base(path), err)
	}
	return img, nil
}

// Close releases the frame list.
func (c *DirCamera) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.opened = false
	c.files = nil
	return nil
}
