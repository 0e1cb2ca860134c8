// Package framesource supplies the ordered list of frames for a session and
// decoded-image access by frame id. Ordering is stable for the lifetime of
// a session.
package framesource

import (
	"fmt"
	"image"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/cyclopcam/logs"
	"github.com/disintegration/imaging"
	gocache "github.com/patrickmn/go-cache"
)

// FrameSource is the session's view of the frames being annotated
type FrameSource interface {
	// Frames returns the ordered frame ids. The slice must not change for
	// the lifetime of the source.
	Frames() []string

	// Image returns the decoded image for a frame id
	Image(frameID string) (image.Image, error)

	// Path returns the path of the frame's source file, for the
	// original_path field of the frame record
	Path(frameID string) string
}

// Frame files are named by extraction timestamp, eg "1712815946731.jpg"
var framePattern = regexp.MustCompile(`^(\d+)\.(jpg|jpeg|png)$`)

// DirSource reads frames from a flat directory of still images.
// Decoded images are kept in a bounded expiring cache, since the session
// frequently re-reads the current frame (validation needs image bounds,
// inference needs pixels).
type DirSource struct {
	log    logs.Log
	dir    string
	frames []string
	cache  *gocache.Cache
}

// NewDirSource enumerates the frame images in dir.
// Filenames with a numeric timestamp prefix sort chronologically; anything
// else sorts after them, by name, so the order is still deterministic.
func NewDirSource(log logs.Log, dir string) (*DirSource, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("Failed to read frames directory '%v': %w", dir, err)
	}
	type frameFile struct {
		name      string
		timestamp int64
		numeric   bool
	}
	files := []frameFile{}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		m := framePattern.FindStringSubmatch(strings.ToLower(name))
		if m == nil {
			ext := strings.ToLower(filepath.Ext(name))
			if ext != ".jpg" && ext != ".jpeg" && ext != ".png" {
				continue
			}
			files = append(files, frameFile{name: name})
			continue
		}
		ts, err := strconv.ParseInt(m[1], 10, 64)
		if err != nil {
			files = append(files, frameFile{name: name})
			continue
		}
		files = append(files, frameFile{name: name, timestamp: ts, numeric: true})
	}
	sort.Slice(files, func(i, j int) bool {
		a, b := files[i], files[j]
		if a.numeric != b.numeric {
			return a.numeric
		}
		if a.numeric && a.timestamp != b.timestamp {
			return a.timestamp < b.timestamp
		}
		return a.name < b.name
	})

	frames := make([]string, len(files))
	for i, f := range files {
		frames[i] = f.name
	}
	if len(frames) == 0 {
		log.Warnf("No frame images (.jpg/.jpeg/.png) found in '%v'", dir)
	} else {
		log.Infof("Found %v frames in '%v'", len(frames), dir)
	}
	return &DirSource{
		log:    log,
		dir:    dir,
		frames: frames,
		cache:  gocache.New(time.Minute, 5*time.Minute),
	}, nil
}

func (s *DirSource) Frames() []string {
	return s.frames
}

func (s *DirSource) Path(frameID string) string {
	return filepath.Join(s.dir, frameID)
}

func (s *DirSource) Image(frameID string) (image.Image, error) {
	if cached, ok := s.cache.Get(frameID); ok {
		return cached.(image.Image), nil
	}
	img, err := imaging.Open(s.Path(frameID))
	if err != nil {
		return nil, fmt.Errorf("Failed to decode frame '%v': %w", frameID, err)
	}
	s.cache.SetDefault(frameID, img)
	return img, nil
}
