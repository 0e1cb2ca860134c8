// Package annostore owns the durable per-project annotation file: a single
// JSON document mapping frame id to frame record. The file format is consumed
// by the upstream engine and must round-trip byte-for-byte.
package annostore

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cyclopcam/annotator/pkg/anno"
	"github.com/cyclopcam/logs"
)

// ErrStoreCorrupt means the annotations file exists but cannot be parsed.
// We refuse to continue: silently reinitializing would destroy a human
// annotator's partially-completed session.
var ErrStoreCorrupt = errors.New("annotations file is corrupt")

// Store manages the annotation file of one project.
// Single writer, single process. Every mutation is written through to disk
// before it reports success.
type Store struct {
	log      logs.Log
	filename string
	frames   map[string]*anno.FrameRecord
}

// Open loads the annotation file. An absent file is an empty collection;
// a present but malformed file is fatal.
func Open(log logs.Log, filename string) (*Store, error) {
	s := &Store{
		log:      log,
		filename: filename,
		frames:   map[string]*anno.FrameRecord{},
	}
	raw, err := os.ReadFile(filename)
	if errors.Is(err, os.ErrNotExist) {
		log.Infof("Annotations file '%v' not found. Starting with an empty store", filename)
		return s, nil
	} else if err != nil {
		return nil, fmt.Errorf("Failed to read annotations file '%v': %w", filename, err)
	}
	if err := json.Unmarshal(raw, &s.frames); err != nil {
		return nil, fmt.Errorf("%w: '%v': %v", ErrStoreCorrupt, filename, err)
	}
	log.Infof("Loaded %v frame records from '%v'", len(s.frames), filename)
	return s, nil
}

// Filename returns the path of the annotation file
func (s *Store) Filename() string {
	return s.filename
}

func (s *Store) NumFrames() int {
	return len(s.frames)
}

// Frame returns a copy of the record for the given frame id
func (s *Store) Frame(frameID string) (anno.FrameRecord, bool) {
	rec, ok := s.frames[frameID]
	if !ok {
		return anno.FrameRecord{}, false
	}
	return rec.Clone(), true
}

// IsAnnotated is true if the frame has at least one annotation
func (s *Store) IsAnnotated(frameID string) bool {
	rec, ok := s.frames[frameID]
	return ok && len(rec.Annotations) > 0
}

// UpsertFrame replaces the entire annotation list of a frame (last writer
// wins at frame granularity) and saves the store. created_at_iso is set on
// the first-ever write for the frame and never changes thereafter.
// If the save fails, the in-memory state is rolled back so that it never
// diverges from the durable file.
func (s *Store) UpsertFrame(frameID string, annotations []anno.Annotation, originalPath string) error {
	prev, existed := s.frames[frameID]
	now := anno.ISOTime(time.Now())
	rec := &anno.FrameRecord{
		// The upstream engine expects "annotations": [], not null
		Annotations:  append([]anno.Annotation{}, annotations...),
		OriginalPath: originalPath,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if existed {
		rec.CreatedAt = prev.CreatedAt
		if originalPath == "" {
			rec.OriginalPath = prev.OriginalPath
		}
	}
	s.frames[frameID] = rec
	if err := s.Save(); err != nil {
		if existed {
			s.frames[frameID] = prev
		} else {
			delete(s.frames, frameID)
		}
		return err
	}
	return nil
}

// Save writes the whole collection atomically: we write to a temp file in
// the same directory and rename it over the target, so a crash mid-write
// never corrupts previously committed state.
func (s *Store) Save() error {
	buf := bytes.Buffer{}
	encoder := json.NewEncoder(&buf)
	encoder.SetIndent("", "  ")
	encoder.SetEscapeHTML(false)
	if err := encoder.Encode(s.frames); err != nil {
		return fmt.Errorf("Failed to encode annotations: %w", err)
	}

	dir := filepath.Dir(s.filename)
	if err := os.MkdirAll(dir, 0777); err != nil {
		return fmt.Errorf("Failed to create annotations directory '%v': %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".annotations-*.tmp")
	if err != nil {
		return fmt.Errorf("Failed to create temp file for '%v': %w", s.filename, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("Failed to write '%v': %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("Failed to close '%v': %w", tmpName, err)
	}
	if err := os.Rename(tmpName, s.filename); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("Failed to replace '%v': %w", s.filename, err)
	}
	return nil
}

// FindNextAnnotated scans forward from startIndex (exclusive) through the
// ordered frame list for the next frame with at least one annotation.
// Returns -1 if there is none. No wrap-around.
func (s *Store) FindNextAnnotated(startIndex int, frameIDs []string) int {
	for i := startIndex + 1; i < len(frameIDs); i++ {
		if s.IsAnnotated(frameIDs[i]) {
			return i
		}
	}
	return -1
}

// FindPrevAnnotated is the backward equivalent of FindNextAnnotated
func (s *Store) FindPrevAnnotated(startIndex int, frameIDs []string) int {
	for i := startIndex - 1; i >= 0; i-- {
		if s.IsAnnotated(frameIDs[i]) {
			return i
		}
	}
	return -1
}
