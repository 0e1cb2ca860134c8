// Package session is the stateful annotation engine: it owns the session
// cursor, the working copy of the current frame's confirmed annotations, and
// the provisional layer of model-proposed boxes. It is the sole writer of
// store data during a session.
//
// All mutating operations are synchronous. An operation persists its change
// through the store before it reports success; on a persistence failure the
// in-memory model is rolled back, so memory never diverges from disk.
package session

import (
	"errors"
	"fmt"
	"math/rand"

	"github.com/cyclopcam/annotator/pkg/anno"
	"github.com/cyclopcam/annotator/pkg/annostore"
	"github.com/cyclopcam/annotator/pkg/detect"
	"github.com/cyclopcam/annotator/pkg/eventlog"
	"github.com/cyclopcam/annotator/pkg/framesource"
	"github.com/cyclopcam/annotator/pkg/schema"
	"github.com/cyclopcam/logs"
)

// AutoSkipMode controls automatic frame advance after a qualifying edit
type AutoSkipMode int

const (
	AutoSkipOff AutoSkipMode = iota
	AutoSkipNextFrame       // advance to the next frame
	AutoSkipNextUnannotated // advance to the next frame with zero annotations (falls back to +1)
)

// DisplayMode is the overlay verbosity the renderer should use. The engine
// only stores it; rendering happens elsewhere.
type DisplayMode int

const (
	DisplayFull DisplayMode = iota
	DisplayNoOverlays
	DisplayBoxesOnly
)

// Recoverable error kinds, surfaced as structured results, never as process
// termination. Persistence and store-corruption errors propagate instead.
var (
	ErrNoFrames           = errors.New("no frames to annotate")
	ErrNoSelection        = errors.New("no selection")
	ErrNoProvisional      = errors.New("no provisional annotations")
	ErrNothingToRepeat    = errors.New("no box to repeat")
	ErrNavigationBoundary = errors.New("no matching frame")
	ErrUnknownCategory    = errors.New("unknown category")
	ErrUnknownSubcategory = errors.New("unknown subcategory")
)

// Options are per-session settings that are not part of the project schema
type Options struct {
	CategoryFilter string  // Category id. When set, created/proposed boxes are restricted to this category ("" = no filter)
	Confidence     float32 // Inference confidence threshold. Zero value uses detect.DefaultConfidenceThreshold
}

// Session processes one semantic intent at a time to completion.
// Single-threaded by design: no background goroutine may touch it.
type Session struct {
	log      logs.Log
	schema   *schema.Schema
	store    *annostore.Store
	source   framesource.FrameSource
	detector detect.ObjectDetector // may be nil (inference unavailable)
	events   *eventlog.EventLog    // may be nil (audit trail disabled)
	opts     Options

	frames    []string
	cursor    int
	selection int // index into confirmed, -1 = none

	// Working copy of the current frame's confirmed annotations.
	// Committed back through the store on every confirmed mutation.
	confirmed []anno.Annotation

	// Provisional layer: proposed boxes not yet written to the store
	provisional    []anno.Annotation
	provisionalSel int

	skipMode    AutoSkipMode
	displayMode DisplayMode

	lastCreated *anno.Annotation // most recently created confirmed box, cross-frame

	jitter func(n int) int // fixed-box jitter source, swappable in tests
}

// New builds a session over the given project.
// detector and events may be nil; the session then runs without inference
// or without the audit trail respectively.
func New(log logs.Log, sch *schema.Schema, store *annostore.Store, source framesource.FrameSource, detector detect.ObjectDetector, events *eventlog.EventLog, opts Options) (*Session, error) {
	if opts.CategoryFilter != "" && !sch.HasCategory(opts.CategoryFilter) {
		return nil, fmt.Errorf("%w: category filter '%v'", ErrUnknownCategory, opts.CategoryFilter)
	}
	frames := source.Frames()
	if len(frames) == 0 {
		return nil, ErrNoFrames
	}
	s := &Session{
		log:      log,
		schema:   sch,
		store:    store,
		source:   source,
		detector: detector,
		events:   events,
		opts:     opts,
		frames:   frames,
		jitter:   func(n int) int { return rand.Intn(2*n+1) - n },
	}
	s.loadFrame(0)
	return s, nil
}

// FrameID returns the id of the current frame
func (s *Session) FrameID() string {
	return s.frames[s.cursor]
}

func (s *Session) Cursor() int {
	return s.cursor
}

func (s *Session) NumFrames() int {
	return len(s.frames)
}

// Confirmed returns a copy of the current frame's confirmed annotations
func (s *Session) Confirmed() []anno.Annotation {
	return append([]anno.Annotation{}, s.confirmed...)
}

// Provisional returns a copy of the provisional layer
func (s *Session) Provisional() []anno.Annotation {
	return append([]anno.Annotation{}, s.provisional...)
}

// Selection returns the index of the selected confirmed annotation (-1 = none)
func (s *Session) Selection() int {
	return s.selection
}

// ProvisionalSelection returns the index of the selected provisional
// annotation (-1 = none)
func (s *Session) ProvisionalSelection() int {
	return s.provisionalSel
}

func (s *Session) AutoSkip() AutoSkipMode {
	return s.skipMode
}

func (s *Session) SetAutoSkip(mode AutoSkipMode) {
	s.skipMode = mode
}

func (s *Session) DisplayMode() DisplayMode {
	return s.displayMode
}

// CycleDisplayMode steps full -> no overlays -> boxes only -> full
func (s *Session) CycleDisplayMode() DisplayMode {
	s.displayMode = (s.displayMode + 1) % 3
	return s.displayMode
}

// Schema returns the immutable project schema
func (s *Session) Schema() *schema.Schema {
	return s.schema
}

// Statistics reports store-wide annotation counts
func (s *Session) Statistics() annostore.Stats {
	return s.store.Statistics()
}

// loadFrame moves the cursor and rebuilds per-frame state: the provisional
// layer is discarded, the working copy reloads from the store, and the first
// annotation is auto-selected if the frame has any.
func (s *Session) loadFrame(index int) {
	s.cursor = index
	s.provisional = nil
	s.provisionalSel = -1
	s.confirmed = nil
	if rec, ok := s.store.Frame(s.frames[index]); ok {
		s.confirmed = rec.Annotations
	}
	if len(s.confirmed) > 0 {
		s.selection = 0
	} else {
		s.selection = -1
	}
}

// Navigate moves the cursor by delta frames
func (s *Session) Navigate(delta int) error {
	return s.GotoFrame(s.cursor + delta)
}

// GotoFrame moves the cursor to an absolute frame index
func (s *Session) GotoFrame(index int) error {
	if index < 0 || index >= len(s.frames) {
		return fmt.Errorf("%w: frame index %v out of range 0..%v", ErrNavigationBoundary, index, len(s.frames)-1)
	}
	s.loadFrame(index)
	return nil
}

// NextAnnotated moves to the nearest following frame that has annotations.
// The cursor is unchanged if there is none (no wrap-around).
func (s *Session) NextAnnotated() error {
	idx := s.store.FindNextAnnotated(s.cursor, s.frames)
	if idx < 0 {
		return fmt.Errorf("%w: no annotated frame after %v", ErrNavigationBoundary, s.FrameID())
	}
	s.loadFrame(idx)
	return nil
}

// PrevAnnotated moves to the nearest preceding frame that has annotations
func (s *Session) PrevAnnotated() error {
	idx := s.store.FindPrevAnnotated(s.cursor, s.frames)
	if idx < 0 {
		return fmt.Errorf("%w: no annotated frame before %v", ErrNavigationBoundary, s.FrameID())
	}
	s.loadFrame(idx)
	return nil
}

// SelectNext cycles the selection through the confirmed annotations
func (s *Session) SelectNext() error {
	if len(s.confirmed) == 0 {
		s.selection = -1
		return ErrNoSelection
	}
	s.selection = (s.selection + 1) % len(s.confirmed)
	return nil
}

// SelectPrevious cycles the selection backwards
func (s *Session) SelectPrevious() error {
	if len(s.confirmed) == 0 {
		s.selection = -1
		return ErrNoSelection
	}
	if s.selection <= 0 {
		s.selection = len(s.confirmed) - 1
	} else {
		s.selection--
	}
	return nil
}

// frameSize returns the pixel dimensions of the current frame
func (s *Session) frameSize() (int, int, error) {
	img, err := s.source.Image(s.FrameID())
	if err != nil {
		return 0, 0, err
	}
	bounds := img.Bounds()
	return bounds.Dx(), bounds.Dy(), nil
}

func (s *Session) confirmedBoxes() []anno.Box {
	boxes := make([]anno.Box, len(s.confirmed))
	for i, a := range s.confirmed {
		boxes[i] = a.Box
	}
	return boxes
}

// commit writes the working copy through to the store
func (s *Session) commit() error {
	return s.store.UpsertFrame(s.FrameID(), s.confirmed, s.source.Path(s.FrameID()))
}

// setConfirmed replaces the working copy and commits, rolling back the
// in-memory copy if persistence fails
func (s *Session) setConfirmed(annotations []anno.Annotation) error {
	prev := s.confirmed
	s.confirmed = annotations
	if err := s.commit(); err != nil {
		s.confirmed = prev
		return err
	}
	return nil
}

func (s *Session) recordEvent(action string, a *anno.Annotation) {
	if s.events == nil {
		return
	}
	source, categoryID := "", ""
	var box *anno.Box
	if a != nil {
		source = a.Source
		if a.CategoryID != nil {
			categoryID = *a.CategoryID
		}
		box = &a.Box
	}
	s.events.Record(s.FrameID(), action, source, categoryID, box)
}

// autoSkip advances the cursor according to the auto-skip mode. Only called
// after the triggering mutation has been durably persisted.
func (s *Session) autoSkip() {
	switch s.skipMode {
	case AutoSkipNextFrame:
		if s.cursor < len(s.frames)-1 {
			s.loadFrame(s.cursor + 1)
		}
	case AutoSkipNextUnannotated:
		for i := s.cursor + 1; i < len(s.frames); i++ {
			if !s.store.IsAnnotated(s.frames[i]) {
				s.loadFrame(i)
				return
			}
		}
		if s.cursor < len(s.frames)-1 {
			s.loadFrame(s.cursor + 1)
		}
	}
}
