package session

import (
	"fmt"

	"github.com/cyclopcam/annotator/pkg/anno"
	"github.com/cyclopcam/annotator/pkg/eventlog"
)

// CreateBox validates a drawn box against the current frame and appends it
// as a confirmed human annotation. The stored box is the clamped one, which
// may differ from the input. The new annotation becomes the selection.
//
// The category is pre-filled from the session's category filter if one is
// set, otherwise the box starts uncategorized.
func (s *Session) CreateBox(box anno.Box) (anno.Annotation, error) {
	width, height, err := s.frameSize()
	if err != nil {
		return anno.Annotation{}, fmt.Errorf("Failed to read frame %v: %w", s.FrameID(), err)
	}
	clamped, err := anno.ValidateBox(box, s.confirmedBoxes(), width, height, s.schema.MinArea, s.schema.MaxIOU)
	if err != nil {
		return anno.Annotation{}, err
	}

	var catID, catName *string
	if s.opts.CategoryFilter != "" {
		name, _ := s.schema.CategoryName(s.opts.CategoryFilter)
		id := s.opts.CategoryFilter
		catID, catName = &id, &name
	}
	a := anno.NewHumanAnnotation(clamped, catID, catName)

	if err := s.setConfirmed(append(s.Confirmed(), a)); err != nil {
		return anno.Annotation{}, err
	}
	s.selection = len(s.confirmed) - 1
	last := a.Clone()
	s.lastCreated = &last
	s.recordEvent(eventlog.ActionCreated, &a)
	s.maybeAutoSkip(a)
	return a, nil
}

// SetCategory assigns a category to the selected confirmed annotation.
// Assigning the category that is already set is a no-op that still succeeds.
func (s *Session) SetCategory(categoryID string) error {
	if s.selection < 0 || s.selection >= len(s.confirmed) {
		return ErrNoSelection
	}
	name, ok := s.schema.CategoryName(categoryID)
	if !ok {
		return fmt.Errorf("%w: '%v'", ErrUnknownCategory, categoryID)
	}
	if s.opts.CategoryFilter != "" && categoryID != s.opts.CategoryFilter {
		return fmt.Errorf("%w: category '%v' is outside the session filter '%v'", ErrUnknownCategory, categoryID, s.opts.CategoryFilter)
	}

	next := s.Confirmed()
	id := categoryID
	n := name
	next[s.selection].CategoryID = &id
	next[s.selection].CategoryName = &n
	if err := s.setConfirmed(next); err != nil {
		return err
	}
	edited := s.confirmed[s.selection]
	s.recordEvent(eventlog.ActionCategory, &edited)
	s.maybeAutoSkip(edited)
	return nil
}

// SetSubcategory assigns a phase marker ("i"/"m"/"f") to the selected
// confirmed annotation. Only meaningful once a category is set, but we allow
// it either way; the marker rides along with the annotation.
func (s *Session) SetSubcategory(subcategoryID string) error {
	if s.selection < 0 || s.selection >= len(s.confirmed) {
		return ErrNoSelection
	}
	name, ok := s.schema.SubcategoryName(subcategoryID)
	if !ok {
		return fmt.Errorf("%w: '%v'", ErrUnknownSubcategory, subcategoryID)
	}

	next := s.Confirmed()
	id := subcategoryID
	n := name
	next[s.selection].SubcategoryID = &id
	next[s.selection].SubcategoryName = &n
	if err := s.setConfirmed(next); err != nil {
		return err
	}
	s.maybeAutoSkip(s.confirmed[s.selection])
	return nil
}

// DeleteSelected removes the selected confirmed annotation.
// After deletion the selection moves to the previous annotation, or clears
// if the frame is now empty.
func (s *Session) DeleteSelected() error {
	if s.selection < 0 || s.selection >= len(s.confirmed) {
		return ErrNoSelection
	}
	deleted := s.confirmed[s.selection]
	next := s.Confirmed()
	next = append(next[:s.selection], next[s.selection+1:]...)
	if err := s.setConfirmed(next); err != nil {
		return err
	}
	if s.selection >= len(s.confirmed) {
		s.selection = len(s.confirmed) - 1
	}
	s.recordEvent(eventlog.ActionDeleted, &deleted)
	return nil
}

// ClearFrame removes every confirmed annotation from the current frame
func (s *Session) ClearFrame() error {
	if len(s.confirmed) == 0 {
		return nil
	}
	if err := s.setConfirmed([]anno.Annotation{}); err != nil {
		return err
	}
	s.selection = -1
	s.recordEvent(eventlog.ActionCleared, nil)
	return nil
}

// RepeatLast re-creates the most recently created box (same geometry and
// category) on the current frame. The copy goes through full validation, so
// it can fail against this frame's existing boxes or dimensions.
func (s *Session) RepeatLast() (anno.Annotation, error) {
	if s.lastCreated == nil {
		return anno.Annotation{}, ErrNothingToRepeat
	}
	width, height, err := s.frameSize()
	if err != nil {
		return anno.Annotation{}, fmt.Errorf("Failed to read frame %v: %w", s.FrameID(), err)
	}
	clamped, err := anno.ValidateBox(s.lastCreated.Box, s.confirmedBoxes(), width, height, s.schema.MinArea, s.schema.MaxIOU)
	if err != nil {
		return anno.Annotation{}, err
	}
	a := s.lastCreated.Clone()
	a.Box = clamped
	if err := s.setConfirmed(append(s.Confirmed(), a)); err != nil {
		return anno.Annotation{}, err
	}
	s.selection = len(s.confirmed) - 1
	s.recordEvent(eventlog.ActionCreated, &a)
	s.maybeAutoSkip(a)
	return a, nil
}

// ApplyFixedBoxes inserts the schema's fixed box templates into the current
// frame and returns the number inserted. Idempotent per category: a template
// whose category already has a box on the frame is skipped. Jitter, when
// configured, perturbs each inserted box by up to +-Jitter pixels per edge.
func (s *Session) ApplyFixedBoxes() (int, error) {
	if len(s.schema.FixedBoxes) == 0 {
		return 0, nil
	}
	width, height, err := s.frameSize()
	if err != nil {
		return 0, fmt.Errorf("Failed to read frame %v: %w", s.FrameID(), err)
	}

	present := map[string]bool{}
	for _, a := range s.confirmed {
		if a.CategoryID != nil {
			present[*a.CategoryID] = true
		}
	}

	next := s.Confirmed()
	inserted := []anno.Annotation{}
	for _, fb := range s.schema.FixedBoxes {
		if present[fb.CategoryID] {
			continue
		}
		box := fb.Box
		if s.schema.Jitter > 0 {
			box = anno.MakeBox(
				box.X1+s.jitter(s.schema.Jitter),
				box.Y1+s.jitter(s.schema.Jitter),
				box.X2+s.jitter(s.schema.Jitter),
				box.Y2+s.jitter(s.schema.Jitter)).Canon()
		}
		box = box.Clamp(width, height)
		if box.Area() < s.schema.MinArea {
			// Jitter or clamping degraded the template below the size floor.
			// Fall back to the exact template.
			box = fb.Box.Clamp(width, height)
		}
		name, _ := s.schema.CategoryName(fb.CategoryID)
		id := fb.CategoryID
		a := anno.NewHumanAnnotation(box, &id, &name)
		next = append(next, a)
		inserted = append(inserted, a)
		present[fb.CategoryID] = true
	}
	if len(inserted) == 0 {
		return 0, nil
	}
	if err := s.setConfirmed(next); err != nil {
		return 0, err
	}
	s.selection = len(s.confirmed) - 1
	for i := range inserted {
		s.recordEvent(eventlog.ActionFixed, &inserted[i])
	}
	return len(inserted), nil
}

// maybeAutoSkip fires the auto-skip only when the triggering annotation is
// fully specified: a box with a category, and a subcategory too when the
// schema defines subcategories.
func (s *Session) maybeAutoSkip(a anno.Annotation) {
	if s.skipMode == AutoSkipOff {
		return
	}
	if a.CategoryID == nil {
		return
	}
	if len(s.schema.Subcategories) > 0 && a.SubcategoryID == nil {
		return
	}
	s.autoSkip()
}
