package session

import (
	"fmt"
	"sort"

	"github.com/cyclopcam/annotator/pkg/anno"
	"github.com/cyclopcam/annotator/pkg/detect"
	"github.com/cyclopcam/annotator/pkg/eventlog"
)

// RunInference runs the session's detector on the current frame and replaces
// the provisional layer with the resulting proposals. Returns the number of
// proposals. The store is not touched.
func (s *Session) RunInference() (int, error) {
	if s.detector == nil {
		return 0, detect.ErrInferenceUnavailable
	}
	img, err := s.source.Image(s.FrameID())
	if err != nil {
		return 0, fmt.Errorf("Failed to read frame %v: %w", s.FrameID(), err)
	}
	params := detect.NewDetectionParams()
	if s.opts.Confidence > 0 {
		params.ConfidenceThreshold = s.opts.Confidence
	}
	dets, err := s.detector.DetectObjects(img, params)
	if err != nil {
		return 0, fmt.Errorf("Inference failed on frame %v: %w", s.FrameID(), err)
	}
	return s.Propose(s.detector.Config().Classes, dets)
}

// Propose reconciles raw detections into the provisional layer, replacing
// whatever proposals were there before. classes maps detection class indices
// to class names.
//
// A detection survives reconciliation when it clears the confidence
// threshold, its class name maps onto a schema category (case-insensitive),
// it passes the session's category filter, and its box still has positive
// area after clamping to the frame. Overlap with confirmed boxes is NOT
// checked here; that happens at confirmation, against the confirmed set as
// it stands then.
//
// Proposals are ordered top-to-bottom, then left-to-right, so that
// confirm-all processes them in a stable spatial order.
func (s *Session) Propose(classes []string, dets []detect.Detection) (int, error) {
	width, height, err := s.frameSize()
	if err != nil {
		return 0, fmt.Errorf("Failed to read frame %v: %w", s.FrameID(), err)
	}
	threshold := s.opts.Confidence
	if threshold <= 0 {
		threshold = detect.DefaultConfidenceThreshold
	}

	proposals := []anno.Annotation{}
	for _, det := range dets {
		if det.Confidence < threshold {
			continue
		}
		if det.Class < 0 || det.Class >= len(classes) {
			s.log.Warnf("Detection on frame %v has class %v outside the model's %v classes, ignoring", s.FrameID(), det.Class, len(classes))
			continue
		}
		categoryID, ok := s.schema.CategoryIDByName(classes[det.Class])
		if !ok {
			continue
		}
		if s.opts.CategoryFilter != "" && categoryID != s.opts.CategoryFilter {
			continue
		}
		box := det.Box.Canon().Clamp(width, height)
		if box.IsDegenerate() {
			continue
		}
		name, _ := s.schema.CategoryName(categoryID)
		proposals = append(proposals, anno.NewInferenceAnnotation(box, categoryID, name, float64(det.Confidence)))
	}
	sort.SliceStable(proposals, func(i, j int) bool {
		a, b := proposals[i].Box, proposals[j].Box
		if a.Y1 != b.Y1 {
			return a.Y1 < b.Y1
		}
		return a.X1 < b.X1
	})

	s.provisional = proposals
	if len(proposals) > 0 {
		s.provisionalSel = 0
	} else {
		s.provisionalSel = -1
	}
	return len(proposals), nil
}

// SelectNextProvisional cycles the provisional selection forwards
func (s *Session) SelectNextProvisional() error {
	if len(s.provisional) == 0 {
		s.provisionalSel = -1
		return ErrNoProvisional
	}
	s.provisionalSel = (s.provisionalSel + 1) % len(s.provisional)
	return nil
}

// SelectPrevProvisional cycles the provisional selection backwards
func (s *Session) SelectPrevProvisional() error {
	if len(s.provisional) == 0 {
		s.provisionalSel = -1
		return ErrNoProvisional
	}
	if s.provisionalSel <= 0 {
		s.provisionalSel = len(s.provisional) - 1
	} else {
		s.provisionalSel--
	}
	return nil
}

// ConfirmSelected promotes the selected provisional annotation into the
// confirmed set. The promoted box is validated against the confirmed boxes
// as they stand now, so a proposal that was fine at propose time can be
// rejected here. On rejection the proposal stays in the layer.
func (s *Session) ConfirmSelected() error {
	if s.provisionalSel < 0 || s.provisionalSel >= len(s.provisional) {
		return ErrNoProvisional
	}
	width, height, err := s.frameSize()
	if err != nil {
		return fmt.Errorf("Failed to read frame %v: %w", s.FrameID(), err)
	}
	candidate := s.provisional[s.provisionalSel]
	clamped, err := anno.ValidateBox(candidate.Box, s.confirmedBoxes(), width, height, s.schema.MinArea, s.schema.MaxIOU)
	if err != nil {
		return err
	}
	candidate.Box = clamped

	if err := s.setConfirmed(append(s.Confirmed(), candidate)); err != nil {
		return err
	}
	s.provisional = append(s.provisional[:s.provisionalSel], s.provisional[s.provisionalSel+1:]...)
	if s.provisionalSel >= len(s.provisional) {
		s.provisionalSel = len(s.provisional) - 1
	}
	s.selection = len(s.confirmed) - 1
	s.recordEvent(eventlog.ActionConfirmed, &candidate)
	s.maybeAutoSkip(candidate)
	return nil
}

// ConfirmAll promotes every provisional annotation that validates, in the
// layer's spatial order, and discards the rest. Earlier promotions count as
// confirmed boxes when validating later ones, so of two mutually overlapping
// proposals the first in spatial order wins. The whole batch is persisted as
// a single store write.
//
// Returns the number accepted and the number dropped. The provisional layer
// is consumed either way.
func (s *Session) ConfirmAll() (int, int, error) {
	if len(s.provisional) == 0 {
		return 0, 0, ErrNoProvisional
	}
	width, height, err := s.frameSize()
	if err != nil {
		return 0, 0, fmt.Errorf("Failed to read frame %v: %w", s.FrameID(), err)
	}

	next := s.Confirmed()
	boxes := s.confirmedBoxes()
	accepted := []anno.Annotation{}
	dropped := 0
	for _, candidate := range s.provisional {
		clamped, err := anno.ValidateBox(candidate.Box, boxes, width, height, s.schema.MinArea, s.schema.MaxIOU)
		if err != nil {
			dropped++
			continue
		}
		candidate.Box = clamped
		next = append(next, candidate)
		boxes = append(boxes, clamped)
		accepted = append(accepted, candidate)
	}

	if len(accepted) > 0 {
		if err := s.setConfirmed(next); err != nil {
			return 0, 0, err
		}
		s.selection = len(s.confirmed) - 1
	}
	s.provisional = nil
	s.provisionalSel = -1
	for i := range accepted {
		s.recordEvent(eventlog.ActionConfirmed, &accepted[i])
	}
	if len(accepted) > 0 {
		s.maybeAutoSkip(accepted[len(accepted)-1])
	}
	return len(accepted), dropped, nil
}

// CancelProvisional discards the provisional layer. The store is untouched;
// cancelling after a run of inference leaves no trace.
func (s *Session) CancelProvisional() error {
	if len(s.provisional) == 0 {
		return ErrNoProvisional
	}
	s.provisional = nil
	s.provisionalSel = -1
	return nil
}
