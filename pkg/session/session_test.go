package session

import (
	"image"
	"path/filepath"
	"testing"

	"github.com/cyclopcam/annotator/pkg/anno"
	"github.com/cyclopcam/annotator/pkg/annostore"
	"github.com/cyclopcam/annotator/pkg/detect"
	"github.com/cyclopcam/annotator/pkg/schema"
	"github.com/cyclopcam/logs"
	"github.com/stretchr/testify/require"
)

// fakeSource serves synthetic frames without touching the filesystem
type fakeSource struct {
	frames []string
	width  int
	height int
}

func (f *fakeSource) Frames() []string {
	return f.frames
}

func (f *fakeSource) Image(frameID string) (image.Image, error) {
	return image.NewRGBA(image.Rect(0, 0, f.width, f.height)), nil
}

func (f *fakeSource) Path(frameID string) string {
	return "/video/" + frameID
}

// fakeDetector returns a canned detection list
type fakeDetector struct {
	classes []string
	dets    []detect.Detection
	err     error
}

func (f *fakeDetector) Close() {}

func (f *fakeDetector) DetectObjects(img image.Image, params *detect.DetectionParams) ([]detect.Detection, error) {
	return f.dets, f.err
}

func (f *fakeDetector) Config() *detect.ModelConfig {
	return &detect.ModelConfig{Architecture: "yolov8", Width: 640, Height: 480, Classes: f.classes}
}

func testSchema() *schema.Schema {
	return &schema.Schema{
		Project:    "test",
		Categories: map[string]string{"1": "Person", "2": "Car"},
		MinArea:    100,
		MaxIOU:     0.5,
	}
}

func newTestSession(t *testing.T, sch *schema.Schema, frames []string, det detect.ObjectDetector, opts Options) (*Session, *annostore.Store) {
	logger := logs.NewTestingLog(t)
	store, err := annostore.Open(logger, filepath.Join(t.TempDir(), "annotations.json"))
	require.NoError(t, err)
	src := &fakeSource{frames: frames, width: 640, height: 480}
	s, err := New(logger, sch, store, src, det, nil, opts)
	require.NoError(t, err)
	return s, store
}

func TestCreateBox(t *testing.T) {
	s, store := newTestSession(t, testSchema(), []string{"1", "2"}, nil, Options{})

	a, err := s.CreateBox(anno.MakeBox(10, 10, 100, 100))
	require.NoError(t, err)
	require.Equal(t, anno.SourceHuman, a.Source)
	require.Nil(t, a.CategoryID)
	require.Equal(t, 0, s.Selection())
	require.True(t, store.IsAnnotated("1"))

	// Too small
	_, err = s.CreateBox(anno.MakeBox(200, 200, 205, 205))
	require.ErrorIs(t, err, anno.ErrBoxTooSmall)

	// Excessive overlap with the first box
	_, err = s.CreateBox(anno.MakeBox(12, 12, 102, 102))
	require.ErrorIs(t, err, anno.ErrBoxOverlap)

	// Entirely outside the frame, degenerate after clamping
	_, err = s.CreateBox(anno.MakeBox(700, 500, 800, 600))
	require.ErrorIs(t, err, anno.ErrBoxDegenerate)

	// Partially outside: clamped, then persisted clamped
	a, err = s.CreateBox(anno.MakeBox(600, 440, 700, 520))
	require.NoError(t, err)
	require.Equal(t, anno.MakeBox(600, 440, 640, 480), a.Box)
	require.Len(t, s.Confirmed(), 2)
}

func TestCreateBoxWithCategoryFilter(t *testing.T) {
	s, _ := newTestSession(t, testSchema(), []string{"1"}, nil, Options{CategoryFilter: "2"})

	a, err := s.CreateBox(anno.MakeBox(10, 10, 100, 100))
	require.NoError(t, err)
	require.Equal(t, "2", *a.CategoryID)
	require.Equal(t, "Car", *a.CategoryName)

	// Assigning outside the filter is rejected
	require.ErrorIs(t, s.SetCategory("1"), ErrUnknownCategory)
	require.NoError(t, s.SetCategory("2"))
}

func TestSelectionCycling(t *testing.T) {
	s, _ := newTestSession(t, testSchema(), []string{"1"}, nil, Options{})

	require.ErrorIs(t, s.SelectNext(), ErrNoSelection)
	require.ErrorIs(t, s.SelectPrevious(), ErrNoSelection)

	for i := 0; i < 3; i++ {
		_, err := s.CreateBox(anno.MakeBox(i*200, 10, i*200+50, 60))
		require.NoError(t, err)
	}
	require.Equal(t, 2, s.Selection())

	require.NoError(t, s.SelectNext())
	require.Equal(t, 0, s.Selection())
	require.NoError(t, s.SelectNext())
	require.Equal(t, 1, s.Selection())
	require.NoError(t, s.SelectPrevious())
	require.Equal(t, 0, s.Selection())
	require.NoError(t, s.SelectPrevious())
	require.Equal(t, 2, s.Selection())
}

func TestCategoryAndSubcategory(t *testing.T) {
	sch := testSchema()
	sch.Subcategories = map[string]string{"i": "start", "m": "middle", "f": "end"}
	s, store := newTestSession(t, sch, []string{"1"}, nil, Options{})

	require.ErrorIs(t, s.SetCategory("1"), ErrNoSelection)

	_, err := s.CreateBox(anno.MakeBox(10, 10, 100, 100))
	require.NoError(t, err)

	require.ErrorIs(t, s.SetCategory("99"), ErrUnknownCategory)
	require.NoError(t, s.SetCategory("1"))
	require.Equal(t, "Person", *s.Confirmed()[0].CategoryName)

	require.ErrorIs(t, s.SetSubcategory("x"), ErrUnknownSubcategory)
	require.NoError(t, s.SetSubcategory("m"))
	require.Equal(t, "middle", *s.Confirmed()[0].SubcategoryName)

	// The assignment is already durable
	rec, ok := store.Frame("1")
	require.True(t, ok)
	require.Equal(t, "m", *rec.Annotations[0].SubcategoryID)

	// Statistics tally by the same ids the schema enumerates
	stats := s.Statistics()
	require.Equal(t, 1, stats.CategoryCounts["1"])
	require.Equal(t, 1, stats.SubcategoryCounts["m"])
	require.Contains(t, s.Schema().CategoryKeys(), "1")
}

func TestDeleteAndClear(t *testing.T) {
	s, store := newTestSession(t, testSchema(), []string{"1"}, nil, Options{})

	require.ErrorIs(t, s.DeleteSelected(), ErrNoSelection)

	for i := 0; i < 3; i++ {
		_, err := s.CreateBox(anno.MakeBox(i*200, 10, i*200+50, 60))
		require.NoError(t, err)
	}

	// Delete the last one; selection falls back to the new last
	require.NoError(t, s.DeleteSelected())
	require.Len(t, s.Confirmed(), 2)
	require.Equal(t, 1, s.Selection())

	require.NoError(t, s.ClearFrame())
	require.Len(t, s.Confirmed(), 0)
	require.Equal(t, -1, s.Selection())

	// The frame record survives as "annotated empty"
	rec, ok := store.Frame("1")
	require.True(t, ok)
	require.Len(t, rec.Annotations, 0)
	require.False(t, store.IsAnnotated("1"))
}

func TestNavigation(t *testing.T) {
	s, _ := newTestSession(t, testSchema(), []string{"1", "2", "3"}, nil, Options{})

	require.NoError(t, s.Navigate(1))
	require.Equal(t, "2", s.FrameID())
	require.ErrorIs(t, s.Navigate(5), ErrNavigationBoundary)
	require.Equal(t, "2", s.FrameID())
	require.ErrorIs(t, s.Navigate(-5), ErrNavigationBoundary)

	// Annotate frame 3, then jump between annotated frames
	require.NoError(t, s.GotoFrame(2))
	_, err := s.CreateBox(anno.MakeBox(10, 10, 100, 100))
	require.NoError(t, err)

	require.NoError(t, s.GotoFrame(0))
	require.NoError(t, s.NextAnnotated())
	require.Equal(t, "3", s.FrameID())
	// Annotated frame auto-selects its first annotation
	require.Equal(t, 0, s.Selection())
	require.ErrorIs(t, s.NextAnnotated(), ErrNavigationBoundary)

	require.NoError(t, s.GotoFrame(1))
	require.ErrorIs(t, s.PrevAnnotated(), ErrNavigationBoundary)
}

func TestAutoSkipNextUnannotated(t *testing.T) {
	s, store := newTestSession(t, testSchema(), []string{"1", "2", "3", "4"}, nil, Options{})

	// Pre-annotate frame 2 so the skip has something to jump over
	require.NoError(t, s.GotoFrame(1))
	_, err := s.CreateBox(anno.MakeBox(10, 10, 100, 100))
	require.NoError(t, err)
	require.NoError(t, s.GotoFrame(0))

	s.SetAutoSkip(AutoSkipNextUnannotated)

	// Creating an uncategorized box does not skip yet
	_, err = s.CreateBox(anno.MakeBox(10, 10, 100, 100))
	require.NoError(t, err)
	require.Equal(t, "1", s.FrameID())

	// Category assignment completes the annotation; skip lands on frame 3,
	// jumping over the already-annotated frame 2
	require.NoError(t, s.SetCategory("1"))
	require.Equal(t, "3", s.FrameID())

	// The annotation was persisted before the skip
	require.True(t, store.IsAnnotated("1"))
}

func TestAutoSkipNextFrame(t *testing.T) {
	s, _ := newTestSession(t, testSchema(), []string{"1", "2"}, nil, Options{CategoryFilter: "1"})
	s.SetAutoSkip(AutoSkipNextFrame)

	// With a category filter the box is created complete, so it skips
	_, err := s.CreateBox(anno.MakeBox(10, 10, 100, 100))
	require.NoError(t, err)
	require.Equal(t, "2", s.FrameID())

	// At the last frame the skip is a no-op
	_, err = s.CreateBox(anno.MakeBox(10, 10, 100, 100))
	require.NoError(t, err)
	require.Equal(t, "2", s.FrameID())
}

func TestRepeatLast(t *testing.T) {
	s, _ := newTestSession(t, testSchema(), []string{"1", "2"}, nil, Options{})

	_, err := s.RepeatLast()
	require.ErrorIs(t, err, ErrNothingToRepeat)

	_, err = s.CreateBox(anno.MakeBox(10, 10, 100, 100))
	require.NoError(t, err)
	require.NoError(t, s.SetCategory("1"))

	require.NoError(t, s.Navigate(1))
	a, err := s.RepeatLast()
	require.NoError(t, err)
	require.Equal(t, anno.MakeBox(10, 10, 100, 100), a.Box)
	// RepeatLast copies the box as created, before category assignment
	require.Nil(t, a.CategoryID)

	// Repeating onto the same frame collides with the copy just made
	_, err = s.RepeatLast()
	require.ErrorIs(t, err, anno.ErrBoxOverlap)
}

func TestApplyFixedBoxes(t *testing.T) {
	sch := testSchema()
	sch.FixedBoxes = []schema.FixedBox{
		{CategoryID: "1", Box: anno.MakeBox(10, 10, 100, 100)},
		{CategoryID: "2", Box: anno.MakeBox(200, 10, 300, 100)},
	}
	s, _ := newTestSession(t, sch, []string{"1"}, nil, Options{})

	n, err := s.ApplyFixedBoxes()
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.Len(t, s.Confirmed(), 2)

	// Idempotent: both categories are already present
	n, err = s.ApplyFixedBoxes()
	require.NoError(t, err)
	require.Equal(t, 0, n)
	require.Len(t, s.Confirmed(), 2)
}

func TestApplyFixedBoxesJitter(t *testing.T) {
	sch := testSchema()
	sch.Jitter = 5
	sch.FixedBoxes = []schema.FixedBox{
		{CategoryID: "1", Box: anno.MakeBox(10, 10, 100, 100)},
	}
	s, _ := newTestSession(t, sch, []string{"1"}, nil, Options{})
	s.jitter = func(n int) int { return n } // deterministic: always +n

	n, err := s.ApplyFixedBoxes()
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, anno.MakeBox(15, 15, 105, 105), s.Confirmed()[0].Box)
}

func TestProposeFiltersAndOrders(t *testing.T) {
	dets := []detect.Detection{
		{Class: 0, Confidence: 0.9, Box: anno.MakeBox(10, 200, 100, 300)},  // Person, lower on screen
		{Class: 0, Confidence: 0.9, Box: anno.MakeBox(10, 10, 100, 100)},   // Person, upper
		{Class: 0, Confidence: 0.1, Box: anno.MakeBox(300, 10, 400, 100)},  // below threshold
		{Class: 1, Confidence: 0.9, Box: anno.MakeBox(300, 10, 400, 100)},  // "bicycle", not in schema
		{Class: 2, Confidence: 0.9, Box: anno.MakeBox(700, 500, 800, 600)}, // outside the frame
	}
	s, store := newTestSession(t, testSchema(), []string{"1"}, nil, Options{})

	n, err := s.Propose([]string{"person", "bicycle", "car"}, dets)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	props := s.Provisional()
	require.Len(t, props, 2)
	// Sorted top-to-bottom
	require.Equal(t, anno.MakeBox(10, 10, 100, 100), props[0].Box)
	require.Equal(t, anno.MakeBox(10, 200, 100, 300), props[1].Box)
	require.Equal(t, anno.SourceInference, props[0].Source)
	require.Equal(t, "1", *props[0].CategoryID)
	require.InDelta(t, 0.9, *props[0].Confidence, 1e-6)
	require.Equal(t, 0, s.ProvisionalSelection())

	// Proposals are not persisted
	require.Equal(t, 0, store.NumFrames())

	// Cancel leaves no trace
	require.NoError(t, s.CancelProvisional())
	require.Len(t, s.Provisional(), 0)
	require.ErrorIs(t, s.CancelProvisional(), ErrNoProvisional)
	require.Equal(t, 0, store.NumFrames())
}

func TestRunInference(t *testing.T) {
	s, _ := newTestSession(t, testSchema(), []string{"1"}, nil, Options{})
	_, err := s.RunInference()
	require.ErrorIs(t, err, detect.ErrInferenceUnavailable)

	det := &fakeDetector{
		classes: []string{"person"},
		dets: []detect.Detection{
			{Class: 0, Confidence: 0.8, Box: anno.MakeBox(10, 10, 100, 100)},
		},
	}
	s, _ = newTestSession(t, testSchema(), []string{"1"}, det, Options{})
	n, err := s.RunInference()
	require.NoError(t, err)
	require.Equal(t, 1, n)

	// A second run replaces the layer rather than appending
	n, err = s.RunInference()
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Len(t, s.Provisional(), 1)
}

func TestConfirmSelected(t *testing.T) {
	s, store := newTestSession(t, testSchema(), []string{"1"}, nil, Options{})

	require.ErrorIs(t, s.ConfirmSelected(), ErrNoProvisional)

	dets := []detect.Detection{
		{Class: 0, Confidence: 0.9, Box: anno.MakeBox(10, 10, 100, 100)},
		{Class: 0, Confidence: 0.9, Box: anno.MakeBox(10, 200, 100, 300)},
	}
	_, err := s.Propose([]string{"person"}, dets)
	require.NoError(t, err)

	require.NoError(t, s.ConfirmSelected())
	require.Len(t, s.Confirmed(), 1)
	require.Len(t, s.Provisional(), 1)
	require.True(t, store.IsAnnotated("1"))

	// Confirming the second proposal, which now overlaps a confirmed box,
	// is rejected and the proposal stays in the layer
	_, err = s.Propose([]string{"person"}, []detect.Detection{
		{Class: 0, Confidence: 0.9, Box: anno.MakeBox(12, 12, 102, 102)},
	})
	require.NoError(t, err)
	require.ErrorIs(t, s.ConfirmSelected(), anno.ErrBoxOverlap)
	require.Len(t, s.Provisional(), 1)
	require.Len(t, s.Confirmed(), 1)
}

func TestConfirmAllFirstWins(t *testing.T) {
	s, store := newTestSession(t, testSchema(), []string{"1"}, nil, Options{})

	// Two mutually overlapping proposals plus one independent one.
	// In spatial order the upper box comes first and wins; the overlapping
	// one is dropped.
	dets := []detect.Detection{
		{Class: 0, Confidence: 0.9, Box: anno.MakeBox(12, 12, 102, 102)},
		{Class: 0, Confidence: 0.9, Box: anno.MakeBox(10, 10, 100, 100)},
		{Class: 0, Confidence: 0.9, Box: anno.MakeBox(10, 300, 100, 400)},
	}
	_, err := s.Propose([]string{"person"}, dets)
	require.NoError(t, err)

	accepted, dropped, err := s.ConfirmAll()
	require.NoError(t, err)
	require.Equal(t, 2, accepted)
	require.Equal(t, 1, dropped)
	require.Len(t, s.Provisional(), 0)
	require.Equal(t, -1, s.ProvisionalSelection())

	confirmed := s.Confirmed()
	require.Len(t, confirmed, 2)
	require.Equal(t, anno.MakeBox(10, 10, 100, 100), confirmed[0].Box)
	require.Equal(t, anno.MakeBox(10, 300, 100, 400), confirmed[1].Box)

	rec, ok := store.Frame("1")
	require.True(t, ok)
	require.Len(t, rec.Annotations, 2)

	_, _, err = s.ConfirmAll()
	require.ErrorIs(t, err, ErrNoProvisional)
}

func TestProvisionalSelectionCycling(t *testing.T) {
	s, _ := newTestSession(t, testSchema(), []string{"1"}, nil, Options{})

	require.ErrorIs(t, s.SelectNextProvisional(), ErrNoProvisional)

	dets := []detect.Detection{
		{Class: 0, Confidence: 0.9, Box: anno.MakeBox(10, 10, 100, 100)},
		{Class: 0, Confidence: 0.9, Box: anno.MakeBox(10, 200, 100, 300)},
	}
	_, err := s.Propose([]string{"person"}, dets)
	require.NoError(t, err)

	require.NoError(t, s.SelectNextProvisional())
	require.Equal(t, 1, s.ProvisionalSelection())
	require.NoError(t, s.SelectNextProvisional())
	require.Equal(t, 0, s.ProvisionalSelection())
	require.NoError(t, s.SelectPrevProvisional())
	require.Equal(t, 1, s.ProvisionalSelection())
}

func TestNavigationDiscardsProvisional(t *testing.T) {
	s, _ := newTestSession(t, testSchema(), []string{"1", "2"}, nil, Options{})

	_, err := s.Propose([]string{"person"}, []detect.Detection{
		{Class: 0, Confidence: 0.9, Box: anno.MakeBox(10, 10, 100, 100)},
	})
	require.NoError(t, err)
	require.Len(t, s.Provisional(), 1)

	require.NoError(t, s.Navigate(1))
	require.Len(t, s.Provisional(), 0)
	require.NoError(t, s.Navigate(-1))
	require.Len(t, s.Provisional(), 0)
}
