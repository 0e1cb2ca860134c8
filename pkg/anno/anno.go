// Package anno holds the annotation data model shared by the store, the
// session engine and the tools. The JSON shape of these types is consumed
// by the upstream video-analytics engine, so field names and null-vs-absent
// semantics must not change.
package anno

import "time"

// Provenance of an annotation
const (
	SourceHuman     = "human"
	SourceInference = "inference"
)

// Annotation is one bounding box on one frame.
// Nullable fields are pointers so that they serialize as JSON null rather
// than being omitted. The upstream engine requires confidence, subcategory_id
// and subcategory_name to be present (and null) even for human annotations.
type Annotation struct {
	Box             Box      `json:"bbox"`
	CategoryID      *string  `json:"category_id"`
	CategoryName    *string  `json:"category_name"`
	Source          string   `json:"annotation_source"`
	Confidence      *float64 `json:"confidence"`
	SubcategoryID   *string  `json:"subcategory_id"`
	SubcategoryName *string  `json:"subcategory_name"`
}

// NewHumanAnnotation creates a human-drawn annotation. categoryID and
// categoryName may be nil: category assignment is a separate, explicit step.
func NewHumanAnnotation(box Box, categoryID, categoryName *string) Annotation {
	return Annotation{
		Box:          box,
		CategoryID:   categoryID,
		CategoryName: categoryName,
		Source:       SourceHuman,
	}
}

// NewInferenceAnnotation creates a model-proposed annotation
func NewInferenceAnnotation(box Box, categoryID, categoryName string, confidence float64) Annotation {
	return Annotation{
		Box:          box,
		CategoryID:   &categoryID,
		CategoryName: &categoryName,
		Source:       SourceInference,
		Confidence:   &confidence,
	}
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// Clone returns a deep copy: the nullable fields are re-pointed so that
// mutating the copy can never reach through to the original.
func (a Annotation) Clone() Annotation {
	c := a
	c.CategoryID = clonePtr(a.CategoryID)
	c.CategoryName = clonePtr(a.CategoryName)
	c.Confidence = clonePtr(a.Confidence)
	c.SubcategoryID = clonePtr(a.SubcategoryID)
	c.SubcategoryName = clonePtr(a.SubcategoryName)
	return c
}

// FrameRecord is the durable record for a single frame.
// A frame that has ever been touched keeps its record even if all of its
// annotations are later removed, so "annotated empty" is distinguishable
// from "never visited". Frames that were never touched have no record.
type FrameRecord struct {
	Annotations  []Annotation `json:"annotations"`
	OriginalPath string       `json:"original_path"`
	CreatedAt    string       `json:"created_at_iso"`
	UpdatedAt    string       `json:"updated_at_iso"`
}

// Clone returns a deep copy of the record
func (f *FrameRecord) Clone() FrameRecord {
	c := *f
	c.Annotations = make([]Annotation, len(f.Annotations))
	for i, a := range f.Annotations {
		c.Annotations[i] = a.Clone()
	}
	return c
}

// ISOTime formats a timestamp the way the upstream engine expects
// (created_at_iso / updated_at_iso).
func ISOTime(t time.Time) string {
	return t.Format(time.RFC3339)
}
