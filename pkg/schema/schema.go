// Package schema loads the per-project category schema. The schema is read
// once at session start and is immutable for the lifetime of the session.
package schema

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/cyclopcam/annotator/pkg/anno"
	"gopkg.in/yaml.v3"
)

// Defaults used when a project does not override them
const (
	DefaultMinArea       = 100
	DefaultMaxIOU        = 0.5
	DefaultAutoSkipDelay = 300 * time.Millisecond
)

// Subcategory ids are a small fixed set of phase markers
const (
	SubcategoryStart  = "i"
	SubcategoryMiddle = "m"
	SubcategoryEnd    = "f"
)

// FixedBox is a project-defined standard box template that can be inserted
// on demand (one per category id).
type FixedBox struct {
	CategoryID string
	Box        anno.Box
}

// Schema is the validated, strongly-typed category schema of one project
type Schema struct {
	Project       string
	Categories    map[string]string   // numeric-string key -> category name
	Subcategories map[string]string   // phase marker ("i"/"m"/"f") -> name
	Colors        map[string][3]uint8 // category id -> RGB display color
	FixedBoxes    []FixedBox
	MinArea       int
	MaxIOU        float32
	AutoSkipDelay time.Duration
	Jitter        int // random +- offset applied to fixed box coordinates (0 = exact)
}

// On-disk YAML shape
type schemaFile struct {
	Project       string              `yaml:"project"`
	Categories    map[string]string   `yaml:"categories"`
	Subcategories map[string]string   `yaml:"subcategories"`
	Colors        map[string][]uint8  `yaml:"colors"`
	Annotation    struct {
		MinArea       int     `yaml:"min_area"`
		MaxIOU        float32 `yaml:"max_iou"`
		AutoSkipDelay string  `yaml:"auto_skip_delay"`
		Jitter        int     `yaml:"jitter"`
		FixedBoxes    []struct {
			Category string `yaml:"category"`
			BBox     []int  `yaml:"bbox"`
		} `yaml:"fixed_boxes"`
	} `yaml:"annotation"`
}

// Load reads and validates a project schema file.
// Validation failures reject the session start; an invalid schema must never
// surface later, in the middle of an edit.
func Load(filename string) (*Schema, error) {
	raw, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("Failed to read schema file '%v': %w", filename, err)
	}
	sf := schemaFile{}
	if err := yaml.Unmarshal(raw, &sf); err != nil {
		return nil, fmt.Errorf("Failed to parse schema file '%v': %w", filename, err)
	}
	if len(sf.Categories) == 0 {
		return nil, fmt.Errorf("Schema '%v' defines no categories", filename)
	}

	s := &Schema{
		Project:       sf.Project,
		Categories:    sf.Categories,
		Subcategories: sf.Subcategories,
		Colors:        map[string][3]uint8{},
		MinArea:       sf.Annotation.MinArea,
		MaxIOU:        sf.Annotation.MaxIOU,
		Jitter:        sf.Annotation.Jitter,
	}
	if sf.Annotation.AutoSkipDelay != "" {
		delay, err := time.ParseDuration(sf.Annotation.AutoSkipDelay)
		if err != nil {
			return nil, fmt.Errorf("Schema '%v': invalid auto_skip_delay '%v': %w", filename, sf.Annotation.AutoSkipDelay, err)
		}
		s.AutoSkipDelay = delay
	}
	if s.MinArea <= 0 {
		s.MinArea = DefaultMinArea
	}
	if s.MaxIOU <= 0 {
		s.MaxIOU = DefaultMaxIOU
	}
	if s.AutoSkipDelay <= 0 {
		s.AutoSkipDelay = DefaultAutoSkipDelay
	}

	for id, rgb := range sf.Colors {
		if !s.HasCategory(id) {
			return nil, fmt.Errorf("Schema '%v': color refers to unknown category '%v'", filename, id)
		}
		if len(rgb) != 3 {
			return nil, fmt.Errorf("Schema '%v': color for category '%v' must have 3 components", filename, id)
		}
		s.Colors[id] = [3]uint8{rgb[0], rgb[1], rgb[2]}
	}

	for i, fb := range sf.Annotation.FixedBoxes {
		if !s.HasCategory(fb.Category) {
			return nil, fmt.Errorf("Schema '%v': fixed box %v refers to unknown category '%v'", filename, i, fb.Category)
		}
		if len(fb.BBox) != 4 {
			return nil, fmt.Errorf("Schema '%v': fixed box %v must have 4 coordinates", filename, i)
		}
		box := anno.MakeBox(fb.BBox[0], fb.BBox[1], fb.BBox[2], fb.BBox[3]).Canon()
		if box.Area() == 0 {
			return nil, fmt.Errorf("Schema '%v': fixed box %v is degenerate", filename, i)
		}
		s.FixedBoxes = append(s.FixedBoxes, FixedBox{CategoryID: fb.Category, Box: box})
	}

	for id := range s.Subcategories {
		if id != SubcategoryStart && id != SubcategoryMiddle && id != SubcategoryEnd {
			return nil, fmt.Errorf("Schema '%v': unknown subcategory phase marker '%v'", filename, id)
		}
	}

	return s, nil
}

func (s *Schema) HasCategory(id string) bool {
	_, ok := s.Categories[id]
	return ok
}

// CategoryName returns the display name of a category id
func (s *Schema) CategoryName(id string) (string, bool) {
	name, ok := s.Categories[id]
	return name, ok
}

func (s *Schema) SubcategoryName(id string) (string, bool) {
	name, ok := s.Subcategories[id]
	return name, ok
}

// CategoryIDByName does a case-insensitive reverse lookup, used when mapping
// detector class names onto the project's categories.
func (s *Schema) CategoryIDByName(name string) (string, bool) {
	for id, n := range s.Categories {
		if strings.EqualFold(n, name) {
			return id, true
		}
	}
	return "", false
}

// CategoryKeys returns the category ids in numeric order
func (s *Schema) CategoryKeys() []string {
	keys := make([]string, 0, len(s.Categories))
	for id := range s.Categories {
		keys = append(keys, id)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, errA := strconv.Atoi(keys[i])
		b, errB := strconv.Atoi(keys[j])
		if errA != nil || errB != nil {
			return keys[i] < keys[j]
		}
		return a < b
	})
	return keys
}
