package annostore

// Stats summarizes the contents of the store
type Stats struct {
	TotalFrames       int            // Frame records in the store (visited frames)
	FramesWithBoxes   int            // Frames with at least one annotation
	TotalAnnotations  int            // Individual annotations across all frames
	CategoryCounts    map[string]int // Category id -> count
	SubcategoryCounts map[string]int // Subcategory id -> count
}

// Statistics walks the store and tallies annotation counts.
// Counts are keyed by category/subcategory id, matching the schema's keys;
// display names are resolved by the caller.
func (s *Store) Statistics() Stats {
	stats := Stats{
		CategoryCounts:    map[string]int{},
		SubcategoryCounts: map[string]int{},
	}
	for _, rec := range s.frames {
		stats.TotalFrames++
		if len(rec.Annotations) == 0 {
			continue
		}
		stats.FramesWithBoxes++
		stats.TotalAnnotations += len(rec.Annotations)
		for _, a := range rec.Annotations {
			if a.CategoryID != nil {
				stats.CategoryCounts[*a.CategoryID]++
			}
			if a.SubcategoryID != nil {
				stats.SubcategoryCounts[*a.SubcategoryID]++
			}
		}
	}
	return stats
}
