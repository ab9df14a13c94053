package corelist

import (
	"fmt"
)

// reverse maps from identifier to current position. Built once per snapshot
// during validation and read-only afterwards, so lookups between updates
// need no locking.
type snapshotIndex struct {
	// section id -> section index
	sectionIndexes map[Id]int
	// element id -> path
	elementPaths map[Id]Path
}

// building the index doubles as the uniqueness precondition check:
// section ids unique among sections, element ids unique among all elements
// of the snapshot
func newSnapshotIndex(sections []Section) (*snapshotIndex, error) {
	sectionIndexes := map[Id]int{}
	elementPaths := map[Id]Path{}
	for i, section := range sections {
		if j, ok := sectionIndexes[section.Id]; ok {
			return nil, fmt.Errorf("duplicate section id %s at indexes %d and %d", section.Id, j, i)
		}
		sectionIndexes[section.Id] = i
		for k, element := range section.Elements {
			path := Path{Section: i, Element: k}
			if previousPath, ok := elementPaths[element.Id]; ok {
				return nil, fmt.Errorf("duplicate element id %s at %s and %s", element.Id, previousPath, path)
			}
			elementPaths[element.Id] = path
		}
	}
	return &snapshotIndex{
		sectionIndexes: sectionIndexes,
		elementPaths:   elementPaths,
	}, nil
}
