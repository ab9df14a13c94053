package corelist

import (
	"fmt"
	"reflect"
	"strings"
)

// one record entry in a section. The payload is an opaque content token
// compared with `DiffSettings.PayloadEqual` to detect updated elements.
type Element struct {
	Id      Id
	Payload any
}

func NewElement(id Id, payload any) Element {
	return Element{
		Id:      id,
		Payload: payload,
	}
}

// section identity is independent of its element contents. A section with
// the same id but different metadata is an updated section.
type Section struct {
	Id       Id
	Metadata any
	Elements []Element
}

func NewSection(id Id, metadata any, elements ...Element) Section {
	return Section{
		Id:       id,
		Metadata: metadata,
		Elements: elements,
	}
}

// immutable ordered sections-of-elements value representing one
// point-in-time list state. The zero value is a valid empty snapshot.
// Section ids must be unique among sections, and element ids must be unique
// among all elements of the snapshot, since elements may move across
// sections.
type Snapshot struct {
	sections []Section
	index    *snapshotIndex
}

func NewSnapshot(sections []Section) (Snapshot, error) {
	copied := make([]Section, len(sections))
	for i, section := range sections {
		copied[i] = Section{
			Id:       section.Id,
			Metadata: section.Metadata,
			Elements: append([]Element{}, section.Elements...),
		}
	}
	index, err := newSnapshotIndex(copied)
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{
		sections: copied,
		index:    index,
	}, nil
}

func RequireSnapshot(sections ...Section) Snapshot {
	snapshot, err := NewSnapshot(sections)
	if err != nil {
		panic(err)
	}
	return snapshot
}

func (self Snapshot) IsEmpty() bool {
	return len(self.sections) == 0
}

func (self Snapshot) NumberOfSections() int {
	return len(self.sections)
}

// out of range section returns 0 so that stale lookups degrade to a no-op
func (self Snapshot) NumberOfElements(section int) int {
	if section < 0 || len(self.sections) <= section {
		return 0
	}
	return len(self.sections[section].Elements)
}

func (self Snapshot) Sections() []Section {
	sections := make([]Section, len(self.sections))
	for i, section := range self.sections {
		sections[i] = Section{
			Id:       section.Id,
			Metadata: section.Metadata,
			Elements: append([]Element{}, section.Elements...),
		}
	}
	return sections
}

func (self Snapshot) Section(index int) (Section, bool) {
	if index < 0 || len(self.sections) <= index {
		return Section{}, false
	}
	section := self.sections[index]
	return Section{
		Id:       section.Id,
		Metadata: section.Metadata,
		Elements: append([]Element{}, section.Elements...),
	}, true
}

func (self Snapshot) SectionIds() []Id {
	ids := make([]Id, len(self.sections))
	for i, section := range self.sections {
		ids[i] = section.Id
	}
	return ids
}

func (self Snapshot) ElementIds() []Id {
	ids := []Id{}
	for _, section := range self.sections {
		for _, element := range section.Elements {
			ids = append(ids, element.Id)
		}
	}
	return ids
}

func (self Snapshot) Element(path Path) (Element, bool) {
	if path.Section < 0 || len(self.sections) <= path.Section {
		return Element{}, false
	}
	elements := self.sections[path.Section].Elements
	if path.Element < 0 || len(elements) <= path.Element {
		return Element{}, false
	}
	return elements[path.Element], true
}

func (self Snapshot) PathOf(id Id) (Path, bool) {
	if self.index == nil {
		return Path{}, false
	}
	path, ok := self.index.elementPaths[id]
	return path, ok
}

func (self Snapshot) SectionIndexOf(id Id) (int, bool) {
	if self.index == nil {
		return 0, false
	}
	index, ok := self.index.sectionIndexes[id]
	return index, ok
}

func (self Snapshot) Equal(other Snapshot) bool {
	return self.EqualBy(other, ContentEqual, ContentEqual)
}

func (self Snapshot) EqualBy(
	other Snapshot,
	metadataEqual func(a any, b any) bool,
	payloadEqual func(a any, b any) bool,
) bool {
	if len(self.sections) != len(other.sections) {
		return false
	}
	for i, section := range self.sections {
		otherSection := other.sections[i]
		if section.Id != otherSection.Id {
			return false
		}
		if !metadataEqual(section.Metadata, otherSection.Metadata) {
			return false
		}
		if len(section.Elements) != len(otherSection.Elements) {
			return false
		}
		for j, element := range section.Elements {
			otherElement := otherSection.Elements[j]
			if element.Id != otherElement.Id {
				return false
			}
			if !payloadEqual(element.Payload, otherElement.Payload) {
				return false
			}
		}
	}
	return true
}

func (self Snapshot) String() string {
	parts := []string{}
	for _, section := range self.sections {
		parts = append(parts, fmt.Sprintf("%s(%d)", section.Id, len(section.Elements)))
	}
	return fmt.Sprintf("snapshot[%s]", strings.Join(parts, ","))
}

// the default content comparison for payloads and metadata.
// falls back to deep comparison for uncomparable types.
func ContentEqual(a any, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	aType := reflect.TypeOf(a)
	if aType != reflect.TypeOf(b) {
		return false
	}
	if !aType.Comparable() {
		return reflect.DeepEqual(a, b)
	}
	return a == b
}

// internal constructor for snapshots derived from already-validated ones
func mustSnapshot(sections []Section) Snapshot {
	index, err := newSnapshotIndex(sections)
	if err != nil {
		panic(err)
	}
	return Snapshot{
		sections: sections,
		index:    index,
	}
}
