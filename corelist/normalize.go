package corelist

import (
	"fmt"
	"sort"
	"sync"

	"github.com/golang/glog"
)

type DeltaKind string

const (
	DeltaInsert DeltaKind = "insert"
	DeltaDelete DeltaKind = "delete"
	DeltaMove   DeltaKind = "move"
	DeltaUpdate DeltaKind = "update"
)

// one raw change event from the upstream observation mechanism. Deltas are
// a closed variant: each kind carries only the coordinates it needs, via
// the constructors below. Coordinates for deletes, moves and updates
// address the pre-transaction frame; insert destinations and move
// destinations address the post-transaction frame.
//
// ElementIndex is -1 for section-scope deltas.
type Delta struct {
	Kind DeltaKind

	SectionIndex    int
	ElementIndex    int
	NewSectionIndex int
	NewElementIndex int

	// the affected record, where the upstream source reports it
	Id       Id
	Payload  any
	Metadata any
}

func (self Delta) IsSection() bool {
	return self.ElementIndex < 0
}

func InsertSectionDelta(id Id, metadata any, newIndex int) Delta {
	return Delta{
		Kind:            DeltaInsert,
		SectionIndex:    newIndex,
		ElementIndex:    -1,
		NewSectionIndex: newIndex,
		NewElementIndex: -1,
		Id:              id,
		Metadata:        metadata,
	}
}

func DeleteSectionDelta(index int) Delta {
	return Delta{
		Kind:            DeltaDelete,
		SectionIndex:    index,
		ElementIndex:    -1,
		NewSectionIndex: -1,
		NewElementIndex: -1,
	}
}

func UpdateSectionDelta(index int, metadata any) Delta {
	return Delta{
		Kind:            DeltaUpdate,
		SectionIndex:    index,
		ElementIndex:    -1,
		NewSectionIndex: -1,
		NewElementIndex: -1,
		Metadata:        metadata,
	}
}

func MoveSectionDelta(index int, newIndex int) Delta {
	return Delta{
		Kind:            DeltaMove,
		SectionIndex:    index,
		ElementIndex:    -1,
		NewSectionIndex: newIndex,
		NewElementIndex: -1,
	}
}

func InsertElementDelta(id Id, payload any, newPath Path) Delta {
	return Delta{
		Kind:            DeltaInsert,
		SectionIndex:    newPath.Section,
		ElementIndex:    newPath.Element,
		NewSectionIndex: newPath.Section,
		NewElementIndex: newPath.Element,
		Id:              id,
		Payload:         payload,
	}
}

func DeleteElementDelta(path Path) Delta {
	return Delta{
		Kind:            DeltaDelete,
		SectionIndex:    path.Section,
		ElementIndex:    path.Element,
		NewSectionIndex: -1,
		NewElementIndex: -1,
	}
}

func UpdateElementDelta(path Path, payload any) Delta {
	return Delta{
		Kind:            DeltaUpdate,
		SectionIndex:    path.Section,
		ElementIndex:    path.Element,
		NewSectionIndex: -1,
		NewElementIndex: -1,
		Payload:         payload,
	}
}

func MoveElementDelta(id Id, payload any, path Path, newPath Path) Delta {
	return Delta{
		Kind:            DeltaMove,
		SectionIndex:    path.Section,
		ElementIndex:    path.Element,
		NewSectionIndex: newPath.Section,
		NewElementIndex: newPath.Element,
		Id:              id,
		Payload:         payload,
	}
}

func (self Delta) String() string {
	if self.IsSection() {
		return fmt.Sprintf("%s section %d->%d", self.Kind, self.SectionIndex, self.NewSectionIndex)
	}
	return fmt.Sprintf("%s element [%d-%d]->[%d-%d]", self.Kind, self.SectionIndex, self.ElementIndex, self.NewSectionIndex, self.NewElementIndex)
}

// normalizer state machine is:
// phaseIdle
//
//	-> phaseCollecting (`Begin`, deltas buffering within one upstream
//	   transaction)
//	-> phaseIdle (`Commit`, emits exactly one snapshot)
type normalizerPhase string

const (
	phaseIdle       normalizerPhase = "idle"
	phaseCollecting normalizerPhase = "collecting"
)

// absorbs a raw per-event change feed from the upstream live-query
// collaborator and folds each transaction into a single authoritative
// snapshot, resolving ambiguous event combinations deterministically:
//   - an update whose coordinate falls inside a section also being deleted
//     or inserted this transaction is suppressed
//   - a move whose source and destination coordinates are identical is
//     reclassified: insert if its section was inserted this transaction,
//     update otherwise. A same-slot move is never forwarded downstream.
//   - a full invalidation discards the granular events of the cycle
type Normalizer struct {
	stateLock sync.Mutex

	phase       normalizerPhase
	base        Snapshot
	deltas      []Delta
	invalidated bool
}

func NewNormalizer(base Snapshot) *Normalizer {
	return &Normalizer{
		phase: phaseIdle,
		base:  base,
	}
}

func (self *Normalizer) Base() Snapshot {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.base
}

func (self *Normalizer) Begin() error {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	if self.phase != phaseIdle {
		return fmt.Errorf("upstream transaction already open")
	}
	self.phase = phaseCollecting
	self.deltas = []Delta{}
	self.invalidated = false
	return nil
}

func (self *Normalizer) Add(delta Delta) error {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	if self.phase != phaseCollecting {
		return fmt.Errorf("no open upstream transaction")
	}
	if self.invalidated {
		// granular events are meaningless for an invalidated cycle
		return nil
	}
	self.deltas = append(self.deltas, delta)
	return nil
}

// marks the upstream source as wholly invalidated for this transaction.
// All currently-registered identifiers are considered updated and granular
// events are discarded.
func (self *Normalizer) Invalidate() error {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	if self.phase != phaseCollecting {
		return fmt.Errorf("no open upstream transaction")
	}
	self.invalidated = true
	self.deltas = nil
	return nil
}

// folds the buffered transaction into the post-event snapshot. Emits
// exactly one snapshot per transaction. `refreshed` is true when the
// source invalidated itself, in which case the snapshot is the base state
// and the consumer must treat every registered identifier as updated.
// On error the base state is unchanged.
func (self *Normalizer) Commit() (snapshot Snapshot, refreshed bool, err error) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	if self.phase != phaseCollecting {
		return Snapshot{}, false, fmt.Errorf("no open upstream transaction")
	}

	if self.invalidated {
		self.phase = phaseIdle
		return self.base, true, nil
	}

	snapshot, err = foldDeltas(self.base, self.deltas)
	if err != nil {
		self.phase = phaseIdle
		return Snapshot{}, false, err
	}
	self.base = snapshot
	self.deltas = nil
	self.phase = phaseIdle
	return snapshot, false, nil
}

type workSection struct {
	id       Id
	metadata any
	elements []Element
}

type elementPlacement struct {
	section int
	offset  int
	element Element
}

func foldDeltas(base Snapshot, deltas []Delta) (Snapshot, error) {
	deletedSections := map[int]bool{}
	insertedSections := map[int]bool{}
	for _, delta := range deltas {
		if !delta.IsSection() {
			continue
		}
		switch delta.Kind {
		case DeltaDelete:
			deletedSections[delta.SectionIndex] = true
		case DeltaInsert:
			insertedSections[delta.NewSectionIndex] = true
		}
	}

	sectionDeltas := []Delta{}
	elementDeltas := []Delta{}
	for _, delta := range deltas {
		if delta.IsSection() {
			if delta.Kind == DeltaUpdate && deletedSections[delta.SectionIndex] {
				// stale coordinate, the section is going away
				glog.V(1).Infof("[n]suppress %s\n", delta)
				continue
			}
			if delta.Kind == DeltaMove && delta.SectionIndex == delta.NewSectionIndex {
				// same-slot section move is meaningless. Unlike a same-slot
				// element move there is no payload to reclassify into an
				// update, since a section move delta carries no metadata
				glog.V(1).Infof("[n]drop %s\n", delta)
				continue
			}
			sectionDeltas = append(sectionDeltas, delta)
			continue
		}

		switch delta.Kind {
		case DeltaUpdate:
			if deletedSections[delta.SectionIndex] || insertedSections[delta.SectionIndex] {
				// the coordinate is stale once the section itself moves
				glog.V(1).Infof("[n]suppress %s\n", delta)
				continue
			}
		case DeltaMove:
			if delta.SectionIndex == delta.NewSectionIndex && delta.ElementIndex == delta.NewElementIndex {
				// a same-slot move must never survive as a move
				newPath := Path{Section: delta.NewSectionIndex, Element: delta.NewElementIndex}
				if insertedSections[delta.NewSectionIndex] {
					delta = InsertElementDelta(delta.Id, delta.Payload, newPath)
				} else {
					delta = UpdateElementDelta(newPath, delta.Payload)
				}
				glog.V(1).Infof("[n]reclassify as %s\n", delta)
			}
		}
		elementDeltas = append(elementDeltas, delta)
	}

	// resolve element references against the base frame before any
	// structural change shifts indices
	removedIds := map[Id]bool{}
	updatedPayloads := map[Id]any{}
	placements := []elementPlacement{}
	for _, delta := range elementDeltas {
		basePath := Path{Section: delta.SectionIndex, Element: delta.ElementIndex}
		switch delta.Kind {
		case DeltaDelete:
			element, ok := base.Element(basePath)
			if !ok {
				glog.Infof("[n]stale delete %s\n", delta)
				continue
			}
			removedIds[element.Id] = true
		case DeltaUpdate:
			element, ok := base.Element(basePath)
			if !ok {
				glog.Infof("[n]stale update %s\n", delta)
				continue
			}
			updatedPayloads[element.Id] = delta.Payload
		case DeltaMove:
			moved := Element{
				Id:      delta.Id,
				Payload: delta.Payload,
			}
			if (moved.Id == Id{}) {
				element, ok := base.Element(basePath)
				if !ok {
					glog.Infof("[n]stale move %s\n", delta)
					continue
				}
				moved = element
			}
			removedIds[moved.Id] = true
			placements = append(placements, elementPlacement{
				section: delta.NewSectionIndex,
				offset:  delta.NewElementIndex,
				element: moved,
			})
		case DeltaInsert:
			placements = append(placements, elementPlacement{
				section: delta.NewSectionIndex,
				offset:  delta.NewElementIndex,
				element: Element{
					Id:      delta.Id,
					Payload: delta.Payload,
				},
			})
		}
	}

	sections := []*workSection{}
	for _, section := range base.Sections() {
		sections = append(sections, &workSection{
			id:       section.Id,
			metadata: section.Metadata,
			elements: section.Elements,
		})
	}

	// section deletes and move sources resolve against the base frame
	removedSections := map[int]bool{}
	movedSections := map[int]int{}
	for _, delta := range sectionDeltas {
		switch delta.Kind {
		case DeltaDelete:
			removedSections[delta.SectionIndex] = true
		case DeltaMove:
			movedSections[delta.SectionIndex] = delta.NewSectionIndex
		case DeltaUpdate:
			if delta.SectionIndex < 0 || len(sections) <= delta.SectionIndex {
				glog.Infof("[n]stale section update %s\n", delta)
				continue
			}
			sections[delta.SectionIndex].metadata = delta.Metadata
		}
	}
	for index := range removedSections {
		if index < 0 || len(base.sections) <= index {
			return Snapshot{}, fmt.Errorf("section delete out of range: %d", index)
		}
	}

	remaining := []*workSection{}
	movedByDestination := map[int]*workSection{}
	for i, section := range sections {
		if removedSections[i] {
			continue
		}
		if to, ok := movedSections[i]; ok {
			movedByDestination[to] = section
			continue
		}
		remaining = append(remaining, section)
	}
	moveDestinations := []int{}
	for to := range movedByDestination {
		moveDestinations = append(moveDestinations, to)
	}
	sort.Ints(moveDestinations)
	for _, to := range moveDestinations {
		at := min(max(to, 0), len(remaining))
		remaining = append(remaining[:at], append([]*workSection{movedByDestination[to]}, remaining[at:]...)...)
	}
	sectionInserts := []Delta{}
	for _, delta := range sectionDeltas {
		if delta.Kind == DeltaInsert {
			sectionInserts = append(sectionInserts, delta)
		}
	}
	sort.Slice(sectionInserts, func(i int, j int) bool {
		return sectionInserts[i].NewSectionIndex < sectionInserts[j].NewSectionIndex
	})
	for _, delta := range sectionInserts {
		at := min(max(delta.NewSectionIndex, 0), len(remaining))
		remaining = append(remaining[:at], append([]*workSection{{
			id:       delta.Id,
			metadata: delta.Metadata,
		}}, remaining[at:]...)...)
	}
	sections = remaining

	// element removals and updates, by identity
	for _, section := range sections {
		elements := []Element{}
		for _, element := range section.elements {
			if removedIds[element.Id] {
				continue
			}
			if payload, ok := updatedPayloads[element.Id]; ok {
				element = Element{
					Id:      element.Id,
					Payload: payload,
				}
			}
			elements = append(elements, element)
		}
		section.elements = elements
	}

	// placements address the post-transaction frame
	sort.Slice(placements, func(i int, j int) bool {
		if placements[i].section != placements[j].section {
			return placements[i].section < placements[j].section
		}
		return placements[i].offset < placements[j].offset
	})
	for _, placement := range placements {
		if placement.section < 0 || len(sections) <= placement.section {
			return Snapshot{}, fmt.Errorf("element placement outside sections: [%d-%d]", placement.section, placement.offset)
		}
		section := sections[placement.section]
		at := min(max(placement.offset, 0), len(section.elements))
		section.elements = append(section.elements[:at], append([]Element{placement.element}, section.elements[at:]...)...)
	}

	result := make([]Section, len(sections))
	for i, section := range sections {
		result[i] = Section{
			Id:       section.id,
			Metadata: section.metadata,
			Elements: section.elements,
		}
	}
	return NewSnapshot(result)
}
