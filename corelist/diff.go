package corelist

import (
	"fmt"
	"sort"
	"strings"
)

type SectionMove struct {
	From int
	To   int
}

type ElementMove struct {
	From Path
	To   Path
}

// one conflict-free batch of structural operations against a fixed
// positional frame, plus the exact resulting snapshot that must be
// substituted into the target's backing store when the operations are
// issued. The substitution and the operations are atomic.
//
// coordinate frames per operation kind:
// - deleted/updated coordinates address the frame before the stage
// - inserted coordinates address the frame after the stage
// - moves are length-preserving permutations. Sources address the frame
//   before the stage and destinations the (same-length) frame after it.
type Changeset struct {
	Data Snapshot

	SectionDeleted  []int
	SectionInserted []int
	SectionUpdated  []int
	SectionMoved    []SectionMove

	ElementDeleted  []Path
	ElementInserted []Path
	ElementUpdated  []Path
	ElementMoved    []ElementMove
}

func (self Changeset) IsEmpty() bool {
	return self.OperationCount() == 0
}

func (self Changeset) OperationCount() int {
	return len(self.SectionDeleted) +
		len(self.SectionInserted) +
		len(self.SectionUpdated) +
		len(self.SectionMoved) +
		len(self.ElementDeleted) +
		len(self.ElementInserted) +
		len(self.ElementUpdated) +
		len(self.ElementMoved)
}

func (self Changeset) String() string {
	parts := []string{}
	addCount := func(tag string, count int) {
		if 0 < count {
			parts = append(parts, fmt.Sprintf("%s=%d", tag, count))
		}
	}
	addCount("sd", len(self.SectionDeleted))
	addCount("si", len(self.SectionInserted))
	addCount("su", len(self.SectionUpdated))
	addCount("sm", len(self.SectionMoved))
	addCount("ed", len(self.ElementDeleted))
	addCount("ei", len(self.ElementInserted))
	addCount("eu", len(self.ElementUpdated))
	addCount("em", len(self.ElementMoved))
	return fmt.Sprintf("changeset(%s)", strings.Join(parts, ","))
}

// ordered sequence of changesets. Applying stage i against the result of
// stage i-1, starting from the old snapshot, yields exactly the new
// snapshot after the final stage.
type StagedChangeset []Changeset

func (self StagedChangeset) OperationCount() int {
	count := 0
	for _, changeset := range self {
		count += changeset.OperationCount()
	}
	return count
}

type DiffSettings struct {
	// same identifier, different metadata is an updated section
	MetadataEqual func(a any, b any) bool
	// same identifier, different payload is an updated element
	PayloadEqual func(a any, b any) bool
}

func DefaultDiffSettings() *DiffSettings {
	return &DiffSettings{
		MetadataEqual: ContentEqual,
		PayloadEqual:  ContentEqual,
	}
}

// computes the minimal staged difference between two snapshots.
// Duplicate identifiers are rejected at snapshot construction, so every
// snapshot value reaching this function satisfies the uniqueness
// precondition.
//
// Stages are emitted kind-pure in a fixed order, empty stages skipped:
//  1. element payload updates, addressed in the old frame
//  2. section and element deletes
//  3. section moves (a permutation of the surviving sections)
//  4. element moves (a permutation of the surviving elements)
//  5. section and element inserts, addressed in the final frame
//  6. section metadata updates, addressed in the final frame
func Diff(old Snapshot, new Snapshot) StagedChangeset {
	return DiffWithSettings(old, new, DefaultDiffSettings())
}

func DiffWithSettings(old Snapshot, new Snapshot, settings *DiffSettings) StagedChangeset {
	if settings == nil {
		settings = DefaultDiffSettings()
	}
	if old.EqualBy(new, settings.MetadataEqual, settings.PayloadEqual) {
		return StagedChangeset{}
	}

	d := &differ{
		old:      old,
		new:      new,
		settings: settings,
	}
	d.matchSections()
	d.matchElements()
	return d.stages()
}

type differ struct {
	old      Snapshot
	new      Snapshot
	settings *DiffSettings

	// section classification
	sectionDeleted     []int // old frame
	sectionInserted    []int // new frame
	sectionUpdated     []int // new frame
	sectionMoved       []SectionMove
	oldSectionDeleted  map[int]bool
	newSectionInserted map[int]bool
	oldToNewSection    map[int]int
	// old indexes of surviving sections, ascending
	survivorsOldOrder []int
	// old indexes of surviving sections, ordered by their new position
	survivorsNewOrder []int
	// old section index -> rank among survivors in old order
	survivorRankOld map[int]int
	// old section index -> rank among survivors in new order
	survivorRankNew map[int]int

	// element classification
	elementDeleted  []Path // old frame
	elementInserted []Path // new frame
	elementUpdated  []Path // old frame
	elementMoved    []ElementMove
	// element id -> true for elements whose old and new sections both survive
	keptElements map[Id]bool
}

func (self *differ) matchSections() {
	oldSections := self.old.sections
	newSections := self.new.sections

	oldIndexOf := map[Id]int{}
	for i, section := range oldSections {
		oldIndexOf[section.Id] = i
	}
	newIndexOf := map[Id]int{}
	for i, section := range newSections {
		newIndexOf[section.Id] = i
	}

	self.sectionDeleted = []int{}
	self.sectionInserted = []int{}
	self.sectionUpdated = []int{}
	self.sectionMoved = []SectionMove{}
	self.oldSectionDeleted = map[int]bool{}
	self.newSectionInserted = map[int]bool{}
	self.oldToNewSection = map[int]int{}
	self.survivorsOldOrder = []int{}
	self.survivorsNewOrder = []int{}
	self.survivorRankOld = map[int]int{}
	self.survivorRankNew = map[int]int{}

	for i, section := range oldSections {
		newIndex, ok := newIndexOf[section.Id]
		if !ok {
			self.sectionDeleted = append(self.sectionDeleted, i)
			self.oldSectionDeleted[i] = true
			continue
		}
		self.oldToNewSection[i] = newIndex
		self.survivorRankOld[i] = len(self.survivorsOldOrder)
		self.survivorsOldOrder = append(self.survivorsOldOrder, i)
		if !self.settings.MetadataEqual(section.Metadata, newSections[newIndex].Metadata) {
			self.sectionUpdated = append(self.sectionUpdated, newIndex)
		}
	}
	for i, section := range newSections {
		oldIndex, ok := oldIndexOf[section.Id]
		if !ok {
			self.sectionInserted = append(self.sectionInserted, i)
			self.newSectionInserted[i] = true
			continue
		}
		self.survivorRankNew[oldIndex] = len(self.survivorsNewOrder)
		self.survivorsNewOrder = append(self.survivorsNewOrder, oldIndex)
	}
	sort.Ints(self.sectionUpdated)

	// surviving sections that fall outside one longest increasing
	// subsequence of old ranks, read in new order, are the move set.
	// Positions that would move zero distance are pinned as stays instead
	ranks := make([]int, len(self.survivorsNewOrder))
	for k, oldIndex := range self.survivorsNewOrder {
		ranks[k] = self.survivorRankOld[oldIndex]
	}
	stay := pinInPlaceStays(ranks, longestIncreasingSubsequence(ranks))
	for k, oldIndex := range self.survivorsNewOrder {
		if stay[k] {
			continue
		}
		self.sectionMoved = append(self.sectionMoved, SectionMove{
			From: self.survivorRankOld[oldIndex],
			To:   k,
		})
	}
	sort.Slice(self.sectionMoved, func(i int, j int) bool {
		return self.sectionMoved[i].To < self.sectionMoved[j].To
	})
}

func (self *differ) matchElements() {
	oldPathOf := map[Id]Path{}
	for i, section := range self.old.sections {
		for k, element := range section.Elements {
			oldPathOf[element.Id] = Path{Section: i, Element: k}
		}
	}
	newPathOf := map[Id]Path{}
	for i, section := range self.new.sections {
		for k, element := range section.Elements {
			newPathOf[element.Id] = Path{Section: i, Element: k}
		}
	}

	self.elementDeleted = []Path{}
	self.elementInserted = []Path{}
	self.elementUpdated = []Path{}
	self.elementMoved = []ElementMove{}
	self.keptElements = map[Id]bool{}

	for i, section := range self.old.sections {
		oldSectionDeleted := self.oldSectionDeleted[i]
		for k, element := range section.Elements {
			oldPath := Path{Section: i, Element: k}
			newPath, present := newPathOf[element.Id]
			if !present {
				// elements of a deleted section vanish with it
				if !oldSectionDeleted {
					self.elementDeleted = append(self.elementDeleted, oldPath)
				}
				continue
			}
			if oldSectionDeleted || self.newSectionInserted[newPath.Section] {
				// the element cannot be moved through a section that is
				// created or destroyed this cycle. Reclassify as
				// delete plus insert.
				if !oldSectionDeleted {
					self.elementDeleted = append(self.elementDeleted, oldPath)
				}
				self.elementInserted = append(self.elementInserted, newPath)
				continue
			}
			self.keptElements[element.Id] = true
			newElement, _ := self.new.Element(newPath)
			if !self.settings.PayloadEqual(element.Payload, newElement.Payload) {
				self.elementUpdated = append(self.elementUpdated, oldPath)
			}
		}
	}
	for i, section := range self.new.sections {
		for k, element := range section.Elements {
			if _, present := oldPathOf[element.Id]; !present {
				self.elementInserted = append(self.elementInserted, Path{Section: i, Element: k})
			}
		}
	}
	sort.Slice(self.elementInserted, func(i int, j int) bool {
		return self.elementInserted[i].Before(self.elementInserted[j])
	})

	self.matchElementMoves(oldPathOf)
}

// computes the minimal element move permutation between the frame after the
// section move stage and the frame before the insert stage. Both frames
// hold exactly the kept elements in the surviving sections, so every move's
// source and destination resolve against frames of equal shape.
func (self *differ) matchElementMoves(oldPathOf map[Id]Path) {
	// frame c: surviving sections in new relative order, kept elements in
	// old order
	cLists := make([][]Element, len(self.survivorsNewOrder))
	for k, oldIndex := range self.survivorsNewOrder {
		kept := []Element{}
		for _, element := range self.old.sections[oldIndex].Elements {
			if self.keptElements[element.Id] {
				kept = append(kept, element)
			}
		}
		cLists[k] = kept
	}
	// frame t: same sections, kept elements in new order
	tLists := make([][]Element, len(self.survivorsNewOrder))
	for k, oldIndex := range self.survivorsNewOrder {
		newIndex := self.oldToNewSection[oldIndex]
		kept := []Element{}
		for _, element := range self.new.sections[newIndex].Elements {
			if self.keptElements[element.Id] {
				kept = append(kept, element)
			}
		}
		tLists[k] = kept
	}

	cPathOf := map[Id]Path{}
	for k, list := range cLists {
		for offset, element := range list {
			cPathOf[element.Id] = Path{Section: k, Element: offset}
		}
	}

	for k, tList := range tLists {
		// within-section reordering: elements staying in this section that
		// fall outside one longest increasing subsequence of their frame-c
		// offsets, read in frame-t order, must move
		sameSectionOffsets := []int{}
		sameSectionTOffsets := []int{}
		sameSectionElements := []Element{}
		for offset, element := range tList {
			cPath := cPathOf[element.Id]
			if cPath.Section == k {
				sameSectionOffsets = append(sameSectionOffsets, cPath.Element)
				sameSectionTOffsets = append(sameSectionTOffsets, offset)
				sameSectionElements = append(sameSectionElements, element)
			}
		}
		stay := longestIncreasingSubsequence(sameSectionOffsets)
		// an out-of-subsequence element whose source and destination offsets
		// coincide would be a zero-distance move, yet leaving it out of the
		// move set loses part of the permutation. Pin it as a stay and
		// demote the stays that invert against it, as in the section pass.
		pinned := []int{}
		for j := range sameSectionElements {
			if sameSectionOffsets[j] == sameSectionTOffsets[j] && !stay[j] {
				stay[j] = true
				pinned = append(pinned, j)
			}
		}
		for _, p := range pinned {
			o := sameSectionOffsets[p]
			for j := range sameSectionElements {
				if !stay[j] || sameSectionOffsets[j] == sameSectionTOffsets[j] {
					continue
				}
				if (sameSectionTOffsets[j] < o && o < sameSectionOffsets[j]) ||
					(o < sameSectionTOffsets[j] && sameSectionOffsets[j] < o) {
					stay[j] = false
				}
			}
		}
		stayIds := map[Id]bool{}
		for j, element := range sameSectionElements {
			if stay[j] {
				stayIds[element.Id] = true
			}
		}

		for offset, element := range tList {
			cPath := cPathOf[element.Id]
			if cPath.Section == k && stayIds[element.Id] {
				continue
			}
			self.elementMoved = append(self.elementMoved, ElementMove{
				From: cPath,
				To:   Path{Section: k, Element: offset},
			})
		}
	}
	sort.Slice(self.elementMoved, func(i int, j int) bool {
		return self.elementMoved[i].To.Before(self.elementMoved[j].To)
	})
}

// builds the ordered stages with their intermediate snapshot data. Every
// intermediate snapshot already carries the new payload values for kept
// elements, and the new metadata for sections that are not flagged updated,
// so the final emitted stage's data is exactly the new snapshot.
func (self *differ) stages() StagedChangeset {
	sectionMetadataUpdated := map[int]bool{}
	for _, newIndex := range self.sectionUpdated {
		sectionMetadataUpdated[newIndex] = true
	}

	// metadata visible before the final reload stage
	stagedMetadata := func(oldIndex int) any {
		newIndex, survives := self.oldToNewSection[oldIndex]
		if !survives {
			return self.old.sections[oldIndex].Metadata
		}
		if sectionMetadataUpdated[newIndex] {
			return self.old.sections[oldIndex].Metadata
		}
		return self.new.sections[newIndex].Metadata
	}
	// payload visible from the update stage on
	stagedElement := func(element Element) Element {
		if !self.keptElements[element.Id] {
			return element
		}
		newPath, _ := self.new.PathOf(element.Id)
		newElement, _ := self.new.Element(newPath)
		return newElement
	}

	// stage 1: old structure, new payloads for kept elements
	d1 := make([]Section, len(self.old.sections))
	for i, section := range self.old.sections {
		elements := make([]Element, len(section.Elements))
		for k, element := range section.Elements {
			elements[k] = stagedElement(element)
		}
		d1[i] = Section{
			Id:       section.Id,
			Metadata: stagedMetadata(i),
			Elements: elements,
		}
	}

	// stage 2: surviving sections in old order, kept elements only
	d2 := make([]Section, 0, len(self.survivorsOldOrder))
	for _, oldIndex := range self.survivorsOldOrder {
		kept := []Element{}
		for _, element := range d1[oldIndex].Elements {
			if self.keptElements[element.Id] {
				kept = append(kept, element)
			}
		}
		d2 = append(d2, Section{
			Id:       d1[oldIndex].Id,
			Metadata: d1[oldIndex].Metadata,
			Elements: kept,
		})
	}

	// stage 3: surviving sections permuted to new relative order
	d3 := make([]Section, 0, len(self.survivorsNewOrder))
	for _, oldIndex := range self.survivorsNewOrder {
		d3 = append(d3, d2[self.survivorRankOld[oldIndex]])
	}

	// stage 4: kept elements permuted to new relative order
	d4 := make([]Section, len(d3))
	for k, oldIndex := range self.survivorsNewOrder {
		newIndex := self.oldToNewSection[oldIndex]
		kept := []Element{}
		for _, element := range self.new.sections[newIndex].Elements {
			if self.keptElements[element.Id] {
				kept = append(kept, element)
			}
		}
		d4[k] = Section{
			Id:       d3[k].Id,
			Metadata: d3[k].Metadata,
			Elements: kept,
		}
	}

	// stage 5: full new structure, stale metadata on updated sections
	d5 := make([]Section, len(self.new.sections))
	for i, section := range self.new.sections {
		metadata := section.Metadata
		if sectionMetadataUpdated[i] {
			oldIndex, _ := self.old.SectionIndexOf(section.Id)
			metadata = self.old.sections[oldIndex].Metadata
		}
		d5[i] = Section{
			Id:       section.Id,
			Metadata: metadata,
			Elements: append([]Element{}, section.Elements...),
		}
	}

	stages := StagedChangeset{}
	if 0 < len(self.elementUpdated) {
		stages = append(stages, Changeset{
			Data:           mustSnapshot(d1),
			ElementUpdated: self.elementUpdated,
		})
	}
	if 0 < len(self.sectionDeleted)+len(self.elementDeleted) {
		stages = append(stages, Changeset{
			Data:           mustSnapshot(d2),
			SectionDeleted: self.sectionDeleted,
			ElementDeleted: self.elementDeleted,
		})
	}
	if 0 < len(self.sectionMoved) {
		stages = append(stages, Changeset{
			Data:         mustSnapshot(d3),
			SectionMoved: self.sectionMoved,
		})
	}
	if 0 < len(self.elementMoved) {
		stages = append(stages, Changeset{
			Data:         mustSnapshot(d4),
			ElementMoved: self.elementMoved,
		})
	}
	if 0 < len(self.sectionInserted)+len(self.elementInserted) {
		data := self.new
		if 0 < len(self.sectionUpdated) {
			data = mustSnapshot(d5)
		}
		stages = append(stages, Changeset{
			Data:            data,
			SectionInserted: self.sectionInserted,
			ElementInserted: self.elementInserted,
		})
	}
	if 0 < len(self.sectionUpdated) {
		stages = append(stages, Changeset{
			Data:           self.new,
			SectionUpdated: self.sectionUpdated,
		})
	}
	return stages
}

// a non-stay position whose source offset equals its destination offset
// would emit a zero-distance move, which consumers reject, yet dropping it
// loses part of the permutation. Force such positions into the stay set
// and demote the stays whose relative order inverts against them. Pinned
// positions never invert with each other, so one pass suffices and the
// result is still an increasing subsequence.
func pinInPlaceStays(seq []int, stay []bool) []bool {
	pinned := []int{}
	for k, value := range seq {
		if value == k && !stay[k] {
			stay[k] = true
			pinned = append(pinned, k)
		}
	}
	for _, k := range pinned {
		for j, value := range seq {
			if !stay[j] || value == j {
				continue
			}
			if (j < k && k < value) || (k < j && value < k) {
				stay[j] = false
			}
		}
	}
	return stay
}

// one deterministic longest strictly-increasing subsequence, patience
// style. Returns per-position membership flags.
func longestIncreasingSubsequence(seq []int) []bool {
	member := make([]bool, len(seq))
	if len(seq) == 0 {
		return member
	}

	// tails[h] is the index of the smallest known tail value of an
	// increasing subsequence of length h+1
	tails := []int{}
	previous := make([]int, len(seq))
	for i, value := range seq {
		lo := 0
		hi := len(tails)
		for lo < hi {
			mid := (lo + hi) / 2
			if seq[tails[mid]] < value {
				lo = mid + 1
			} else {
				hi = mid
			}
		}
		if lo == len(tails) {
			tails = append(tails, i)
		} else {
			tails[lo] = i
		}
		if 0 < lo {
			previous[i] = tails[lo-1]
		} else {
			previous[i] = -1
		}
	}

	i := tails[len(tails)-1]
	for 0 <= i {
		member[i] = true
		i = previous[i]
	}
	return member
}
