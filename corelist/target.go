package corelist

import (
	"fmt"
	"sort"
	"sync"
)

// the abstract consumer that receives and applies staged operations.
// A target is only safely mutable from the dispatcher's run loop. The
// dispatcher never assumes anything about a target beyond this contract.
type Target interface {
	// when true, the dispatcher skips incremental replay this cycle and
	// issues a single data substitution plus one full reload
	ShouldBypassIncrementalUpdates() bool

	// substitutes the backing data. Atomic with the positional operations
	// of the same batch.
	SubstituteData(data Snapshot)
	FullReload()

	// batched-update scoping. Operations issued between begin and end are
	// applied together. `complete` must be called exactly once when the
	// batch has been fully applied.
	BeginBatch(animated bool)
	EndBatch(complete func())

	DeleteSections(indices []int)
	InsertSections(indices []int)
	ReloadSections(indices []int)
	MoveSection(move SectionMove)

	DeleteElements(paths []Path)
	InsertElements(paths []Path)
	ReloadElements(paths []Path)
	MoveElement(move ElementMove)
}

type mirrorSection struct {
	id       Id
	elements []Id
}

type batchOps struct {
	animated bool

	sectionDeleted  []int
	sectionInserted []int
	sectionReloaded []int
	sectionMoved    []SectionMove

	elementDeleted  []Path
	elementInserted []Path
	elementReloaded []Path
	elementMoved    []ElementMove
}

// an in-memory target that maintains its own positional mirror of the list
// and applies each batch against it. Inserted content is resolved from the
// substituted backing data at the operation's coordinates, as a rendering
// surface would resolve cell content from its data source. Out-of-range
// structural operations panic, since they indicate a conflicting batch.
// Reloads of positions that no longer exist are counted and skipped.
type SliceTarget struct {
	stateLock sync.Mutex

	data   Snapshot
	mirror []*mirrorSection
	batch  *batchOps
	bypass bool

	substituteCount int
	fullReloadCount int
	batchCount      int
	operationCount  int
	staleCount      int
}

func NewSliceTarget() *SliceTarget {
	return &SliceTarget{
		mirror: []*mirrorSection{},
	}
}

func (self *SliceTarget) SetBypass(bypass bool) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	self.bypass = bypass
}

func (self *SliceTarget) ShouldBypassIncrementalUpdates() bool {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.bypass
}

func (self *SliceTarget) SubstituteData(data Snapshot) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	self.data = data
	self.substituteCount += 1
}

func (self *SliceTarget) FullReload() {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	self.fullReloadCount += 1
	self.mirror = []*mirrorSection{}
	for i := 0; i < self.data.NumberOfSections(); i += 1 {
		section, _ := self.data.Section(i)
		mirror := &mirrorSection{
			id: section.Id,
		}
		for _, element := range section.Elements {
			mirror.elements = append(mirror.elements, element.Id)
		}
		self.mirror = append(self.mirror, mirror)
	}
}

func (self *SliceTarget) BeginBatch(animated bool) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	if self.batch != nil {
		panic(fmt.Errorf("batch already open"))
	}
	self.batch = &batchOps{
		animated: animated,
	}
}

func (self *SliceTarget) EndBatch(complete func()) {
	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()
		if self.batch == nil {
			panic(fmt.Errorf("no open batch"))
		}
		batch := self.batch
		self.batch = nil
		self.applyBatch(batch)
		self.batchCount += 1
	}()
	complete()
}

func (self *SliceTarget) DeleteSections(indices []int) {
	self.record(func(batch *batchOps) {
		batch.sectionDeleted = append(batch.sectionDeleted, indices...)
	}, len(indices))
}

func (self *SliceTarget) InsertSections(indices []int) {
	self.record(func(batch *batchOps) {
		batch.sectionInserted = append(batch.sectionInserted, indices...)
	}, len(indices))
}

func (self *SliceTarget) ReloadSections(indices []int) {
	self.record(func(batch *batchOps) {
		batch.sectionReloaded = append(batch.sectionReloaded, indices...)
	}, len(indices))
}

func (self *SliceTarget) MoveSection(move SectionMove) {
	self.record(func(batch *batchOps) {
		batch.sectionMoved = append(batch.sectionMoved, move)
	}, 1)
}

func (self *SliceTarget) DeleteElements(paths []Path) {
	self.record(func(batch *batchOps) {
		batch.elementDeleted = append(batch.elementDeleted, paths...)
	}, len(paths))
}

func (self *SliceTarget) InsertElements(paths []Path) {
	self.record(func(batch *batchOps) {
		batch.elementInserted = append(batch.elementInserted, paths...)
	}, len(paths))
}

func (self *SliceTarget) ReloadElements(paths []Path) {
	self.record(func(batch *batchOps) {
		batch.elementReloaded = append(batch.elementReloaded, paths...)
	}, len(paths))
}

func (self *SliceTarget) MoveElement(move ElementMove) {
	self.record(func(batch *batchOps) {
		batch.elementMoved = append(batch.elementMoved, move)
	}, 1)
}

func (self *SliceTarget) record(update func(batch *batchOps), count int) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	if self.batch == nil {
		panic(fmt.Errorf("operation outside batch"))
	}
	update(self.batch)
	self.operationCount += count
}

// must be called with `stateLock`.
// Application order within one batch: reloads, element deletes, section
// deletes, section moves, element moves, section inserts, element inserts.
// Deletes and move sources are taken in descending coordinate order,
// inserts and move destinations in ascending order.
func (self *SliceTarget) applyBatch(batch *batchOps) {
	for _, path := range batch.elementReloaded {
		if !self.elementExists(path) {
			self.staleCount += 1
		}
	}
	for _, index := range batch.sectionReloaded {
		if index < 0 || len(self.mirror) <= index {
			self.staleCount += 1
		}
	}

	elementDeleted := append([]Path{}, batch.elementDeleted...)
	sort.Slice(elementDeleted, func(i int, j int) bool {
		return elementDeleted[j].Before(elementDeleted[i])
	})
	for _, path := range elementDeleted {
		self.requireElement(path)
		section := self.mirror[path.Section]
		section.elements = append(section.elements[:path.Element], section.elements[path.Element+1:]...)
	}

	sectionDeleted := append([]int{}, batch.sectionDeleted...)
	sort.Sort(sort.Reverse(sort.IntSlice(sectionDeleted)))
	for _, index := range sectionDeleted {
		self.requireSection(index)
		self.mirror = append(self.mirror[:index], self.mirror[index+1:]...)
	}

	if 0 < len(batch.sectionMoved) {
		moves := append([]SectionMove{}, batch.sectionMoved...)
		sort.Slice(moves, func(i int, j int) bool {
			return moves[j].From < moves[i].From
		})
		moved := map[int]*mirrorSection{}
		for _, move := range moves {
			self.requireSection(move.From)
			moved[move.To] = self.mirror[move.From]
			self.mirror = append(self.mirror[:move.From], self.mirror[move.From+1:]...)
		}
		destinations := []int{}
		for to := range moved {
			destinations = append(destinations, to)
		}
		sort.Ints(destinations)
		for _, to := range destinations {
			if to < 0 || len(self.mirror) < to {
				panic(fmt.Errorf("section move destination out of range: %d", to))
			}
			self.mirror = append(self.mirror[:to], append([]*mirrorSection{moved[to]}, self.mirror[to:]...)...)
		}
	}

	if 0 < len(batch.elementMoved) {
		moves := append([]ElementMove{}, batch.elementMoved...)
		sort.Slice(moves, func(i int, j int) bool {
			return moves[j].From.Before(moves[i].From)
		})
		moved := map[Path]Id{}
		for _, move := range moves {
			self.requireElement(move.From)
			section := self.mirror[move.From.Section]
			moved[move.To] = section.elements[move.From.Element]
			section.elements = append(section.elements[:move.From.Element], section.elements[move.From.Element+1:]...)
		}
		destinations := []Path{}
		for to := range moved {
			destinations = append(destinations, to)
		}
		sort.Slice(destinations, func(i int, j int) bool {
			return destinations[i].Before(destinations[j])
		})
		for _, to := range destinations {
			self.requireSection(to.Section)
			section := self.mirror[to.Section]
			if to.Element < 0 || len(section.elements) < to.Element {
				panic(fmt.Errorf("element move destination out of range: %s", to))
			}
			section.elements = append(section.elements[:to.Element], append([]Id{moved[to]}, section.elements[to.Element:]...)...)
		}
	}

	sectionInserted := append([]int{}, batch.sectionInserted...)
	sort.Ints(sectionInserted)
	for _, index := range sectionInserted {
		if index < 0 || len(self.mirror) < index {
			panic(fmt.Errorf("section insert out of range: %d", index))
		}
		section, ok := self.data.Section(index)
		if !ok {
			panic(fmt.Errorf("section insert outside data: %d", index))
		}
		self.mirror = append(self.mirror[:index], append([]*mirrorSection{{id: section.Id}}, self.mirror[index:]...)...)
	}

	elementInserted := append([]Path{}, batch.elementInserted...)
	sort.Slice(elementInserted, func(i int, j int) bool {
		return elementInserted[i].Before(elementInserted[j])
	})
	for _, path := range elementInserted {
		element, ok := self.data.Element(path)
		if !ok {
			panic(fmt.Errorf("element insert outside data: %s", path))
		}
		self.requireSection(path.Section)
		section := self.mirror[path.Section]
		if path.Element < 0 || len(section.elements) < path.Element {
			panic(fmt.Errorf("element insert out of range: %s", path))
		}
		section.elements = append(section.elements[:path.Element], append([]Id{element.Id}, section.elements[path.Element:]...)...)
	}
}

func (self *SliceTarget) elementExists(path Path) bool {
	if path.Section < 0 || len(self.mirror) <= path.Section {
		return false
	}
	elements := self.mirror[path.Section].elements
	return 0 <= path.Element && path.Element < len(elements)
}

func (self *SliceTarget) requireElement(path Path) {
	if !self.elementExists(path) {
		panic(fmt.Errorf("element out of range: %s", path))
	}
}

func (self *SliceTarget) requireSection(index int) {
	if index < 0 || len(self.mirror) <= index {
		panic(fmt.Errorf("section out of range: %d", index))
	}
}

func (self *SliceTarget) Data() Snapshot {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.data
}

// positional view built purely from the applied operations
func (self *SliceTarget) Mirror() [][]Id {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	mirror := make([][]Id, len(self.mirror))
	for i, section := range self.mirror {
		mirror[i] = append([]Id{}, section.elements...)
	}
	return mirror
}

func (self *SliceTarget) MirrorSectionIds() []Id {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	ids := make([]Id, len(self.mirror))
	for i, section := range self.mirror {
		ids[i] = section.id
	}
	return ids
}

func (self *SliceTarget) Counts() (substitutes int, fullReloads int, batches int, operations int) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.substituteCount, self.fullReloadCount, self.batchCount, self.operationCount
}

func (self *SliceTarget) StaleCount() int {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.staleCount
}
