package corelist

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/go-playground/assert/v2"
)

// applies each stage against a positional mirror the way the dispatcher
// does, verifying after every stage that the mirror matches the stage data
func replayStages(t *testing.T, old Snapshot, stagedChangeset StagedChangeset) *SliceTarget {
	target := NewSliceTarget()
	target.SubstituteData(old)
	target.FullReload()
	for i, stage := range stagedChangeset {
		target.SubstituteData(stage.Data)
		target.BeginBatch(false)
		target.DeleteElements(stage.ElementDeleted)
		target.DeleteSections(stage.SectionDeleted)
		for _, move := range stage.SectionMoved {
			target.MoveSection(move)
		}
		for _, move := range stage.ElementMoved {
			target.MoveElement(move)
		}
		target.InsertSections(stage.SectionInserted)
		target.InsertElements(stage.ElementInserted)
		target.ReloadSections(stage.SectionUpdated)
		target.ReloadElements(stage.ElementUpdated)
		target.EndBatch(func() {})

		assertMirror(t, target, stage.Data)
		// positional reloads must always resolve inside the stage frame
		if target.StaleCount() != 0 {
			t.Fatalf("stage %d issued stale reloads", i)
		}
	}
	return target
}

func assertMirror(t *testing.T, target *SliceTarget, snapshot Snapshot) {
	assert.Equal(t, target.MirrorSectionIds(), snapshot.SectionIds())
	mirror := target.Mirror()
	assert.Equal(t, len(mirror), snapshot.NumberOfSections())
	for i, section := range snapshot.Sections() {
		ids := []Id{}
		for _, element := range section.Elements {
			ids = append(ids, element.Id)
		}
		if len(mirror[i]) == 0 && len(ids) == 0 {
			continue
		}
		assert.Equal(t, mirror[i], ids)
	}
}

// every stage must contain operations of a single kind group
func assertKindPure(t *testing.T, stagedChangeset StagedChangeset) {
	for i, stage := range stagedChangeset {
		groups := 0
		if 0 < len(stage.ElementUpdated) {
			groups += 1
		}
		if 0 < len(stage.SectionDeleted)+len(stage.ElementDeleted) {
			groups += 1
		}
		if 0 < len(stage.SectionMoved) {
			groups += 1
		}
		if 0 < len(stage.ElementMoved) {
			groups += 1
		}
		if 0 < len(stage.SectionInserted)+len(stage.ElementInserted) {
			groups += 1
		}
		if 0 < len(stage.SectionUpdated) {
			groups += 1
		}
		assert.Equal(t, groups, 1)
		if stage.IsEmpty() {
			t.Fatalf("stage %d is empty", i)
		}
	}
}

func assertDiffReplays(t *testing.T, old Snapshot, new Snapshot) StagedChangeset {
	stagedChangeset := Diff(old, new)
	assertKindPure(t, stagedChangeset)
	target := replayStages(t, old, stagedChangeset)
	assertMirror(t, target, new)
	if 0 < len(stagedChangeset) {
		assert.Equal(t, stagedChangeset[len(stagedChangeset)-1].Data.Equal(new), true)
	}
	for _, stage := range stagedChangeset {
		for _, move := range stage.SectionMoved {
			assert.NotEqual(t, move.From, move.To)
		}
		for _, move := range stage.ElementMoved {
			assert.NotEqual(t, move.From, move.To)
		}
	}
	return stagedChangeset
}

func TestDiffIdentical(t *testing.T) {
	a := NewId()
	e1 := NewId()
	snapshot := RequireSnapshot(NewSection(a, "one", NewElement(e1, "x")))
	same := RequireSnapshot(NewSection(a, "one", NewElement(e1, "x")))

	stagedChangeset := assertDiffReplays(t, snapshot, same)
	assert.Equal(t, len(stagedChangeset), 0)

	stagedChangeset = assertDiffReplays(t, Snapshot{}, Snapshot{})
	assert.Equal(t, len(stagedChangeset), 0)
}

func TestDiffPopulateFromEmpty(t *testing.T) {
	a := NewId()
	b := NewId()
	e1 := NewId()
	e2 := NewId()
	new := RequireSnapshot(
		NewSection(a, "one", NewElement(e1, "x")),
		NewSection(b, "two", NewElement(e2, "y")),
	)

	stagedChangeset := assertDiffReplays(t, Snapshot{}, new)
	assert.Equal(t, len(stagedChangeset), 1)
	assert.Equal(t, stagedChangeset[0].SectionInserted, []int{0, 1})
	assert.Equal(t, stagedChangeset[0].ElementInserted, []Path{
		{Section: 0, Element: 0},
		{Section: 1, Element: 0},
	})
}

func TestDiffEmptyOut(t *testing.T) {
	a := NewId()
	e1 := NewId()
	old := RequireSnapshot(NewSection(a, "one", NewElement(e1, "x")))

	stagedChangeset := assertDiffReplays(t, old, Snapshot{})
	assert.Equal(t, len(stagedChangeset), 1)
	assert.Equal(t, stagedChangeset[0].SectionDeleted, []int{0})
	// elements of a deleted section vanish with the section
	assert.Equal(t, len(stagedChangeset[0].ElementDeleted), 0)
}

func TestDiffElementUpdate(t *testing.T) {
	a := NewId()
	e1 := NewId()
	e2 := NewId()
	old := RequireSnapshot(NewSection(a, "one", NewElement(e1, "x"), NewElement(e2, "y")))
	new := RequireSnapshot(NewSection(a, "one", NewElement(e1, "x2"), NewElement(e2, "y")))

	stagedChangeset := assertDiffReplays(t, old, new)
	assert.Equal(t, len(stagedChangeset), 1)
	// updates address the frame before the stage
	assert.Equal(t, stagedChangeset[0].ElementUpdated, []Path{{Section: 0, Element: 0}})
	assert.Equal(t, stagedChangeset[0].Data.Equal(new), true)
}

func TestDiffSectionMetadataUpdate(t *testing.T) {
	a := NewId()
	b := NewId()
	e1 := NewId()
	old := RequireSnapshot(
		NewSection(a, "one", NewElement(e1, "x")),
		NewSection(b, "two"),
	)
	new := RequireSnapshot(
		NewSection(a, "one!", NewElement(e1, "x")),
		NewSection(b, "two"),
	)

	stagedChangeset := assertDiffReplays(t, old, new)
	assert.Equal(t, len(stagedChangeset), 1)
	assert.Equal(t, stagedChangeset[0].SectionUpdated, []int{0})
}

func TestDiffSectionMoves(t *testing.T) {
	a := NewId()
	b := NewId()
	c := NewId()
	old := RequireSnapshot(
		NewSection(a, "one"),
		NewSection(b, "two"),
		NewSection(c, "three"),
	)
	// one section out of place needs exactly one move
	new := RequireSnapshot(
		NewSection(c, "three"),
		NewSection(a, "one"),
		NewSection(b, "two"),
	)

	stagedChangeset := assertDiffReplays(t, old, new)
	assert.Equal(t, len(stagedChangeset), 1)
	assert.Equal(t, stagedChangeset[0].SectionMoved, []SectionMove{{From: 2, To: 0}})
}

func TestDiffElementMoveWithinSection(t *testing.T) {
	a := NewId()
	e1 := NewId()
	e2 := NewId()
	e3 := NewId()
	old := RequireSnapshot(NewSection(a, nil,
		NewElement(e1, "x"), NewElement(e2, "y"), NewElement(e3, "z")))
	new := RequireSnapshot(NewSection(a, nil,
		NewElement(e3, "z"), NewElement(e1, "x"), NewElement(e2, "y")))

	stagedChangeset := assertDiffReplays(t, old, new)
	assert.Equal(t, len(stagedChangeset), 1)
	assert.Equal(t, stagedChangeset[0].ElementMoved, []ElementMove{
		{From: Path{Section: 0, Element: 2}, To: Path{Section: 0, Element: 0}},
	})
}

func TestDiffElementMoveAcrossSections(t *testing.T) {
	a := NewId()
	b := NewId()
	e1 := NewId()
	e2 := NewId()
	old := RequireSnapshot(
		NewSection(a, nil, NewElement(e1, "x"), NewElement(e2, "y")),
		NewSection(b, nil),
	)
	new := RequireSnapshot(
		NewSection(a, nil, NewElement(e1, "x")),
		NewSection(b, nil, NewElement(e2, "y")),
	)

	stagedChangeset := assertDiffReplays(t, old, new)
	assert.Equal(t, len(stagedChangeset), 1)
	assert.Equal(t, stagedChangeset[0].ElementMoved, []ElementMove{
		{From: Path{Section: 0, Element: 1}, To: Path{Section: 1, Element: 0}},
	})
}

func TestDiffMoveIntoInsertedSection(t *testing.T) {
	a := NewId()
	b := NewId()
	e1 := NewId()
	e2 := NewId()
	old := RequireSnapshot(
		NewSection(a, nil, NewElement(e1, "x"), NewElement(e2, "y")),
	)
	new := RequireSnapshot(
		NewSection(a, nil, NewElement(e1, "x")),
		NewSection(b, nil, NewElement(e2, "y")),
	)

	// an element cannot move into a section created this cycle. It is
	// deleted from the old section and inserted with the new one.
	stagedChangeset := assertDiffReplays(t, old, new)
	assert.Equal(t, len(stagedChangeset), 2)
	assert.Equal(t, stagedChangeset[0].ElementDeleted, []Path{{Section: 0, Element: 1}})
	assert.Equal(t, stagedChangeset[1].SectionInserted, []int{1})
	assert.Equal(t, stagedChangeset[1].ElementInserted, []Path{{Section: 1, Element: 0}})
}

func TestDiffMoveOutOfDeletedSection(t *testing.T) {
	a := NewId()
	b := NewId()
	e1 := NewId()
	e2 := NewId()
	old := RequireSnapshot(
		NewSection(a, nil, NewElement(e1, "x")),
		NewSection(b, nil, NewElement(e2, "y")),
	)
	new := RequireSnapshot(
		NewSection(b, nil, NewElement(e2, "y"), NewElement(e1, "x")),
	)

	// the surviving element is re-inserted, never deleted twice
	stagedChangeset := assertDiffReplays(t, old, new)
	assert.Equal(t, len(stagedChangeset), 2)
	assert.Equal(t, stagedChangeset[0].SectionDeleted, []int{0})
	assert.Equal(t, len(stagedChangeset[0].ElementDeleted), 0)
	assert.Equal(t, stagedChangeset[1].ElementInserted, []Path{{Section: 0, Element: 1}})
}

func TestDiffAllStages(t *testing.T) {
	a := NewId()
	b := NewId()
	c := NewId()
	d := NewId()
	e1 := NewId()
	e2 := NewId()
	e3 := NewId()
	e4 := NewId()
	e5 := NewId()
	e6 := NewId()
	e7 := NewId()

	old := RequireSnapshot(
		NewSection(a, "a", NewElement(e1, "1"), NewElement(e2, "2"), NewElement(e3, "3")),
		NewSection(b, "b", NewElement(e4, "4"), NewElement(e5, "5")),
		NewSection(c, "c", NewElement(e6, "6")),
	)
	new := RequireSnapshot(
		NewSection(c, "c", NewElement(e5, "5"), NewElement(e6, "6")),
		NewSection(a, "a!", NewElement(e3, "3"), NewElement(e1, "1!")),
		NewSection(d, "d", NewElement(e7, "7"), NewElement(e2, "2")),
	)

	stagedChangeset := assertDiffReplays(t, old, new)
	assert.Equal(t, len(stagedChangeset), 6)

	// 1: payload updates in the old frame
	assert.Equal(t, stagedChangeset[0].ElementUpdated, []Path{{Section: 0, Element: 0}})
	// 2: deletes
	assert.Equal(t, stagedChangeset[1].SectionDeleted, []int{1})
	assert.Equal(t, stagedChangeset[1].ElementDeleted, []Path{{Section: 0, Element: 1}})
	// 3: section moves
	assert.Equal(t, len(stagedChangeset[2].SectionMoved), 1)
	// 4: element moves
	assert.Equal(t, len(stagedChangeset[3].ElementMoved), 1)
	// 5: inserts in the final frame
	assert.Equal(t, stagedChangeset[4].SectionInserted, []int{2})
	assert.Equal(t, stagedChangeset[4].ElementInserted, []Path{
		{Section: 0, Element: 0},
		{Section: 2, Element: 0},
		{Section: 2, Element: 1},
	})
	// 6: metadata reloads in the final frame
	assert.Equal(t, stagedChangeset[5].SectionUpdated, []int{1})
	assert.Equal(t, stagedChangeset[5].Data.Equal(new), true)
}

func TestDiffCustomEquality(t *testing.T) {
	a := NewId()
	e1 := NewId()
	old := RequireSnapshot(NewSection(a, "one", NewElement(e1, "x")))
	new := RequireSnapshot(NewSection(a, "two", NewElement(e1, "y")))

	everythingEqual := &DiffSettings{
		MetadataEqual: func(a any, b any) bool {
			return true
		},
		PayloadEqual: func(a any, b any) bool {
			return true
		},
	}
	stagedChangeset := DiffWithSettings(old, new, everythingEqual)
	assert.Equal(t, len(stagedChangeset), 0)
}

func TestLongestIncreasingSubsequence(t *testing.T) {
	count := func(member []bool) int {
		n := 0
		for _, m := range member {
			if m {
				n += 1
			}
		}
		return n
	}

	assert.Equal(t, count(longestIncreasingSubsequence([]int{})), 0)
	assert.Equal(t, count(longestIncreasingSubsequence([]int{5})), 1)
	assert.Equal(t, count(longestIncreasingSubsequence([]int{1, 2, 3})), 3)
	assert.Equal(t, count(longestIncreasingSubsequence([]int{3, 2, 1})), 1)
	assert.Equal(t, count(longestIncreasingSubsequence([]int{2, 0, 1, 3})), 3)

	member := longestIncreasingSubsequence([]int{1, 0, 2})
	assert.Equal(t, count(member), 2)
	assert.Equal(t, member[2], true)
}

func TestDiffSectionReversal(t *testing.T) {
	a := NewId()
	b := NewId()
	c := NewId()
	old := RequireSnapshot(
		NewSection(a, "one"),
		NewSection(b, "two"),
		NewSection(c, "three"),
	)
	// a full reversal pins the middle section in place. The endpoints must
	// both move even though neither is part of the longest stable run
	new := RequireSnapshot(
		NewSection(c, "three"),
		NewSection(b, "two"),
		NewSection(a, "one"),
	)

	stagedChangeset := assertDiffReplays(t, old, new)
	assert.Equal(t, len(stagedChangeset), 1)
	assert.Equal(t, stagedChangeset[0].SectionMoved, []SectionMove{
		{From: 2, To: 0},
		{From: 0, To: 2},
	})
}

func TestDiffElementReversal(t *testing.T) {
	a := NewId()
	e1 := NewId()
	e2 := NewId()
	e3 := NewId()
	old := RequireSnapshot(NewSection(a, nil,
		NewElement(e1, "x"), NewElement(e2, "y"), NewElement(e3, "z")))
	new := RequireSnapshot(NewSection(a, nil,
		NewElement(e3, "z"), NewElement(e2, "y"), NewElement(e1, "x")))

	stagedChangeset := assertDiffReplays(t, old, new)
	assert.Equal(t, len(stagedChangeset), 1)
	assert.Equal(t, stagedChangeset[0].ElementMoved, []ElementMove{
		{From: Path{Section: 0, Element: 2}, To: Path{Section: 0, Element: 0}},
		{From: Path{Section: 0, Element: 0}, To: Path{Section: 0, Element: 2}},
	})
}

func randomSnapshot(random *rand.Rand, sectionIds []Id, elementIds []Id) Snapshot {
	elements := make([]Element, len(elementIds))
	for i, id := range elementIds {
		elements[i] = NewElement(id, fmt.Sprintf("p%d", random.Intn(3)))
	}
	random.Shuffle(len(elements), func(i int, j int) {
		elements[i], elements[j] = elements[j], elements[i]
	})

	sections := []Section{}
	start := 0
	order := random.Perm(len(sectionIds))
	for i, k := range order {
		end := len(elements)
		if i < len(order)-1 {
			end = start + random.Intn(len(elements)-start+1)
		}
		sections = append(sections, NewSection(
			sectionIds[k],
			fmt.Sprintf("m%d", random.Intn(2)),
			elements[start:end]...,
		))
		start = end
	}
	return RequireSnapshot(sections...)
}

func TestDiffRandomPermutations(t *testing.T) {
	random := rand.New(rand.NewSource(1))
	sectionIds := []Id{}
	for i := 0; i < 4; i += 1 {
		sectionIds = append(sectionIds, NewId())
	}
	elementIds := []Id{}
	for i := 0; i < 10; i += 1 {
		elementIds = append(elementIds, NewId())
	}

	current := randomSnapshot(random, sectionIds, elementIds)
	for i := 0; i < 50; i += 1 {
		next := randomSnapshot(random, sectionIds, elementIds)
		assertDiffReplays(t, current, next)
		current = next
	}
}
