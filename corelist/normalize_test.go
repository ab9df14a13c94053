package corelist

import (
	"testing"

	"github.com/go-playground/assert/v2"
)

func TestNormalizerStateMachine(t *testing.T) {
	normalizer := NewNormalizer(Snapshot{})

	assert.NotEqual(t, normalizer.Add(DeleteSectionDelta(0)), nil)
	assert.NotEqual(t, normalizer.Invalidate(), nil)
	_, _, err := normalizer.Commit()
	assert.NotEqual(t, err, nil)

	assert.Equal(t, normalizer.Begin(), nil)
	assert.NotEqual(t, normalizer.Begin(), nil)

	_, _, err = normalizer.Commit()
	assert.Equal(t, err, nil)

	// a committed transaction closes. The next begin opens a fresh one.
	assert.Equal(t, normalizer.Begin(), nil)
	_, _, err = normalizer.Commit()
	assert.Equal(t, err, nil)
}

func TestNormalizerFold(t *testing.T) {
	a := NewId()
	e1 := NewId()
	e2 := NewId()
	base := RequireSnapshot(NewSection(a, "one", NewElement(e1, "x")))
	normalizer := NewNormalizer(base)

	assert.Equal(t, normalizer.Begin(), nil)
	assert.Equal(t, normalizer.Add(InsertElementDelta(e2, "y", Path{Section: 0, Element: 1})), nil)
	assert.Equal(t, normalizer.Add(UpdateElementDelta(Path{Section: 0, Element: 0}, "x2")), nil)
	snapshot, refreshed, err := normalizer.Commit()
	assert.Equal(t, err, nil)
	assert.Equal(t, refreshed, false)

	expected := RequireSnapshot(NewSection(a, "one", NewElement(e1, "x2"), NewElement(e2, "y")))
	assert.Equal(t, snapshot.Equal(expected), true)
	// the committed snapshot becomes the base of the next transaction
	assert.Equal(t, normalizer.Base().Equal(expected), true)
}

func TestNormalizerEmptyTransaction(t *testing.T) {
	a := NewId()
	base := RequireSnapshot(NewSection(a, "one"))
	normalizer := NewNormalizer(base)

	assert.Equal(t, normalizer.Begin(), nil)
	snapshot, refreshed, err := normalizer.Commit()
	assert.Equal(t, err, nil)
	assert.Equal(t, refreshed, false)
	assert.Equal(t, snapshot.Equal(base), true)
}

func TestNormalizerSuppressUpdateInDeletedSection(t *testing.T) {
	a := NewId()
	b := NewId()
	e1 := NewId()
	e2 := NewId()
	base := RequireSnapshot(
		NewSection(a, "one", NewElement(e1, "x")),
		NewSection(b, "two", NewElement(e2, "y")),
	)
	normalizer := NewNormalizer(base)

	assert.Equal(t, normalizer.Begin(), nil)
	assert.Equal(t, normalizer.Add(DeleteSectionDelta(0)), nil)
	// stale coordinate into the deleted section must be suppressed
	assert.Equal(t, normalizer.Add(UpdateElementDelta(Path{Section: 0, Element: 0}, "x2")), nil)
	snapshot, _, err := normalizer.Commit()
	assert.Equal(t, err, nil)

	expected := RequireSnapshot(NewSection(b, "two", NewElement(e2, "y")))
	assert.Equal(t, snapshot.Equal(expected), true)
}

func TestNormalizerReclassifySameSlotMove(t *testing.T) {
	a := NewId()
	b := NewId()
	e1 := NewId()
	e2 := NewId()
	base := RequireSnapshot(NewSection(a, "one", NewElement(e1, "x")))

	// same-slot move into a section inserted this transaction is an insert
	normalizer := NewNormalizer(base)
	assert.Equal(t, normalizer.Begin(), nil)
	assert.Equal(t, normalizer.Add(InsertSectionDelta(b, "two", 1)), nil)
	samePath := Path{Section: 1, Element: 0}
	assert.Equal(t, normalizer.Add(MoveElementDelta(e2, "y", samePath, samePath)), nil)
	snapshot, _, err := normalizer.Commit()
	assert.Equal(t, err, nil)
	expected := RequireSnapshot(
		NewSection(a, "one", NewElement(e1, "x")),
		NewSection(b, "two", NewElement(e2, "y")),
	)
	assert.Equal(t, snapshot.Equal(expected), true)

	// same-slot move in an existing section is an update at the destination
	normalizer = NewNormalizer(base)
	assert.Equal(t, normalizer.Begin(), nil)
	samePath = Path{Section: 0, Element: 0}
	assert.Equal(t, normalizer.Add(MoveElementDelta(e1, "x2", samePath, samePath)), nil)
	snapshot, _, err = normalizer.Commit()
	assert.Equal(t, err, nil)
	expected = RequireSnapshot(NewSection(a, "one", NewElement(e1, "x2")))
	assert.Equal(t, snapshot.Equal(expected), true)
}

func TestNormalizerDropSameSlotSectionMove(t *testing.T) {
	a := NewId()
	b := NewId()
	base := RequireSnapshot(
		NewSection(a, "one"),
		NewSection(b, "two"),
	)
	normalizer := NewNormalizer(base)

	// a section move delta carries no metadata, so a same-slot section
	// move has nothing to fold and the base commits unchanged
	assert.Equal(t, normalizer.Begin(), nil)
	assert.Equal(t, normalizer.Add(MoveSectionDelta(1, 1)), nil)
	snapshot, refreshed, err := normalizer.Commit()
	assert.Equal(t, err, nil)
	assert.Equal(t, refreshed, false)
	assert.Equal(t, snapshot.Equal(base), true)
}

func TestNormalizerSectionMoveAndDelete(t *testing.T) {
	a := NewId()
	b := NewId()
	c := NewId()
	base := RequireSnapshot(
		NewSection(a, "one"),
		NewSection(b, "two"),
		NewSection(c, "three"),
	)
	normalizer := NewNormalizer(base)

	assert.Equal(t, normalizer.Begin(), nil)
	assert.Equal(t, normalizer.Add(DeleteSectionDelta(1)), nil)
	assert.Equal(t, normalizer.Add(MoveSectionDelta(0, 1)), nil)
	snapshot, _, err := normalizer.Commit()
	assert.Equal(t, err, nil)

	expected := RequireSnapshot(
		NewSection(c, "three"),
		NewSection(a, "one"),
	)
	assert.Equal(t, snapshot.Equal(expected), true)
}

func TestNormalizerElementMove(t *testing.T) {
	a := NewId()
	b := NewId()
	e1 := NewId()
	e2 := NewId()
	base := RequireSnapshot(
		NewSection(a, "one", NewElement(e1, "x"), NewElement(e2, "y")),
		NewSection(b, "two"),
	)
	normalizer := NewNormalizer(base)

	assert.Equal(t, normalizer.Begin(), nil)
	assert.Equal(t, normalizer.Add(MoveElementDelta(e2, "y",
		Path{Section: 0, Element: 1}, Path{Section: 1, Element: 0})), nil)
	snapshot, _, err := normalizer.Commit()
	assert.Equal(t, err, nil)

	expected := RequireSnapshot(
		NewSection(a, "one", NewElement(e1, "x")),
		NewSection(b, "two", NewElement(e2, "y")),
	)
	assert.Equal(t, snapshot.Equal(expected), true)
}

func TestNormalizerInvalidate(t *testing.T) {
	a := NewId()
	e1 := NewId()
	base := RequireSnapshot(NewSection(a, "one", NewElement(e1, "x")))
	normalizer := NewNormalizer(base)

	assert.Equal(t, normalizer.Begin(), nil)
	assert.Equal(t, normalizer.Add(DeleteSectionDelta(0)), nil)
	assert.Equal(t, normalizer.Invalidate(), nil)
	// events after invalidation are discarded, not errors
	assert.Equal(t, normalizer.Add(UpdateElementDelta(Path{Section: 0, Element: 0}, "x2")), nil)

	snapshot, refreshed, err := normalizer.Commit()
	assert.Equal(t, err, nil)
	assert.Equal(t, refreshed, true)
	assert.Equal(t, snapshot.Equal(base), true)
}

func TestNormalizerFoldError(t *testing.T) {
	a := NewId()
	e1 := NewId()
	base := RequireSnapshot(NewSection(a, "one", NewElement(e1, "x")))
	normalizer := NewNormalizer(base)

	assert.Equal(t, normalizer.Begin(), nil)
	assert.Equal(t, normalizer.Add(InsertElementDelta(NewId(), "y", Path{Section: 5, Element: 0})), nil)
	_, _, err := normalizer.Commit()
	assert.NotEqual(t, err, nil)
	// the base state survives a failed fold
	assert.Equal(t, normalizer.Base().Equal(base), true)
}
