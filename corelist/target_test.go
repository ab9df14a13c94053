package corelist

import (
	"testing"

	"github.com/go-playground/assert/v2"
)

func TestSliceTargetConflictPanics(t *testing.T) {
	a := NewId()
	target := NewSliceTarget()
	target.SubstituteData(RequireSnapshot(NewSection(a, nil)))
	target.FullReload()

	defer func() {
		assert.NotEqual(t, recover(), nil)
	}()
	target.BeginBatch(false)
	target.DeleteSections([]int{5})
	target.EndBatch(func() {})
}

func TestSliceTargetOperationOutsideBatch(t *testing.T) {
	target := NewSliceTarget()

	defer func() {
		assert.NotEqual(t, recover(), nil)
	}()
	target.DeleteSections([]int{0})
}

func TestSliceTargetStaleReloads(t *testing.T) {
	a := NewId()
	e1 := NewId()
	target := NewSliceTarget()
	target.SubstituteData(RequireSnapshot(NewSection(a, nil, NewElement(e1, "x"))))
	target.FullReload()

	// reloads of vanished positions are counted and skipped, not errors
	target.BeginBatch(false)
	target.ReloadElements([]Path{
		{Section: 0, Element: 0},
		{Section: 0, Element: 9},
	})
	target.ReloadSections([]int{0, 3})
	target.EndBatch(func() {})

	assert.Equal(t, target.StaleCount(), 2)
}

func TestSliceTargetBatchCompletion(t *testing.T) {
	target := NewSliceTarget()
	completed := false
	target.BeginBatch(true)
	target.EndBatch(func() {
		completed = true
	})
	assert.Equal(t, completed, true)
}
