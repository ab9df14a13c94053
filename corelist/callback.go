package corelist

import (
	"sync"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// makes a copy of the list on update so that `Get` results are safe to
// iterate without holding the lock
type CallbackList[T any] struct {
	stateLock sync.Mutex

	nextCallbackId int
	callbackIds    map[int]int
	callbacks      []T
}

func NewCallbackList[T any]() *CallbackList[T] {
	return &CallbackList[T]{
		nextCallbackId: 0,
		callbackIds:    map[int]int{},
		callbacks:      []T{},
	}
}

func (self *CallbackList[T]) Get() []T {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	return self.callbacks
}

func (self *CallbackList[T]) Add(callback T) int {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	callbackId := self.nextCallbackId
	self.nextCallbackId += 1
	self.callbackIds[callbackId] = len(self.callbacks)
	nextCallbacks := slices.Clone(self.callbacks)
	nextCallbacks = append(nextCallbacks, callback)
	self.callbacks = nextCallbacks
	return callbackId
}

func (self *CallbackList[T]) Remove(callbackId int) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	i, ok := self.callbackIds[callbackId]
	if !ok {
		// not present
		return
	}
	delete(self.callbackIds, callbackId)
	nextCallbacks := slices.Clone(self.callbacks)
	nextCallbacks = slices.Delete(nextCallbacks, i, i+1)
	self.callbacks = nextCallbacks
	for otherCallbackId, j := range maps.Clone(self.callbackIds) {
		if i < j {
			self.callbackIds[otherCallbackId] = j - 1
		}
	}
}
