package corelist

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang/glog"
)

var errDispatcherClosed = errors.New("dispatcher closed")

// apply request state machine is:
// ApplyStateQueued
//
//	-> ApplyStateDiffing
//	  -> ApplyStateReplaying
//	    -> ApplyStateCommitted (terminal)
//	    -> ApplyStateFailed (terminal)
type ApplyState string

const (
	ApplyStateQueued    ApplyState = "Queued"
	ApplyStateDiffing   ApplyState = "Diffing"
	ApplyStateReplaying ApplyState = "Replaying"
	ApplyStateCommitted ApplyState = "Committed"
	ApplyStateFailed    ApplyState = "Failed"
)

func (self ApplyState) IsTerminal() bool {
	switch self {
	case ApplyStateCommitted, ApplyStateFailed:
		return true
	default:
		return false
	}
}

type ApplyEvent struct {
	RequestId  Id
	State      ApplyState
	Stage      int
	StageCount int
	Err        error
}

type ApplyEventFunction = func(event *ApplyEvent)

type DispatcherSettings struct {
	DiffSettings *DiffSettings
	// maximum wait for one batch completion callback.
	// zero waits indefinitely.
	StageTimeout time.Duration
}

func DefaultDispatcherSettings() *DispatcherSettings {
	return &DispatcherSettings{
		DiffSettings: DefaultDiffSettings(),
		StageTimeout: 0,
	}
}

type applyRequest struct {
	requestId Id
	snapshot  Snapshot
	animated  bool
	reload    bool
	result    chan error
}

// owns the single source of truth for what snapshot is currently applied to
// the target, and serializes all apply requests onto one run loop so the
// target is only ever mutated from one goroutine. Requests are applied in
// submission order. No stage of request N+1 is issued before all stages of
// request N complete.
type Dispatcher struct {
	ctx    context.Context
	cancel context.CancelFunc

	target   Target
	settings *DispatcherSettings

	stateLock      sync.Mutex
	currentApplied Snapshot
	pending        []*applyRequest

	pendingSignal chan struct{}

	applyEventCallbacks *CallbackList[ApplyEventFunction]
}

func NewDispatcherWithDefaults(ctx context.Context, target Target) *Dispatcher {
	return NewDispatcher(ctx, target, DefaultDispatcherSettings())
}

func NewDispatcher(ctx context.Context, target Target, settings *DispatcherSettings) *Dispatcher {
	cancelCtx, cancel := context.WithCancel(ctx)
	dispatcher := &Dispatcher{
		ctx:                 cancelCtx,
		cancel:              cancel,
		target:              target,
		settings:            settings,
		pending:             []*applyRequest{},
		pendingSignal:       make(chan struct{}, 1),
		applyEventCallbacks: NewCallbackList[ApplyEventFunction](),
	}
	go dispatcher.run()
	return dispatcher
}

func (self *Dispatcher) AddApplyEventCallback(applyEventCallback ApplyEventFunction) func() {
	callbackId := self.applyEventCallbacks.Add(applyEventCallback)
	return func() {
		self.applyEventCallbacks.Remove(callbackId)
	}
}

// requests that `snapshot` become the applied state of the target.
// Safe to call from any goroutine, including from target callbacks of an
// apply already in progress. Returns without waiting.
func (self *Dispatcher) Apply(snapshot Snapshot, animated bool) {
	self.submit(snapshot, animated, false)
}

// like `Apply` but blocks until the request commits or fails.
// Must not be called from target callbacks, which run on the same loop.
func (self *Dispatcher) ApplyAndWait(snapshot Snapshot, animated bool) error {
	request := self.submit(snapshot, animated, false)
	select {
	case err := <-request.result:
		return err
	case <-self.ctx.Done():
		return errDispatcherClosed
	}
}

// substitutes `snapshot` with a single unconditional full reload,
// bypassing the diff engine. Used when the upstream source invalidates
// itself wholesale.
func (self *Dispatcher) Reload(snapshot Snapshot) {
	self.submit(snapshot, false, true)
}

func (self *Dispatcher) ReloadAndWait(snapshot Snapshot) error {
	request := self.submit(snapshot, false, true)
	select {
	case err := <-request.result:
		return err
	case <-self.ctx.Done():
		return errDispatcherClosed
	}
}

func (self *Dispatcher) submit(snapshot Snapshot, animated bool, reload bool) *applyRequest {
	request := &applyRequest{
		requestId: NewId(),
		snapshot:  snapshot,
		animated:  animated,
		reload:    reload,
		result:    make(chan error, 1),
	}
	if self.ctx.Err() != nil {
		request.result <- errDispatcherClosed
		return request
	}

	// emitted before the run loop can observe the request, so per-request
	// events are always seen in state machine order
	self.event(&ApplyEvent{
		RequestId: request.requestId,
		State:     ApplyStateQueued,
	})

	self.stateLock.Lock()
	self.pending = append(self.pending, request)
	self.stateLock.Unlock()

	select {
	case self.pendingSignal <- struct{}{}:
	default:
		// already signaled
	}
	return request
}

func (self *Dispatcher) pop() *applyRequest {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	if len(self.pending) == 0 {
		return nil
	}
	request := self.pending[0]
	self.pending = self.pending[1:]
	return request
}

func (self *Dispatcher) run() {
	defer func() {
		for {
			request := self.pop()
			if request == nil {
				return
			}
			request.result <- errDispatcherClosed
		}
	}()

	for {
		select {
		case <-self.ctx.Done():
			return
		case <-self.pendingSignal:
		}
		for {
			request := self.pop()
			if request == nil {
				break
			}
			self.execute(request)
		}
	}
}

func (self *Dispatcher) execute(request *applyRequest) {
	self.event(&ApplyEvent{
		RequestId: request.requestId,
		State:     ApplyStateDiffing,
	})

	current := self.CurrentSnapshot()

	var stagedChangeset StagedChangeset
	if !request.reload {
		trace(fmt.Sprintf("[d]diff %s", request.requestId), func() {
			stagedChangeset = DiffWithSettings(current, request.snapshot, self.settings.DiffSettings)
		})
	}

	if request.reload || self.shouldBypass() {
		if err := self.fullReload(request.snapshot); err != nil {
			self.fail(request, err)
			return
		}
		self.setCurrentApplied(request.snapshot)
		self.commit(request)
		return
	}

	if len(stagedChangeset) == 0 {
		// a no-op diff still updates the applied snapshot but issues no
		// operations to the target
		self.setCurrentApplied(request.snapshot)
		self.commit(request)
		return
	}

	for i, stage := range stagedChangeset {
		self.event(&ApplyEvent{
			RequestId:  request.requestId,
			State:      ApplyStateReplaying,
			Stage:      i,
			StageCount: len(stagedChangeset),
		})
		if err := self.replayStage(stage, request.animated); err != nil {
			// the applied snapshot stays at the last fully-applied stage
			glog.Infof("[d]apply %s stage %d/%d failed = %s\n", request.requestId, i, len(stagedChangeset), err)
			self.fail(request, err)
			return
		}
		self.setCurrentApplied(stage.Data)
	}
	self.setCurrentApplied(request.snapshot)
	self.commit(request)
}

func (self *Dispatcher) shouldBypass() (bypass bool) {
	handleError(func() {
		bypass = self.target.ShouldBypassIncrementalUpdates()
	})
	return
}

func (self *Dispatcher) fullReload(snapshot Snapshot) error {
	var reloadErr error
	handleError(func() {
		self.target.SubstituteData(snapshot)
		self.target.FullReload()
	}, func(err error) {
		reloadErr = err
	})
	return reloadErr
}

// substitutes the stage data, issues the stage's operations as one batch,
// and waits for the target's completion callback
func (self *Dispatcher) replayStage(stage Changeset, animated bool) error {
	var issueErr error
	complete := make(chan struct{})
	var completeOnce sync.Once

	handleError(func() {
		self.target.SubstituteData(stage.Data)
		self.target.BeginBatch(animated)
		if 0 < len(stage.ElementDeleted) {
			self.target.DeleteElements(stage.ElementDeleted)
		}
		if 0 < len(stage.SectionDeleted) {
			self.target.DeleteSections(stage.SectionDeleted)
		}
		for _, move := range stage.SectionMoved {
			self.target.MoveSection(move)
		}
		for _, move := range stage.ElementMoved {
			self.target.MoveElement(move)
		}
		if 0 < len(stage.SectionInserted) {
			self.target.InsertSections(stage.SectionInserted)
		}
		if 0 < len(stage.ElementInserted) {
			self.target.InsertElements(stage.ElementInserted)
		}
		if 0 < len(stage.SectionUpdated) {
			self.target.ReloadSections(stage.SectionUpdated)
		}
		if 0 < len(stage.ElementUpdated) {
			self.target.ReloadElements(stage.ElementUpdated)
		}
		self.target.EndBatch(func() {
			completeOnce.Do(func() {
				close(complete)
			})
		})
	}, func(err error) {
		issueErr = err
	})
	if issueErr != nil {
		return issueErr
	}

	if 0 < self.settings.StageTimeout {
		select {
		case <-complete:
			return nil
		case <-time.After(self.settings.StageTimeout):
			return fmt.Errorf("target did not complete batch within %s", self.settings.StageTimeout)
		case <-self.ctx.Done():
			return errDispatcherClosed
		}
	}
	select {
	case <-complete:
		return nil
	case <-self.ctx.Done():
		return errDispatcherClosed
	}
}

func (self *Dispatcher) commit(request *applyRequest) {
	glog.V(1).Infof("[d]apply %s committed\n", request.requestId)
	self.event(&ApplyEvent{
		RequestId: request.requestId,
		State:     ApplyStateCommitted,
	})
	request.result <- nil
}

func (self *Dispatcher) fail(request *applyRequest, err error) {
	self.event(&ApplyEvent{
		RequestId: request.requestId,
		State:     ApplyStateFailed,
		Err:       err,
	})
	request.result <- err
}

func (self *Dispatcher) event(event *ApplyEvent) {
	for _, applyEventCallback := range self.applyEventCallbacks.Get() {
		handleError(func() {
			applyEventCallback(event)
		})
	}
}

func (self *Dispatcher) setCurrentApplied(snapshot Snapshot) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	self.currentApplied = snapshot
}

// lookups are always served from the currently applied snapshot, never from
// an in-flight one

func (self *Dispatcher) CurrentSnapshot() Snapshot {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.currentApplied
}

func (self *Dispatcher) IdentifierAt(path Path) (Id, bool) {
	element, ok := self.CurrentSnapshot().Element(path)
	if !ok {
		return Id{}, false
	}
	return element.Id, true
}

func (self *Dispatcher) PathOf(id Id) (Path, bool) {
	return self.CurrentSnapshot().PathOf(id)
}

func (self *Dispatcher) NumberOfSections() int {
	return self.CurrentSnapshot().NumberOfSections()
}

func (self *Dispatcher) NumberOfElements(section int) int {
	return self.CurrentSnapshot().NumberOfElements(section)
}

func (self *Dispatcher) Close() {
	self.cancel()
}
