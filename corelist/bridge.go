package corelist

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/golang/glog"
	"github.com/gorilla/websocket"
)

type FeedBridgeSettings struct {
	WsHandshakeTimeout time.Duration
	ReconnectTimeout   time.Duration
	PingTimeout        time.Duration
	WriteTimeout       time.Duration
	ReadTimeout        time.Duration
}

func DefaultFeedBridgeSettings() *FeedBridgeSettings {
	return &FeedBridgeSettings{
		WsHandshakeTimeout: 2 * time.Second,
		ReconnectTimeout:   5 * time.Second,
		PingTimeout:        1 * time.Second,
		WriteTimeout:       5 * time.Second,
		ReadTimeout:        15 * time.Second,
	}
}

type SnapshotFunction func(snapshot Snapshot, refreshed bool)

// connects a remote feed of change transactions to a local dispatcher.
// Frames are normalized per transaction and each committed snapshot is
// applied incrementally. An invalidated transaction is applied as a
// forced reload instead.
type FeedBridge struct {
	ctx    context.Context
	cancel context.CancelFunc

	feedUrl    string
	dispatcher *Dispatcher

	settings *FeedBridgeSettings

	// touched only on the run goroutine
	normalizer *Normalizer

	snapshotCallbacks *CallbackList[SnapshotFunction]
}

func NewFeedBridgeWithDefaults(
	ctx context.Context,
	feedUrl string,
	dispatcher *Dispatcher,
) *FeedBridge {
	return NewFeedBridge(ctx, feedUrl, dispatcher, DefaultFeedBridgeSettings())
}

func NewFeedBridge(
	ctx context.Context,
	feedUrl string,
	dispatcher *Dispatcher,
	settings *FeedBridgeSettings,
) *FeedBridge {
	cancelCtx, cancel := context.WithCancel(ctx)
	bridge := &FeedBridge{
		ctx:               cancelCtx,
		cancel:            cancel,
		feedUrl:           feedUrl,
		dispatcher:        dispatcher,
		settings:          settings,
		normalizer:        NewNormalizer(dispatcher.CurrentSnapshot()),
		snapshotCallbacks: NewCallbackList[SnapshotFunction](),
	}
	go bridge.run()
	return bridge
}

func (self *FeedBridge) AddSnapshotCallback(snapshotCallback SnapshotFunction) func() {
	callbackId := self.snapshotCallbacks.Add(snapshotCallback)
	return func() {
		self.snapshotCallbacks.Remove(callbackId)
	}
}

func (self *FeedBridge) run() {
	defer self.cancel()

	for {
		reconnectEnd := time.Now().Add(self.settings.ReconnectTimeout)

		dialer := &websocket.Dialer{
			HandshakeTimeout: self.settings.WsHandshakeTimeout,
		}
		ws, _, err := dialer.DialContext(self.ctx, self.feedUrl, nil)
		if err != nil {
			glog.Infof("[fb]connect error = %s\n", err)
		} else {
			c := func() {
				defer ws.Close()

				handleCtx, handleCancel := context.WithCancel(self.ctx)
				defer handleCancel()

				go func() {
					defer handleCancel()

					for {
						select {
						case <-handleCtx.Done():
							return
						case <-time.After(self.settings.PingTimeout):
							ws.SetWriteDeadline(time.Now().Add(self.settings.WriteTimeout))
							if err := ws.WriteMessage(websocket.PingMessage, make([]byte, 0)); err != nil {
								// a websocket deadline timeout cannot be recovered
								return
							}
						}
					}
				}()

				for {
					select {
					case <-handleCtx.Done():
						return
					default:
					}

					ws.SetReadDeadline(time.Now().Add(self.settings.ReadTimeout))
					messageType, message, err := ws.ReadMessage()
					if err != nil {
						glog.Infof("[fb]<- error = %s\n", err)
						return
					}

					switch messageType {
					case websocket.TextMessage, websocket.BinaryMessage:
						var frame FeedFrame
						if err := json.Unmarshal(message, &frame); err != nil {
							glog.Infof("[fb]<- decode error = %s\n", err)
							return
						}
						if err := self.handleFrame(&frame); err != nil {
							glog.Infof("[fb]<- frame error = %s\n", err)
							return
						}
						glog.V(2).Infof("[fb]<- %s\n", frame.Type)
					}
				}
			}
			if glog.V(2) {
				trace("[fb]run", c)
			} else {
				c()
			}
		}

		select {
		case <-self.ctx.Done():
			return
		case <-time.After(time.Until(reconnectEnd)):
		}
	}
}

func (self *FeedBridge) handleFrame(frame *FeedFrame) error {
	switch frame.Type {
	case FeedFrameSnapshot:
		if frame.Snapshot == nil {
			return fmt.Errorf("snapshot frame missing snapshot")
		}
		snapshot, err := frame.Snapshot.ToSnapshot()
		if err != nil {
			return err
		}
		// out-of-band reset of the base state
		self.normalizer = NewNormalizer(snapshot)
		self.dispatcher.Apply(snapshot, false)
		self.emit(snapshot, false)
		return nil
	case FeedFrameBegin:
		return self.normalizer.Begin()
	case FeedFrameEvent:
		if frame.Event == nil {
			return fmt.Errorf("event frame missing event")
		}
		delta, err := frame.Event.ToDelta()
		if err != nil {
			return err
		}
		return self.normalizer.Add(delta)
	case FeedFrameInvalidate:
		return self.normalizer.Invalidate()
	case FeedFrameCommit:
		snapshot, refreshed, err := self.normalizer.Commit()
		if err != nil {
			return err
		}
		if refreshed {
			// every registered identifier counts as updated
			self.dispatcher.Reload(snapshot)
		} else {
			self.dispatcher.Apply(snapshot, true)
		}
		self.emit(snapshot, refreshed)
		return nil
	default:
		return fmt.Errorf("unknown feed frame type: %s", frame.Type)
	}
}

func (self *FeedBridge) emit(snapshot Snapshot, refreshed bool) {
	for _, snapshotCallback := range self.snapshotCallbacks.Get() {
		handleError(func() {
			snapshotCallback(snapshot, refreshed)
		})
	}
}

func (self *FeedBridge) Close() {
	self.cancel()
}
