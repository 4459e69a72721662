// internal/browser/events.go
package browser

import (
	"sync"

	"github.com/chromedp/cdproto/network"
	"go.uber.org/zap"
)

// eventDispatcher fans CDP network events out to registered listeners.
// LoadingFailed and LoadingFinished only carry a request ID, so the URL of
// every request is tracked until it settles.
type eventDispatcher struct {
	logger *zap.Logger

	mu        sync.RWMutex
	listeners []NetworkListener
	requests  map[network.RequestID]string
	closed    bool
}

func newEventDispatcher(logger *zap.Logger) *eventDispatcher {
	return &eventDispatcher{
		logger:   logger,
		requests: make(map[network.RequestID]string),
	}
}

func (d *eventDispatcher) add(l NetworkListener) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.listeners = append(d.listeners, l)
}

// close stops delivery. Events that race with close are dropped.
func (d *eventDispatcher) close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	d.listeners = nil
	d.requests = make(map[network.RequestID]string)
}

// handle is the chromedp.ListenTarget callback. It runs on the CDP event loop and must not block.
func (d *eventDispatcher) handle(ev interface{}) {
	switch ev := ev.(type) {
	case *network.EventRequestWillBeSent:
		d.track(ev.RequestID, ev.Request)
	case *network.EventResponseReceived:
		if ev.Response == nil {
			return
		}
		d.emit(func(l NetworkListener) {
			l.OnResponse(ResponseEvent{
				URL:        ev.Response.URL,
				Status:     int(ev.Response.Status),
				StatusText: ev.Response.StatusText,
			})
		})
	case *network.EventLoadingFailed:
		url := d.settle(ev.RequestID)
		d.emit(func(l NetworkListener) {
			l.OnRequestFailed(RequestFailedEvent{URL: url, ErrorText: ev.ErrorText, Canceled: ev.Canceled})
		})
	case *network.EventLoadingFinished:
		url := d.settle(ev.RequestID)
		d.emit(func(l NetworkListener) {
			l.OnRequestFinished(RequestFinishedEvent{URL: url})
		})
	}
}

func (d *eventDispatcher) track(id network.RequestID, req *network.Request) {
	if req == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.requests[id] = req.URL
}

func (d *eventDispatcher) settle(id network.RequestID) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	url := d.requests[id]
	delete(d.requests, id)
	return url
}

func (d *eventDispatcher) emit(fn func(NetworkListener)) {
	d.mu.RLock()
	if d.closed || len(d.listeners) == 0 {
		d.mu.RUnlock()
		return
	}
	listeners := make([]NetworkListener, len(d.listeners))
	copy(listeners, d.listeners)
	d.mu.RUnlock()

	for _, l := range listeners {
		d.safeCall(l, fn)
	}
}

// safeCall keeps a misbehaving listener from taking down the event loop.
func (d *eventDispatcher) safeCall(l NetworkListener, fn func(NetworkListener)) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("Network listener panicked.", zap.Any("panic", r))
		}
	}()
	fn(l)
}
