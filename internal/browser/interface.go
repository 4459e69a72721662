// internal/browser/interface.go
package browser

import "context"

// Session is a single controllable browser tab. Selectors are CSS selectors and
// are treated as opaque strings. All blocking methods respect ctx deadlines.
type Session interface {
	ID() string

	// Navigate loads url and returns the main document response.
	Navigate(ctx context.Context, url string) (*Response, error)
	// WaitForAny polls the DOM until one of the selectors matches and returns the
	// first matching selector in argument order.
	WaitForAny(ctx context.Context, selectors ...string) (string, error)
	// WaitFor blocks until selector is present in the DOM.
	WaitFor(ctx context.Context, selector string) error
	// Exists reports whether selector currently matches a node.
	Exists(ctx context.Context, selector string) (bool, error)

	Click(ctx context.Context, selector string) error
	Type(ctx context.Context, selector, text string) error

	URL(ctx context.Context) (string, error)
	Screenshot(ctx context.Context) ([]byte, error)
	Content(ctx context.Context) (string, error)

	SetCookies(ctx context.Context, cookies []Cookie) error
	// Cookies returns the cookies applicable to each of urls, in the browser's order.
	Cookies(ctx context.Context, urls ...string) ([]Cookie, error)

	// AddNetworkListener registers l for every network event until Close.
	AddNetworkListener(l NetworkListener)

	Close(ctx context.Context) error
}

// Launcher starts a browser and hands out its single session.
type Launcher interface {
	Launch(ctx context.Context) (Session, error)
}

// Response describes the main document response of a navigation.
type Response struct {
	URL    string
	Status int
}

// NetworkListener receives network events. Implementations must not block and
// have no way to influence the session.
type NetworkListener interface {
	OnResponse(ev ResponseEvent)
	OnRequestFailed(ev RequestFailedEvent)
	OnRequestFinished(ev RequestFinishedEvent)
}

// ResponseEvent is emitted for every response received by the page.
type ResponseEvent struct {
	URL        string
	Status     int
	StatusText string
}

// RequestFailedEvent is emitted when a request fails at the network layer.
type RequestFailedEvent struct {
	URL       string
	ErrorText string
	Canceled  bool
}

// RequestFinishedEvent is emitted when a request completes loading.
type RequestFinishedEvent struct {
	URL string
}
