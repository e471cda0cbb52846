// internal/browser/collector.go
package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/log"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

// ObservationKind classifies a single browser-side fault event.
type ObservationKind string

const (
	ObsConsoleError  ObservationKind = "console_error"  // console.error or error-level log entry
	ObsException     ObservationKind = "exception"      // uncaught runtime exception
	ObsHTTPError     ObservationKind = "http_error"     // subresource answered with status >= 400
	ObsRequestFailed ObservationKind = "request_failed" // request never completed (DNS, TLS, abort)
)

// Observation is one fault event seen by a session between drains.
type Observation struct {
	Kind      ObservationKind
	Text      string
	URL       string // request URL for network kinds
	Status    int    // HTTP status for http_error
	Source    string
	Timestamp time.Time
}

// Collector listens to browser events for a session and keeps the fault
// events the detection engine cares about: failed or errored requests,
// console errors, and uncaught exceptions. Informational traffic is dropped
// at the handler, only request IDs are tracked for idle detection.
type Collector struct {
	logger *zap.Logger

	// The context for the browser tab this collector is attached to.
	sessionCtx context.Context
	// A separate context for the listener goroutine so it can be stopped cleanly.
	listenerCtx    context.Context
	cancelListener context.CancelFunc

	// -- Data storage and synchronization --
	observations     []Observation
	inflightRequests map[network.RequestID]bool   // For WaitNetworkIdle tracking.
	requestURLs      map[network.RequestID]string // For attributing late failures.
	lock             sync.RWMutex

	isStarted bool
}

// NewCollector creates a fault event collector for a specific session.
func NewCollector(sessionCtx context.Context, logger *zap.Logger) *Collector {
	return &Collector{
		sessionCtx:       sessionCtx,
		logger:           logger.Named("collector"),
		observations:     make([]Observation, 0),
		inflightRequests: make(map[network.RequestID]bool),
		requestURLs:      make(map[network.RequestID]string),
	}
}

// Start kicks off the event listening process.
func (c *Collector) Start(ctx context.Context) error {
	c.lock.Lock()
	if c.isStarted {
		c.lock.Unlock()
		return nil
	}

	// Derived from the session, so if the session dies, the listener dies.
	c.listenerCtx, c.cancelListener = context.WithCancel(c.sessionCtx)
	c.isStarted = true
	c.lock.Unlock()

	// Spin up the listener in the background.
	go c.listen()

	// Tell Chrome what we're interested in.
	enableCtx, cancel := CombineContext(c.sessionCtx, ctx)
	defer cancel()
	err := chromedp.Run(enableCtx,
		network.Enable(),
		runtime.Enable(),
		log.Enable(),
	)
	if err != nil {
		c.Stop()
		return fmt.Errorf("could not enable CDP domains: %w", err)
	}

	c.logger.Debug("Collector started and listening for events.")
	return nil
}

// listen is the main event loop that receives and dispatches CDP events.
func (c *Collector) listen() {
	chromedp.ListenTarget(c.listenerCtx, func(ev interface{}) {
		switch e := ev.(type) {
		// -- Network Events --
		case *network.EventRequestWillBeSent:
			c.handleRequestWillBeSent(e)
		case *network.EventResponseReceived:
			c.handleResponseReceived(e)
		case *network.EventLoadingFinished:
			c.handleLoadingFinished(e)
		case *network.EventLoadingFailed:
			c.handleLoadingFailed(e)

		// -- Console and Runtime Events --
		case *runtime.EventConsoleAPICalled:
			c.handleConsoleAPICalled(e)
		case *log.EventEntryAdded:
			c.handleLogEntryAdded(e)
		case *runtime.EventExceptionThrown:
			c.handleExceptionThrown(e)
		}
	})
}

// Stop halts the collection of events. Already collected observations remain
// drainable.
func (c *Collector) Stop() {
	c.lock.Lock()
	defer c.lock.Unlock()

	if !c.isStarted {
		return
	}
	if c.cancelListener != nil {
		c.cancelListener()
		c.cancelListener = nil
	}
	c.isStarted = false
	c.logger.Debug("Collector stopped.")
}

// Drain returns the observations gathered since the last call and clears the
// buffer. Inflight request tracking is unaffected.
func (c *Collector) Drain() []Observation {
	c.lock.Lock()
	defer c.lock.Unlock()

	drained := c.observations
	c.observations = make([]Observation, 0)
	return drained
}

// InflightCount reports how many network requests are currently unresolved.
func (c *Collector) InflightCount() int {
	c.lock.RLock()
	defer c.lock.RUnlock()
	return len(c.inflightRequests)
}

// WaitNetworkIdle is a dynamic wait that polls until there are no in flight
// network requests for the specified duration.
func (c *Collector) WaitNetworkIdle(ctx context.Context, quietPeriod time.Duration) error {
	if quietPeriod <= 0 {
		quietPeriod = 500 * time.Millisecond
	}

	// Check more frequently than the quiet period.
	ticker := time.NewTicker(quietPeriod / 2)
	defer ticker.Stop()

	lastActivity := time.Now()
	for {
		select {
		case <-ctx.Done():
			c.logger.Debug("WaitNetworkIdle aborted due to context cancellation.", zap.Error(ctx.Err()))
			return ctx.Err()
		case <-ticker.C:
			c.lock.RLock()
			inflightCount := len(c.inflightRequests)
			c.lock.RUnlock()

			if inflightCount > 0 {
				lastActivity = time.Now() // Reset the timer if there's activity.
				c.logger.Debug("Waiting for network idle...", zap.Int("inflight_requests", inflightCount))
			} else if time.Since(lastActivity) >= quietPeriod {
				return nil
			}
		}
	}
}

// -- Network Event Handlers --

func (c *Collector) handleRequestWillBeSent(e *network.EventRequestWillBeSent) {
	c.lock.Lock()
	defer c.lock.Unlock()

	c.inflightRequests[e.RequestID] = true
	if e.Request != nil {
		c.requestURLs[e.RequestID] = e.Request.URL
	}
}

func (c *Collector) handleResponseReceived(e *network.EventResponseReceived) {
	if e.Response == nil || e.Response.Status < 400 {
		return
	}

	obs := Observation{
		Kind:      ObsHTTPError,
		Text:      fmt.Sprintf("%s responded with HTTP %d %s", e.Response.URL, e.Response.Status, e.Response.StatusText),
		URL:       e.Response.URL,
		Status:    int(e.Response.Status),
		Source:    "network",
		Timestamp: e.Timestamp.Time(),
	}

	c.lock.Lock()
	defer c.lock.Unlock()
	c.observations = append(c.observations, obs)
}

func (c *Collector) handleLoadingFinished(e *network.EventLoadingFinished) {
	c.lock.Lock()
	defer c.lock.Unlock()

	delete(c.inflightRequests, e.RequestID)
	delete(c.requestURLs, e.RequestID)
}

func (c *Collector) handleLoadingFailed(e *network.EventLoadingFailed) {
	c.lock.Lock()
	defer c.lock.Unlock()

	delete(c.inflightRequests, e.RequestID)
	requestURL := c.requestURLs[e.RequestID]
	delete(c.requestURLs, e.RequestID)

	// Canceled loads are navigation aborts, not faults.
	if e.Canceled {
		return
	}

	text := e.ErrorText
	if requestURL != "" {
		text = fmt.Sprintf("%s failed to load: %s", requestURL, e.ErrorText)
	}
	c.observations = append(c.observations, Observation{
		Kind:      ObsRequestFailed,
		Text:      text,
		URL:       requestURL,
		Source:    "network",
		Timestamp: e.Timestamp.Time(),
	})
}

// -- Console and Log Handlers --

func (c *Collector) handleConsoleAPICalled(e *runtime.EventConsoleAPICalled) {
	if e.Type != runtime.APITypeError {
		return
	}

	var textBuilder strings.Builder
	for i, arg := range e.Args {
		if i > 0 {
			textBuilder.WriteString(" ")
		}
		// Go through hoops to get a clean string representation of the console argument.
		var val interface{}
		if arg.Value != nil && json.Unmarshal(arg.Value, &val) == nil {
			textBuilder.WriteString(fmt.Sprintf("%v", val))
		} else if arg.Description != "" {
			textBuilder.WriteString(arg.Description)
		} else {
			textBuilder.WriteString(fmt.Sprintf("[%s]", arg.Type))
		}
	}

	obs := Observation{
		Kind:      ObsConsoleError,
		Text:      textBuilder.String(),
		Source:    "console-api",
		Timestamp: e.Timestamp.Time(),
	}

	c.lock.Lock()
	defer c.lock.Unlock()
	c.observations = append(c.observations, obs)
}

func (c *Collector) handleLogEntryAdded(e *log.EventEntryAdded) {
	if e.Entry == nil || e.Entry.Level != log.LevelError {
		return
	}

	obs := Observation{
		Kind:      ObsConsoleError,
		Text:      e.Entry.Text,
		URL:       e.Entry.URL,
		Source:    string(e.Entry.Source),
		Timestamp: e.Entry.Timestamp.Time(),
	}

	c.lock.Lock()
	defer c.lock.Unlock()
	c.observations = append(c.observations, obs)
}

func (c *Collector) handleExceptionThrown(e *runtime.EventExceptionThrown) {
	if e.ExceptionDetails == nil {
		return
	}
	// The description usually has the most useful info, including the stack trace.
	text := e.ExceptionDetails.Text
	if e.ExceptionDetails.Exception != nil && e.ExceptionDetails.Exception.Description != "" {
		text = e.ExceptionDetails.Exception.Description
	}

	obs := Observation{
		Kind:      ObsException,
		Text:      text,
		Source:    "runtime",
		Timestamp: e.Timestamp.Time(),
	}

	c.lock.Lock()
	defer c.lock.Unlock()
	c.observations = append(c.observations, obs)
}
