// Package diagnostics maps inbound diagnostic sets to the single active
// refinement error shown to the user.
package diagnostics

import (
	"sync"

	"github.com/tidwall/gjson"

	"github.com/refinelabs/refine/internal/protocol"
	"github.com/refinelabs/refine/internal/ui"
)

// ActiveDiagnostic is the one currently-displayed engine error. At most
// one exists globally; it is replaced on every routed round and cleared
// when no matching diagnostic remains.
type ActiveDiagnostic struct {
	Message  string
	Range    protocol.Range
	Severity protocol.DiagnosticSeverity
	Kind     string
	Path     string
}

// DetailSink consumes the active diagnostic, or an explicit all-clear.
// Implementations must never block.
type DetailSink interface {
	ShowError(d ActiveDiagnostic)
	ShowAllClear()
}

// Router selects the active refinement error from each per-document
// diagnostic set and forwards the verdict to the status and detail sinks.
type Router struct {
	mu     sync.Mutex
	source string
	status ui.StatusSink
	detail DetailSink
	active *ActiveDiagnostic
	closed bool
}

// NewRouter creates a router. Only diagnostics whose Source equals source
// are considered; everything else is ignored regardless of severity.
func NewRouter(source string, status ui.StatusSink, detail DetailSink) *Router {
	return &Router{
		source: source,
		status: status,
		detail: detail,
	}
}

// Route processes a replaced diagnostic set for a document.
//
// The first diagnostic (in original collection order) with Error severity
// and the engine's source tag becomes the active diagnostic and the status
// goes Failed. If no diagnostic matches, the active diagnostic is cleared,
// the detail sink gets an all-clear, and the status goes Passed.
func (r *Router) Route(uri protocol.DocumentURI, set []protocol.Diagnostic) {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Notification handlers race teardown: a set that was already in
	// flight when Reset ran must not revive the active diagnostic or push
	// a verdict over the final Stopped status.
	if r.closed {
		return
	}

	for _, d := range set {
		if d.Severity != protocol.SeverityError || d.Source != r.source {
			continue
		}

		active := ActiveDiagnostic{
			Message:  d.Message,
			Range:    d.Range,
			Severity: d.Severity,
			Kind:     extractKind(d),
			Path:     protocol.URIToFilePath(uri),
		}
		r.active = &active

		r.detail.ShowError(active)
		r.status.SetStatus(ui.StatusFailed)
		return
	}

	r.active = nil
	r.detail.ShowAllClear()
	r.status.SetStatus(ui.StatusPassed)
}

// Active returns a copy of the active diagnostic, or nil if none.
func (r *Router) Active() *ActiveDiagnostic {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.active == nil {
		return nil
	}
	d := *r.active
	return &d
}

// Reset clears the active diagnostic without touching the sinks and
// closes the router for good: any Route call from then on is a no-op.
// The lifecycle calls this on teardown; an active diagnostic may only
// exist while the client is running, and a router is never reused across
// activation cycles.
func (r *Router) Reset() {
	r.mu.Lock()
	r.active = nil
	r.closed = true
	r.mu.Unlock()
}

// extractKind pulls the error-kind tag out of the diagnostic's structured
// payload. Engines report it under errorKind or kind; the diagnostic code
// is the fallback.
func extractKind(d protocol.Diagnostic) string {
	if len(d.Data) > 0 {
		if v := gjson.GetBytes(d.Data, "errorKind"); v.Exists() {
			return v.String()
		}
		if v := gjson.GetBytes(d.Data, "kind"); v.Exists() {
			return v.String()
		}
	}
	return d.Code
}
