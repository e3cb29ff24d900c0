package protocol

import "encoding/json"

// DocumentURI represents a document URI as carried on the wire.
// It is typically a file:// URI.
type DocumentURI string

// Position in a document expressed as zero-based line and character offset.
type Position struct {
	Line      int `json:"line"`
	Character int `json:"character"`
}

// Range in a document expressed as start and end positions.
type Range struct {
	Start Position `json:"start"`
	End   Position `json:"end"`
}

// DiagnosticSeverity indicates how severe a diagnostic is.
// Lower values are more severe.
type DiagnosticSeverity int

const (
	// SeverityError reports a refinement violation.
	SeverityError DiagnosticSeverity = 1
	// SeverityWarning reports something suspicious but not wrong.
	SeverityWarning DiagnosticSeverity = 2
	// SeverityInformation reports purely informational findings.
	SeverityInformation DiagnosticSeverity = 3
	// SeverityHint reports hints.
	SeverityHint DiagnosticSeverity = 4
)

// String returns a human-readable severity name.
func (s DiagnosticSeverity) String() string {
	switch s {
	case SeverityError:
		return "error"
	case SeverityWarning:
		return "warning"
	case SeverityInformation:
		return "information"
	case SeverityHint:
		return "hint"
	default:
		return "unknown"
	}
}

// Diagnostic is a single finding reported by the engine for a document.
// Data carries the engine's structured payload (error kind and related
// details) and is left opaque at this layer.
type Diagnostic struct {
	Range    Range              `json:"range"`
	Severity DiagnosticSeverity `json:"severity,omitempty"`
	Code     string             `json:"code,omitempty"`
	Source   string             `json:"source,omitempty"`
	Message  string             `json:"message"`
	Data     json.RawMessage    `json:"data,omitempty"`
}

// PublishDiagnosticsParams carries "diagnostics for document D replaced
// with set S". An empty Diagnostics slice clears the document.
type PublishDiagnosticsParams struct {
	URI         DocumentURI  `json:"uri"`
	Diagnostics []Diagnostic `json:"diagnostics"`
}

// MethodPublishDiagnostics is the notification method for diagnostic sets.
const MethodPublishDiagnostics = "textDocument/publishDiagnostics"

// InitializeParams is sent as the handshake request.
type InitializeParams struct {
	ProcessID int         `json:"processId"`
	RootURI   DocumentURI `json:"rootUri,omitempty"`
}

// InitializeResult is the engine's handshake response.
type InitializeResult struct {
	Capabilities json.RawMessage `json:"capabilities,omitempty"`
	ServerInfo   *ServerInfo     `json:"serverInfo,omitempty"`
}

// ServerInfo identifies the engine implementation.
type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
}

// InitializedParams is the empty notification confirming the handshake.
type InitializedParams struct{}
