// Package signal turns raw alert text into a structured Signal: exception
// kind, primary application frame, chain of causes, timestamp and severity.
package signal

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// UnknownKind is the exception kind of a log payload that carried a timestamp
// or severity token but no recognized exception signature.
const UnknownKind = "Unknown"

// Format identifies which recognizer produced a Signal.
type Format string

const (
	FormatStructured Format = "structured"
	FormatJava       Format = "java"
	FormatGo         Format = "go"
	FormatPython     Format = "python"
	FormatNode       Format = "node"
	FormatGeneric    Format = "generic"
)

// ErrNotLogPayload is wrapped by every ParseFailure.
var ErrNotLogPayload = errors.New("not a log payload")

// ParseFailure rejects input that cannot be treated as a log payload.
type ParseFailure struct {
	Reason string
}

func (e *ParseFailure) Error() string {
	return fmt.Sprintf("parse failure: %s", e.Reason)
}

func (e *ParseFailure) Unwrap() error { return ErrNotLogPayload }

// Frame is one stack frame. Class holds the class, module or package the
// frame belongs to depending on the source language.
type Frame struct {
	Class  string `json:"class,omitempty"`
	Method string `json:"method,omitempty"`
	File   string `json:"file,omitempty"`
	Line   int    `json:"line,omitempty"`
}

// String renders the frame as Class.Method(File:Line).
func (f Frame) String() string {
	var b strings.Builder
	if f.Class != "" {
		b.WriteString(f.Class)
		if f.Method != "" {
			b.WriteByte('.')
		}
	}
	b.WriteString(f.Method)
	if f.File != "" || f.Line > 0 {
		b.WriteByte('(')
		b.WriteString(f.File)
		if f.Line > 0 {
			fmt.Fprintf(&b, ":%d", f.Line)
		}
		b.WriteByte(')')
	}
	return b.String()
}

// Signal is the structured form of one alert payload. It is immutable once
// returned by Parse; consumers share the pointer and never modify it.
type Signal struct {
	Kind         string    `json:"kind"`
	Message      string    `json:"message,omitempty"`
	Primary      *Frame    `json:"primary_frame,omitempty"`
	Frames       []Frame   `json:"frames,omitempty"`
	Causes       []string  `json:"causes,omitempty"`
	Trace        string    `json:"trace"`
	Timestamp    time.Time `json:"timestamp,omitzero"`
	RawTimestamp string    `json:"raw_timestamp,omitempty"`
	Severity     string    `json:"severity,omitempty"`
	Format       Format    `json:"format"`
	Service      string    `json:"service,omitempty"`
	Endpoint     string    `json:"endpoint,omitempty"`
}

// ShortKind returns the exception kind without its package qualifier.
func (s *Signal) ShortKind() string {
	k := s.Kind
	if i := strings.LastIndexAny(k, "./"); i >= 0 && i+1 < len(k) {
		k = k[i+1:]
	}
	return k
}

// HasPrimaryFrame reports whether an application frame was identified.
func (s *Signal) HasPrimaryFrame() bool {
	return s != nil && s.Primary != nil
}
