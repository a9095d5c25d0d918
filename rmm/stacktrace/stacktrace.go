// Package stacktrace captures and prints human-readable call stacks for
// allocation diagnostics.
//
// Frames are rendered as "module(function+offset) [address]" descriptors,
// the same shape glibc's backtrace_symbols produces, then resolved into
// "module : function+offset" lines. Mangled C++ and Rust names from cgo or
// purego callers are demangled.
package stacktrace

import (
	"bytes"
	"fmt"
	"io"
	"runtime"
	"strings"

	"github.com/ianlancetaylor/demangle"
)

// DefaultMaxFrames is the default bound on captured frames.
const DefaultMaxFrames = 63

// EmptyMarker is printed when the capture mechanism reports no frames.
const EmptyMarker = "<empty, possibly corrupt>"

// Header is the first line of every printed trace.
const Header = "stack trace:"

// Source captures up to max raw frame descriptors for the current call
// context. Frame 0 is the capturing routine itself.
type Source interface {
	Frames(max int) []string
}

// SourceFunc adapts a function into a Source.
type SourceFunc func(max int) []string

func (f SourceFunc) Frames(max int) []string { return f(max) }

// Demangler recovers a human-readable name from a mangled symbol.
type Demangler interface {
	Demangle(name string) (string, bool)
}

// DemanglerFunc adapts a function into a Demangler.
type DemanglerFunc func(name string) (string, bool)

func (f DemanglerFunc) Demangle(name string) (string, bool) { return f(name) }

type itaniumDemangler struct{}

func (itaniumDemangler) Demangle(name string) (string, bool) {
	out, err := demangle.ToString(name)
	if err != nil {
		return "", false
	}
	return out, true
}

// DefaultDemangler demangles Itanium C++ and Rust symbols.
var DefaultDemangler Demangler = itaniumDemangler{}

// runtimeSource walks the goroutine stack with runtime.Callers.
type runtimeSource struct {
	// skip is passed to runtime.Callers so that frame 0 is the exported
	// entry point that requested the capture.
	skip int
}

func (s runtimeSource) Frames(max int) []string {
	pcs := make([]uintptr, max)
	n := runtime.Callers(s.skip, pcs)
	if n == 0 {
		return nil
	}

	frames := runtime.CallersFrames(pcs[:n])
	out := make([]string, 0, n)
	for {
		frame, more := frames.Next()
		out = append(out, Descriptor(frame))
		if !more || len(out) == max {
			break
		}
	}
	return out
}

// Descriptor renders a runtime frame as "file:line(function+0xoff) [0xpc]".
func Descriptor(frame runtime.Frame) string {
	module := frame.File
	if module == "" {
		module = "??"
	} else if frame.Line > 0 {
		module = fmt.Sprintf("%s:%d", module, frame.Line)
	}
	if frame.Function == "" {
		return fmt.Sprintf("%s [%#x]", module, frame.PC)
	}
	return fmt.Sprintf("%s(%s+%#x) [%#x]", module, frame.Function, frame.PC-frame.Entry, frame.PC)
}

// Options configures a capture. The zero value captures DefaultMaxFrames
// frames of the calling goroutine.
type Options struct {
	// MaxFrames bounds the number of printed frames.
	MaxFrames int

	// Source overrides the frame capture mechanism.
	Source Source

	// Demangler overrides symbol demangling.
	Demangler Demangler
}

func (o *Options) maxFrames() int {
	if o != nil && o.MaxFrames > 0 {
		return o.MaxFrames
	}
	return DefaultMaxFrames
}

func (o *Options) source(skip int) Source {
	if o != nil && o.Source != nil {
		return o.Source
	}
	return runtimeSource{skip: skip}
}

func (o *Options) demangler() Demangler {
	if o != nil && o.Demangler != nil {
		return o.Demangler
	}
	return DefaultDemangler
}

// Capture returns the formatted frames of the caller's stack, without the
// header. Frame 0, Capture itself, is omitted. If no frames could be
// captured the result holds the single EmptyMarker line.
func Capture(opts *Options) []string {
	// runtime.Callers, runtimeSource.Frames, lines, Capture.
	return lines(opts, opts.source(3))
}

// Print writes a trace of the caller's stack to w.
func Print(w io.Writer, opts *Options) error {
	var buf bytes.Buffer
	buf.WriteString(Header)
	buf.WriteByte('\n')
	// runtime.Callers, runtimeSource.Frames, lines, Print.
	for _, line := range lines(opts, opts.source(3)) {
		buf.WriteString("  ")
		buf.WriteString(line)
		buf.WriteByte('\n')
	}
	_, err := w.Write(buf.Bytes())
	return err
}

// String returns the trace Print would write.
func String(opts *Options) string {
	var sb strings.Builder
	sb.WriteString(Header)
	sb.WriteByte('\n')
	// runtime.Callers, runtimeSource.Frames, lines, String.
	for _, line := range lines(opts, opts.source(3)) {
		sb.WriteString("  ")
		sb.WriteString(line)
		sb.WriteByte('\n')
	}
	return sb.String()
}

func lines(opts *Options, src Source) []string {
	// Frame 0 is dropped, so one extra is requested.
	frames := src.Frames(opts.maxFrames() + 1)
	if len(frames) == 0 {
		return []string{EmptyMarker}
	}

	d := opts.demangler()
	out := make([]string, 0, len(frames)-1)
	for _, desc := range frames[1:] {
		out = append(out, FormatFrame(desc, d))
	}
	return out
}

// FormatFrame resolves a raw descriptor into a display line:
//
//	module : demangled+offset   when the function demangles
//	module : raw()+offset       when it does not
//	descriptor                  when it cannot be parsed
func FormatFrame(desc string, d Demangler) string {
	module, function, offset, ok := ParseFrame(desc)
	if !ok {
		return desc
	}
	if d == nil {
		d = DefaultDemangler
	}
	if name, ok := d.Demangle(function); ok {
		return fmt.Sprintf("%s : %s+%s", module, name, offset)
	}
	return fmt.Sprintf("%s : %s()+%s", module, function, offset)
}

// ParseFrame splits a "module(function+offset) [address]" descriptor.
// Function names may themselves contain parentheses, as Go method names do;
// the function spans from the first '(' to the last '+' before the closing
// ')'. ok is false if any part is missing.
func ParseFrame(desc string) (module, function, offset string, ok bool) {
	open := strings.IndexByte(desc, '(')
	if open < 0 {
		return "", "", "", false
	}
	end := strings.LastIndexByte(desc, ')')
	if end <= open {
		return "", "", "", false
	}

	inner := desc[open+1 : end]
	plus := strings.LastIndexByte(inner, '+')
	if plus <= 0 || plus == len(inner)-1 {
		return "", "", "", false
	}

	return desc[:open], inner[:plus], inner[plus+1:], true
}
