// Package exception serializes Go errors and synthetic messages into the
// $exception property shape PostHog's error tracking expects (spec §4.2).
package exception

import (
	"fmt"
	"path/filepath"
	"runtime"
	"strings"
)

const maxFrames = 50

// libraryPathMarkers (GOROOT plus the vendor/module-cache markers) classify a frame's
// absolute file path as application code (in_app=true) or library code
// (in_app=false). GOROOT-rooted frames and anything that passed through the
// module cache or a vendor directory are never "in app".
var libraryPathMarkers = []string{
	"/pkg/mod/",
	"/go/src/",
	"/vendor/",
	runtime.GOROOT(),
}

// Frame is one entry of a normalized stack trace.
type Frame struct {
	Function    string   `json:"function"`
	File        string   `json:"filename"`
	AbsPath     string   `json:"abs_path"`
	Line        int      `json:"lineno"`
	Colno       int      `json:"colno,omitempty"`
	InApp       bool     `json:"in_app"`
	ContextLine string   `json:"context_line,omitempty"`
	PreContext  []string `json:"pre_context,omitempty"`
	PostContext []string `json:"post_context,omitempty"`
}

// mechanism describes how an exception was captured (spec §4.2).
func mechanism(handled, synthetic bool) map[string]any {
	return map[string]any{
		"type":      "generic",
		"handled":   handled,
		"synthetic": synthetic,
	}
}

// Serialize builds the $exception properties for a native Go error. handled
// reports whether the caller recovered from the error itself (true) or is
// reporting an unrecovered panic/fatal condition (false).
func Serialize(err error, handled bool) map[string]any {
	frames := captureFrames()

	return map[string]any{
		"$exception_type":    exceptionType(err),
		"$exception_message": err.Error(),
		"$exception_list": []map[string]any{
			{
				"type":       exceptionType(err),
				"value":      err.Error(),
				"stacktrace": map[string]any{"frames": framesToAny(frames)},
				"mechanism":  mechanism(handled, false),
			},
		},
	}
}

// SerializeSynthetic builds the $exception properties for a caller-supplied
// message with no associated Go error value. Synthetic captures carry no
// stacktrace.
func SerializeSynthetic(message string, handled bool) map[string]any {
	return map[string]any{
		"$exception_type":    "Error",
		"$exception_message": message,
		"$exception_list": []map[string]any{
			{
				"type":      "Error",
				"value":     message,
				"mechanism": mechanism(handled, true),
			},
		},
	}
}

func exceptionType(err error) string {
	return fmt.Sprintf("%T", err)
}

// captureFrames walks the caller's goroutine stack (skipping this package's
// own frames), keeps at most maxFrames entries closest to the call site, and
// reverses them so index 0 is the outermost frame — matching the
// most-recent-call-last convention PostHog's ingestion expects.
func captureFrames() []Frame {
	pcs := make([]uintptr, 64)
	n := runtime.Callers(3, pcs)
	if n == 0 {
		return nil
	}

	frameIter := runtime.CallersFrames(pcs[:n])
	var collected []Frame
	for {
		f, more := frameIter.Next()
		contextLine, preContext, postContext := sourceContext(f.File, f.Line)
		collected = append(collected, Frame{
			Function:    f.Function,
			File:        filepath.Base(f.File),
			AbsPath:     f.File,
			Line:        f.Line,
			// Column is unavailable from runtime.Callers; left zero
			// (omitted from the encoded frame via omitempty).
			InApp:       isInApp(f.File),
			ContextLine: contextLine,
			PreContext:  preContext,
			PostContext: postContext,
		})
		if !more || len(collected) >= maxFrames {
			break
		}
	}

	reversed := make([]Frame, len(collected))
	for i, f := range collected {
		reversed[len(collected)-1-i] = f
	}
	return reversed
}

func isInApp(path string) bool {
	for _, marker := range libraryPathMarkers {
		if marker != "" && strings.Contains(path, marker) {
			return false
		}
	}
	return true
}

// sourceContext best-effort reads up to 5 lines before and after line from
// file (spec §4.2), returning the error line itself separately from its
// surrounding context. Any failure to read (file not on disk, permission
// error, line out of range) is silently suppressed — context is cosmetic,
// not load-bearing.
func sourceContext(file string, line int) (contextLine string, pre, post []string) {
	lines, err := readLines(file)
	if err != nil || line <= 0 || line > len(lines) {
		return "", nil, nil
	}

	const radius = 5
	start := line - 1 - radius
	if start < 0 {
		start = 0
	}
	end := line - 1 + radius
	if end >= len(lines) {
		end = len(lines) - 1
	}

	contextLine = lines[line-1]
	if start < line-1 {
		pre = append([]string{}, lines[start:line-1]...)
	}
	if end > line-1 {
		post = append([]string{}, lines[line:end+1]...)
	}
	return contextLine, pre, post
}

func framesToAny(frames []Frame) []map[string]any {
	out := make([]map[string]any, len(frames))
	for i, f := range frames {
		entry := map[string]any{
			"function": f.Function,
			"filename": f.File,
			"abs_path": f.AbsPath,
			"lineno":   f.Line,
			"in_app":   f.InApp,
		}
		if f.Colno != 0 {
			entry["colno"] = f.Colno
		}
		if f.ContextLine != "" {
			entry["context_line"] = f.ContextLine
		}
		if len(f.PreContext) > 0 {
			entry["pre_context"] = f.PreContext
		}
		if len(f.PostContext) > 0 {
			entry["post_context"] = f.PostContext
		}
		out[i] = entry
	}
	return out
}
