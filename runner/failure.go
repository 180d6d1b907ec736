package runner

import (
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/ethereum-optimism/infra/op-testbridge/types"
)

const defaultFailureMessage = "test failed"

var (
	// "    b_test.go:12: expected 1, got 2"
	assertionLineRe = regexp.MustCompile(`^\s+([\w.\-]+\.go):(\d+):\s?(.*)$`)
	// "	/src/pkg/b_test.go:12 +0x25"
	traceFileRe = regexp.MustCompile(`^\s+(\S+\.go):(\d+)`)
	// "example.com/pkg.TestB(0xc000102340)"
	traceFuncRe = regexp.MustCompile(`^(\S+)\(.*\)$`)
)

// buildException turns the captured output of a failed test into an
// exception. Assertion lines become the message and frames of the top
// exception. A panic replaces the message, and every further panic line
// becomes the cause of the previous one.
func buildException(pkg, test string, lines []string) types.Exception {
	var (
		top      types.Exception
		cur      = &top
		messages []string
		inPanic  bool
		inTrace  bool
		fn       string
	)

	for _, raw := range lines {
		line := strings.TrimRight(raw, "\r\n")
		trimmed := strings.TrimSpace(line)
		switch {
		case trimmed == "":
			continue
		case isFrameworkLine(trimmed):
			continue
		case strings.HasPrefix(trimmed, "panic: "):
			msg := trimPanic(trimmed)
			if !inPanic {
				inPanic = true
				top.Message = msg
				continue
			}
			cur.Cause = &types.Exception{Message: msg}
			cur = cur.Cause
		case strings.HasPrefix(trimmed, "goroutine "):
			inTrace = true
		case inTrace:
			if m := traceFileRe.FindStringSubmatch(line); m != nil {
				if fn != "" {
					top.StackFrames = append(top.StackFrames, traceFrame(fn, m[1], m[2]))
					fn = ""
				}
			} else if m := traceFuncRe.FindStringSubmatch(line); m != nil {
				fn = m[1]
			}
		case inPanic:
			// signal details and the like
		default:
			if m := assertionLineRe.FindStringSubmatch(line); m != nil {
				n, _ := strconv.Atoi(m[2])
				top.StackFrames = append(top.StackFrames, types.StackFrame{Entity: pkg, Member: test, File: m[1], Line: n})
				if text := strings.TrimSpace(m[3]); text != "" {
					messages = append(messages, text)
				}
				continue
			}
			messages = append(messages, trimmed)
		}
	}

	if !inPanic {
		top.Message = strings.Join(messages, "\n")
	}
	if top.Message == "" {
		top.Message = defaultFailureMessage
	}
	return top
}

// isFrameworkLine reports lines written by the testing package itself
func isFrameworkLine(line string) bool {
	for _, prefix := range []string{"=== ", "--- ", "FAIL", "PASS", "ok  ", "exit status ", "created by "} {
		if strings.HasPrefix(line, prefix) {
			return true
		}
	}
	return false
}

func trimPanic(line string) string {
	msg := strings.TrimPrefix(line, "panic: ")
	if idx := strings.LastIndex(msg, " [recovered"); idx >= 0 && strings.HasSuffix(msg, "]") {
		msg = msg[:idx]
	}
	return msg
}

// traceFrame builds a frame from a goroutine trace entry such as
// "example.com/pkg.(*T).Run" at "/src/pkg/x.go:12"
func traceFrame(fn, file, line string) types.StackFrame {
	n, _ := strconv.Atoi(line)
	entity, member := "", fn
	slash := strings.LastIndex(fn, "/")
	if dot := strings.Index(fn[slash+1:], "."); dot >= 0 {
		entity = fn[:slash+1+dot]
		member = fn[slash+1+dot+1:]
	}
	return types.StackFrame{Entity: entity, Member: member, File: filepath.Base(file), Line: n}
}
