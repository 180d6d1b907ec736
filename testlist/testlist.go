// Package testlist reads the test selection handed to the target: one entry
// per line, either a whole package or a single test of a package.
package testlist

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"

	"github.com/ethereum/go-ethereum/log"
)

const (
	// Separator splits a package from a test name. The last occurrence wins.
	Separator = "#"

	commentPrefix = "//"
)

var ErrInvalidEntry = errors.New("invalid test selection entry")

// Entry is one selected package, or one test within it when Test is set
type Entry struct {
	Package string
	Test    string
	Line    int
}

func (e Entry) String() string {
	if e.Test == "" {
		return e.Package
	}
	return e.Package + Separator + e.Test
}

// RunPattern returns the anchored -run expression for the entry, or "" to
// run every test of the package
func (e Entry) RunPattern() string {
	if e.Test == "" {
		return ""
	}
	return "^" + regexp.QuoteMeta(e.Test) + "$"
}

// Load reads a selection file
func Load(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open test selection: %w", err)
	}
	defer f.Close()

	entries, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return entries, nil
}

// Parse reads selection entries. Blank lines and // comments are skipped.
func Parse(r io.Reader) ([]Entry, error) {
	var entries []Entry
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, commentPrefix) {
			continue
		}

		entry := Entry{Package: line, Line: lineNo}
		if idx := strings.LastIndex(line, Separator); idx >= 0 {
			entry.Package = strings.TrimSpace(line[:idx])
			entry.Test = strings.TrimSpace(line[idx+len(Separator):])
			if entry.Test == "" {
				return nil, fmt.Errorf("line %d: %w: missing test name in %q", lineNo, ErrInvalidEntry, line)
			}
		}
		if entry.Package == "" {
			return nil, fmt.Errorf("line %d: %w: missing package in %q", lineNo, ErrInvalidEntry, line)
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read test selection: %w", err)
	}
	return entries, nil
}

// Filter drops entries naming a test function that does not exist in its
// package. Packages that cannot be inspected are kept and left to go test.
func Filter(logger log.Logger, entries []Entry, workDir string) []Entry {
	if logger == nil {
		logger = log.Root()
	}

	known := make(map[string]map[string]bool)
	kept := make([]Entry, 0, len(entries))
	for _, entry := range entries {
		if entry.Test == "" {
			kept = append(kept, entry)
			continue
		}

		funcs, ok := known[entry.Package]
		if !ok {
			names, err := FindTestFunctions(entry.Package, workDir)
			if err != nil {
				logger.Warn("Failed to list test functions, keeping entry", "package", entry.Package, "err", err)
				funcs = nil
			} else {
				funcs = make(map[string]bool, len(names))
				for _, name := range names {
					funcs[name] = true
				}
			}
			known[entry.Package] = funcs
		}

		if funcs != nil && !funcs[entry.Test] {
			logger.Warn("Test not found", "package", entry.Package, "test", entry.Test, "line", entry.Line)
			continue
		}
		kept = append(kept, entry)
	}
	return kept
}
