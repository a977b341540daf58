package seed

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/vrsandeep/comicvault/internal/util"
)

// FileErrorKind classifies a file-level loader failure.
type FileErrorKind string

const (
	SourceReadError FileErrorKind = "source-read"
	ParseError      FileErrorKind = "parse"
)

// FileError is a pattern or file that contributed no records.
type FileError struct {
	Kind    FileErrorKind `json:"kind"`
	Pattern string        `json:"pattern,omitempty"`
	Path    string        `json:"path,omitempty"`
	Err     error         `json:"-"`
}

func (e *FileError) Error() string {
	target := e.Path
	if target == "" {
		target = e.Pattern
	}
	return fmt.Sprintf("%s error in %s: %v", e.Kind, target, e.Err)
}

func (e *FileError) Unwrap() error { return e.Err }

// RecordError ties a rejected record to its file and 0-based index.
type RecordError struct {
	File  string `json:"file"`
	Index int    `json:"index"`
	Err   error  `json:"-"`
}

func (e RecordError) Error() string {
	return fmt.Sprintf("%s[%d]: %v", e.File, e.Index, e.Err)
}

// ValidationOutcome is the result of loading one entity kind. Every
// candidate record lands in exactly one of Valid or Errors.
type ValidationOutcome[T any] struct {
	Files      []string
	Valid      []T
	Errors     []RecordError
	FileErrors []*FileError
	Total      int
}

// Validator turns one raw record into a typed record.
type Validator[T any] func(RawRecord) (T, error)

var errNoMatches = errors.New("no files match")

// ResolveFiles expands patterns relative to baseDir. Exact file paths are
// taken as-is; everything else is a doublestar glob. Results keep pattern
// order, natural order within a pattern, and drop duplicates.
func ResolveFiles(patterns []string, baseDir string) ([]string, []*FileError) {
	var files []string
	var fileErrs []*FileError
	seen := make(map[string]bool)

	add := func(p string) {
		if abs, err := filepath.Abs(p); err == nil {
			p = abs
		}
		if !seen[p] {
			seen[p] = true
			files = append(files, p)
		}
	}

	for _, pattern := range patterns {
		full := pattern
		if !filepath.IsAbs(full) {
			full = filepath.Join(baseDir, pattern)
		}
		if info, err := os.Stat(full); err == nil && !info.IsDir() {
			add(full)
			continue
		}

		matches, err := doublestar.FilepathGlob(full, doublestar.WithFilesOnly())
		if err != nil {
			fileErrs = append(fileErrs, &FileError{Kind: SourceReadError, Pattern: pattern, Err: err})
			continue
		}
		if len(matches) == 0 {
			fileErrs = append(fileErrs, &FileError{Kind: SourceReadError, Pattern: pattern, Err: errNoMatches})
			continue
		}
		sort.SliceStable(matches, func(i, j int) bool { return util.NaturalSortLess(matches[i], matches[j]) })
		for _, m := range matches {
			add(m)
		}
	}
	return files, fileErrs
}

// Load reads every file matched by patterns and validates each record.
// Unreadable or malformed files are reported in FileErrors and skipped.
func Load[T any](patterns []string, baseDir string, validate Validator[T]) ValidationOutcome[T] {
	var out ValidationOutcome[T]
	out.Files, out.FileErrors = ResolveFiles(patterns, baseDir)

	for _, file := range out.Files {
		data, err := os.ReadFile(file)
		if err != nil {
			out.FileErrors = append(out.FileErrors, &FileError{Kind: SourceReadError, Path: file, Err: err})
			continue
		}
		candidates, err := decodeRecords(data)
		if err != nil {
			out.FileErrors = append(out.FileErrors, &FileError{Kind: ParseError, Path: file, Err: err})
			continue
		}

		for i, candidate := range candidates {
			out.Total++
			obj, ok := candidate.(map[string]any)
			if !ok {
				out.Errors = append(out.Errors, RecordError{File: file, Index: i, Err: &ValidationError{
					Violations: []Violation{{Field: "record", Message: "must be a JSON object"}},
				}})
				continue
			}
			rec, err := validate(RawRecord(obj))
			if err != nil {
				out.Errors = append(out.Errors, RecordError{File: file, Index: i, Err: err})
				continue
			}
			out.Valid = append(out.Valid, rec)
		}
	}
	return out
}

var utf8BOM = []byte("\xef\xbb\xbf")

// decodeRecords parses a fixture: an array yields one candidate per element,
// an object yields one candidate.
func decodeRecords(data []byte) ([]any, error) {
	dec := json.NewDecoder(bytes.NewReader(bytes.TrimPrefix(data, utf8BOM)))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errors.New("invalid JSON: unexpected data after top-level value")
	}

	switch t := v.(type) {
	case []any:
		return t, nil
	case map[string]any:
		return []any{t}, nil
	}
	return nil, fmt.Errorf("top-level value must be an array or an object, got %T", v)
}
