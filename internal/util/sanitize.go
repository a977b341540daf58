package util

import (
	"regexp"
	"strings"
)

var (
	unsafeFilenameChars = regexp.MustCompile(`[\x00\\/:*?"<>|]`)
	controlChars        = regexp.MustCompile(`[\x00-\x1f\x7f]`)
	unsafeSegmentChars  = regexp.MustCompile(`[\\/:*?"<>|\s]+`)
	repeatedDashes      = regexp.MustCompile(`-+`)
)

var reservedNames = map[string]bool{
	"CON": true, "PRN": true, "AUX": true, "NUL": true,
	"COM1": true, "COM2": true, "COM3": true, "COM4": true, "COM5": true,
	"COM6": true, "COM7": true, "COM8": true, "COM9": true,
	"LPT1": true, "LPT2": true, "LPT3": true, "LPT4": true, "LPT5": true,
	"LPT6": true, "LPT7": true, "LPT8": true, "LPT9": true,
}

// SanitizeFilename replaces characters that are invalid in file names and
// strips leading dots and dashes. An empty result becomes "untitled".
func SanitizeFilename(filename string) string {
	safe := unsafeFilenameChars.ReplaceAllString(filename, "-")
	safe = strings.TrimLeft(safe, ".-")
	if safe == "" {
		return "untitled"
	}
	return safe
}

// SanitizePathSegment turns an arbitrary value (a slug, an entity kind)
// into a single directory name: no separators, whitespace, traversal or
// reserved device names.
func SanitizePathSegment(segment string) string {
	safe := controlChars.ReplaceAllString(segment, "")
	safe = unsafeSegmentChars.ReplaceAllString(safe, "-")
	safe = repeatedDashes.ReplaceAllString(safe, "-")
	safe = strings.Trim(safe, " .-")
	if safe == "" {
		return "untitled"
	}
	if reservedNames[strings.ToUpper(safe)] {
		safe += "_"
	}
	return safe
}
