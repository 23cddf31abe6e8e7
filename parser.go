package flick

import (
	"strconv"
	"strings"
	"time"
)

// This file isolates all parsing of native tool output. Tool output formats
// vary by version and platform, so every parser here is tolerant: a line
// that does not match is skipped (and counted, for listings) or ignored
// (for progress), never an error.

// listTimeLayout matches `ls -la --time-style=long-iso` timestamps.
const listTimeLayout = "2006-01-02 15:04"

// ParseListing parses `ls -la --time-style=long-iso` output into entries.
// Malformed lines are skipped and counted; the "total" header and the "."
// and ".." entries are dropped without counting as malformed.
func ParseListing(output string) ([]RemoteEntry, int) {
	var (
		entries []RemoteEntry
		skipped int
	)

	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		if strings.HasPrefix(line, "total") {
			continue
		}

		entry, ok := parseListLine(line)
		if !ok {
			skipped++
			continue
		}
		if entry.Name == "." || entry.Name == ".." {
			continue
		}
		entries = append(entries, entry)
	}

	return entries, skipped
}

// parseListLine parses one long-listing line:
//
//	-rw-r--r-- 1 root root 1234 2024-01-15 09:00 file name.txt
//
// Fields up to the timestamp are whitespace-delimited; everything after the
// time token is the name (which may itself contain spaces).
func parseListLine(line string) (RemoteEntry, bool) {
	fields := strings.Fields(line)
	if len(fields) < 8 {
		return RemoteEntry{}, false
	}

	mode := fields[0]
	if !validModeSummary(mode) {
		return RemoteEntry{}, false
	}

	size, err := strconv.ParseInt(fields[4], 10, 64)
	if err != nil {
		return RemoteEntry{}, false
	}

	modTime, err := time.Parse(listTimeLayout, fields[5]+" "+fields[6])
	if err != nil {
		return RemoteEntry{}, false
	}

	// The name is the remainder of the raw line after the time token, so
	// names containing runs of spaces survive.
	timeIdx := strings.Index(line, fields[6])
	name := strings.TrimSpace(line[timeIdx+len(fields[6]):])
	if name == "" {
		return RemoteEntry{}, false
	}

	// Symlinks list as "name -> target"; keep only the name.
	if mode[0] == 'l' {
		if arrow := strings.Index(name, " -> "); arrow > 0 {
			name = name[:arrow]
		}
	}

	return RemoteEntry{
		Name:    name,
		IsDir:   mode[0] == 'd',
		Size:    size,
		ModTime: modTime,
		Mode:    mode,
	}, true
}

// validModeSummary reports whether s looks like an ls permission column
// (e.g. "-rw-r--r--", "drwxr-xr-x", possibly with an ACL/extended marker).
func validModeSummary(s string) bool {
	if len(s) < 10 {
		return false
	}
	switch s[0] {
	case '-', 'd', 'l', 'b', 'c', 'p', 's':
	default:
		return false
	}
	for _, c := range s[1:10] {
		switch c {
		case 'r', 'w', 'x', '-', 's', 'S', 't', 'T':
		default:
			return false
		}
	}
	return true
}

// SCPProgress is one progress sample extracted from scp output.
type SCPProgress struct {
	// Percent is the completion percentage, 0-100.
	Percent int
	// Bytes is the transferred byte count, BytesUnknown if not present.
	Bytes int64
}

// ParseSCPProgress extracts a progress sample from one line of scp output:
//
//	file.txt                47% 1234KB 650.2KB/s   00:01
//
// It returns false for any line that does not carry a recognizable
// percentage, which callers treat as "no new information" rather than an
// error. Formats vary across OpenSSH versions and platforms, so the parser
// only commits to tokens it fully understands.
func ParseSCPProgress(line string) (SCPProgress, bool) {
	fields := strings.Fields(strings.TrimRight(line, "\r"))

	for i, field := range fields {
		if !strings.HasSuffix(field, "%") || len(field) < 2 {
			continue
		}
		percent, err := strconv.Atoi(field[:len(field)-1])
		if err != nil || percent < 0 || percent > 100 {
			continue
		}

		progress := SCPProgress{Percent: percent, Bytes: BytesUnknown}
		if i+1 < len(fields) {
			if bytes, ok := parseSizeToken(fields[i+1]); ok {
				progress.Bytes = bytes
			}
		}
		return progress, true
	}

	return SCPProgress{}, false
}

// parseSizeToken converts scp size tokens like "1234", "1234KB", "1.2MB"
// or "3.4GB" into bytes.
func parseSizeToken(token string) (int64, bool) {
	token = strings.TrimSpace(token)
	if token == "" {
		return 0, false
	}

	multiplier := int64(1)
	upper := strings.ToUpper(token)
	switch {
	case strings.HasSuffix(upper, "KB"):
		multiplier, token = 1024, token[:len(token)-2]
	case strings.HasSuffix(upper, "MB"):
		multiplier, token = 1024*1024, token[:len(token)-2]
	case strings.HasSuffix(upper, "GB"):
		multiplier, token = 1024*1024*1024, token[:len(token)-2]
	case strings.HasSuffix(upper, "TB"):
		multiplier, token = 1024*1024*1024*1024, token[:len(token)-2]
	case strings.HasSuffix(upper, "B"):
		token = token[:len(token)-1]
	}

	value, err := strconv.ParseFloat(token, 64)
	if err != nil || value < 0 {
		return 0, false
	}
	return int64(value * float64(multiplier)), true
}

// scanToolLines is a bufio.SplitFunc that treats both \n and \r as line
// terminators. scp rewrites its progress line in place with carriage
// returns, so a newline-only scanner would see one giant line at EOF.
func scanToolLines(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	for i, b := range data {
		if b == '\n' || b == '\r' {
			return i + 1, data[:i], nil
		}
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}
