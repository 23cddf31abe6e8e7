package flick

import (
	"context"
	"sort"
	"strings"
	"time"
)

// Direction identifies which way a transfer moves bytes.
type Direction int

const (
	// Upload copies a local file to the remote host.
	Upload Direction = iota
	// Download copies a remote file to the local host.
	Download
)

func (d Direction) String() string {
	if d == Upload {
		return "upload"
	}
	return "download"
}

// RemoteEntry describes one entry of a remote directory listing. Entries
// are produced fresh on every listing call and never cached by the engine.
type RemoteEntry struct {
	// Name is the entry's base name.
	Name string
	// IsDir reports whether the entry is a directory.
	IsDir bool
	// Size is the entry's size in bytes. Meaningless for directories.
	Size int64
	// ModTime is the entry's modification time. Zero when unknown.
	ModTime time.Time
	// Mode is a permission summary in ls long form (e.g. "-rw-r--r--").
	Mode string
}

// BytesUnknown marks a transfer whose total size could not be determined.
const BytesUnknown int64 = -1

// ProgressFunc receives transfer progress. bytesDone is monotonically
// non-decreasing for one operation; bytesTotal is BytesUnknown when the
// backend cannot determine the size.
type ProgressFunc func(bytesDone, bytesTotal int64)

// FileTransfer is the capability contract both transport modes implement.
// Remote paths are POSIX-style; local paths follow host OS conventions.
// Existing destination files are overwritten; transferring onto an existing
// directory as if it were a file is an error.
type FileTransfer interface {
	// List returns the entries of a remote directory. Unparsable lines in
	// native mode are skipped and counted in the returned ListWarning.
	List(ctx context.Context, remotePath string) ([]RemoteEntry, *ListWarning, error)

	// Upload copies a local file to the remote host, reporting progress.
	Upload(ctx context.Context, localPath, remotePath string, progress ProgressFunc) error

	// Download copies a remote file to the local host, reporting progress.
	Download(ctx context.Context, remotePath, localPath string, progress ProgressFunc) error

	// Exec runs a shell command on the remote host and returns its stdout.
	Exec(ctx context.Context, command string) (string, error)

	// Close releases transport resources.
	Close() error
}

// progressGate rate-limits progress callbacks: an event passes when the
// byte delta or the elapsed time since the last event crosses its
// threshold, whichever comes first.
type progressGate struct {
	byteStep  int64
	interval  time.Duration
	lastBytes int64
	lastTime  time.Time
}

func newProgressGate(opts Options) *progressGate {
	return &progressGate{
		byteStep: opts.ProgressByteStep,
		interval: opts.ProgressInterval,
		lastTime: time.Now(),
	}
}

func (g *progressGate) pass(bytesDone int64) bool {
	now := time.Now()
	if bytesDone-g.lastBytes >= g.byteStep || now.Sub(g.lastTime) >= g.interval {
		g.lastBytes = bytesDone
		g.lastTime = now
		return true
	}
	return false
}

// sortEntries orders a listing directories-first, then case-insensitively
// by name.
func sortEntries(entries []RemoteEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].IsDir != entries[j].IsDir {
			return entries[i].IsDir
		}
		return strings.ToLower(entries[i].Name) < strings.ToLower(entries[j].Name)
	})
}

// normalizeRemotePath converts a remote path to POSIX form and strips a
// trailing slash (except for the root).
func normalizeRemotePath(path string) string {
	path = strings.ReplaceAll(path, "\\", "/")
	for len(path) > 1 && strings.HasSuffix(path, "/") {
		path = path[:len(path)-1]
	}
	if path == "" {
		return "/"
	}
	return path
}

// joinRemote joins POSIX remote path segments.
func joinRemote(dir, name string) string {
	if strings.HasSuffix(dir, "/") {
		return dir + name
	}
	return dir + "/" + name
}

// parentRemote returns the POSIX parent directory of a remote path.
func parentRemote(path string) string {
	path = normalizeRemotePath(path)
	idx := strings.LastIndex(path, "/")
	if idx <= 0 {
		return "/"
	}
	return path[:idx]
}
