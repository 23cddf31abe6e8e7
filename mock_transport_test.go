package flick

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// mockTransport is an in-memory FileTransfer implementation for exercising
// the queue and connection logic without a network. It simulates chunked
// transfers so cancellation and progress behavior can be observed.
type mockTransport struct {
	mu    sync.Mutex
	files map[string][]byte
	dirs  map[string]bool

	// chunkSize and chunkDelay shape the simulated transfer; progress is
	// reported once per chunk.
	chunkSize  int64
	chunkDelay time.Duration

	// errOn maps a remote path to the error its transfer should fail with.
	errOn map[string]error

	// listWarning, when set, is returned by every List call.
	listWarning *ListWarning

	// running/maxRunning track observed transfer concurrency.
	running    int
	maxRunning int

	execLog []string
}

var _ FileTransfer = (*mockTransport)(nil)

func newMockTransport() *mockTransport {
	return &mockTransport{
		files:     make(map[string][]byte),
		dirs:      map[string]bool{"/": true},
		chunkSize: 1024,
		errOn:     make(map[string]error),
	}
}

func (m *mockTransport) setFile(path string, content []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[normalizeRemotePath(path)] = content
}

func (m *mockTransport) file(path string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	content, ok := m.files[normalizeRemotePath(path)]
	return content, ok
}

func (m *mockTransport) observedMaxConcurrency() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.maxRunning
}

func (m *mockTransport) enter() {
	m.mu.Lock()
	m.running++
	if m.running > m.maxRunning {
		m.maxRunning = m.running
	}
	m.mu.Unlock()
}

func (m *mockTransport) leave() {
	m.mu.Lock()
	m.running--
	m.mu.Unlock()
}

func (m *mockTransport) List(ctx context.Context, remotePath string) ([]RemoteEntry, *ListWarning, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	remotePath = normalizeRemotePath(remotePath)
	if !m.dirs[remotePath] {
		return nil, nil, fmt.Errorf("%w: %s", ErrPathNotFound, remotePath)
	}

	var entries []RemoteEntry
	for path, content := range m.files {
		if parentRemote(path) == remotePath {
			entries = append(entries, RemoteEntry{
				Name: path[strings.LastIndex(path, "/")+1:],
				Size: int64(len(content)),
				Mode: "-rw-r--r--",
			})
		}
	}
	for dir := range m.dirs {
		if dir != remotePath && parentRemote(dir) == remotePath {
			entries = append(entries, RemoteEntry{
				Name:  dir[strings.LastIndex(dir, "/")+1:],
				IsDir: true,
				Mode:  "drwxr-xr-x",
			})
		}
	}
	sortEntries(entries)
	return entries, m.listWarning, nil
}

func (m *mockTransport) Upload(ctx context.Context, localPath, remotePath string, progress ProgressFunc) error {
	m.enter()
	defer m.leave()

	remotePath = normalizeRemotePath(remotePath)
	if err := m.injectedError(remotePath); err != nil {
		return err
	}

	content, err := os.ReadFile(localPath)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrSourceNotFound, localPath)
	}

	total := int64(len(content))
	if err := m.simulate(ctx, total, total, progress); err != nil {
		return err
	}

	m.mu.Lock()
	m.files[remotePath] = content
	m.dirs[parentRemote(remotePath)] = true
	m.mu.Unlock()
	return nil
}

func (m *mockTransport) Download(ctx context.Context, remotePath, localPath string, progress ProgressFunc) error {
	m.enter()
	defer m.leave()

	remotePath = normalizeRemotePath(remotePath)
	if err := m.injectedError(remotePath); err != nil {
		return err
	}

	content, ok := m.file(remotePath)
	if !ok {
		return fmt.Errorf("%w: %s", ErrSourceNotFound, remotePath)
	}

	total := int64(len(content))
	if err := m.simulate(ctx, total, total, progress); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(localPath), 0755); err != nil {
		return err
	}
	return os.WriteFile(localPath, content, 0644)
}

func (m *mockTransport) Exec(ctx context.Context, command string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.execLog = append(m.execLog, command)

	if strings.HasPrefix(command, "mkdir -p ") {
		path := strings.Trim(strings.TrimPrefix(command, "mkdir -p "), "'")
		m.dirs[normalizeRemotePath(path)] = true
	}
	if strings.HasPrefix(command, "test -d ") {
		path := strings.Trim(strings.TrimPrefix(command, "test -d "), "'")
		if !m.dirs[normalizeRemotePath(path)] {
			return "", fmt.Errorf("remote command failed: exit status 1")
		}
	}
	return "", nil
}

func (m *mockTransport) Close() error { return nil }

func (m *mockTransport) injectedError(remotePath string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.errOn[remotePath]
}

// simulate walks total bytes in chunks, checking the cancellation token and
// reporting progress at every chunk boundary.
func (m *mockTransport) simulate(ctx context.Context, total, reportedTotal int64, progress ProgressFunc) error {
	if progress != nil {
		progress(0, reportedTotal)
	}

	var done int64
	for done < total {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: %v", ErrCancelled, err)
		}
		if m.chunkDelay > 0 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("%w: %v", ErrCancelled, ctx.Err())
			case <-time.After(m.chunkDelay):
			}
		}
		step := m.chunkSize
		if done+step > total {
			step = total - done
		}
		done += step
		if progress != nil {
			progress(done, reportedTotal)
		}
	}

	if progress != nil {
		progress(done, reportedTotal)
	}
	return nil
}
