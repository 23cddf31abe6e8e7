package flick

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// libraryTransport implements FileTransfer over the embedded SSH/SFTP
// implementation. All operations multiplex channels over the connection's
// single SSH session.
type libraryTransport struct {
	conn *Connection
}

var _ FileTransfer = (*libraryTransport)(nil)

const copyBufferSize = 32 * 1024

func (t *libraryTransport) List(ctx context.Context, remotePath string) ([]RemoteEntry, *ListWarning, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, fmt.Errorf("listing cancelled: %w", err)
	}

	remotePath = normalizeRemotePath(remotePath)

	type readResult struct {
		infos []os.FileInfo
		err   error
	}
	done := make(chan readResult, 1)
	go func() {
		infos, err := t.conn.sftpClient.ReadDir(remotePath)
		done <- readResult{infos, err}
	}()

	var infos []os.FileInfo
	select {
	case <-ctx.Done():
		return nil, nil, fmt.Errorf("listing cancelled: %w", ctx.Err())
	case res := <-done:
		if res.err != nil {
			return nil, nil, classifyListError(res.err, remotePath)
		}
		infos = res.infos
	}

	entries := make([]RemoteEntry, 0, len(infos))
	for _, info := range infos {
		name := info.Name()
		if name == "." || name == ".." {
			continue
		}
		entries = append(entries, RemoteEntry{
			Name:    name,
			IsDir:   info.IsDir(),
			Size:    info.Size(),
			ModTime: info.ModTime(),
			Mode:    info.Mode().String(),
		})
	}
	sortEntries(entries)
	return entries, nil, nil
}

func (t *libraryTransport) Upload(ctx context.Context, localPath, remotePath string, progress ProgressFunc) error {
	remotePath = normalizeRemotePath(remotePath)

	localFile, err := os.Open(localPath)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrSourceNotFound, localPath)
		}
		return fmt.Errorf("failed to open local file: %w", err)
	}
	defer localFile.Close()

	localInfo, err := localFile.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat local file: %w", err)
	}
	if localInfo.IsDir() {
		return fmt.Errorf("%w: %s is a directory", ErrSourceNotFound, localPath)
	}
	total := localInfo.Size()

	// Destinations that exist as directories are never merged into.
	if info, err := t.conn.sftpClient.Stat(remotePath); err == nil && info.IsDir() {
		return fmt.Errorf("%w: %s is a directory", ErrDestinationConflict, remotePath)
	}

	if parent := parentRemote(remotePath); parent != "/" && parent != "." {
		if err := t.conn.sftpClient.MkdirAll(parent); err != nil {
			return fmt.Errorf("failed to create remote directory %s: %w", parent, err)
		}
	}

	remoteFile, err := t.conn.sftpClient.Create(remotePath)
	if err != nil {
		return classifyTransferError(fmt.Errorf("failed to create remote file: %w", err))
	}
	defer remoteFile.Close()

	return copyWithProgress(ctx, remoteFile, localFile, total, remoteFile, t.conn.opts, progress)
}

func (t *libraryTransport) Download(ctx context.Context, remotePath, localPath string, progress ProgressFunc) error {
	remotePath = normalizeRemotePath(remotePath)

	remoteInfo, err := t.conn.sftpClient.Stat(remotePath)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrSourceNotFound, remotePath)
		}
		return classifyTransferError(fmt.Errorf("failed to stat remote file: %w", err))
	}
	if remoteInfo.IsDir() {
		return fmt.Errorf("%w: %s is a directory", ErrSourceNotFound, remotePath)
	}
	total := remoteInfo.Size()

	if info, err := os.Stat(localPath); err == nil && info.IsDir() {
		return fmt.Errorf("%w: %s is a directory", ErrDestinationConflict, localPath)
	}

	remoteFile, err := t.conn.sftpClient.Open(remotePath)
	if err != nil {
		return classifyTransferError(fmt.Errorf("failed to open remote file: %w", err))
	}
	defer remoteFile.Close()

	if dir := filepath.Dir(localPath); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create local directory: %w", err)
		}
	}

	localFile, err := os.Create(localPath)
	if err != nil {
		return fmt.Errorf("failed to create local file: %w", err)
	}
	defer localFile.Close()

	return copyWithProgress(ctx, localFile, remoteFile, total, remoteFile, t.conn.opts, progress)
}

func (t *libraryTransport) Exec(ctx context.Context, command string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("command cancelled: %w", err)
	}

	session, err := t.conn.sshClient.NewSession()
	if err != nil {
		return "", classifyTransferError(fmt.Errorf("failed to create SSH session: %w", err))
	}
	defer session.Close()

	type execResult struct {
		output []byte
		err    error
	}
	done := make(chan execResult, 1)
	go func() {
		output, err := session.CombinedOutput(command)
		done <- execResult{output, err}
	}()

	select {
	case <-ctx.Done():
		session.Close()
		return "", fmt.Errorf("command cancelled: %w", ctx.Err())
	case res := <-done:
		if res.err != nil {
			return "", fmt.Errorf("remote command failed: %s: %w", firstLine(string(res.output)), res.err)
		}
		return string(res.output), nil
	}
}

func (t *libraryTransport) Close() error { return nil }

// copyWithProgress copies src to dst in fixed-size chunks, checking the
// cancellation token and the progress gate at every chunk boundary. A copy
// blocked inside a network read or write never reaches that boundary, so a
// watcher force-closes abort when the context fires; the blocked call then
// returns and is reported as a cancellation. An initial and a final
// progress event always fire; intermediates are throttled by the gate. On
// cancellation the partially written destination is left in place for the
// caller to inspect or remove.
func copyWithProgress(ctx context.Context, dst io.Writer, src io.Reader, total int64, abort io.Closer, opts Options, progress ProgressFunc) error {
	if progress != nil {
		progress(0, total)
	}

	copied := make(chan struct{})
	defer close(copied)
	go func() {
		select {
		case <-ctx.Done():
			if abort != nil {
				abort.Close()
			}
		case <-copied:
		}
	}()

	gate := newProgressGate(opts)
	buf := make([]byte, copyBufferSize)
	var done int64

	for {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: %v", ErrCancelled, err)
		}

		n, readErr := src.Read(buf)
		if n > 0 {
			if _, writeErr := dst.Write(buf[:n]); writeErr != nil {
				if ctx.Err() != nil {
					return fmt.Errorf("%w: %v", ErrCancelled, ctx.Err())
				}
				return classifyTransferError(fmt.Errorf("write failed: %w", writeErr))
			}
			done += int64(n)
			if progress != nil && gate.pass(done) {
				progress(done, total)
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			if ctx.Err() != nil {
				return fmt.Errorf("%w: %v", ErrCancelled, ctx.Err())
			}
			return classifyTransferError(fmt.Errorf("read failed: %w", readErr))
		}
	}

	if progress != nil {
		progress(done, total)
	}
	return nil
}

func classifyListError(err error, path string) error {
	if os.IsNotExist(err) {
		return fmt.Errorf("%w: %s", ErrPathNotFound, path)
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "permission denied"):
		return fmt.Errorf("%w: %s", ErrPermissionDenied, path)
	case strings.Contains(msg, "no such file"):
		return fmt.Errorf("%w: %s", ErrPathNotFound, path)
	default:
		return fmt.Errorf("failed to list %s: %w", path, err)
	}
}

// classifyTransferError wraps low-level failures with the engine's transfer
// error sentinels where the cause is recognizable.
func classifyTransferError(err error) error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "no space left") || strings.Contains(msg, "disk full"):
		return fmt.Errorf("%w: %v", ErrDiskFull, err)
	case strings.Contains(msg, "quota"):
		return fmt.Errorf("%w: %v", ErrRemoteQuotaExceeded, err)
	case strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "connection lost") ||
		strings.Contains(msg, "unexpected eof") ||
		errors.Is(err, io.ErrUnexpectedEOF):
		return fmt.Errorf("%w: %v", ErrConnectionLost, err)
	default:
		return err
	}
}
