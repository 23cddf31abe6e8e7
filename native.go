package flick

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// nativeTransport implements FileTransfer by invoking the host's ssh/scp
// binaries. There is no persistent session: every operation spawns its own
// subprocess using the profile's credentials, so the transport serializes
// naturally behind the queue's concurrency limit.
type nativeTransport struct {
	profile ServerProfile
	opts    Options
	conn    *Connection
	log     *zap.Logger
}

var _ FileTransfer = (*nativeTransport)(nil)

// sshBaseArgs returns the flags shared by every ssh/scp invocation.
// portFlag differs between the two tools ("-p" vs "-P").
func (t *nativeTransport) sshBaseArgs(portFlag string) []string {
	args := []string{
		"-o", "StrictHostKeyChecking=no",
		portFlag, fmt.Sprintf("%d", t.profile.Port),
	}
	if t.profile.Password == "" {
		// Without a password the tool must never block on a prompt.
		args = append([]string{"-o", "BatchMode=yes"}, args...)
	}
	if t.profile.KeyPath != "" {
		args = append(args, "-i", ExpandPath(t.profile.KeyPath))
	}
	return args
}

// wrapPassword prepends sshpass when the profile authenticates by password.
// The secret travels via the SSHPASS environment variable, never argv.
func (t *nativeTransport) wrapPassword(name string, args []string) (string, []string, []string, error) {
	if t.profile.Password == "" {
		return name, args, nil, nil
	}
	if _, err := exec.LookPath(t.opts.SSHPassPath); err != nil {
		return "", nil, nil, fmt.Errorf("password auth in native mode requires sshpass: %w", err)
	}
	env := append(os.Environ(), "SSHPASS="+t.profile.Password)
	return t.opts.SSHPassPath, append([]string{"-e", name}, args...), env, nil
}

// sshCommand builds an ssh invocation running remoteCmd on the target.
func (t *nativeTransport) sshCommand(ctx context.Context, remoteCmd string) (*exec.Cmd, error) {
	args := append(t.sshBaseArgs("-p"), t.profile.Target(), remoteCmd)
	name, args, env, err := t.wrapPassword(t.opts.SSHPath, args)
	if err != nil {
		return nil, err
	}
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Env = env
	return cmd, nil
}

// scpCommand builds an scp invocation copying src to dst.
func (t *nativeTransport) scpCommand(ctx context.Context, src, dst string) (*exec.Cmd, error) {
	args := append(t.sshBaseArgs("-P"), src, dst)
	name, args, env, err := t.wrapPassword(t.opts.SCPPath, args)
	if err != nil {
		return nil, err
	}
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Env = env
	return cmd, nil
}

func (t *nativeTransport) List(ctx context.Context, remotePath string) ([]RemoteEntry, *ListWarning, error) {
	remotePath = normalizeRemotePath(remotePath)

	output, err := t.Exec(ctx, "ls -la --time-style=long-iso "+shellQuote(remotePath))
	if err != nil {
		msg := strings.ToLower(err.Error())
		switch {
		case strings.Contains(msg, "no such file"):
			return nil, nil, fmt.Errorf("%w: %s", ErrPathNotFound, remotePath)
		case strings.Contains(msg, "permission denied"):
			return nil, nil, fmt.Errorf("%w: %s", ErrPermissionDenied, remotePath)
		default:
			return nil, nil, err
		}
	}

	entries, skipped := ParseListing(output)
	sortEntries(entries)

	var warning *ListWarning
	if skipped > 0 {
		warning = &ListWarning{SkippedLines: skipped}
		t.log.Warn("listing contained unparsable lines",
			zap.String("path", remotePath), zap.Int("skipped", skipped))
	}
	return entries, warning, nil
}

func (t *nativeTransport) Upload(ctx context.Context, localPath, remotePath string, progress ProgressFunc) error {
	remotePath = normalizeRemotePath(remotePath)

	localInfo, err := os.Stat(localPath)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrSourceNotFound, localPath)
		}
		return fmt.Errorf("failed to stat local file: %w", err)
	}
	if localInfo.IsDir() {
		return fmt.Errorf("%w: %s is a directory", ErrSourceNotFound, localPath)
	}
	total := localInfo.Size()

	if parent := parentRemote(remotePath); parent != "/" && parent != "." {
		if _, err := t.Exec(ctx, "mkdir -p "+shellQuote(parent)); err != nil {
			return fmt.Errorf("failed to create remote directory %s: %w", parent, err)
		}
	}

	cmd, err := t.scpCommand(ctx, localPath, t.profile.Target()+":"+remotePath)
	if err != nil {
		return err
	}
	return t.runTransfer(ctx, cmd, total, progress)
}

func (t *nativeTransport) Download(ctx context.Context, remotePath, localPath string, progress ProgressFunc) error {
	remotePath = normalizeRemotePath(remotePath)

	if info, err := os.Stat(localPath); err == nil && info.IsDir() {
		return fmt.Errorf("%w: %s is a directory", ErrDestinationConflict, localPath)
	}
	if dir := filepath.Dir(localPath); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create local directory: %w", err)
		}
	}

	cmd, err := t.scpCommand(ctx, t.profile.Target()+":"+remotePath, localPath)
	if err != nil {
		return err
	}
	// scp does not announce the remote size up front; the parser may
	// recover byte counts from progress lines, otherwise the transfer
	// reports indeterminate progress until completion.
	return t.runTransfer(ctx, cmd, BytesUnknown, progress)
}

func (t *nativeTransport) Exec(ctx context.Context, command string) (string, error) {
	cmd, err := t.sshCommand(ctx, command)
	if err != nil {
		return "", err
	}

	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("command cancelled: %w", ctx.Err())
		}
		detail := firstLine(stderr.String())
		if detail == "" {
			detail = firstLine(stdout.String())
		}
		return "", fmt.Errorf("remote command failed: %s: %w", detail, err)
	}
	return stdout.String(), nil
}

func (t *nativeTransport) Close() error { return nil }

// runTransfer drives one scp subprocess, deriving byte progress from its
// output. Output parsing is best-effort: when no line ever matches, the
// task reports only start and completion. Cancellation kills the
// subprocess via the command context; the partially written destination is
// left for the caller.
func (t *nativeTransport) runTransfer(ctx context.Context, cmd *exec.Cmd, total int64, progress ProgressFunc) error {
	if progress != nil {
		progress(0, total)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to open stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("failed to open stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start %s: %w", cmd.Path, err)
	}

	var (
		mu        sync.Mutex
		bytesDone int64
		errTail   []string
	)
	gate := newProgressGate(t.opts)

	handleLine := func(line string, isStderr bool) {
		mu.Lock()
		defer mu.Unlock()

		if sample, ok := ParseSCPProgress(line); ok {
			done := sample.Bytes
			if done == BytesUnknown && total > 0 {
				done = total * int64(sample.Percent) / 100
			}
			// Progress is monotonically non-decreasing; stale or
			// re-parsed lines never move it backwards.
			if done > bytesDone {
				bytesDone = done
				if progress != nil && gate.pass(bytesDone) {
					progress(bytesDone, total)
				}
			}
			return
		}

		if isStderr && strings.TrimSpace(line) != "" {
			// Keep a short tail of unmatched stderr for error reporting.
			if len(errTail) >= 8 {
				errTail = errTail[1:]
			}
			errTail = append(errTail, strings.TrimSpace(line))
		}
	}

	var wg sync.WaitGroup
	scan := func(r io.Reader, isStderr bool) {
		defer wg.Done()
		scanner := bufio.NewScanner(r)
		scanner.Split(scanToolLines)
		for scanner.Scan() {
			handleLine(scanner.Text(), isStderr)
		}
	}
	wg.Add(2)
	go scan(stdout, false)
	go scan(stderr, true)
	wg.Wait()

	waitErr := cmd.Wait()

	if ctx.Err() != nil {
		return fmt.Errorf("%w: %v", ErrCancelled, ctx.Err())
	}
	if waitErr != nil {
		mu.Lock()
		detail := strings.Join(errTail, "; ")
		mu.Unlock()
		return classifySCPError(detail, waitErr)
	}

	mu.Lock()
	final := bytesDone
	mu.Unlock()
	if total > 0 {
		final = total
	}
	if progress != nil {
		progress(final, total)
	}
	return nil
}

// classifySCPError maps scp's stderr to the transfer error taxonomy.
func classifySCPError(detail string, waitErr error) error {
	msg := strings.ToLower(detail)
	switch {
	case strings.Contains(msg, "no such file"):
		return fmt.Errorf("%w: %s", ErrSourceNotFound, detail)
	case strings.Contains(msg, "is a directory") || strings.Contains(msg, "not a regular file"):
		return fmt.Errorf("%w: %s", ErrDestinationConflict, detail)
	case strings.Contains(msg, "no space left") || strings.Contains(msg, "disk full"):
		return fmt.Errorf("%w: %s", ErrDiskFull, detail)
	case strings.Contains(msg, "quota"):
		return fmt.Errorf("%w: %s", ErrRemoteQuotaExceeded, detail)
	case strings.Contains(msg, "connection closed") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "lost connection") ||
		strings.Contains(msg, "broken pipe"):
		return fmt.Errorf("%w: %s", ErrConnectionLost, detail)
	case detail != "":
		return fmt.Errorf("scp failed: %s: %w", detail, waitErr)
	default:
		return fmt.Errorf("scp failed: %w", waitErr)
	}
}
