package flick

import (
	"context"
	"fmt"
)

// List returns the entries of a remote directory, sorted directories-first
// then case-insensitively by name. In native mode, individually malformed
// output lines are skipped and reported through the returned ListWarning
// instead of failing the whole listing. The call is bounded by the
// connection's ListTimeout.
func (c *Connection) List(ctx context.Context, remotePath string) ([]RemoteEntry, *ListWarning, error) {
	ctx, cancel := context.WithTimeout(ctx, c.opts.ListTimeout)
	defer cancel()
	return c.transport.List(ctx, remotePath)
}

// IsDir reports whether the remote path is a directory. A listing probe is
// not enough: native-mode `ls` on a plain file exits zero and lists the file
// itself, so this runs `test -d` instead, which holds in both modes. A
// missing path is not a directory; only a cancelled context is an error.
func (c *Connection) IsDir(ctx context.Context, remotePath string) (bool, error) {
	remotePath = normalizeRemotePath(remotePath)
	if _, err := c.transport.Exec(ctx, "test -d "+shellQuote(remotePath)); err != nil {
		if ctx.Err() != nil {
			return false, fmt.Errorf("failed to probe %s: %w", remotePath, err)
		}
		return false, nil
	}
	return true, nil
}

// Mkdir creates a remote directory, including missing parents.
func (c *Connection) Mkdir(ctx context.Context, remotePath string) error {
	remotePath = normalizeRemotePath(remotePath)
	if _, err := c.transport.Exec(ctx, "mkdir -p "+shellQuote(remotePath)); err != nil {
		return fmt.Errorf("failed to create %s: %w", remotePath, err)
	}
	return nil
}

// Remove deletes a remote file, or a remote directory tree when isDir is set.
func (c *Connection) Remove(ctx context.Context, remotePath string, isDir bool) error {
	remotePath = normalizeRemotePath(remotePath)
	cmd := "rm -f " + shellQuote(remotePath)
	if isDir {
		cmd = "rm -rf " + shellQuote(remotePath)
	}
	if _, err := c.transport.Exec(ctx, cmd); err != nil {
		return fmt.Errorf("failed to remove %s: %w", remotePath, err)
	}
	return nil
}

// Rename moves a remote file or directory.
func (c *Connection) Rename(ctx context.Context, oldPath, newPath string) error {
	oldPath = normalizeRemotePath(oldPath)
	newPath = normalizeRemotePath(newPath)
	cmd := "mv " + shellQuote(oldPath) + " " + shellQuote(newPath)
	if _, err := c.transport.Exec(ctx, cmd); err != nil {
		return fmt.Errorf("failed to rename %s: %w", oldPath, err)
	}
	return nil
}
