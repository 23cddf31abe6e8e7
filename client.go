package flick

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/pkg/sftp"
	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// TransportMode identifies which backend a Connection is bound to.
// A Connection is in exactly one mode for its whole lifetime.
type TransportMode int

const (
	// ModeLibrary uses the embedded SSH/SFTP protocol implementation.
	ModeLibrary TransportMode = iota
	// ModeNativeTool uses the host's installed ssh/scp binaries.
	ModeNativeTool
)

func (m TransportMode) String() string {
	if m == ModeLibrary {
		return "library"
	}
	return "native-tool"
}

// Connection is a live, authenticated session descriptor. In library mode it
// owns an SSH client and an SFTP client; in native mode it is a validated
// credential descriptor and each operation spawns its own subprocess.
//
// A Connection is exclusively owned by its creator and is not safe for
// concurrent use by multiple tasks; the transfer queue serializes access.
type Connection struct {
	profile   ServerProfile
	opts      Options
	mode      TransportMode
	authKind  AuthKind
	transport FileTransfer

	sshClient  *ssh.Client
	sftpClient *sftp.Client

	log *zap.Logger
}

// Connect establishes a connection for the profile. Library mode is tried
// first, walking the resolved auth chain in order; the first method that
// authenticates wins and the rest of the chain is skipped. If every method
// fails, or the library transport itself cannot negotiate, the engine falls
// back to the native tools exactly once. When both modes are exhausted the
// returned error is a *ConnectError aggregating the last error from each.
func Connect(profile ServerProfile, opts Options) (*Connection, error) {
	profile = profile.WithDefaults()
	opts = opts.WithDefaults()
	log := opts.Logger.With(zap.String("host", profile.Host), zap.String("user", profile.User))

	chain := ResolveAuthChain(profile)

	conn, libErr := connectLibrary(profile, opts, chain, log)
	if libErr == nil {
		log.Info("connected", zap.Stringer("mode", ModeLibrary), zap.Stringer("auth", conn.authKind))
		return conn, nil
	}
	log.Warn("library transport failed", zap.Error(libErr))

	if opts.DisableNativeFallback {
		return nil, &ConnectError{Failure: classifyConnectFailure(libErr, nil), LibraryErr: libErr}
	}

	conn, natErr := connectNative(profile, opts, log)
	if natErr == nil {
		log.Info("connected", zap.Stringer("mode", ModeNativeTool))
		return conn, nil
	}
	log.Warn("native fallback failed", zap.Error(natErr))

	return nil, &ConnectError{
		Failure:    classifyConnectFailure(libErr, natErr),
		LibraryErr: libErr,
		NativeErr:  natErr,
	}
}

// connectLibrary walks the auth chain against the embedded implementation.
// Auth rejections advance the chain; transport-level failures (unreachable
// host, handshake breakdown) abort it immediately since later methods would
// hit the same wall.
func connectLibrary(profile ServerProfile, opts Options, chain []AuthAttempt, log *zap.Logger) (*Connection, error) {
	if len(chain) == 0 {
		return nil, fmt.Errorf("no authentication methods available for %s", profile.Addr())
	}

	hostKeyCallback, err := buildHostKeyCallback(profile, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to configure host key verification: %w", err)
	}

	var lastErr error
	for _, attempt := range chain {
		method, release, err := buildAuthMethod(attempt, profile)
		if err != nil {
			log.Debug("auth method unavailable", zap.Stringer("kind", attempt.Kind), zap.Error(err))
			lastErr = err
			continue
		}

		sshConfig := &ssh.ClientConfig{
			User:            profile.User,
			Auth:            []ssh.AuthMethod{method},
			HostKeyCallback: hostKeyCallback,
			Timeout:         opts.AuthTimeout,
		}

		sshClient, err := ssh.Dial("tcp", profile.Addr(), sshConfig)
		release()
		if err != nil {
			lastErr = err
			if isAuthRejection(err) {
				log.Debug("auth method rejected", zap.Stringer("kind", attempt.Kind), zap.Error(err))
				continue
			}
			// Not an auth problem: the transport itself is broken.
			return nil, fmt.Errorf("transport negotiation failed: %w", err)
		}

		sftpClient, err := sftp.NewClient(sshClient)
		if err != nil {
			sshClient.Close()
			return nil, fmt.Errorf("failed to open SFTP subsystem: %w", err)
		}

		conn := &Connection{
			profile:    profile,
			opts:       opts,
			mode:       ModeLibrary,
			authKind:   attempt.Kind,
			sshClient:  sshClient,
			sftpClient: sftpClient,
			log:        log,
		}
		conn.transport = &libraryTransport{conn: conn}
		return conn, nil
	}

	return nil, fmt.Errorf("authentication chain exhausted: %w", lastErr)
}

// connectNative validates that the host's ssh binary can authenticate by
// running a BatchMode `exit 0` probe. The tools resolve agent and default
// keys themselves; the profile's explicit key and password are passed
// through (password via sshpass, never interactively).
func connectNative(profile ServerProfile, opts Options, log *zap.Logger) (*Connection, error) {
	if _, err := exec.LookPath(opts.SSHPath); err != nil {
		return nil, fmt.Errorf("ssh binary not found: %w", err)
	}

	nt := &nativeTransport{profile: profile, opts: opts, log: log}

	ctx, cancel := context.WithTimeout(context.Background(), opts.AuthTimeout)
	defer cancel()

	cmd, err := nt.sshCommand(ctx, "exit 0")
	if err != nil {
		return nil, err
	}
	output, err := cmd.CombinedOutput()
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("native ssh probe timed out: %w", ctx.Err())
		}
		return nil, fmt.Errorf("native ssh probe failed: %s: %w", firstLine(string(output)), err)
	}

	conn := &Connection{
		profile:   profile,
		opts:      opts,
		mode:      ModeNativeTool,
		transport: nt,
		log:       log,
	}
	nt.conn = conn
	return conn, nil
}

// Close releases the session and any subprocess-ready state. Safe to call
// on every exit path, including after a failed operation.
func (c *Connection) Close() error {
	if c.transport != nil {
		c.transport.Close()
	}
	if c.sftpClient != nil {
		c.sftpClient.Close()
		c.sftpClient = nil
	}
	if c.sshClient != nil {
		c.sshClient.Close()
		c.sshClient = nil
	}
	return nil
}

// Mode returns the transport mode the connection is bound to.
func (c *Connection) Mode() TransportMode { return c.mode }

// AuthKind returns which chain entry authenticated the connection.
// Meaningful in library mode only; native mode delegates auth to the tool.
func (c *Connection) AuthKind() AuthKind { return c.authKind }

// Profile returns the immutable profile snapshot the connection was built from.
func (c *Connection) Profile() ServerProfile { return c.profile }

// Transport returns the connection's FileTransfer backend.
func (c *Connection) Transport() FileTransfer { return c.transport }

// IsHealthy reports whether the connection still looks usable. Library mode
// sends a keepalive request; native mode has no persistent session to check.
func (c *Connection) IsHealthy() bool {
	if c.mode == ModeNativeTool {
		return true
	}
	if c.sshClient == nil {
		return false
	}
	_, _, err := c.sshClient.SendRequest("keepalive@openssh.com", true, nil)
	return err == nil
}

// isAuthRejection reports whether a dial error means the server refused the
// credentials, as opposed to the transport being unusable.
func isAuthRejection(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unable to authenticate") ||
		strings.Contains(msg, "no supported methods remain") ||
		strings.Contains(msg, "permission denied")
}

func classifyConnectFailure(libErr, natErr error) ConnectFailure {
	combined := ""
	if libErr != nil {
		combined = strings.ToLower(libErr.Error())
	}
	if natErr != nil {
		combined += " " + strings.ToLower(natErr.Error())
	}

	switch {
	case errors.Is(libErr, context.DeadlineExceeded) || strings.Contains(combined, "i/o timeout") || strings.Contains(combined, "timed out"):
		return FailureTimeout
	case strings.Contains(combined, "no route to host") ||
		strings.Contains(combined, "network is unreachable") ||
		strings.Contains(combined, "connection refused") ||
		strings.Contains(combined, "no such host"):
		return FailureNetworkUnreachable
	case isAuthRejection(libErr):
		return FailureAllAuthExhausted
	default:
		return FailureTransportUnavailable
	}
}

func buildHostKeyCallback(profile ServerProfile, opts Options) (ssh.HostKeyCallback, error) {
	if opts.InsecureIgnoreHostKey {
		opts.Logger.Warn("SSH host key verification disabled - this is insecure",
			zap.String("addr", profile.Addr()))
		return ssh.InsecureIgnoreHostKey(), nil
	}

	if opts.KnownHostsFile != "" {
		expandedPath := ExpandPath(opts.KnownHostsFile)
		callback, err := knownhosts.New(expandedPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load known_hosts file %s: %w", expandedPath, err)
		}
		return callback, nil
	}

	homeDir, err := os.UserHomeDir()
	if err == nil {
		defaultKnownHosts := filepath.Join(homeDir, ".ssh", "known_hosts")
		if _, err := os.Stat(defaultKnownHosts); err == nil {
			callback, err := knownhosts.New(defaultKnownHosts)
			if err == nil {
				return callback, nil
			}
			opts.Logger.Warn("could not parse known_hosts file",
				zap.String("path", defaultKnownHosts), zap.Error(err))
		}
	}

	opts.Logger.Warn("no known_hosts file found - host key verification disabled",
		zap.String("addr", profile.Addr()))
	return func(hostname string, remote net.Addr, key ssh.PublicKey) error {
		return nil
	}, nil
}

// ExpandPath expands ~ to home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(homeDir, path[2:])
		}
	}
	return path
}

// shellQuote single-quotes an argument for a remote POSIX shell.
func shellQuote(s string) string {
	if s == "" {
		return "''"
	}
	escaped := strings.ReplaceAll(s, "'", "'\"'\"'")
	return "'" + escaped + "'"
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if idx := strings.IndexAny(s, "\r\n"); idx >= 0 {
		return s[:idx]
	}
	return s
}
