package flick

import (
	"fmt"
	"time"

	"go.uber.org/zap"
)

// ServerProfile holds the connection parameters for one remote server.
// Profiles are owned by external configuration storage; the engine receives
// an immutable snapshot per Connect call and never writes it back. Editing
// a profile mid-transfer takes effect only on the next Connect.
type ServerProfile struct {
	// Name is the profile alias shown by the presentation layer.
	Name string `yaml:"name"`

	// Host is the target SSH server hostname or IP address.
	Host string `yaml:"host"`

	// Port is the SSH port (default 22).
	Port int `yaml:"port"`

	// User is the SSH username.
	User string `yaml:"user"`

	// Password is the SSH password, if password authentication is desired.
	Password string `yaml:"password,omitempty"`

	// KeyPath is the path to an explicit SSH private key file.
	KeyPath string `yaml:"key_path,omitempty"`

	// Passphrase decrypts the private key at KeyPath when it is encrypted.
	Passphrase string `yaml:"passphrase,omitempty"`

	// RemotePath is the remote base directory the presentation layer starts in.
	RemotePath string `yaml:"remote_path,omitempty"`

	// Default marks the profile selected on startup.
	Default bool `yaml:"default,omitempty"`
}

// WithDefaults returns a copy of the profile with default values applied.
func (p ServerProfile) WithDefaults() ServerProfile {
	if p.Port == 0 {
		p.Port = 22
	}
	if p.RemotePath == "" {
		p.RemotePath = "/"
	}
	return p
}

// Addr returns the host:port dial address for the profile.
func (p ServerProfile) Addr() string {
	return fmt.Sprintf("%s:%d", p.Host, p.Port)
}

// Target returns the user@host form used by the native ssh/scp tools.
func (p ServerProfile) Target() string {
	return fmt.Sprintf("%s@%s", p.User, p.Host)
}

// Options configures engine behavior shared by both transport modes.
type Options struct {
	// AuthTimeout bounds each individual authentication attempt so one
	// unreachable method cannot stall the whole chain (default 10s).
	AuthTimeout time.Duration

	// ListTimeout bounds a single directory listing call (default 30s).
	ListTimeout time.Duration

	// ProgressByteStep is the minimum byte delta between two progress
	// events for the same task (default 256 KiB).
	ProgressByteStep int64

	// ProgressInterval is the maximum time between two progress events
	// while bytes are moving (default 200ms). An event fires when either
	// threshold is crossed, whichever comes first.
	ProgressInterval time.Duration

	// KnownHostsFile is the path to a known_hosts file for host key
	// verification. If not set, defaults to ~/.ssh/known_hosts if present.
	KnownHostsFile string

	// InsecureIgnoreHostKey skips host key verification.
	// WARNING: This is insecure and should only be used for testing.
	InsecureIgnoreHostKey bool

	// SSHPath, SCPPath and SSHPassPath override the native tool binaries
	// resolved from PATH. Primarily used by tests.
	SSHPath     string
	SCPPath     string
	SSHPassPath string

	// DisableNativeFallback turns off the native-tool fallback so a
	// library-mode failure is surfaced directly.
	DisableNativeFallback bool

	// Logger receives engine diagnostics. Defaults to a no-op logger.
	Logger *zap.Logger
}

// WithDefaults returns a copy of the options with default values applied.
func (o Options) WithDefaults() Options {
	if o.AuthTimeout == 0 {
		o.AuthTimeout = 10 * time.Second
	}
	if o.ListTimeout == 0 {
		o.ListTimeout = 30 * time.Second
	}
	if o.ProgressByteStep == 0 {
		o.ProgressByteStep = 256 * 1024
	}
	if o.ProgressInterval == 0 {
		o.ProgressInterval = 200 * time.Millisecond
	}
	if o.SSHPath == "" {
		o.SSHPath = "ssh"
	}
	if o.SCPPath == "" {
		o.SCPPath = "scp"
	}
	if o.SSHPassPath == "" {
		o.SSHPassPath = "sshpass"
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}
