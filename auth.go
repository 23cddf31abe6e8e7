package flick

import (
	"fmt"
	"net"
	"os"
	"path/filepath"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
)

// AuthKind identifies one step of the authentication chain.
type AuthKind int

const (
	// AuthPassword authenticates with the profile's password.
	AuthPassword AuthKind = iota
	// AuthExplicitKey authenticates with the key file named by the profile.
	AuthExplicitKey
	// AuthAgent authenticates through a reachable SSH agent.
	AuthAgent
	// AuthDefaultKey authenticates with a key discovered under ~/.ssh.
	AuthDefaultKey
)

func (k AuthKind) String() string {
	switch k {
	case AuthPassword:
		return "password"
	case AuthExplicitKey:
		return "explicit key"
	case AuthAgent:
		return "ssh agent"
	case AuthDefaultKey:
		return "default key"
	default:
		return "unknown"
	}
}

// AuthAttempt is one entry of the resolved authentication chain.
type AuthAttempt struct {
	Kind AuthKind
	// KeyPath is set for AuthExplicitKey and AuthDefaultKey attempts.
	KeyPath string
}

// defaultKeyNames are the key files probed under the user's SSH directory,
// in fixed priority order. The order is part of the engine contract and
// must not change between calls.
var defaultKeyNames = []string{"id_ed25519", "id_rsa", "id_ecdsa"}

// ResolveAuthChain derives the ordered authentication chain for a profile:
// explicit password, explicit key, SSH agent, then default key probing.
// It never fails; a sparse profile simply yields a shorter chain. The only
// side effects are existence checks on candidate key files and the agent
// socket.
func ResolveAuthChain(profile ServerProfile) []AuthAttempt {
	var chain []AuthAttempt

	if profile.Password != "" {
		chain = append(chain, AuthAttempt{Kind: AuthPassword})
	}
	if profile.KeyPath != "" {
		chain = append(chain, AuthAttempt{Kind: AuthExplicitKey, KeyPath: ExpandPath(profile.KeyPath)})
	}
	if agentSocket() != "" {
		chain = append(chain, AuthAttempt{Kind: AuthAgent})
	}
	for _, path := range probeDefaultKeys() {
		chain = append(chain, AuthAttempt{Kind: AuthDefaultKey, KeyPath: path})
	}

	return chain
}

// agentSocket returns the SSH agent socket path if an agent looks reachable.
func agentSocket() string {
	sock := os.Getenv("SSH_AUTH_SOCK")
	if sock == "" {
		return ""
	}
	if _, err := os.Stat(sock); err != nil {
		return ""
	}
	return sock
}

// probeDefaultKeys returns the readable default key files under ~/.ssh in
// fixed priority order.
func probeDefaultKeys() []string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil
	}

	var found []string
	for _, name := range defaultKeyNames {
		path := filepath.Join(homeDir, ".ssh", name)
		f, err := os.Open(path)
		if err != nil {
			continue
		}
		f.Close()
		found = append(found, path)
	}
	return found
}

// buildAuthMethod materializes an ssh.AuthMethod for a chain entry. The
// returned closer releases any resource held open for the method (the agent
// socket) and must be called once the connect attempt is settled.
func buildAuthMethod(attempt AuthAttempt, profile ServerProfile) (ssh.AuthMethod, func(), error) {
	noop := func() {}

	switch attempt.Kind {
	case AuthPassword:
		if profile.Password == "" {
			return nil, noop, fmt.Errorf("password authentication requires password to be set")
		}
		return ssh.Password(profile.Password), noop, nil

	case AuthExplicitKey, AuthDefaultKey:
		signer, err := loadKeySigner(attempt.KeyPath, profile.Passphrase)
		if err != nil {
			return nil, noop, err
		}
		return ssh.PublicKeys(signer), noop, nil

	case AuthAgent:
		sock := agentSocket()
		if sock == "" {
			return nil, noop, fmt.Errorf("no SSH agent reachable")
		}
		conn, err := net.Dial("unix", sock)
		if err != nil {
			return nil, noop, fmt.Errorf("failed to open SSH agent socket %q: %w", sock, err)
		}
		signers, err := agent.NewClient(conn).Signers()
		if err != nil {
			conn.Close()
			return nil, noop, fmt.Errorf("failed to obtain signers from SSH agent: %w", err)
		}
		if len(signers) == 0 {
			conn.Close()
			return nil, noop, fmt.Errorf("SSH agent holds no identities")
		}
		return ssh.PublicKeys(signers...), func() { conn.Close() }, nil

	default:
		return nil, noop, fmt.Errorf("unsupported auth method %v", attempt.Kind)
	}
}

func loadKeySigner(keyPath, passphrase string) (ssh.Signer, error) {
	keyData, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read SSH key file: %w", err)
	}

	signer, err := ssh.ParsePrivateKey(keyData)
	if err == nil {
		return signer, nil
	}

	if _, ok := err.(*ssh.PassphraseMissingError); ok && passphrase != "" {
		signer, err = ssh.ParsePrivateKeyWithPassphrase(keyData, []byte(passphrase))
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt SSH private key: %w", err)
		}
		return signer, nil
	}

	return nil, fmt.Errorf("failed to parse SSH private key: %w", err)
}
