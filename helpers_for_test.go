package flick

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"
	gossh "golang.org/x/crypto/ssh"
)

// generateTestRSAKey creates a test RSA private key and returns both
// PEM-encoded key content and a path to a temp file containing the key.
func generateTestRSAKey(t *testing.T) (string, string) {
	t.Helper()

	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("failed to generate RSA key: %v", err)
	}

	privateKeyBytes := x509.MarshalPKCS1PrivateKey(privateKey)
	privateKeyPEM := string(pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: privateKeyBytes,
	}))

	tmpDir := t.TempDir()
	keyPath := filepath.Join(tmpDir, "test_key")
	if err := os.WriteFile(keyPath, []byte(privateKeyPEM), 0600); err != nil {
		t.Fatalf("failed to write key file: %v", err)
	}

	return privateKeyPEM, keyPath
}

// generateTestPublicKey generates an authorized_keys line from an RSA
// private key for use in tests.
func generateTestPublicKey(t *testing.T, privateKeyPEM string) string {
	t.Helper()

	block, _ := pem.Decode([]byte(privateKeyPEM))
	if block == nil {
		t.Fatal("failed to parse PEM block")
	}

	privateKey, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		t.Fatalf("failed to parse private key: %v", err)
	}

	publicKey, err := gossh.NewPublicKey(&privateKey.PublicKey)
	if err != nil {
		t.Fatalf("failed to create SSH public key: %v", err)
	}

	return string(gossh.MarshalAuthorizedKey(publicKey))
}

// createTempFile creates a temporary file with the given content.
func createTempFile(t *testing.T, content []byte) string {
	t.Helper()

	tmpDir := t.TempDir()
	tmpFile := filepath.Join(tmpDir, "test_file")
	if err := os.WriteFile(tmpFile, content, 0644); err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}

	return tmpFile
}

// createTestFileStructure creates a directory structure with files for
// testing. files maps relative path -> content.
func createTestFileStructure(t *testing.T, files map[string][]byte) string {
	t.Helper()

	tmpDir := t.TempDir()

	for relPath, content := range files {
		fullPath := filepath.Join(tmpDir, relPath)
		if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
			t.Fatalf("failed to create directory: %v", err)
		}
		if err := os.WriteFile(fullPath, content, 0644); err != nil {
			t.Fatalf("failed to write file: %v", err)
		}
	}

	return tmpDir
}

// isolateHome points HOME at an empty temp directory and clears
// SSH_AUTH_SOCK so auth chain resolution is deterministic in tests.
func isolateHome(t *testing.T) string {
	t.Helper()

	tmpDir := t.TempDir()
	t.Setenv("HOME", tmpDir)
	t.Setenv("SSH_AUTH_SOCK", "")
	return tmpDir
}

// writeDefaultKey places a dummy key file under the isolated home's .ssh
// directory so the default key probe finds it.
func writeDefaultKey(t *testing.T, home, name string) string {
	t.Helper()

	sshDir := filepath.Join(home, ".ssh")
	if err := os.MkdirAll(sshDir, 0700); err != nil {
		t.Fatalf("failed to create .ssh dir: %v", err)
	}
	path := filepath.Join(sshDir, name)
	if err := os.WriteFile(path, []byte("dummy"), 0600); err != nil {
		t.Fatalf("failed to write key: %v", err)
	}
	return path
}

// newMockConnection builds a Connection backed by an in-memory transport,
// bypassing the network entirely.
func newMockConnection(t *testing.T, transport FileTransfer) *Connection {
	t.Helper()

	return &Connection{
		profile:   ServerProfile{Host: "mock", Port: 22, User: "test"}.WithDefaults(),
		opts:      Options{}.WithDefaults(),
		mode:      ModeLibrary,
		transport: transport,
		log:       zap.NewNop(),
	}
}

// assertFileContents verifies that a file has the expected content.
func assertFileContents(t *testing.T, path string, expected []byte) {
	t.Helper()

	content, err := os.ReadFile(path)
	if err != nil {
		t.Errorf("failed to read file %s: %v", path, err)
		return
	}

	if string(content) != string(expected) {
		t.Errorf("file content mismatch:\nexpected: %q\ngot: %q", string(expected), string(content))
	}
}
