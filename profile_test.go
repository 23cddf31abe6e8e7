package flick

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writeProfileFile(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "servers.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write profile file: %v", err)
	}
	return path
}

const sampleProfiles = `servers:
  - name: staging
    host: staging.example.com
    user: deploy
    key_path: ~/.ssh/id_ed25519
    remote_path: /srv/www
  - name: prod
    host: prod.example.com
    port: 2222
    user: deploy
    password: hunter2
    default: true
`

func TestProfileStoreLoad(t *testing.T) {
	store := NewProfileStore(writeProfileFile(t, sampleProfiles))

	profiles, err := store.Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(profiles) != 2 {
		t.Fatalf("expected 2 profiles, got %d", len(profiles))
	}

	staging := profiles[0]
	if staging.Name != "staging" || staging.Host != "staging.example.com" {
		t.Errorf("staging profile = %+v", staging)
	}
	if staging.Port != 22 {
		t.Errorf("defaults not applied, Port = %d", staging.Port)
	}
	if staging.RemotePath != "/srv/www" {
		t.Errorf("RemotePath = %q", staging.RemotePath)
	}

	prod := profiles[1]
	if prod.Port != 2222 || prod.Password != "hunter2" || !prod.Default {
		t.Errorf("prod profile = %+v", prod)
	}
}

func TestProfileStoreFind(t *testing.T) {
	store := NewProfileStore(writeProfileFile(t, sampleProfiles))

	p, err := store.Find("staging")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Name != "staging" {
		t.Errorf("found %+v", p)
	}

	if _, err := store.Find("nope"); err == nil {
		t.Fatal("expected error for unknown profile name")
	}
}

func TestProfileStoreDefault(t *testing.T) {
	store := NewProfileStore(writeProfileFile(t, sampleProfiles))

	p, err := store.Default()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Name != "prod" {
		t.Errorf("default = %q, want prod", p.Name)
	}
}

func TestProfileStoreDefaultFallsBackToFirst(t *testing.T) {
	store := NewProfileStore(writeProfileFile(t, `servers:
  - name: only
    host: only.example.com
    user: u
`))

	p, err := store.Default()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Name != "only" {
		t.Errorf("default = %q, want only", p.Name)
	}
}

func TestProfileStoreRejectsMissingHost(t *testing.T) {
	store := NewProfileStore(writeProfileFile(t, `servers:
  - name: broken
    user: u
`))

	if _, err := store.Load(); err == nil {
		t.Fatal("expected error for profile without host")
	}
}

func TestProfileStoreMissingFile(t *testing.T) {
	store := NewProfileStore(filepath.Join(t.TempDir(), "absent.yaml"))

	_, err := store.Load()
	if err == nil {
		t.Fatal("expected error for missing file")
	}
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("error should wrap os.ErrNotExist: %v", err)
	}
}

func TestProfileStoreMalformedYAML(t *testing.T) {
	store := NewProfileStore(writeProfileFile(t, "servers: [not: valid: yaml"))

	if _, err := store.Load(); err == nil {
		t.Fatal("expected error for malformed YAML")
	}
}

func TestProfileStoreEmptyList(t *testing.T) {
	store := NewProfileStore(writeProfileFile(t, "servers: []\n"))

	if _, err := store.Default(); err == nil {
		t.Fatal("expected error when no profiles are defined")
	}
}
