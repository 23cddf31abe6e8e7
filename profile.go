package flick

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ProfileStore reads server profiles from a YAML file. The store is
// read-only from the engine's perspective: profiles are owned by external
// configuration and the engine only borrows immutable snapshots.
//
// File format:
//
//	servers:
//	  - name: staging
//	    host: staging.example.com
//	    port: 22
//	    user: deploy
//	    key_path: ~/.ssh/id_ed25519
//	    remote_path: /srv/www
//	    default: true
type ProfileStore struct {
	path string
}

type profileFile struct {
	Servers []ServerProfile `yaml:"servers"`
}

// NewProfileStore creates a store backed by the YAML file at path.
func NewProfileStore(path string) *ProfileStore {
	return &ProfileStore{path: ExpandPath(path)}
}

// Load reads all profiles from the file, with defaults applied.
func (s *ProfileStore) Load() ([]ServerProfile, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read profile file %s: %w", s.path, err)
	}

	var file profileFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse profile file %s: %w", s.path, err)
	}

	profiles := make([]ServerProfile, 0, len(file.Servers))
	for i, p := range file.Servers {
		if p.Host == "" {
			return nil, fmt.Errorf("profile %d in %s has no host", i, s.path)
		}
		profiles = append(profiles, p.WithDefaults())
	}
	return profiles, nil
}

// Find returns the profile with the given name.
func (s *ProfileStore) Find(name string) (ServerProfile, error) {
	profiles, err := s.Load()
	if err != nil {
		return ServerProfile{}, err
	}
	for _, p := range profiles {
		if p.Name == name {
			return p, nil
		}
	}
	return ServerProfile{}, fmt.Errorf("no profile named %q in %s", name, s.path)
}

// Default returns the profile marked default, or the first one.
func (s *ProfileStore) Default() (ServerProfile, error) {
	profiles, err := s.Load()
	if err != nil {
		return ServerProfile{}, err
	}
	if len(profiles) == 0 {
		return ServerProfile{}, fmt.Errorf("no profiles defined in %s", s.path)
	}
	for _, p := range profiles {
		if p.Default {
			return p, nil
		}
	}
	return profiles[0], nil
}
