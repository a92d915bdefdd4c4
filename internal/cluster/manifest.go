package cluster

import (
	"fmt"

	"github.com/BurntSushi/toml"
)

// User is one manifest entry: the wire-authentication identity.
type User struct {
	Name     string `toml:"name"`
	Password string `toml:"password"`
}

// Manifest enumerates the cluster-level users SCRAM authenticates
// against. Per-catalog credentials live in the arena_catalog.users table
// (internal/catalogusers); this file is the bootstrap identity source.
type Manifest struct {
	Users []User `toml:"users"`
}

// LoadManifest reads the TOML user manifest.
func LoadManifest(path string) (*Manifest, error) {
	var m Manifest
	if _, err := toml.DecodeFile(path, &m); err != nil {
		return nil, fmt.Errorf("cluster: load manifest %s: %w", path, err)
	}
	return &m, nil
}

// GetUser looks a user up by name.
func (m *Manifest) GetUser(name string) (User, bool) {
	for _, u := range m.Users {
		if u.Name == name {
			return u, true
		}
	}
	return User{}, false
}
