package usermap

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/steveyegge/bdimport/internal/tracker"
)

// Overrides pins remote identities to local users, bypassing the matching
// rules. Keys are a remote id, username or email; values are a local
// username or email. Both are compared case-insensitively.
//
// The file format is TOML:
//
//	[users]
//	"jdoe@corp.example" = "john"
//	"557058:f3c2" = "alice@example.com"
type Overrides map[string]string

type overridesFile struct {
	Users map[string]string `toml:"users"`
}

// LoadOverrides reads an overrides file.
func LoadOverrides(path string) (Overrides, error) {
	var f overridesFile
	if _, err := toml.DecodeFile(path, &f); err != nil {
		return nil, fmt.Errorf("reading user overrides %s: %w", path, err)
	}
	return ParseOverrides(f.Users), nil
}

// DecodeOverrides parses overrides from TOML text.
func DecodeOverrides(data string) (Overrides, error) {
	var f overridesFile
	if _, err := toml.Decode(data, &f); err != nil {
		return nil, fmt.Errorf("parsing user overrides: %w", err)
	}
	return ParseOverrides(f.Users), nil
}

// ParseOverrides normalizes a raw remote->local map.
func ParseOverrides(raw map[string]string) Overrides {
	o := make(Overrides, len(raw))
	for remote, local := range raw {
		remote = strings.ToLower(strings.TrimSpace(remote))
		local = strings.ToLower(strings.TrimSpace(local))
		if remote != "" && local != "" {
			o[remote] = local
		}
	}
	return o
}

// target returns the local key pinned for u, checking id, username and
// email in that order.
func (o Overrides) target(u tracker.RemoteUser) (string, bool) {
	for _, k := range []string{u.ID, u.Username, u.Email} {
		if k == "" {
			continue
		}
		if local, ok := o[strings.ToLower(k)]; ok {
			return local, true
		}
	}
	return "", false
}
