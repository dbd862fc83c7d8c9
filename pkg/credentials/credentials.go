// Package credentials generates the test users of a run and encodes them for
// cross-process handoff.
package credentials

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"github.com/alexandremahdhaoui/tenantprobe/pkg/failure"
)

const (
	// UsernamePrefix is the prefix of every generated username.
	UsernamePrefix = "testuser"

	randomPasswordBytes = 16

	pairSeparator  = ","
	fieldSeparator = ":"
)

// Credential is a username and its plain text password.
type Credential struct {
	Username string
	Password string
}

// Set is an ordered list of credentials. Order decides tier assignment.
type Set []Credential

// Generate returns count credentials named testuser-1..testuser-count.
// A non-empty fixedPrefix yields the deterministic passwords
// "{fixedPrefix}-{i}"; an empty one yields random hex passwords.
func Generate(count int, fixedPrefix string) (Set, error) {
	return generate(count, fixedPrefix, rand.Reader)
}

func generate(count int, fixedPrefix string, random io.Reader) (Set, error) {
	if count < 1 {
		return nil, fmt.Errorf("%w: user count must be positive, got %d", failure.ErrInvalidConfig, count)
	}
	if strings.ContainsAny(fixedPrefix, pairSeparator+fieldSeparator) {
		return nil, fmt.Errorf("%w: password prefix %q contains a reserved character", failure.ErrInvalidConfig, fixedPrefix)
	}

	out := make(Set, 0, count)
	buf := make([]byte, randomPasswordBytes)
	for i := 1; i <= count; i++ {
		c := Credential{Username: fmt.Sprintf("%s-%d", UsernamePrefix, i)}
		if fixedPrefix != "" {
			c.Password = fmt.Sprintf("%s-%d", fixedPrefix, i)
		} else {
			if _, err := io.ReadFull(random, buf); err != nil {
				return nil, fmt.Errorf("reading random password: %w", err)
			}
			c.Password = hex.EncodeToString(buf)
		}
		out = append(out, c)
	}

	return out, nil
}

// String encodes the set as "user:pass,user:pass".
func (s Set) String() string {
	parts := make([]string, len(s))
	for i, c := range s {
		parts[i] = c.Username + fieldSeparator + c.Password
	}
	return strings.Join(parts, pairSeparator)
}

// Usernames returns the usernames in order.
func (s Set) Usernames() []string {
	out := make([]string, len(s))
	for i, c := range s {
		out[i] = c.Username
	}
	return out
}

// Lookup returns the credential of username.
func (s Set) Lookup(username string) (Credential, bool) {
	for _, c := range s {
		if c.Username == username {
			return c, true
		}
	}
	return Credential{}, false
}

// Parse decodes the "user:pass,user:pass" form. An empty string yields an
// empty set.
func Parse(encoded string) (Set, error) {
	encoded = strings.TrimSpace(encoded)
	if encoded == "" {
		return Set{}, nil
	}

	pairs := strings.Split(encoded, pairSeparator)
	out := make(Set, 0, len(pairs))
	seen := make(map[string]struct{}, len(pairs))
	for i, pair := range pairs {
		username, password, ok := strings.Cut(pair, fieldSeparator)
		if !ok {
			return nil, fmt.Errorf("%w: credential %d has no %q separator", failure.ErrInvalidConfig, i, fieldSeparator)
		}
		if username == "" || password == "" {
			return nil, fmt.Errorf("%w: credential %d has an empty field", failure.ErrInvalidConfig, i)
		}
		if strings.Contains(password, fieldSeparator) {
			return nil, fmt.Errorf("%w: password of %q contains %q", failure.ErrInvalidConfig, username, fieldSeparator)
		}
		if _, dup := seen[username]; dup {
			return nil, fmt.Errorf("%w: duplicate username %q", failure.ErrInvalidConfig, username)
		}
		seen[username] = struct{}{}
		out = append(out, Credential{Username: username, Password: password})
	}

	return out, nil
}
