package idp

import (
	"bytes"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"github.com/alexandremahdhaoui/tenantprobe/pkg/credentials"
)

// HTPasswd renders creds as htpasswd lines "user:bcrypt-hash", one per
// credential, in order.
func HTPasswd(creds credentials.Set, cost int) ([]byte, error) {
	var buf bytes.Buffer
	for _, c := range creds {
		hash, err := bcrypt.GenerateFromPassword([]byte(c.Password), cost)
		if err != nil {
			return nil, fmt.Errorf("hashing password of %s: %w", c.Username, err)
		}
		fmt.Fprintf(&buf, "%s:%s\n", c.Username, hash)
	}
	return buf.Bytes(), nil
}

// htpasswdUsers returns the usernames listed in htpasswd data.
func htpasswdUsers(data []byte) map[string]struct{} {
	out := make(map[string]struct{})
	for _, line := range bytes.Split(data, []byte("\n")) {
		user, _, ok := bytes.Cut(line, []byte(":"))
		if !ok || len(user) == 0 {
			continue
		}
		out[string(user)] = struct{}{}
	}
	return out
}
