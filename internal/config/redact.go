package config

import (
	"regexp"
	"strings"
)

const redactedPlaceholder = "[redacted]"

var secretKeyPattern = regexp.MustCompile(`(?i)(PASSWORD|PASSWD|SECRET|TOKEN|API_?KEY|ACCESS_?KEY|PRIVATE_?KEY|CREDENTIALS?)`)

// IsSecretKey reports whether an environment variable name looks like it
// holds a credential.
func IsSecretKey(key string) bool {
	return secretKeyPattern.MatchString(strings.TrimSpace(key))
}

// Redacted returns a copy of the manifest with secret-looking server env
// values masked.
func (m *Manifest) Redacted() *Manifest {
	out := *m
	out.Includes = append([]string(nil), m.Includes...)
	out.Server.Args = append([]string(nil), m.Server.Args...)
	if m.Server.Env != nil {
		out.Server.Env = make(map[string]string, len(m.Server.Env))
		for k, v := range m.Server.Env {
			if IsSecretKey(k) && v != "" {
				v = redactedPlaceholder
			}
			out.Server.Env[k] = v
		}
	}
	return &out
}
