// Package secrets resolves credential values (provider API keys, the
// partner token, the webhook secret) from files or inline configuration.
package secrets

import (
	"fmt"
	"os"
	"strings"
)

// Source describes one secret to resolve.
type Source struct {
	// Name appears in error messages so the operator knows which key failed.
	Name string
	// Value is an inline secret from configuration or flags.
	Value string
	// File points to a file holding the secret. It takes precedence over
	// Value when set.
	File string
}

// Load resolves the source to a trimmed secret value. An error is returned
// when neither File nor Value yield a usable secret.
func Load(src Source) (string, error) {
	name := strings.TrimSpace(src.Name)
	if name == "" {
		name = "secret"
	}

	file := strings.TrimSpace(src.File)
	if file != "" {
		data, err := os.ReadFile(file)
		if err != nil {
			return "", fmt.Errorf("reading %s from file %q: %w", name, file, err)
		}
		src.Value = string(data)
		src.File = file
	}

	secret := strings.TrimSpace(src.Value)
	if secret == "" {
		if src.File != "" {
			return "", fmt.Errorf("%s file %q is empty", name, src.File)
		}
		return "", fmt.Errorf("%s is not configured", name)
	}

	return secret, nil
}
