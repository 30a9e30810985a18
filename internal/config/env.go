package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
)

var envRe = regexp.MustCompile(`\$\{([A-Z_][A-Z0-9_]*)\}`)

// MissingEnvError lists every ${VAR} reference with no value set.
type MissingEnvError struct {
	Names []string
}

func (e *MissingEnvError) Error() string {
	return fmt.Sprintf("undefined environment variables: %s", strings.Join(e.Names, ", "))
}

// ExpandEnv substitutes ${VAR} references. Any unset variable is an error.
func ExpandEnv(text string) (string, error) {
	var missing []string
	seen := make(map[string]bool)

	out := envRe.ReplaceAllStringFunc(text, func(ref string) string {
		name := envRe.FindStringSubmatch(ref)[1]
		v, ok := os.LookupEnv(name)
		if !ok {
			if !seen[name] {
				seen[name] = true
				missing = append(missing, name)
			}
			return ref
		}
		return v
	})

	if len(missing) > 0 {
		return "", &MissingEnvError{Names: missing}
	}
	return out, nil
}
