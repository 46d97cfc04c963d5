package process

import (
	"regexp"
	"sort"
)

var envKeyPattern = regexp.MustCompile(`^[A-Z_][A-Z0-9_]*$`)

// IsEnvKey reports whether a property key is also exported as an environment variable
func IsEnvKey(key string) bool {
	return envKeyPattern.MatchString(key)
}

// DeriveEnv returns KEY=value pairs for the properties whose keys qualify as
// environment variable names, sorted by key
func DeriveEnv(properties map[string]string) []string {
	keys := make([]string, 0, len(properties))
	for k := range properties {
		if IsEnvKey(k) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	env := make([]string, 0, len(keys))
	for _, k := range keys {
		env = append(env, k+"="+properties[k])
	}
	return env
}
