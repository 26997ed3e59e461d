package llm

import (
	"os"
	"strconv"
	"strings"
)

// DefaultKeyEnvPrefix names the numbered environment variables scanned for keys.
const DefaultKeyEnvPrefix = "GEMINI_API_KEY_"

// LoadCredentials assembles the credential pool: explicit keys first, then
// <prefix>1, <prefix>2, ... from the environment until the first unset index.
// Duplicates and blanks are dropped; order is preserved.
func LoadCredentials(explicit []string, prefix string) []string {
	if strings.TrimSpace(prefix) == "" {
		prefix = DefaultKeyEnvPrefix
	}
	seen := make(map[string]struct{})
	var keys []string
	add := func(key string) {
		key = strings.TrimSpace(key)
		if key == "" {
			return
		}
		if _, ok := seen[key]; ok {
			return
		}
		seen[key] = struct{}{}
		keys = append(keys, key)
	}
	for _, key := range explicit {
		add(key)
	}
	for i := 1; ; i++ {
		value, ok := os.LookupEnv(prefix + strconv.Itoa(i))
		if !ok || strings.TrimSpace(value) == "" {
			break
		}
		add(value)
	}
	return keys
}
