package discovery

import "strings"

// ParseTXT splits TXT records into key/value pairs. Keys are lowercased;
// a record without '=' maps to an empty value.
func ParseTXT(records []string) map[string]string {
	out := make(map[string]string, len(records))
	for _, r := range records {
		key, value, _ := strings.Cut(r, "=")
		if key == "" {
			continue
		}
		out[strings.ToLower(key)] = value
	}
	return out
}
