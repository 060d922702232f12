package strx

// Coalesce returns the first non-empty string, or "" if all are empty.
func Coalesce(vals ...string) string {
	for _, s := range vals {
		if s != "" {
			return s
		}
	}
	return ""
}
