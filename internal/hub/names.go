package hub

var displayNames = []string{
	"Alex", "Sam", "Jordan", "Taylor", "Casey",
	"Morgan", "Riley", "Quinn", "Avery", "Blake",
}

// GenerateDisplayName derives a stable human-readable name from a session
// identifier. Sessions can rename themselves afterwards.
func GenerateDisplayName(sessionID string) string {
	var hash int32
	for _, char := range sessionID {
		hash = char + (hash << 5) - hash
	}
	if hash < 0 {
		hash = -hash
	}
	return displayNames[int(hash)%len(displayNames)]
}
