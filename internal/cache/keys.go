package cache

import "fmt"

// ResultKey keys a scored result by content fingerprint and model version.
// The version is part of the key, so bumping it orphans all prior entries.
func ResultKey(fingerprint, modelVersion string) string {
	return fmt.Sprintf("analysis:%s:%s", modelVersion, fingerprint)
}

func RateLimitKey(clientKey string) string {
	return fmt.Sprintf("ratelimit:%s", clientKey)
}
