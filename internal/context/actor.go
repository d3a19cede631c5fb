// Package context resolves who is running rowcache and which data
// directory and table a command works on.
package context

import "os"

// ResolveActor returns the actor name following priority order:
// 1. flagValue (--actor flag) if non-empty
// 2. $ROWCACHE_ACTOR environment variable if set
// 3. $USER environment variable if set
// 4. "unknown" as fallback
func ResolveActor(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}

	if actor := os.Getenv("ROWCACHE_ACTOR"); actor != "" {
		return actor
	}

	if user := os.Getenv("USER"); user != "" {
		return user
	}

	return "unknown"
}
