package redis

import "fmt"

const (
	// KeyBookmarks is the hash of URL -> JSON bookmark entry
	KeyBookmarks = "linktags:bookmarks"
	// KeyPrefixService is the prefix for service keys
	KeyPrefixService = "linktags:service:"
	// KeyAllServices is the key for the set of all service IDs
	KeyAllServices = "linktags:services:all"
	// KeyHistory holds the command history record
	KeyHistory = "linktags:history"
	// KeyAutoSyncLock holds the auto-sync leadership record
	KeyAutoSyncLock = "linktags:autosync:lock"
)

// ServiceKey returns the Redis key for a service by ID
func ServiceKey(id string) string {
	return KeyPrefixService + id
}

// AllServicesKey returns the key for the set of all service IDs
func AllServicesKey() string {
	return KeyAllServices
}

// ExtractServiceID extracts the service ID from a Redis key
func ExtractServiceID(key string) (string, error) {
	if len(key) <= len(KeyPrefixService) || key[:len(KeyPrefixService)] != KeyPrefixService {
		return "", fmt.Errorf("invalid service key: %s", key)
	}
	return key[len(KeyPrefixService):], nil
}
