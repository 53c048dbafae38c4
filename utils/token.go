package utils

import (
	"sync"
	"time"
)

var (
	blacklistedTokens = make(map[string]time.Time)
	blacklistMutex    sync.RWMutex
)

// BlacklistToken revokes token until it would have expired anyway.
func BlacklistToken(token string, until time.Time) {
	if until.IsZero() {
		until = time.Now().Add(24 * time.Hour)
	}
	blacklistMutex.Lock()
	defer blacklistMutex.Unlock()
	blacklistedTokens[token] = until
}

func IsTokenBlacklisted(token string) bool {
	blacklistMutex.RLock()
	expiry, exists := blacklistedTokens[token]
	blacklistMutex.RUnlock()
	return exists && time.Now().Before(expiry)
}

// CleanupBlacklist drops revocations whose tokens have expired and returns how many were removed.
func CleanupBlacklist() int {
	blacklistMutex.Lock()
	defer blacklistMutex.Unlock()
	now := time.Now()
	removed := 0
	for token, expiry := range blacklistedTokens {
		if now.After(expiry) {
			delete(blacklistedTokens, token)
			removed++
		}
	}
	return removed
}

// StartBlacklistCleanup runs CleanupBlacklist every interval until stop is closed.
func StartBlacklistCleanup(interval time.Duration, stop <-chan struct{}) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				CleanupBlacklist()
			case <-stop:
				return
			}
		}
	}()
}
