package capture

import (
	"crypto/sha256"
	"encoding/hex"
	"log"
)

// NameCache remembers display names learned for avatar image URLs, so a
// speaker identified by name in one meeting keeps that name in a later
// meeting where only their avatar is rendered.
type NameCache interface {
	AvatarName(url string) (string, error)
	SetAvatarName(url, name string) error
}

// AvatarIdentifier derives a stable pseudo-identity from an avatar image URL,
// used as a last resort when a platform renders an avatar instead of a name.
// Best effort only: reused avatars can misattribute speech.
func AvatarIdentifier(url string) string {
	if url == "" {
		return "invalid_url"
	}
	sum := sha256.Sum256([]byte(url))
	return hex.EncodeToString(sum[:])[:10]
}

// ResolveSpeaker returns the best label for a caption block that may carry
// only an avatar image instead of a name. A real name wins and is remembered
// against the avatar; otherwise the cache is consulted; otherwise a pseudo
// identity is derived from the avatar URL.
func ResolveSpeaker(cache NameCache, name, avatarURL string) string {
	if name != "" {
		if avatarURL != "" && cache != nil {
			if err := cache.SetAvatarName(avatarURL, name); err != nil {
				log.Printf("Failed to remember avatar name: %v", err)
			}
		}
		return name
	}
	if avatarURL == "" {
		return ""
	}
	if cache != nil {
		if known, err := cache.AvatarName(avatarURL); err == nil && known != "" {
			return known
		}
	}
	return "Person " + AvatarIdentifier(avatarURL)
}
