package capture

import "testing"

type mapNameCache struct {
	names map[string]string
}

func (c *mapNameCache) AvatarName(url string) (string, error) {
	return c.names[url], nil
}

func (c *mapNameCache) SetAvatarName(url, name string) error {
	c.names[url] = name
	return nil
}

func TestResolveSpeaker(t *testing.T) {
	cache := &mapNameCache{names: map[string]string{}}
	avatar := "https://example.com/avatar/alice.png"

	// With no prior knowledge, an avatar-only block gets a pseudo identity.
	got := ResolveSpeaker(cache, "", avatar)
	if got != "Person "+AvatarIdentifier(avatar) {
		t.Errorf("ResolveSpeaker(avatar only) = %q", got)
	}

	// A named block wins and teaches the cache.
	if got := ResolveSpeaker(cache, "Alice", avatar); got != "Alice" {
		t.Errorf("ResolveSpeaker(named) = %q", got)
	}

	// The learned name is now used for avatar-only blocks.
	if got := ResolveSpeaker(cache, "", avatar); got != "Alice" {
		t.Errorf("ResolveSpeaker(after learning) = %q, want Alice", got)
	}

	// Nothing to go on yields nothing.
	if got := ResolveSpeaker(cache, "", ""); got != "" {
		t.Errorf("ResolveSpeaker(empty) = %q, want empty", got)
	}

	// A nil cache still resolves.
	if got := ResolveSpeaker(nil, "", avatar); got != "Person "+AvatarIdentifier(avatar) {
		t.Errorf("ResolveSpeaker(nil cache) = %q", got)
	}
}
