package tidekv

import (
	"github.com/zeebo/xxh3"

	"github.com/tidekv/tidekv/internal"
)

// SelectServerFunc picks the server address that owns a key. It receives the
// key and the configured server list, which is never empty.
type SelectServerFunc func(key string, servers []string) (string, error)

// DefaultSelectServer routes keys with Jump consistent hashing over an xxh3
// key hash. Adding or removing a server moves roughly 1/n of the keys.
func DefaultSelectServer(key string, servers []string) (string, error) {
	if len(servers) == 0 {
		return "", ErrNoServers
	}
	if len(servers) == 1 {
		return servers[0], nil
	}
	return servers[internal.JumpHash(xxh3.HashString(key), len(servers))], nil
}

// staticSelectServer always picks the same index. Used in tests.
func staticSelectServer(index int) SelectServerFunc {
	return func(key string, servers []string) (string, error) {
		if len(servers) == 0 {
			return "", ErrNoServers
		}
		return servers[index%len(servers)], nil
	}
}
