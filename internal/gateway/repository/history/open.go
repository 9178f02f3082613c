package history

import (
	"fmt"
	"strings"
)

// Options selects and configures a backend.
type Options struct {
	Backend     string // file|postgres|redis|memory
	FilePath    string
	PostgresDSN string
	RedisAddr   string
}

// OpenBackend builds the backend named by o.Backend. An empty name means file.
func OpenBackend(o Options) (Backend, error) {
	switch strings.ToLower(strings.TrimSpace(o.Backend)) {
	case "", "file":
		return NewFileBackend(o.FilePath), nil
	case "memory", "mem":
		return NewMemoryBackend(), nil
	case "postgres", "pg":
		if strings.TrimSpace(o.PostgresDSN) == "" {
			return nil, fmt.Errorf("history: postgres backend requires a DSN")
		}
		return NewPostgresBackend(o.PostgresDSN)
	case "redis":
		return NewRedisBackend(o.RedisAddr)
	default:
		return nil, fmt.Errorf("history: unknown backend %q", o.Backend)
	}
}
