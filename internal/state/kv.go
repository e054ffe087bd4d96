package state

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

var (
	ErrUnsupportedDSN = errors.New("unsupported state dsn")
	ErrInvalidDSN     = errors.New("invalid state dsn")
)

// KV is the durable local cache holding the state sets and the counter slot.
// Values are opaque strings; a missing key is reported with ok=false.
type KV interface {
	Get(key string) (value string, ok bool, err error)
	Set(key, value string) error
	Close() error
}

// OpenKV builds a KV from a DSN: memory://, file:///path/state.zst,
// sqlite:///path/state.db (or sqlite://:memory:), postgres://...
func OpenKV(dsn string) (KV, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, ErrInvalidDSN
	}
	parsed, err := url.Parse(dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDSN, err)
	}
	switch strings.ToLower(parsed.Scheme) {
	case "memory", "mem":
		return NewMemoryKV(), nil
	case "", "file":
		path, err := dsnPath(parsed, dsn)
		if err != nil {
			return nil, err
		}
		compressor, err := NewZstdCompressor()
		if err != nil {
			return nil, err
		}
		return OpenFileKV(path, compressor)
	case "sqlite", "sqlite3":
		path, err := dsnPath(parsed, dsn)
		if err != nil {
			return nil, err
		}
		return OpenSQLiteKV(path)
	case "postgres", "postgresql":
		return NewPostgresKV(dsn)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedDSN, parsed.Scheme)
	}
}

func dsnPath(parsed *url.URL, raw string) (string, error) {
	if strings.TrimSpace(parsed.Scheme) == "" {
		return raw, nil
	}
	path := strings.TrimSpace(parsed.Path)
	if path == "" {
		path = strings.TrimSpace(parsed.Opaque)
	}
	if path == "" {
		path = strings.TrimSpace(parsed.Host)
	}
	if path == "" {
		return "", ErrInvalidDSN
	}
	return path, nil
}
