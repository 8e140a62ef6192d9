package activations

import (
	"fmt"
	"net/url"
	"strings"
)

// OpenBlobStore builds a BlobStore from a DSN. Supported schemes:
// file (or none), memory, postgres.
func OpenBlobStore(dsn string) (BlobStore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, ErrInvalidInput
	}
	parsed, err := url.Parse(dsn)
	if err != nil {
		return nil, err
	}
	switch scheme := strings.ToLower(strings.TrimSpace(parsed.Scheme)); scheme {
	case "", "file":
		dir, err := dsnPath(parsed, dsn)
		if err != nil {
			return nil, err
		}
		return NewFileBlobStore(dir)
	case "memory", "mem", "inmem":
		return NewMemoryBlobStore(), nil
	case "postgres", "postgresql":
		return NewPostgresBlobStore(dsn)
	default:
		return nil, fmt.Errorf("unsupported ledger storage scheme: %s", scheme)
	}
}

func dsnPath(parsed *url.URL, raw string) (string, error) {
	if parsed == nil {
		return "", ErrInvalidInput
	}
	if strings.TrimSpace(parsed.Scheme) == "" {
		if strings.TrimSpace(raw) == "" {
			return "", ErrInvalidInput
		}
		return strings.TrimSpace(raw), nil
	}
	path := strings.TrimSpace(parsed.Path)
	if path == "" {
		path = strings.TrimSpace(parsed.Opaque)
	}
	if path == "" {
		path = strings.TrimSpace(parsed.Host)
	}
	if path == "" {
		return "", ErrInvalidInput
	}
	return path, nil
}
