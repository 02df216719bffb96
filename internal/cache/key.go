// Package cache stores finished conversion results keyed by filter chain.
package cache

import (
	"crypto/md5"
	"encoding/hex"
	"path"
	"strings"

	"github.com/tendant/simple-image-proxy/internal/magick"
)

const (
	// maxKeyLen is the total filename budget for a derived cache name.
	maxKeyLen = 200

	// hashLen is the width of the hex digest substituted for an overlong
	// name suffix.
	hashLen = 32
)

// Key derives the cache-relative path for a request. The filename is the
// chain's operation names joined by "+" ("base" for an empty chain), an
// optional caller identifier, and the output format extension. The same
// request path and chain always derive the same key; any chain-affecting
// parameter change derives a different one.
//
// Filenames exceeding the budget have their tail replaced by its md5 digest
// so names stay filesystem-safe while remaining deterministic.
func Key(requestPath string, chain *magick.Chain, identifier string) string {
	filename := "base"
	if filters := chain.Filters(); len(filters) > 0 {
		filename = strings.Join(filters, "+")
	}
	if identifier != "" {
		filename += identifier + "-"
	}

	ext := "." + string(chain.Format())
	if keep := maxKeyLen - hashLen - len(ext); len(filename) > keep {
		sum := md5.Sum([]byte(filename[keep:]))
		filename = filename[:keep] + hex.EncodeToString(sum[:])
	}
	filename += ext

	// Normalize double slashes and dot segments, then strip the leading
	// separator so the key is relative to the cache root.
	rel := path.Clean(path.Join("/", requestPath, filename))
	return strings.TrimPrefix(rel, "/")
}
