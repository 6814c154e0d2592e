// Package version provides Debian-style version ordering for package version
// strings: epoch, upstream version and revision, compared with the standard
// dpkg rules.
package version

import (
	debversion "pault.ag/go/debian/version"

	"github.com/glorpus-work/pakt/pkg/errors"
)

// Validate reports whether s is a well-formed version string.
func Validate(s string) error {
	if _, err := debversion.Parse(s); err != nil {
		return errors.Wrapf(errors.ErrBadVersion, "%q", s)
	}
	return nil
}

// Compare returns a negative number when a sorts before b, zero when they are
// equal and a positive number when a sorts after b. Malformed versions fall
// back to byte-wise comparison so that enumeration-driven callers (GC sweeps,
// listings) stay deterministic instead of failing.
func Compare(a, b string) int {
	va, errA := debversion.Parse(a)
	vb, errB := debversion.Parse(b)
	if errA != nil || errB != nil {
		switch {
		case a < b:
			return -1
		case a > b:
			return 1
		default:
			return 0
		}
	}
	return debversion.Compare(va, vb)
}

// Max returns the highest of versions by Debian ordering, or "" for an empty
// slice.
func Max(versions []string) string {
	best := ""
	for _, v := range versions {
		if best == "" || Compare(v, best) > 0 {
			best = v
		}
	}
	return best
}
