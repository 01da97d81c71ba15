package webhook

import (
	"context"
	"strconv"
	"strings"
)

// SplitFullName splits a human-entered full name on whitespace. The last
// token is the last name, everything before it joined by single spaces is
// the first name. A single token yields an empty first name.
func SplitFullName(fullName string) (firstName, lastName string) {
	parts := strings.Fields(fullName)
	if len(parts) == 0 {
		return "", ""
	}
	return strings.Join(parts[:len(parts)-1], " "), parts[len(parts)-1]
}

// UsernameBase derives the base account handle: the full name lowercased
// with all whitespace stripped.
func UsernameBase(fullName string) string {
	return strings.Join(strings.Fields(strings.ToLower(fullName)), "")
}

// HandleDirectory is the slice of the commerce store the allocator needs.
type HandleDirectory interface {
	UsernameExists(ctx context.Context, username string) (bool, error)
}

// AllocateUsername resolves a free account handle for fullName, appending
// an integer suffix starting at 1 on collision. The scan is deterministic
// for a given store state; it is not safe against concurrent allocation of
// the same base name, which surfaces as a unique violation at create time.
func AllocateUsername(ctx context.Context, dir HandleDirectory, fullName string) (string, error) {
	base := UsernameBase(fullName)
	exists, err := dir.UsernameExists(ctx, base)
	if err != nil {
		return "", err
	}
	if !exists {
		return base, nil
	}
	for suffix := 1; ; suffix++ {
		candidate := base + strconv.Itoa(suffix)
		exists, err := dir.UsernameExists(ctx, candidate)
		if err != nil {
			return "", err
		}
		if !exists {
			return candidate, nil
		}
	}
}
