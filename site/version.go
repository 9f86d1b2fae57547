package site

import (
	"strconv"
	"strings"
)

// CompareVersions compares dotted numeric versions. Missing components count
// as zero, non-numeric components count as zero, and the empty string sorts
// below any non-empty version.
func CompareVersions(a, b string) int {
	switch {
	case a == b:
		return 0
	case a == "":
		return -1
	case b == "":
		return 1
	}

	pa := strings.Split(a, ".")
	pb := strings.Split(b, ".")
	for i := range max(len(pa), len(pb)) {
		na, nb := versionPart(pa, i), versionPart(pb, i)
		if na != nb {
			if na < nb {
				return -1
			}
			return 1
		}
	}
	return 0
}

func versionPart(parts []string, i int) int {
	if i >= len(parts) {
		return 0
	}
	n, err := strconv.Atoi(parts[i])
	if err != nil {
		return 0
	}
	return n
}

// SelectLatest picks the record a download button should point at. A
// "latest" record wins outright. Otherwise the highest version wins, and
// between equal versions a record with a build beats one without and the
// higher build beats the lower. Records that still tie fall back to
// creation time and id, so the result never depends on input order.
func SelectLatest(records []*Record) *Record {
	var best, fallback *Record
	for _, r := range records {
		if r == nil {
			continue
		}
		if fallback == nil || seenLater(r, fallback) {
			fallback = r
		}
		if r.Version == "" {
			continue
		}
		if best == nil || beats(r, best) {
			best = r
		}
	}
	if best == nil {
		return fallback
	}
	return best
}

func beats(a, b *Record) bool {
	aLatest, bLatest := a.Version == LatestVersion, b.Version == LatestVersion
	if aLatest != bLatest {
		return aLatest
	}
	if !aLatest {
		if c := CompareVersions(a.Version, b.Version); c != 0 {
			return c > 0
		}
		switch {
		case a.Build != nil && b.Build == nil:
			return true
		case a.Build == nil && b.Build != nil:
			return false
		case a.Build != nil && *a.Build != *b.Build:
			return *a.Build > *b.Build
		}
	}
	return seenLater(a, b)
}

func seenLater(a, b *Record) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.ID > b.ID
}
