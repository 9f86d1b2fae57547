package site

import (
	"regexp"
	"strconv"
)

var (
	prefixedFilename = regexp.MustCompile(`rwkv_chat_(\d+\.\d+\.\d+)_(\d+)(?:_|\.)`)
	genericFilename  = regexp.MustCompile(`(\d+\.\d+\.\d+)(?:\+(\d+)|_(\d+))?`)
	releaseTag       = regexp.MustCompile(`v?(\d+\.\d+\.\d+)(?:\+(\d+)|-(\d+))?`)
)

// ParseFilename extracts a version and optional build number from an
// artifact file name such as "rwkv_chat_3.7.2_512_arm64.apk" or
// "RWKV-Chat-1.9.0+201-universal.dmg".
func ParseFilename(name string) (version string, build *int, ok bool) {
	if m := prefixedFilename.FindStringSubmatch(name); m != nil {
		return m[1], atoiPtr(m[2]), true
	}
	if m := genericFilename.FindStringSubmatch(name); m != nil {
		return m[1], firstBuild(m[2], m[3]), true
	}
	return "", nil, false
}

// ParseTag extracts a version and optional build from a release tag like
// "v3.7.2+512" or "3.7.2-512".
func ParseTag(tag string) (version string, build *int, ok bool) {
	m := releaseTag.FindStringSubmatch(tag)
	if m == nil {
		return "", nil, false
	}
	return m[1], firstBuild(m[2], m[3]), true
}

func firstBuild(candidates ...string) *int {
	for _, c := range candidates {
		if c != "" {
			return atoiPtr(c)
		}
	}
	return nil
}

func atoiPtr(s string) *int {
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return nil
	}
	return &n
}
