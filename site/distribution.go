package site

import "time"

// Type identifies one downloadable artifact: a platform combined with the
// host it is served from.
type Type string

const (
	MacosHF  Type = "macosHF"
	MacosAF  Type = "macosAF"
	MacosGR  Type = "macosGR"
	MacosHFM Type = "macosHFM"

	LinuxHF  Type = "linuxHF"
	LinuxAF  Type = "linuxAF"
	LinuxGR  Type = "linuxGR"
	LinuxHFM Type = "linuxHFM"

	WinHF  Type = "winHF"
	WinAF  Type = "winAF"
	WinGR  Type = "winGR"
	WinHFM Type = "winHFM"

	WinZipHF  Type = "winZipHF"
	WinZipAF  Type = "winZipAF"
	WinZipGR  Type = "winZipGR"
	WinZipHFM Type = "winZipHFM"

	IOSTF Type = "iOSTF"
	IOSAS Type = "iOSAS"

	AndroidHF         Type = "androidHF"
	AndroidAF         Type = "androidAF"
	AndroidGR         Type = "androidGR"
	AndroidHFM        Type = "androidHFM"
	AndroidPgyerAPK   Type = "androidPgyerAPK"
	AndroidPgyer      Type = "androidPgyer"
	AndroidGooglePlay Type = "androidGooglePlay"
)

// AllTypes lists every artifact type in display order.
var AllTypes = []Type{
	MacosHF, MacosAF, MacosGR, MacosHFM,
	LinuxHF, LinuxAF, LinuxGR, LinuxHFM,
	WinHF, WinAF, WinGR, WinHFM,
	WinZipHF, WinZipAF, WinZipGR, WinZipHFM,
	IOSTF, IOSAS,
	AndroidHF, AndroidAF, AndroidGR, AndroidHFM,
	AndroidPgyerAPK, AndroidPgyer, AndroidGooglePlay,
}

// LatestVersion is stored when a provider exposes no parseable version.
const LatestVersion = "latest"

// ParseType reports whether s names a known artifact type.
func ParseType(s string) (Type, bool) {
	for _, t := range AllTypes {
		if string(t) == s {
			return t, true
		}
	}
	return "", false
}

// FixedURL reports whether the type always points at the same URL, so its
// record is updated in place rather than appended.
func (t Type) FixedURL() bool {
	switch t {
	case IOSAS, IOSTF, AndroidGooglePlay:
		return true
	}
	return false
}

// Record is one stored distribution row.
type Record struct {
	ID        int64
	Type      Type
	URL       string
	Version   string
	Build     *int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// PublicRecord is the API rendering of a Record.
type PublicRecord struct {
	Type      Type      `json:"type"`
	URL       string    `json:"url"`
	Version   string    `json:"version"`
	Build     *int      `json:"build"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (r *Record) Public() *PublicRecord {
	if r == nil {
		return nil
	}
	return &PublicRecord{
		Type:      r.Type,
		URL:       r.URL,
		Version:   r.Version,
		Build:     r.Build,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}

// PublicSet renders a latest-set with ids stripped. Missing types map to nil
// so they encode as JSON null.
func PublicSet(latest map[Type]*Record) map[Type]*PublicRecord {
	out := make(map[Type]*PublicRecord, len(latest))
	for t, r := range latest {
		out[t] = r.Public()
	}
	return out
}

// Artifact is a candidate discovered by a provider fetch.
type Artifact struct {
	Type    Type
	URL     string
	Version string
	Build   *int
}

func intPtr(v int) *int { return &v }
