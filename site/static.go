package site

import "context"

// StaticSource records a constant link with no discoverable version, such
// as a TestFlight invitation.
type StaticSource struct {
	entry Entry
}

func NewStaticSource(entry Entry) *StaticSource {
	return &StaticSource{entry: entry}
}

func (s *StaticSource) Type() Type {
	return s.entry.Type
}

func (s *StaticSource) Description() string {
	return "Fixed link " + s.entry.URL
}

func (s *StaticSource) Fetch(ctx context.Context) Result {
	return found([]Artifact{{Type: s.entry.Type, URL: s.entry.URL, Version: LatestVersion}})
}
