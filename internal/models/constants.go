package models

// WatchState is the viewer-facing progress of a video.
type WatchState string

// Watch states. Fresh videos start UNWATCHED.
const (
	WatchStateUnwatched WatchState = "UNWATCHED"
	WatchStateWatching  WatchState = "WATCHING"
	WatchStateWatched   WatchState = "WATCHED"
)

// Valid reports whether s is one of the known watch states.
func (s WatchState) Valid() bool {
	switch s {
	case WatchStateUnwatched, WatchStateWatching, WatchStateWatched:
		return true
	}
	return false
}

// KeywordSource records how a keyword entered the store.
type KeywordSource string

const (
	KeywordSourceSeed      KeywordSource = "seed"
	KeywordSourceTag       KeywordSource = "tag"
	KeywordSourceExtracted KeywordSource = "extracted"
	KeywordSourceManual    KeywordSource = "manual"
)

// SourceKind tells which kind of query produced a video.
type SourceKind string

const (
	SourceKindKeyword SourceKind = "keyword"
	SourceKindChannel SourceKind = "channel"
)
