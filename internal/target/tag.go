package target

// AnnotatedTag mirrors one entry of the fast-import `tag` block, deferred
// until finalizeTags so every tag is re-emitted lexicographically at the end
// of a run (stable output across runs; a later pass can still reorder
// release/4.9 vs release/4.10 if ever needed).
type AnnotatedTag struct {
	SupportingRef string
	SvnPrefix     string
	Author        string
	Log           string
	DatetimeEpoch int64
	Revnum        int
}
