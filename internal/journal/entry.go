package journal

// Entry is one line in the hash-chained JSONL journal. Event kinds come
// from the dispatch package; the journal itself does not interpret them.
// All fields are flat strings to guarantee deterministic json.Marshal
// field order for reproducible hashing.
type Entry struct {
	Timestamp string `json:"ts"`
	Event     string `json:"event"`
	Worker    string `json:"worker,omitempty"`
	Path      string `json:"path,omitempty"`
	Detail    string `json:"detail,omitempty"`
	PrevHash  string `json:"prev_hash"`
}
