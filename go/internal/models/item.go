package models

// Item represents one unit of work up for estimation. Items are immutable
// once placed in the queue or snapshotted into a session; identity is Key.
type Item struct {
	Key         string `json:"key"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Link        string `json:"link"`
	Category    string `json:"category,omitempty"`
	Status      string `json:"status,omitempty"`
}
