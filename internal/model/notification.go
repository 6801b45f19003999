package model

// Notification is an ephemeral push payload; it exists only for the duration
// of one dispatch and is never persisted.
type Notification struct {
	Title string            `json:"title"`
	Body  string            `json:"body"`
	URL   string            `json:"url"`
	Icon  string            `json:"icon"`
	Data  map[string]string `json:"data,omitempty"`
}

// NotificationMessage is the outbound-topic payload, one message per
// dispatched notification, keyed by the external user id. Data additionally
// carries the resolved userId and the originating subId.
type NotificationMessage struct {
	Title string            `json:"title"`
	Body  string            `json:"body"`
	URL   string            `json:"url"`
	Icon  string            `json:"icon"`
	Data  map[string]string `json:"data"`
}
