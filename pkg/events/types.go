// Package events defines proxy lifecycle events and the publishers that emit them.
package events

// Default event subjects.
const (
	SubjectProxyClosed = "busproxy.closed"
)

// BuildClosedSubject builds the per-interface closed event subject.
func BuildClosedSubject(iface string) string {
	return SubjectProxyClosed + "." + iface
}

// ProxyClosedEvent is emitted when a proxy completes its closing call.
type ProxyClosedEvent struct {
	Interface string `json:"interface"`
	Address   string `json:"address"`
	Action    string `json:"action"`
	Failed    bool   `json:"failed"`
	Error     string `json:"error,omitempty"`
	Timestamp string `json:"timestamp"`
}
