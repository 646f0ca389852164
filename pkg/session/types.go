package session

import "time"

// Turn roles
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Artifact kinds
const (
	ArtifactImage = "image"
	ArtifactCode  = "code"
)

// Citation is a label+URL pair attached to assistant output when grounding
// or web search was used. Order-preserving, not deduplicated.
type Citation struct {
	Label string `json:"label"`
	URL   string `json:"url"`
}

// Artifact references externally stored content produced by a tool
// invocation. The turn holds only the reference, never the raw bytes.
type Artifact struct {
	Kind       string `json:"kind"`
	PayloadRef string `json:"payload_ref"`
}

// Turn is one role-tagged message unit within a session. Immutable once
// written; ordering is append order.
//
// InnerMonologue and FinalResponse are optional display fields written by
// frontends that separate intermediate agent chatter from the answer shown
// to the user. The store round-trips them but never populates them itself.
type Turn struct {
	Role           string     `json:"role"`
	Content        string     `json:"content"`
	InnerMonologue string     `json:"inner_monologue,omitempty"`
	FinalResponse  string     `json:"final_response,omitempty"`
	Citations      []Citation `json:"citations,omitempty"`
	Attachments    []Artifact `json:"attachments,omitempty"`
	Timestamp      time.Time  `json:"timestamp,omitempty"`
}

// Record is the durable unit for one session: the remote handles plus the
// ordered turn sequence. AgentID and ThreadID are opaque platform handles,
// both set on first successful provisioning or both empty.
type Record struct {
	SchemaVersion int    `json:"schema_version,omitempty"`
	AgentID       string `json:"agent_id,omitempty"`
	ThreadID      string `json:"thread_id,omitempty"`
	Turns         []Turn `json:"messages"`
}

// CurrentSchemaVersion is written on save. Records without the field load
// fine, for files written before versioning existed.
const CurrentSchemaVersion = 1

// Provisioned reports whether remote handles have been assigned.
func (r *Record) Provisioned() bool {
	return r.AgentID != "" && r.ThreadID != ""
}
