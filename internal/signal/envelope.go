// Package signal implements the rendezvous layer: the JSON envelope format,
// the WebSocket client each endpoint runs, and the relay server. The
// rendezvous service only carries connection-setup metadata; once a peer
// connection is up it is out of the data path.
package signal

// Type identifies the kind of signaling envelope.
type Type string

const (
	TypeRegister   Type = "register"   // client → server: claim a peer id
	TypeRegistered Type = "registered" // server → client: id accepted
	TypeConflict   Type = "conflict"   // server → client: id already held; terminal
	TypeOffer      Type = "offer"
	TypeAnswer     Type = "answer"
	TypeCandidate  Type = "candidate"
	TypeCallAccept Type = "call-accept" // callee accepted the call at the state-machine level
	TypeBye        Type = "bye"         // decline, cancel, or hang up a call
)

// Kind distinguishes which connection an SDP/ICE envelope belongs to.
type Kind string

const (
	KindData  Kind = "data"  // the control data channel
	KindMedia Kind = "media" // an audio/video call leg
)

// Envelope is the JSON structure relayed between two peer identities.
// From is stamped by the server; clients only fill To.
type Envelope struct {
	Type      Type   `json:"type"`
	From      string `json:"from,omitempty"`
	To        string `json:"to,omitempty"`
	Kind      Kind   `json:"kind,omitempty"`
	Call      string `json:"call,omitempty"` // media session id, Kind == KindMedia only
	SDP       string `json:"sdp,omitempty"`
	Candidate string `json:"candidate,omitempty"` // JSON-encoded ICECandidateInit
	Reason    string `json:"reason,omitempty"`    // conflict / bye detail
}
