package hive

import (
	"regexp"

	"github.com/google/uuid"
)

const (
	// KindRegister is the reserved message kind carrying the handshake
	// through which a worker claims its peer id.
	KindRegister = "__register__"

	// PeerBroadcast is the reserved sentinel target marking a
	// worker-originated broadcast on its way up to the controller.
	PeerBroadcast = "__broadcast__"

	// DefaultControllerID is the controller's peer id unless WithID
	// says otherwise.
	DefaultControllerID = "main"

	// ExitCodeNoRestart is the reserved exit code meaning "this worker
	// exited intentionally, do not relaunch it".
	ExitCodeNoRestart = 121
)

const MaxPeerIDLength = 128

const registerPeerIDKey = "peer_id"

var invalidPeerID = regexp.MustCompile(`[^A-Za-z0-9\-\._]+`)

// Payload is the schema-agnostic body of a Message.
type Payload = map[string]any

// Handler consumes inbound messages subscribed to with On or Once.
// Handlers run on the routing goroutine and MUST NOT block.
type Handler func(msg *Message)

// Message is the envelope exchanged between the controller and its
// workers. UUID is globally unique and generated by the sender;
// ResponseTo, when set, equals the UUID of the request this message
// answers. Target is empty for messages addressed to the controller.
type Message struct {
	Kind       string  `json:"kind"`
	Sender     string  `json:"sender"`
	Target     string  `json:"target,omitempty"`
	Payload    Payload `json:"payload,omitempty"`
	UUID       string  `json:"uuid"`
	ResponseTo string  `json:"responseTo,omitempty"`
}

// IsResponse reports whether the message answers an earlier request.
func (m *Message) IsResponse() bool {
	return m.ResponseTo != ""
}

func newMessage(kind, sender, target string, payload Payload) *Message {
	return &Message{
		Kind:    kind,
		Sender:  sender,
		Target:  target,
		Payload: payload,
		UUID:    uuid.NewString(),
	}
}

func newRegistration(peerID string) *Message {
	return newMessage(KindRegister, peerID, "", Payload{registerPeerIDKey: peerID})
}

// ValidatePeerID reports whether id may be claimed by a peer. Reserved
// sentinels are never valid.
func ValidatePeerID(id string) bool {
	if id == "" || len(id) > MaxPeerIDLength {
		return false
	}
	if id == PeerBroadcast || id == KindRegister {
		return false
	}
	return !invalidPeerID.MatchString(id)
}
