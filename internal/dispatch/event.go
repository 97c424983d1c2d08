package dispatch

import "time"

type EventType string

const (
	EventMessageCreated     EventType = "message_created"
	EventMessageEdited      EventType = "message_edited"
	EventMessageDeleted     EventType = "message_deleted"
	EventReactionAdded      EventType = "reaction_added"
	EventReactionRemoved    EventType = "reaction_removed"
	EventMessageRead        EventType = "message_read"
	EventTypingStarted      EventType = "typing_started"
	EventTypingStopped      EventType = "typing_stopped"
	EventPollCreated        EventType = "poll_created"
	EventPollUpdated        EventType = "poll_updated"
	EventPollClosed         EventType = "poll_closed"
	EventMessagePinned      EventType = "message_pinned"
	EventMessageUnpinned    EventType = "message_unpinned"
	EventConversationNew    EventType = "conversation_created"
	EventParticipantAdded   EventType = "participant_added"
	EventParticipantRemoved EventType = "participant_removed"
	EventParticipantUpdated EventType = "participant_updated"
	EventUserOnline         EventType = "user_online"
	EventUserOffline        EventType = "user_offline"
	EventResyncRequired     EventType = "resync_required"
)

// Event is one committed change as delivered to a session.
// (ConversationID, Seq) identifies it for de-duplication; Seq grows per conversation.
type Event struct {
	Type           EventType `json:"type"`
	ConversationID string    `json:"conversation_id,omitempty"`
	Seq            uint64    `json:"seq,omitempty"`
	EntityID       string    `json:"entity_id,omitempty"`
	At             time.Time `json:"at"`
	Payload        any       `json:"payload,omitempty"`
}

// Emission is an event together with the users it goes to.
type Emission struct {
	Event      Event
	Recipients []string
}

// ResyncPayload tells a dropped session where its live feed stopped.
type ResyncPayload struct {
	LastSeq map[string]uint64 `json:"last_seq"`
}
