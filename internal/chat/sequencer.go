package chat

import (
	"strings"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/reelsync/reelsync/internal/events"
)

// DefaultHistoryLimit bounds the in-memory history handed to late joiners.
const DefaultHistoryLimit = 500

// Sequencer is the ordered, deduplicated message log for one room. Sequence
// numbers are contiguous and strictly increasing in the order messages are
// accepted. Not safe for concurrent use; serialized by the room's actor.
type Sequencer struct {
	clock    clockwork.Clock
	roomCode string
	limit    int

	nextSeq uint64
	byID    map[string]events.ChatMessage
	log     []events.ChatMessage
}

// NewSequencer creates an empty log for a room.
func NewSequencer(clock clockwork.Clock, roomCode string, historyLimit int) *Sequencer {
	if historyLimit <= 0 {
		historyLimit = DefaultHistoryLimit
	}
	return &Sequencer{
		clock:    clock,
		roomCode: roomCode,
		limit:    historyLimit,
		nextSeq:  1,
		byID:     make(map[string]events.ChatMessage),
	}
}

// Append accepts a message and assigns it the next sequence number. When the
// id was already accepted (an at-least-once retry), the original message is
// returned and appended reports false.
func (s *Sequencer) Append(senderID, senderName, messageID, content string) (events.ChatMessage, bool) {
	if messageID == "" {
		messageID = uuid.New().String()
	}
	if existing, ok := s.byID[messageID]; ok {
		return existing, false
	}

	msg := events.ChatMessage{
		ID:         messageID,
		RoomCode:   s.roomCode,
		SenderID:   senderID,
		SenderName: senderName,
		Content:    strings.TrimSpace(content),
		Sequence:   s.nextSeq,
		CreatedAt:  s.clock.Now(),
	}
	s.nextSeq++

	s.log = append(s.log, msg)
	s.byID[messageID] = msg
	if len(s.log) > s.limit {
		evicted := s.log[0]
		delete(s.byID, evicted.ID)
		s.log = s.log[1:]
	}
	return msg, true
}

// History returns a copy of the retained log in sequence order.
func (s *Sequencer) History() []events.ChatMessage {
	out := make([]events.ChatMessage, len(s.log))
	copy(out, s.log)
	return out
}

// LastSequence returns the highest sequence number assigned so far.
func (s *Sequencer) LastSequence() uint64 {
	return s.nextSeq - 1
}
