package party

import (
	"errors"

	"github.com/reelsync/reelsync/internal/events"
	"github.com/reelsync/reelsync/internal/playback"
	"github.com/reelsync/reelsync/internal/room"
)

// KindFor maps a service error to the wire error kind sent back to the
// offending session.
func KindFor(err error) events.ErrorKind {
	switch {
	case errors.Is(err, room.ErrRoomNotFound):
		return events.ErrorKindRoomNotFound
	case errors.Is(err, room.ErrNotHost):
		return events.ErrorKindNotHost
	case errors.Is(err, room.ErrUnknownParticipant):
		return events.ErrorKindUnknownParticipant
	case errors.Is(err, playback.ErrNotAuthorized):
		return events.ErrorKindNotAuthorized
	case errors.Is(err, playback.ErrStaleRevision):
		return events.ErrorKindStaleRevision
	default:
		return events.ErrorKindBadRequest
	}
}
