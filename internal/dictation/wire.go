package dictation

import (
	"github.com/loqalabs/loqa-dictation/internal/errs"
	"github.com/loqalabs/loqa-dictation/internal/protocol"
)

// Message converts e into the form published on the bus and stored in history.
func (e Event) Message() protocol.SessionEvent {
	msg := protocol.SessionEvent{
		Kind:         string(e.Kind),
		SessionID:    e.SessionID,
		State:        e.State.String(),
		Timestamp:    e.At.UTC(),
		Text:         e.Text,
		Confirmed:    e.Confirmed,
		Finalized:    e.Finalized,
		LiveFallback: e.LiveFallback,
		Inserted:     e.Inserted,
	}
	if e.Result != nil {
		t := e.Result.Transcript()
		msg.Transcript = &t
	}
	if e.Err != nil {
		msg.ErrorKind = errs.KindOf(e.Err).String()
		msg.Error = errs.UserMessage(e.Err)
	}
	return msg
}

// Message converts s into its bus reply form.
func (s Status) Message() protocol.StatusReply {
	return protocol.StatusReply{
		State:          s.State.String(),
		SessionID:      s.SessionID,
		ElapsedSeconds: s.Elapsed.Seconds(),
		Level:          s.Level,
		LiveText:       s.LiveText,
	}
}
