package inbox

import (
	"log/slog"

	"rentme-inbox/internal/domain/chat"
)

type mutationKind int

const (
	mutationAppend mutationKind = iota
	mutationAck
	mutationUpdate
	mutationDelete
	mutationAmend
)

// Mutation is a proposed change to a timeline. Only the timeline applies mutations.
type Mutation struct {
	kind mutationKind
	ref  chat.Ref
	msg  chat.Message
}

// Append adds a message to the end of the timeline.
func Append(msg chat.Message) Mutation {
	return Mutation{kind: mutationAppend, ref: msg.Ref(), msg: msg}
}

// Ack confirms the pending entry created with tempID.
func Ack(tempID string, confirmed chat.Message) Mutation {
	confirmed.TempID = tempID
	confirmed.Sending = false
	return Mutation{kind: mutationAck, ref: chat.Pending(tempID), msg: confirmed}
}

// Amend rewrites a still pending entry, for example once its attachments are uploaded.
func Amend(msg chat.Message) Mutation {
	msg.ID = ""
	msg.Sending = true
	return Mutation{kind: mutationAmend, ref: chat.Pending(msg.TempID), msg: msg}
}

// Update replaces a confirmed message by id.
func Update(msg chat.Message) Mutation {
	msg.Sending = false
	return Mutation{kind: mutationUpdate, ref: chat.Confirmed(msg.ID), msg: msg}
}

// Delete removes a confirmed message by id.
func Delete(id string) Mutation {
	return Mutation{kind: mutationDelete, ref: chat.Confirmed(id)}
}

func (m Mutation) String() string {
	switch m.kind {
	case mutationAppend:
		return "append"
	case mutationAck:
		return "ack"
	case mutationUpdate:
		return "update"
	case mutationDelete:
		return "delete"
	case mutationAmend:
		return "amend"
	}
	return "unknown"
}

func (m Mutation) LogValue() slog.Value {
	return slog.GroupValue(slog.String("op", m.String()), slog.String("ref", m.ref.String()))
}

// reconcile applies m to list and reports whether the list changed. Ack, update and
// delete on a missing ref leave the list untouched.
func reconcile(list []chat.Message, m Mutation) ([]chat.Message, bool) {
	if m.kind == mutationAppend {
		return append(list, m.msg.Clone()), true
	}
	if m.ref.IsZero() {
		return list, false
	}
	idx := indexOf(list, m.ref)
	if idx < 0 {
		return list, false
	}
	switch m.kind {
	case mutationAck:
		// The confirmed message may already be listed when a page load raced the send.
		if dup := indexOf(list, chat.Confirmed(m.msg.ID)); dup >= 0 {
			list[dup].TempID = m.msg.TempID
			return append(list[:idx], list[idx+1:]...), true
		}
		list[idx] = m.msg.Clone()
		return list, true
	case mutationAmend:
		next := m.msg.Clone()
		next.Sending = true
		list[idx] = next
		return list, true
	case mutationUpdate:
		next := m.msg.Clone()
		if next.TempID == "" {
			next.TempID = list[idx].TempID
		}
		list[idx] = next
		return list, true
	case mutationDelete:
		return append(list[:idx], list[idx+1:]...), true
	}
	return list, false
}

func indexOf(list []chat.Message, ref chat.Ref) int {
	for i := range list {
		if list[i].Ref() == ref {
			return i
		}
	}
	return -1
}
