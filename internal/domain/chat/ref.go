package chat

// Ref identifies a message for reconciliation: either a pending entry known only by its
// client temp id, or a confirmed entry known by its server id.
type Ref struct {
	pending bool
	id      string
}

// Pending builds a reference to an optimistic entry.
func Pending(tempID string) Ref { return Ref{pending: true, id: tempID} }

// Confirmed builds a reference to a server-acknowledged entry.
func Confirmed(id string) Ref { return Ref{id: id} }

func (r Ref) IsPending() bool { return r.pending }

func (r Ref) ID() string { return r.id }

func (r Ref) IsZero() bool { return r.id == "" }

func (r Ref) String() string {
	if r.pending {
		return "pending:" + r.id
	}
	return "confirmed:" + r.id
}
