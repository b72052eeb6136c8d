package dom

import "encoding/json"

type NotificationKind string

const (
	Added   NotificationKind = "Added"
	Removed NotificationKind = "Removed"
	Changed NotificationKind = "Changed"
)

// Notification describes one structural change to the tree.
//
// Added and Removed use ParentID and ChildID; a None ParentID means the root
// itself appeared or disappeared. Changed uses ID, with ClassName and Name
// set only for the properties that changed. A Changed with neither set
// means only the metadata changed.
type Notification struct {
	Kind      NotificationKind
	ID        Ref
	ClassName *string
	Name      *string
	ParentID  Ref
	ChildID   Ref
}

func added(parent, child Ref) Notification {
	return Notification{Kind: Added, ParentID: parent, ChildID: child}
}

func removed(parent, child Ref) Notification {
	return Notification{Kind: Removed, ParentID: parent, ChildID: child}
}

type changedData struct {
	ID        Ref     `json:"id"`
	ClassName *string `json:"className,omitempty"`
	Name      *string `json:"name,omitempty"`
}

type childData struct {
	ParentID Ref `json:"parentId,omitempty"`
	ChildID  Ref `json:"childId"`
}

// MarshalJSON encodes n as {"kind": ..., "data": {...}}.
func (n Notification) MarshalJSON() ([]byte, error) {
	var data any
	if n.Kind == Changed {
		data = changedData{ID: n.ID, ClassName: n.ClassName, Name: n.Name}
	} else {
		data = childData{ParentID: n.ParentID, ChildID: n.ChildID}
	}
	return json.Marshal(struct {
		Kind NotificationKind `json:"kind"`
		Data any              `json:"data"`
	}{n.Kind, data})
}

// Subscriber receives each batch of notifications in the order the batches
// were produced.
type Subscriber func([]Notification)
