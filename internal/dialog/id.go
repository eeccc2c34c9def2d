package dialog

import (
	"fmt"
	"strings"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

// idAlphabet keeps generated ids URL-safe without escaping.
const idAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// NewSelfID returns a 21-character opaque dialog identifier.
func NewSelfID() string {
	id, err := gonanoid.Generate(idAlphabet, 21)
	if err != nil {
		panic(fmt.Sprintf("generate dialog id: %v", err))
	}
	return id
}

// ID identifies one dialog in the tree. SelfID == RootID iff the
// dialog is a root.
type ID struct {
	RootID string `json:"rootId"`
	SelfID string `json:"selfId"`
}

// NewRootID mints an ID for a fresh root dialog.
func NewRootID() ID {
	id := NewSelfID()
	return ID{RootID: id, SelfID: id}
}

// NewSubID mints an ID for a child of the given root.
func NewSubID(rootID string) ID {
	return ID{RootID: rootID, SelfID: NewSelfID()}
}

// IsRoot reports whether the ID names a root dialog.
func (d ID) IsRoot() bool { return d.SelfID == d.RootID }

// Key returns the canonical string key used for indexing:
// "rootId#selfId" for subdialogs, plain "rootId" for roots.
func (d ID) Key() string {
	if d.IsRoot() {
		return d.RootID
	}
	return d.RootID + "#" + d.SelfID
}

// ParseKey is the inverse of Key.
func ParseKey(key string) (ID, error) {
	if key == "" {
		return ID{}, fmt.Errorf("empty dialog key")
	}
	root, self, ok := strings.Cut(key, "#")
	if !ok {
		return ID{RootID: key, SelfID: key}, nil
	}
	if root == "" || self == "" {
		return ID{}, fmt.Errorf("malformed dialog key %q", key)
	}
	return ID{RootID: root, SelfID: self}, nil
}

func (d ID) String() string { return d.Key() }
