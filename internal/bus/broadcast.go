package bus

import (
	"log/slog"
	"sync"

	"github.com/nextlevelbuilder/minds/pkg/protocol"
)

// Broadcaster receives every dialog event process-wide, after the
// event has been written to its dialog's publish channel.
type Broadcaster func(Event)

// Poster is the slice of a dialog the bus needs: its identity and its
// publish channel. Implemented by dialog.Dialog.
type Poster interface {
	EventRef() DialogRef
	EventChan() *PubChan
}

// Resolver maps a dialog key ("rootId" or "rootId#selfId") to its
// Poster. Injected from the dialog registry to avoid an import cycle,
// the same way the agent run callback is injected into tools.
type Resolver func(key string) (Poster, bool)

var (
	globalMu    sync.Mutex
	broadcaster Broadcaster
	resolver    Resolver
)

// SetQ4HBroadcaster installs the process-wide dialog event listener.
// The name is historical: it predates the listener receiving every
// event, not just question-for-human ones. Passing nil disables
// global broadcast; per-dialog subscribers are unaffected.
func SetQ4HBroadcaster(b Broadcaster) {
	globalMu.Lock()
	broadcaster = b
	globalMu.Unlock()
}

// SetResolver installs the dialog lookup used by PostByID.
func SetResolver(r Resolver) {
	globalMu.Lock()
	resolver = r
	globalMu.Unlock()
}

// Post enriches evt with the dialog's identity, writes it to the
// dialog's publish channel, and forwards it to the global broadcaster
// followed by a synthesized dlg_touched_evt carrying the original
// type. Touch events themselves are never re-touched.
func Post(d Poster, evt Event) {
	ref := d.EventRef()
	evt.Dialog = &ref
	d.EventChan().Write(evt)

	globalMu.Lock()
	b := broadcaster
	globalMu.Unlock()
	if b == nil {
		return
	}
	b(evt)
	if evt.Type == protocol.EventDlgTouched {
		return
	}
	touched := New(protocol.EventDlgTouched)
	touched.Dialog = &ref
	touched.SourceType = evt.Type
	b(touched)
}

// PostByID posts to the dialog named by key, resolved through the
// installed Resolver. Unknown keys are logged and dropped.
func PostByID(key string, evt Event) {
	globalMu.Lock()
	r := resolver
	globalMu.Unlock()
	if r == nil {
		slog.Warn("bus: no dialog resolver installed", "key", key)
		return
	}
	d, ok := r(key)
	if !ok {
		slog.Warn("bus: post to unknown dialog", "key", key, "type", evt.Type)
		return
	}
	Post(d, evt)
}
