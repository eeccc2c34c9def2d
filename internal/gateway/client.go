package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/nextlevelbuilder/minds/internal/bus"
	"github.com/nextlevelbuilder/minds/internal/dialog"
)

const writeTimeout = 10 * time.Second

// inboundFrame is what clients send. A bare text frame that is not
// JSON is treated as a prompt for the subscribed dialog.
type inboundFrame struct {
	Action string `json:"action"` // prompt | stop
	// Dialog targets a root by id; defaults to the subscribed one.
	Dialog string `json:"dialog,omitempty"`
	Text   string `json:"text,omitempty"`
}

// controlFrame is a gateway-originated reply, distinct from the bus
// events that make up the rest of the stream.
type controlFrame struct {
	Type    string `json:"type"` // gateway_ack | gateway_error
	Action  string `json:"action,omitempty"`
	Dialog  string `json:"dialog,omitempty"`
	Error   string `json:"error,omitempty"`
	Stopped bool   `json:"stopped,omitempty"`
}

// Client is one websocket connection.
type Client struct {
	id   string
	conn *websocket.Conn
	srv  *Server

	// root is the subscribed dialog; nil for firehose clients.
	root *dialog.RootDialog
	sub  *bus.SubChan

	writeMu   sync.Mutex
	closeOnce sync.Once
}

func newClient(conn *websocket.Conn, srv *Server, root *dialog.RootDialog, sub *bus.SubChan) *Client {
	return &Client{
		id:   gonanoid.Must(8),
		conn: conn,
		srv:  srv,
		root: root,
		sub:  sub,
	}
}

// run pumps events to the client and reads inbound frames until
// either side goes away.
func (c *Client) run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go c.pumpEvents(ctx, cancel)
	c.readLoop(ctx)
}

func (c *Client) close() {
	c.closeOnce.Do(func() {
		c.sub.Cancel()
		c.conn.Close()
	})
}

// pumpEvents forwards the subscription to the socket until the
// stream ends or the connection drops.
func (c *Client) pumpEvents(ctx context.Context, cancel context.CancelFunc) {
	defer cancel()
	for {
		evt, err := c.sub.Next(ctx)
		if err != nil {
			if errors.Is(err, bus.ErrEndOfStream) {
				c.writeJSON(controlFrame{Type: "gateway_ack", Action: "end_of_stream"})
			}
			return
		}
		if err := c.writeJSON(evt); err != nil {
			return
		}
	}
}

func (c *Client) readLoop(ctx context.Context) {
	for {
		mt, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		if mt != websocket.TextMessage {
			continue
		}
		c.handleInbound(data)
		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}

func (c *Client) handleInbound(data []byte) {
	var frame inboundFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		// Plain text is a prompt for the subscribed dialog.
		frame = inboundFrame{Action: "prompt", Text: string(data)}
	}

	root := c.root
	if frame.Dialog != "" {
		var ok bool
		root, ok = c.srv.registry.Get(frame.Dialog)
		if !ok {
			c.sendError(frame, "no such dialog: "+frame.Dialog)
			return
		}
	}
	if root == nil {
		c.sendError(frame, "no dialog targeted; subscribe with ?dialog= or set the dialog field")
		return
	}

	switch frame.Action {
	case "prompt", "":
		if frame.Text == "" {
			c.sendError(frame, "empty prompt")
			return
		}
		c.writeJSON(controlFrame{Type: "gateway_ack", Action: "prompt", Dialog: root.ID().Key()})
		// The drive outlives the socket that started it.
		go c.drive(root, frame.Text)
	case "stop":
		accepted := root.RequestStop()
		c.writeJSON(controlFrame{Type: "gateway_ack", Action: "stop", Dialog: root.ID().Key(), Stopped: accepted})
	default:
		c.sendError(frame, "unknown action: "+frame.Action)
	}
}

// drive feeds the prompt to the driver. A dialog blocked on a human
// question takes the text as the answer; anything else takes it as
// the next user turn.
func (c *Client) drive(root *dialog.RootDialog, text string) {
	var err error
	st, reason := root.RunState()
	if st == dialog.StateBlocked && reason != dialog.BlockWaitingForSubdialogs {
		err = c.srv.driver.ContinueWithHumanResponse(context.Background(), root, text)
	} else {
		err = c.srv.driver.ContinueWithUserPrompt(context.Background(), root, text)
	}
	if err != nil {
		slog.Warn("drive failed", "dialog", root.ID(), "error", err)
		c.writeJSON(controlFrame{Type: "gateway_error", Action: "prompt", Dialog: root.ID().Key(), Error: err.Error()})
	}
}

func (c *Client) sendError(frame inboundFrame, msg string) {
	c.writeJSON(controlFrame{Type: "gateway_error", Action: frame.Action, Dialog: frame.Dialog, Error: msg})
}

func (c *Client) writeJSON(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteJSON(v)
}
