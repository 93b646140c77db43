package hub

import (
	"context"
	"encoding/json"

	"github.com/weiawesome/wes-io-messenger/internal/domain"
	"github.com/weiawesome/wes-io-messenger/pkg/log"
)

// HandlerFunc handles one inbound frame. payload is the whole frame.
type HandlerFunc func(ctx context.Context, c *Client, payload json.RawMessage)

type route struct {
	fn     HandlerFunc
	public bool
}

// Dispatcher routes inbound frames by their "type" field.
type Dispatcher struct {
	routes     map[string]route
	identified func(*Client) bool
}

// NewDispatcher returns an empty dispatch table. identified reports whether a
// client may use non-public handlers.
func NewDispatcher(identified func(*Client) bool) *Dispatcher {
	return &Dispatcher{
		routes:     make(map[string]route),
		identified: identified,
	}
}

// Handle registers fn for frames of type t from identified clients.
func (d *Dispatcher) Handle(t string, fn HandlerFunc) {
	d.routes[t] = route{fn: fn}
}

// HandlePublic registers fn for frames of type t from any client.
func (d *Dispatcher) HandlePublic(t string, fn HandlerFunc) {
	d.routes[t] = route{fn: fn, public: true}
}

// Dispatch decodes the frame type and runs its handler.
func (d *Dispatcher) Dispatch(ctx context.Context, c *Client, frame []byte) {
	var base domain.BaseMessage
	if err := json.Unmarshal(frame, &base); err != nil {
		c.Send(domain.NewErrorMessage(domain.CodeMalformedFrame, "invalid message format"))
		return
	}

	r, ok := d.routes[base.Type]
	if !ok {
		l := log.Ctx(ctx)
		l.Debug().Str(log.FieldEvent, base.Type).Msg("unknown event")
		c.Send(domain.NewErrorMessage(domain.CodeUnknownEvent, "unknown message type"))
		return
	}
	if !r.public && d.identified != nil && !d.identified(c) {
		c.Send(domain.NewErrorMessage(domain.CodeNotIdentified, "identify first"))
		return
	}

	r.fn(ctx, c, frame)
}
