package manager

import (
	"context"

	"github.com/Equbuxu/PixelPainter-sub000/pkg/core/session"
	"github.com/Equbuxu/PixelPainter-sub000/pkg/snapshot"
	"github.com/Equbuxu/PixelPainter-sub000/pkg/transport"
)

// Link is the transport side of a Connection.
type Link interface {
	session.Sender
	Start(ctx context.Context)
	Disconnect()
	Done() <-chan struct{}
	SendChatMessage(ctx context.Context, text string, colorIndex int) error
}

// Dialer builds an unstarted Link for identity on board. Events and state
// changes of the link must be reported through onEvent and onState.
type Dialer func(id snapshot.Identity, board int, onEvent transport.Handler, onState transport.StateFunc) (Link, error)

// TransportDialer dials long-poll clients sharing opts.
func TransportDialer(opts transport.Options) Dialer {
	return func(id snapshot.Identity, board int, onEvent transport.Handler, onState transport.StateFunc) (Link, error) {
		creds := transport.Credentials{AuthKey: id.AuthKey, AuthToken: id.AuthToken, Proxy: id.Proxy}
		c, err := transport.New(opts, creds, board, onEvent, onState)
		if err != nil {
			return nil, err
		}
		return c, nil
	}
}
