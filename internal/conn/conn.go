// Package conn drives the per-connection event loop from spec.md §4.6: read
// what's available, parse as many complete frames as the buffer holds,
// translate each into a Message, let the state core react, and write back
// whatever the core or a handshake step produced. One goroutine per
// connection, matching the teacher's handleConnection shape.
package conn

import (
	"errors"
	"io"
	"net"
	"time"

	"github.com/faizanhussain2310/resp-kv/internal/message"
	"github.com/faizanhussain2310/resp-kv/internal/protocol"
	"github.com/faizanhussain2310/resp-kv/internal/replication"
	"github.com/faizanhussain2310/resp-kv/internal/state"
)

// pollInterval bounds how long a read blocks before the loop checks again
// for outgoing handshake steps or replicated writes: neither originates
// from this connection's own input, so the loop can't simply block in Read.
const pollInterval = 50 * time.Millisecond

// Loop owns one net.Conn for its lifetime and feeds it into the shared
// State. connID identifies this connection for State's per-connection
// bookkeeping (handshake progress, replica mailbox, classification).
type Loop struct {
	conn    net.Conn
	connID  int64
	state   *state.State
	mailbox replication.Mailbox // non-nil only once this connection becomes a replica
}

// New wraps conn for connID against the shared state.
func New(c net.Conn, connID int64, s *state.State) *Loop {
	return &Loop{conn: c, connID: connID, state: s}
}

// Run blocks until the connection closes or a fatal protocol/state error
// occurs, then returns. Callers run it in its own goroutine.
func (l *Loop) Run() error {
	defer l.state.UnregisterConn(l.connID)

	var buf []byte
	for {
		if out, ok := l.state.NextOutgoing(l.connID); ok {
			if err := l.write(out); err != nil {
				return err
			}
		}

		if box := l.replicaMailbox(); box != nil {
			drained, err := l.drainMailbox(box)
			if err != nil {
				return err
			}
			if drained {
				continue
			}
		}

		if err := l.conn.SetReadDeadline(time.Now().Add(pollInterval)); err != nil {
			return err
		}
		chunk := make([]byte, 4096)
		n, err := l.conn.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
		}

		for {
			v, rest, perr := protocol.Parse(buf)
			if perr == protocol.ErrIncomplete {
				// buf is untouched: rest is meaningless on this path, and
				// the same bytes must still be there once more arrive.
				break
			}
			if perr != nil {
				var malformed *protocol.MalformedError
				if errors.As(perr, &malformed) {
					if werr := l.conn.SetWriteDeadline(time.Time{}); werr != nil {
						return werr
					}
					out := protocol.Serialize(protocol.Err("ERR "+malformed.Error()), nil)
					if _, werr := l.conn.Write(out); werr != nil {
						return werr
					}
					buf = nil
					break
				}
				return perr
			}
			buf = rest

			if herr := l.handle(v); herr != nil {
				return herr
			}
		}

		if err != nil {
			if isTimeout(err) {
				continue
			}
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
}

func (l *Loop) handle(v protocol.Value) error {
	before := len(protocol.Serialize(v, nil))

	m, err := message.FromResp(v)
	if err != nil {
		var arity *message.ErrCommandArity
		var unknown *message.ErrUnknownCommand
		switch {
		case errors.As(err, &arity):
			return l.write(message.Message{Kind: message.Error, Str: "ERR " + arity.Error()})
		case errors.As(err, &unknown):
			return l.write(message.Message{Kind: message.Error, Str: "ERR unknown command '" + unknown.Name + "'"})
		default:
			return err
		}
	}

	reply, hasReply, err := l.state.HandleIncoming(l.connID, m)
	if err != nil {
		return err
	}

	if l.state.IsSlave() && !hasReply && countsTowardOffset(m.Kind) {
		l.state.IncrementOffset(int64(before))
	}

	if m.Kind == message.PSync {
		l.mailbox = l.replicaMailbox()
	}

	if hasReply {
		return l.write(reply)
	}
	return nil
}

func (l *Loop) replicaMailbox() replication.Mailbox {
	if l.mailbox != nil {
		return l.mailbox
	}
	if box, ok := l.state.Mailbox(l.connID); ok {
		l.mailbox = box
	}
	return l.mailbox
}

func (l *Loop) drainMailbox(box replication.Mailbox) (bool, error) {
	drained := false
	for {
		select {
		case msg, ok := <-box:
			if !ok {
				l.mailbox = nil
				return drained, nil
			}
			if err := l.write(msg); err != nil {
				return drained, err
			}
			drained = true
		default:
			return drained, nil
		}
	}
}

func (l *Loop) write(m message.Message) error {
	out := protocol.Serialize(message.ToResp(m), nil)
	if err := l.conn.SetWriteDeadline(time.Time{}); err != nil {
		return err
	}
	_, err := l.conn.Write(out)
	return err
}

// countsTowardOffset excludes the handshake replies that ride the same
// connection but aren't part of the replicated command stream.
func countsTowardOffset(k message.Kind) bool {
	switch k {
	case message.Pong, message.Ok, message.FullResync, message.DatabaseFile:
		return false
	default:
		return true
	}
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
