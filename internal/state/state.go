// Package state is the single mutex-guarded core described in spec.md §4.5:
// one Store, one role (master or slave), and the dispatch tables that turn
// an incoming Message into a state transition plus an optional reply. Every
// connection goroutine in internal/conn calls into the same *State, so all
// mutation happens under state.mu; nothing in this package blocks on I/O.
package state

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/faizanhussain2310/resp-kv/internal/config"
	"github.com/faizanhussain2310/resp-kv/internal/message"
	"github.com/faizanhussain2310/resp-kv/internal/rdb"
	"github.com/faizanhussain2310/resp-kv/internal/replication"
	"github.com/faizanhussain2310/resp-kv/internal/store"
)

// Role is which side of a master/replica pair this server plays.
type Role int

const (
	RoleMaster Role = iota
	RoleSlave
)

// HandshakeState steps a replica's connection to its master through the
// four-part handshake of spec.md §4.5: PING, two REPLCONFs, then PSYNC.
type HandshakeState int

const (
	HSInit HandshakeState = iota
	HSPingSent
	HSPongRcvd
	HSReplConf1Sent
	HSReplConf1Rcvd
	HSReplConf2Sent
	HSReplConf2Rcvd
	HSPSyncSent
	HSComplete
)

// ConnKind is what a connection turned out to be once its role became
// apparent. Every inbound connection starts as Client; the master
// reclassifies one as Replica the moment it sees PSYNC.
type ConnKind int

const (
	Client ConnKind = iota
	Replica
	Master
)

type connEntry struct {
	kind           ConnKind
	sendRDBPending bool
	mailbox        replication.Mailbox
}

// State is the shared core. One instance per server process.
type State struct {
	mu sync.Mutex

	cfg      *config.Config
	store    *store.Store
	registry *replication.Registry

	role Role

	// Master-role fields.
	replID string
	offset int64

	// Slave-role fields.
	handshake        HandshakeState
	masterOffsetSeen int64

	conns map[int64]*connEntry
}

// New builds a State in the given role. registry may be nil for a slave
// (it never needs a replica registry of its own).
func New(cfg *config.Config, st *store.Store, registry *replication.Registry, role Role) *State {
	s := &State{
		cfg:      cfg,
		store:    st,
		registry: registry,
		role:     role,
		conns:    make(map[int64]*connEntry),
	}
	if role == RoleMaster {
		s.replID = newReplicationID()
	}
	return s
}

// newReplicationID builds a 40 hex character ID the way the original
// server's random-generator output is approximated without a dedicated
// hex-alphabet RNG in this stack: two UUIDs, concatenated and trimmed.
func newReplicationID() string {
	raw := strings.ReplaceAll(uuid.New().String(), "-", "") + strings.ReplaceAll(uuid.New().String(), "-", "")
	return raw[:40]
}

// RegisterConn records a new connection with its initial kind: Client for an
// accepted connection, Master for a slave's dial-out socket. On the master
// side a Client is later reclassified as Replica when it sends PSYNC.
func (s *State) RegisterConn(connID int64, kind ConnKind) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conns[connID] = &connEntry{kind: kind}
}

// UnregisterConn drops bookkeeping for a closed connection, including its
// replica mailbox if it had one.
func (s *State) UnregisterConn(connID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, connID)
	if s.registry != nil {
		s.registry.Unregister(connID)
	}
}

// IsMaster and IsSlave report the server's fixed role for this process.
func (s *State) IsMaster() bool { return s.role == RoleMaster }
func (s *State) IsSlave() bool  { return s.role == RoleSlave }

// LoadSnapshot seeds the store from RDB entries read at startup.
func (s *State) LoadSnapshot(entries []rdb.Entry, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range entries {
		if e.HasExpireMs {
			s.store.SetAbsolute(e.Key, e.Value, now, e.ExpireMs, true)
		} else {
			s.store.SetAbsolute(e.Key, e.Value, now, 0, false)
		}
	}
}

// NextOutgoing is polled by a connection's event loop before it reads: it
// returns the next message State wants sent on that connection without
// having been asked, such as a handshake step or a pending RDB snapshot.
func (s *State) NextOutgoing(connID int64) (message.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.role == RoleSlave {
		switch s.handshake {
		case HSInit:
			s.handshake = HSPingSent
			return message.Message{Kind: message.Ping}, true
		case HSPongRcvd:
			s.handshake = HSReplConf1Sent
			return message.Message{Kind: message.ReplConf, ReplConfKey: "listening-port", ReplConfValue: s.cfg.Port}, true
		case HSReplConf1Rcvd:
			s.handshake = HSReplConf2Sent
			return message.Message{Kind: message.ReplConf, ReplConfKey: "capa", ReplConfValue: "psync2"}, true
		case HSReplConf2Rcvd:
			s.handshake = HSPSyncSent
			return message.Message{Kind: message.PSync, ReplID: "?", Offset: -1}, true
		}
		return message.Message{}, false
	}

	if entry, ok := s.conns[connID]; ok && entry.sendRDBPending {
		entry.sendRDBPending = false
		return message.Message{Kind: message.DatabaseFile, RDB: rdb.EmptySnapshot}, true
	}
	return message.Message{}, false
}

// HandleIncoming applies msg, received on connID, to the shared state and
// returns the reply to write back (if any). An error here is only ever
// returned for an out-of-sequence handshake reply on the slave's
// master-origin connection, which spec.md §7 treats as fatal to that
// connection.
func (s *State) HandleIncoming(connID int64, msg message.Message) (message.Message, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.role == RoleSlave {
		return s.handleIncomingAsSlave(msg)
	}
	return s.handleIncomingAsMaster(connID, msg)
}

func (s *State) handleIncomingAsSlave(msg message.Message) (message.Message, bool, error) {
	switch msg.Kind {
	case message.Pong:
		if s.handshake != HSPingSent {
			return message.Message{}, false, fmt.Errorf("state: unexpected PONG in handshake state %d", s.handshake)
		}
		s.handshake = HSPongRcvd
		return message.Message{}, false, nil

	case message.Ok:
		switch s.handshake {
		case HSReplConf1Sent:
			s.handshake = HSReplConf1Rcvd
		case HSReplConf2Sent:
			s.handshake = HSReplConf2Rcvd
		default:
			return message.Message{}, false, fmt.Errorf("state: unexpected OK in handshake state %d", s.handshake)
		}
		return message.Message{}, false, nil

	case message.FullResync:
		if s.handshake != HSPSyncSent {
			return message.Message{}, false, fmt.Errorf("state: unexpected FULLRESYNC in handshake state %d", s.handshake)
		}
		s.handshake = HSComplete
		s.masterOffsetSeen = msg.Offset
		return message.Message{}, false, nil

	case message.DatabaseFile:
		// The snapshot body itself carries no keys this revision needs to
		// apply beyond what Open/Load already seeded at startup.
		return message.Message{}, false, nil

	case message.Set:
		s.store.SetRelative(msg.Key, msg.Value, time.Now(), time.Duration(msg.ExpiryMs)*time.Millisecond, msg.HasExpiry)
		return message.Message{}, false, nil

	case message.ReplConf:
		// GETACK from the master; no reply is generated in this revision
		// (spec.md §9 defers full WAIT semantics).
		return message.Message{}, false, nil

	default:
		return message.Message{}, false, nil
	}
}

func (s *State) handleIncomingAsMaster(connID int64, msg message.Message) (message.Message, bool, error) {
	switch msg.Kind {
	case message.Ping:
		return message.Message{Kind: message.Pong}, true, nil

	case message.Echo:
		return message.Message{Kind: message.Echo, Str: msg.Str}, true, nil

	case message.CommandDocs:
		return message.Message{Kind: message.CommandDocs}, true, nil

	case message.Set:
		s.store.SetRelative(msg.Key, msg.Value, time.Now(), time.Duration(msg.ExpiryMs)*time.Millisecond, msg.HasExpiry)
		s.offset += int64(message.SerializedLen(msg))
		entry := s.conns[connID]
		isClient := entry == nil || entry.kind == Client
		if isClient && s.registry != nil {
			s.registry.Broadcast(msg)
		}
		if entry != nil && entry.kind == Replica {
			return message.Message{}, false, nil
		}
		return message.Message{Kind: message.Ok}, true, nil

	case message.GetRequest:
		val, ok := s.store.Get(msg.Key, time.Now(), time.Now().UnixMilli())
		return message.Message{Kind: message.GetResponse, Found: ok, Value: val}, true, nil

	case message.ConfigGetRequest:
		values, ok := s.cfg.Get(msg.Key)
		return message.Message{Kind: message.ConfigGetResponse, Key: msg.Key, Found: ok, ConfigValues: values}, true, nil

	case message.KeysRequest:
		return message.Message{Kind: message.KeysResponse, Keys: s.store.Keys()}, true, nil

	case message.InfoRequest:
		return message.Message{Kind: message.InfoResponse, InfoResult: s.buildInfoSections(msg.Sections)}, true, nil

	case message.ReplConf:
		return message.Message{Kind: message.Ok}, true, nil

	case message.PSync:
		entry := s.conns[connID]
		if entry == nil {
			entry = &connEntry{}
			s.conns[connID] = entry
		}
		entry.kind = Replica
		entry.sendRDBPending = true
		if s.registry != nil {
			entry.mailbox = s.registry.Register(connID)
		}
		return message.Message{Kind: message.FullResync, ReplID: s.replID, Offset: s.offset}, true, nil

	case message.Wait:
		count := 0
		if s.registry != nil {
			count = s.registry.Count()
		}
		return message.Message{Kind: message.WaitReply, AckCount: count}, true, nil

	default:
		return message.Message{}, false, nil
	}
}

func (s *State) buildInfoSections(filter []string) []message.Section {
	want := func(name string) bool {
		if len(filter) == 0 {
			return true
		}
		for _, f := range filter {
			if strings.EqualFold(f, name) {
				return true
			}
		}
		return false
	}

	var sections []message.Section
	if want("replication") {
		fields := [][2]string{{"role", s.roleString()}}
		if s.role == RoleMaster {
			fields = append(fields,
				[2]string{"master_replid", s.replID},
				[2]string{"master_repl_offset", fmt.Sprintf("%d", s.offset)},
			)
		} else {
			fields = append(fields,
				[2]string{"master_repl_offset", fmt.Sprintf("%d", s.masterOffsetSeen)},
			)
		}
		sections = append(sections, message.Section{Name: "Replication", Fields: fields})
	}
	return sections
}

func (s *State) roleString() string {
	if s.role == RoleMaster {
		return "master"
	}
	return "slave"
}

// MailboxConnKind reports how connID is currently classified; an unknown
// connID reports Client.
func (s *State) MailboxConnKind(connID int64) ConnKind {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.conns[connID]; ok {
		return e.kind
	}
	return Client
}

// Mailbox returns the replica mailbox registered for connID, if this
// connection was promoted to a replica by a PSYNC.
func (s *State) Mailbox(connID int64) (replication.Mailbox, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.conns[connID]
	if !ok || e.mailbox == nil {
		return nil, false
	}
	return e.mailbox, true
}

// IncrementOffset adds n bytes to the slave's observed master-stream offset,
// used by the connection loop after applying a command whose wire length
// it measured itself (spec.md §4.5's offset-accounting rule).
func (s *State) IncrementOffset(n int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.masterOffsetSeen += n
}
