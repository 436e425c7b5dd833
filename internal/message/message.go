// Package message maps RESP values to and from the typed commands/replies
// the state core understands, per spec.md §4.4.
package message

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/faizanhussain2310/resp-kv/internal/protocol"
)

// Kind discriminates the Message variants.
type Kind int

const (
	Ping Kind = iota
	Pong
	Echo
	CommandDocs
	Set
	GetRequest
	GetResponse
	ConfigGetRequest
	ConfigGetResponse
	KeysRequest
	KeysResponse
	InfoRequest
	InfoResponse
	ReplConf
	Ok
	PSync
	FullResync
	DatabaseFile
	Wait
	WaitReply
	// ReplConfGetAck is reserved for a future WAIT implementation that
	// suspends on replica-ack notifications (spec.md §9); nothing in this
	// revision ever constructs or emits it.
	ReplConfGetAck
	Error
)

// Section holds one INFO response section as ordered key/value pairs
// (order doesn't matter to the protocol, but a slice keeps formatting
// deterministic for tests).
type Section struct {
	Name   string
	Fields [][2]string
}

// Message is a tagged union over every recognized command/reply. Only the
// fields relevant to Kind are meaningful; this mirrors the RespValue
// design in internal/protocol and keeps the state core's dispatch table a
// plain switch rather than a type assertion chain.
type Message struct {
	Kind Kind

	Str string // Echo payload, Error text

	Key   string
	Value []byte

	HasExpiry bool
	ExpiryMs  int64

	Found bool // GetResponse

	ConfigValues []string // ConfigGetResponse

	Keys []string // KeysResponse

	Sections   []string  // InfoRequest filter; empty means "all"
	InfoResult []Section // InfoResponse

	ReplConfKey   string
	ReplConfValue string

	ReplID string
	Offset int64

	RDB []byte // DatabaseFile payload

	NumReplicas int
	TimeoutMs   int64
	AckCount    int // WaitReply
}

// ErrUnknownCommand and ErrCommandArity are the two command-level error
// kinds from spec.md §7; both are non-fatal to the connection.
type ErrUnknownCommand struct{ Name string }

func (e *ErrUnknownCommand) Error() string { return "unknown command '" + e.Name + "'" }

type ErrCommandArity struct{ Name string }

func (e *ErrCommandArity) Error() string { return "malformed " + e.Name }

// FromResp converts a parsed RESP value into a Message. Commands arrive as
// arrays of bulk strings (or RawBytes, for a snapshot body); a few
// server/slave replies arrive as bare simple strings.
func FromResp(v protocol.Value) (Message, error) {
	switch v.Kind {
	case protocol.SimpleString:
		return simpleStringToMessage(v.Str)

	case protocol.RawBytes:
		return Message{Kind: DatabaseFile, RDB: v.Bulk}, nil

	case protocol.Array:
		args := make([]string, 0, len(v.Arr))
		for _, item := range v.Arr {
			if item.Kind != protocol.BulkString {
				return Message{}, fmt.Errorf("message: command element is not a bulk string")
			}
			args = append(args, string(item.Bulk))
		}
		return commandToMessage(args)

	default:
		return Message{}, fmt.Errorf("message: unexpected top-level RESP kind %d", v.Kind)
	}
}

func simpleStringToMessage(s string) (Message, error) {
	switch {
	case s == "PONG":
		return Message{Kind: Pong}, nil
	case s == "OK":
		return Message{Kind: Ok}, nil
	case strings.HasPrefix(s, "FULLRESYNC "):
		fields := strings.Fields(s)
		if len(fields) != 3 {
			return Message{}, fmt.Errorf("message: malformed FULLRESYNC %q", s)
		}
		offset, err := strconv.ParseInt(fields[2], 10, 64)
		if err != nil {
			return Message{}, fmt.Errorf("message: bad FULLRESYNC offset: %w", err)
		}
		return Message{Kind: FullResync, ReplID: fields[1], Offset: offset}, nil
	default:
		return Message{}, fmt.Errorf("message: unrecognized simple string %q", s)
	}
}

func commandToMessage(args []string) (Message, error) {
	if len(args) == 0 {
		return Message{}, fmt.Errorf("message: empty command array")
	}
	name := strings.ToUpper(args[0])
	rest := args[1:]

	switch name {
	case "PING":
		return Message{Kind: Ping}, nil

	case "ECHO":
		if len(rest) != 1 {
			return Message{}, &ErrCommandArity{Name: "ECHO"}
		}
		return Message{Kind: Echo, Str: rest[0]}, nil

	case "COMMAND":
		if len(rest) != 1 || !strings.EqualFold(rest[0], "DOCS") {
			return Message{}, &ErrCommandArity{Name: "COMMAND"}
		}
		return Message{Kind: CommandDocs}, nil

	case "SET":
		if len(rest) < 2 {
			return Message{}, &ErrCommandArity{Name: "SET"}
		}
		msg := Message{Kind: Set, Key: rest[0], Value: []byte(rest[1])}
		if len(rest) >= 4 && strings.EqualFold(rest[2], "PX") {
			ms, err := strconv.ParseInt(rest[3], 10, 64)
			if err != nil {
				return Message{}, &ErrCommandArity{Name: "SET"}
			}
			msg.HasExpiry = true
			msg.ExpiryMs = ms
		} else if len(rest) != 2 {
			return Message{}, &ErrCommandArity{Name: "SET"}
		}
		return msg, nil

	case "GET":
		if len(rest) != 1 {
			return Message{}, &ErrCommandArity{Name: "GET"}
		}
		return Message{Kind: GetRequest, Key: rest[0]}, nil

	case "CONFIG":
		if len(rest) != 2 || !strings.EqualFold(rest[0], "GET") {
			return Message{}, &ErrCommandArity{Name: "CONFIG"}
		}
		return Message{Kind: ConfigGetRequest, Key: rest[1]}, nil

	case "KEYS":
		if len(rest) != 1 {
			return Message{}, &ErrCommandArity{Name: "KEYS"}
		}
		return Message{Kind: KeysRequest}, nil

	case "INFO":
		return Message{Kind: InfoRequest, Sections: rest}, nil

	case "REPLCONF":
		if len(rest) < 2 {
			return Message{}, &ErrCommandArity{Name: "REPLCONF"}
		}
		return Message{Kind: ReplConf, ReplConfKey: rest[0], ReplConfValue: rest[1]}, nil

	case "PSYNC":
		if len(rest) != 2 {
			return Message{}, &ErrCommandArity{Name: "PSYNC"}
		}
		offset, _ := strconv.ParseInt(rest[1], 10, 64)
		return Message{Kind: PSync, ReplID: rest[0], Offset: offset}, nil

	case "WAIT":
		if len(rest) != 2 {
			return Message{}, &ErrCommandArity{Name: "WAIT"}
		}
		n, err1 := strconv.Atoi(rest[0])
		timeout, err2 := strconv.ParseInt(rest[1], 10, 64)
		if err1 != nil || err2 != nil {
			return Message{}, &ErrCommandArity{Name: "WAIT"}
		}
		return Message{Kind: Wait, NumReplicas: n, TimeoutMs: timeout}, nil

	default:
		return Message{}, &ErrUnknownCommand{Name: args[0]}
	}
}

// IsWriteCommand reports whether m mutates the store; only such messages
// are fanned out to replicas. Per spec.md's resolved Open Question, GET is
// read-only and never propagated.
func IsWriteCommand(m Message) bool {
	return m.Kind == Set
}

// ToResp converts a Message into its wire RespValue.
func ToResp(m Message) protocol.Value {
	switch m.Kind {
	case Ping:
		return protocol.ArrayOf(protocol.BulkStr("PING"))

	case Pong:
		return protocol.SimpleStr("PONG")

	case Echo:
		return protocol.ArrayOf(protocol.BulkStr("ECHO"), protocol.BulkStr(m.Str))

	case CommandDocs:
		return protocol.ArrayOf()

	case Set:
		items := []protocol.Value{protocol.BulkStr("SET"), protocol.BulkStr(m.Key), protocol.Bulk(m.Value)}
		if m.HasExpiry {
			items = append(items, protocol.BulkStr("PX"), protocol.BulkStr(strconv.FormatInt(m.ExpiryMs, 10)))
		}
		return protocol.ArrayOf(items...)

	case GetRequest:
		return protocol.ArrayOf(protocol.BulkStr("GET"), protocol.BulkStr(m.Key))

	case GetResponse:
		if !m.Found {
			return protocol.Value{Kind: protocol.NullBulkString}
		}
		return protocol.Bulk(m.Value)

	case ConfigGetRequest:
		return protocol.ArrayOf(protocol.BulkStr("CONFIG"), protocol.BulkStr("GET"), protocol.BulkStr(m.Key))

	case ConfigGetResponse:
		items := make([]protocol.Value, 0, len(m.ConfigValues)+1)
		if m.Found {
			items = append(items, protocol.BulkStr(m.Key))
			for _, v := range m.ConfigValues {
				items = append(items, protocol.BulkStr(v))
			}
		}
		return protocol.ArrayOf(items...)

	case KeysRequest:
		return protocol.ArrayOf(protocol.BulkStr("KEYS"), protocol.BulkStr("*"))

	case KeysResponse:
		items := make([]protocol.Value, len(m.Keys))
		for i, k := range m.Keys {
			items[i] = protocol.BulkStr(k)
		}
		return protocol.ArrayOf(items...)

	case InfoRequest:
		items := make([]protocol.Value, 0, len(m.Sections)+1)
		items = append(items, protocol.BulkStr("INFO"))
		for _, s := range m.Sections {
			items = append(items, protocol.BulkStr(s))
		}
		return protocol.ArrayOf(items...)

	case InfoResponse:
		if len(m.InfoResult) == 0 {
			return protocol.Value{Kind: protocol.NullBulkString}
		}
		var b strings.Builder
		for _, sec := range m.InfoResult {
			b.WriteString("#")
			b.WriteString(sec.Name)
			b.WriteString("\n")
			for _, kv := range sec.Fields {
				b.WriteString(kv[0])
				b.WriteString(":")
				b.WriteString(kv[1])
				b.WriteString("\n")
			}
		}
		return protocol.BulkStr(b.String())

	case ReplConf:
		return protocol.ArrayOf(protocol.BulkStr("REPLCONF"), protocol.BulkStr(m.ReplConfKey), protocol.BulkStr(m.ReplConfValue))

	case Ok:
		return protocol.SimpleStr("OK")

	case PSync:
		return protocol.ArrayOf(protocol.BulkStr("PSYNC"), protocol.BulkStr(m.ReplID), protocol.BulkStr(strconv.FormatInt(m.Offset, 10)))

	case FullResync:
		return protocol.SimpleStr(fmt.Sprintf("FULLRESYNC %s %d", m.ReplID, m.Offset))

	case DatabaseFile:
		return protocol.Value{Kind: protocol.RawBytes, Bulk: m.RDB}

	case Wait:
		return protocol.ArrayOf(protocol.BulkStr("WAIT"), protocol.BulkStr(strconv.Itoa(m.NumReplicas)), protocol.BulkStr(strconv.FormatInt(m.TimeoutMs, 10)))

	case WaitReply:
		return protocol.Value{Kind: protocol.Integer, Int: int64(m.AckCount)}

	case Error:
		return protocol.Err(m.Str)

	default:
		return protocol.Err("ERR internal: unserializable message")
	}
}

// SerializedLen returns len(protocol.Serialize(ToResp(m), nil)), used by the
// master side to advance its replication offset for each accepted SET.
func SerializedLen(m Message) int {
	return len(protocol.Serialize(ToResp(m), nil))
}
