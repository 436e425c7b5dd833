package state

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/faizanhussain2310/resp-kv/internal/config"
	"github.com/faizanhussain2310/resp-kv/internal/message"
	"github.com/faizanhussain2310/resp-kv/internal/replication"
	"github.com/faizanhussain2310/resp-kv/internal/store"
)

func newMasterState() *State {
	return New(config.Default(), store.New(), replication.NewRegistry(), RoleMaster)
}

func TestMasterReplIDIsForty(t *testing.T) {
	s := newMasterState()
	require.Len(t, s.replID, 40)
}

func TestMasterPingPong(t *testing.T) {
	s := newMasterState()
	s.RegisterConn(1, Client)
	reply, ok, err := s.HandleIncoming(1, message.Message{Kind: message.Ping})
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, message.Pong, reply.Kind)
}

func TestMasterSetThenGet(t *testing.T) {
	s := newMasterState()
	s.RegisterConn(1, Client)

	reply, ok, err := s.HandleIncoming(1, message.Message{Kind: message.Set, Key: "k", Value: []byte("v")})
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, message.Ok, reply.Kind)

	reply, ok, err = s.HandleIncoming(1, message.Message{Kind: message.GetRequest, Key: "k"})
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, reply.Found)
	require.Equal(t, "v", string(reply.Value))
}

func TestMasterGetMissingKey(t *testing.T) {
	s := newMasterState()
	s.RegisterConn(1, Client)
	reply, ok, err := s.HandleIncoming(1, message.Message{Kind: message.GetRequest, Key: "nope"})
	require.NoError(t, err)
	require.True(t, ok)
	require.False(t, reply.Found)
}

func TestMasterPSyncRegistersReplicaAndSendsRDBOnce(t *testing.T) {
	s := newMasterState()
	s.RegisterConn(1, Client)

	reply, ok, err := s.HandleIncoming(1, message.Message{Kind: message.PSync, ReplID: "?", Offset: -1})
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, message.FullResync, reply.Kind)
	require.Equal(t, s.replID, reply.ReplID)
	require.Equal(t, Replica, s.MailboxConnKind(1))

	out, ok := s.NextOutgoing(1)
	require.True(t, ok)
	require.Equal(t, message.DatabaseFile, out.Kind)

	_, ok = s.NextOutgoing(1)
	require.False(t, ok, "RDB should only be offered once")
}

func TestMasterPSyncCountsReplicaAndClientSetStillReplies(t *testing.T) {
	s := newMasterState()
	s.RegisterConn(1, Client)
	s.RegisterConn(2, Client)

	_, _, err := s.HandleIncoming(2, message.Message{Kind: message.PSync, ReplID: "?", Offset: -1})
	require.NoError(t, err)
	require.Equal(t, 1, s.registry.Count())

	_, hasReply, err := s.HandleIncoming(1, message.Message{Kind: message.Set, Key: "k", Value: []byte("v")})
	require.NoError(t, err)
	require.True(t, hasReply)
}

func TestMasterSetFromReplicaConnectionDoesNotBroadcast(t *testing.T) {
	s := newMasterState()
	s.RegisterConn(1, Client)
	s.RegisterConn(2, Client)

	_, _, err := s.HandleIncoming(1, message.Message{Kind: message.PSync, ReplID: "?", Offset: -1})
	require.NoError(t, err)
	box, ok := s.Mailbox(1)
	require.True(t, ok)

	_, _, err = s.HandleIncoming(2, message.Message{Kind: message.PSync, ReplID: "?", Offset: -1})
	require.NoError(t, err)

	_, hasReply, err := s.HandleIncoming(1, message.Message{Kind: message.Set, Key: "k", Value: []byte("v")})
	require.NoError(t, err)
	require.False(t, hasReply, "a Set arriving on a Replica-kind connection gets no direct reply")

	select {
	case m := <-box:
		t.Fatalf("Set from a Replica-kind connection must not be broadcast, got %+v", m)
	default:
	}
}

func TestMasterWaitReportsReplicaCount(t *testing.T) {
	s := newMasterState()
	s.RegisterConn(1, Client)
	_, _, err := s.HandleIncoming(1, message.Message{Kind: message.PSync, ReplID: "?", Offset: -1})
	require.NoError(t, err)

	reply, ok, err := s.HandleIncoming(2, message.Message{Kind: message.Wait, NumReplicas: 0, TimeoutMs: 100})
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 1, reply.AckCount)
}

func TestSlaveHandshakeSequence(t *testing.T) {
	s := New(config.Default(), store.New(), nil, RoleSlave)

	out, ok := s.NextOutgoing(1)
	require.True(t, ok)
	require.Equal(t, message.Ping, out.Kind)

	_, _, err := s.HandleIncoming(1, message.Message{Kind: message.Pong})
	require.NoError(t, err)

	out, ok = s.NextOutgoing(1)
	require.True(t, ok)
	require.Equal(t, message.ReplConf, out.Kind)
	require.Equal(t, "listening-port", out.ReplConfKey)

	_, _, err = s.HandleIncoming(1, message.Message{Kind: message.Ok})
	require.NoError(t, err)

	out, ok = s.NextOutgoing(1)
	require.True(t, ok)
	require.Equal(t, "capa", out.ReplConfKey)

	_, _, err = s.HandleIncoming(1, message.Message{Kind: message.Ok})
	require.NoError(t, err)

	out, ok = s.NextOutgoing(1)
	require.True(t, ok)
	require.Equal(t, message.PSync, out.Kind)

	_, _, err = s.HandleIncoming(1, message.Message{Kind: message.FullResync, ReplID: "abc", Offset: 0})
	require.NoError(t, err)
	require.Equal(t, HSComplete, s.handshake)
}

func TestSlaveOutOfOrderPongIsFatal(t *testing.T) {
	s := New(config.Default(), store.New(), nil, RoleSlave)
	_, _, err := s.HandleIncoming(1, message.Message{Kind: message.Pong})
	require.Error(t, err)
}

func TestSlaveAppliesSetFromMaster(t *testing.T) {
	s := New(config.Default(), store.New(), nil, RoleSlave)
	s.handshake = HSComplete

	_, hasReply, err := s.HandleIncoming(1, message.Message{Kind: message.Set, Key: "k", Value: []byte("v")})
	require.NoError(t, err)
	require.False(t, hasReply)

	val, ok := s.store.Get("k", time.Now(), time.Now().UnixMilli())
	require.True(t, ok)
	require.Equal(t, "v", string(val))
}
