// Package rdb reads the RDB-style snapshot file format described in
// spec.md §4.2 and holds the fixed empty-snapshot payload used to bootstrap
// a fresh replica during full resync.
package rdb

import "encoding/base64"

// Section opcodes, matching spec.md §4.2.
const (
	OpAux       = 0xFA
	OpResizeDB  = 0xFB
	OpExpireMs  = 0xFC
	OpExpireSec = 0xFD
	OpSelectDB  = 0xFE
	OpEOF       = 0xFF
)

// Value-record type codes. Only TypeString is required by this revision;
// all others are reported as ErrUnsupportedValueType.
const (
	TypeString = 0
)

// Magic string and version every snapshot file starts with.
const (
	Magic   = "REDIS"
	Version = "0011"
)

// emptyRDBBase64 is the fixed 88-byte empty snapshot redis itself ships
// when a replica asks for a full resync of an empty dataset: the magic
// string, version, aux fields (redis-ver, redis-bits, ctime, used-mem,
// aof-base), and the EOF opcode followed by an all-zero checksum.
// Reproduced byte-for-byte from the reference implementation rather than
// built with the (stubbed) snapshot writer, matching spec.md §6's "may
// hard-code it".
const emptyRDBBase64 = "UkVESVMwMDEx+glyZWRpcy12ZXIFNy4yLjD6CnJlZGlzLWJpdHPAQPoFY3RpbWXCbQi8ZfoIdXNlZC1tZW3CsMQQAPoIYW9mLWJhc2UAAP8AAAAAAAAAAA=="

// EmptySnapshot is the decoded 88-byte payload.
var EmptySnapshot = mustDecode(emptyRDBBase64)

func mustDecode(s string) []byte {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		panic("rdb: invalid embedded empty snapshot: " + err.Error())
	}
	return b
}
