package protocol

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func roundTrip(t *testing.T, wire string) Value {
	t.Helper()
	v, rest, err := Parse([]byte(wire))
	require.NoError(t, err)
	require.Empty(t, rest)

	out := Serialize(v, nil)
	require.Equal(t, wire, string(out))
	return v
}

func TestRoundTripSimpleString(t *testing.T) {
	roundTrip(t, "+PONG\r\n")
}

func TestRoundTripError(t *testing.T) {
	roundTrip(t, "-ERR unknown command\r\n")
}

func TestRoundTripInteger(t *testing.T) {
	v := roundTrip(t, ":1000\r\n")
	require.Equal(t, int64(1000), v.Int)

	roundTrip(t, ":-9223372036854775808\r\n")
	roundTrip(t, ":9223372036854775807\r\n")
}

func TestRoundTripBulkString(t *testing.T) {
	v := roundTrip(t, "$5\r\nhello\r\n")
	require.Equal(t, "hello", string(v.Bulk))
}

func TestRoundTripZeroLengthBulkString(t *testing.T) {
	roundTrip(t, "$0\r\n\r\n")
}

func TestRoundTripNullBulkString(t *testing.T) {
	v := roundTrip(t, "$-1\r\n")
	require.Equal(t, NullBulkString, v.Kind)
}

func TestRoundTripArray(t *testing.T) {
	v := roundTrip(t, "*2\r\n$4\r\nPING\r\n$4\r\ntest\r\n")
	require.Len(t, v.Arr, 2)
}

func TestRoundTripEmptyArray(t *testing.T) {
	v := roundTrip(t, "*0\r\n")
	require.Equal(t, Array, v.Kind)
	require.Empty(t, v.Arr)
}

func TestRoundTripNullArray(t *testing.T) {
	v := roundTrip(t, "*-1\r\n")
	require.Equal(t, NullArray, v.Kind)
}

func TestRoundTripBoolean(t *testing.T) {
	roundTrip(t, "#t\r\n")
	roundTrip(t, "#f\r\n")
}

func TestRoundTripBigNumber(t *testing.T) {
	roundTrip(t, "(3492890328409238509324850943850943825024385\r\n")
	roundTrip(t, "(-3492890328409238509324850943850943825024385\r\n")
}

func TestRoundTripNull(t *testing.T) {
	roundTrip(t, "_\r\n")
}

func TestDoubleInfinityAndNaN(t *testing.T) {
	v, _, err := Parse([]byte(",inf\r\n"))
	require.NoError(t, err)
	require.True(t, math.IsInf(v.Dbl, 1))
	require.Equal(t, ",inf\r\n", string(Serialize(v, nil)))

	v, _, err = Parse([]byte(",-inf\r\n"))
	require.NoError(t, err)
	require.True(t, math.IsInf(v.Dbl, -1))
	require.Equal(t, ",-inf\r\n", string(Serialize(v, nil)))

	v, _, err = Parse([]byte(",nan\r\n"))
	require.NoError(t, err)
	require.True(t, math.IsNaN(v.Dbl))
	require.Equal(t, ",NaN\r\n", string(Serialize(v, nil)))
}

func TestDoubleDecimalNotExponential(t *testing.T) {
	v, _, err := Parse([]byte(",-10.2e-10\r\n"))
	require.NoError(t, err)
	require.Equal(t, ",-0.00000000102\r\n", string(Serialize(v, nil)))
}

func TestRawBytesRoundTrip(t *testing.T) {
	// The payload is fully buffered and is immediately followed by the
	// start of the next RESP message, so the parser can tell this isn't a
	// bulk string without needing more bytes.
	header := "$5\r\nhello"
	wire := header + "*1\r\n$4\r\nPING\r\n"
	v, rest, err := Parse([]byte(wire))
	require.NoError(t, err)
	require.Equal(t, RawBytes, v.Kind)
	require.Equal(t, "hello", string(v.Bulk))
	require.Equal(t, "*1\r\n$4\r\nPING\r\n", string(rest))
	require.Equal(t, header, string(Serialize(v, nil)))
}

func TestRawBytesVsBulkDisambiguation(t *testing.T) {
	v, rest, err := Parse([]byte("$5\r\nhello\r\nEXTRA"))
	require.NoError(t, err)
	require.Equal(t, BulkString, v.Kind)
	require.Equal(t, "EXTRA", string(rest))
}

func TestIncompleteNeverMalformed(t *testing.T) {
	_, _, err := Parse([]byte("*2\r\n$4\r\nPING\r\n"))
	require.ErrorIs(t, err, ErrIncomplete)

	_, _, err = Parse([]byte("$5\r\nhel"))
	require.ErrorIs(t, err, ErrIncomplete)

	// Payload fully buffered but lookahead bytes for bulk-vs-raw
	// disambiguation are not: must be Incomplete, not Malformed.
	_, _, err = Parse([]byte("$5\r\nhello"))
	require.ErrorIs(t, err, ErrIncomplete)

	_, _, err = Parse([]byte("$5\r\nhello\r"))
	require.ErrorIs(t, err, ErrIncomplete)

	_, _, err = Parse(nil)
	require.ErrorIs(t, err, ErrIncomplete)
}

func TestMalformedOnBadFraming(t *testing.T) {
	_, _, err := Parse([]byte("!oops\r\n"))
	var malformedErr *MalformedError
	require.ErrorAs(t, err, &malformedErr)

	_, _, err = Parse([]byte(":notanumber\r\n"))
	require.ErrorAs(t, err, &malformedErr)
}
