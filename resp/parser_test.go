package resp

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMultiBulkCompleteFrame(t *testing.T) {
	buf := []byte("*2\r\n$3\r\nGET\r\n$3\r\nfoo\r\n")
	res, state := Parse(buf)
	require.Equal(t, StateOK, state)
	require.Equal(t, 2, res.TokenCount)
	assert.Equal(t, "GET", string(res.Tokens[0]))
	assert.Equal(t, "foo", string(res.Tokens[1]))
	assert.Equal(t, len(buf), res.ProtoBuffLen)
}

func TestParseMultiBulkIncompleteFrame(t *testing.T) {
	buf := []byte("*2\r\n$3\r\nGET\r\n$3\r\nfo")
	_, state := Parse(buf)
	assert.Equal(t, StateIncomplete, state)
}

func TestParseMultiBulkNullBulkToken(t *testing.T) {
	buf := []byte("*2\r\n$3\r\nSET\r\n$-1\r\n")
	res, state := Parse(buf)
	require.Equal(t, StateOK, state)
	require.Equal(t, 2, res.TokenCount)
	assert.Nil(t, res.Tokens[1])
}

func TestParseEmptyMultiBulk(t *testing.T) {
	buf := []byte("*0\r\n")
	res, state := Parse(buf)
	require.Equal(t, StateOK, state)
	assert.Equal(t, 0, res.TokenCount)
	assert.Equal(t, len(buf), res.ProtoBuffLen)
}

func TestParseMalformedLengthIsError(t *testing.T) {
	buf := []byte("*abc\r\n")
	_, state := Parse(buf)
	assert.Equal(t, StateError, state)
}

func TestParseUnknownLeadingByteIsError(t *testing.T) {
	buf := []byte("PING\r\n")
	_, state := Parse(buf)
	assert.Equal(t, StateError, state)
}

func TestParseSimpleString(t *testing.T) {
	buf := []byte("+OK\r\n")
	res, state := Parse(buf)
	require.Equal(t, StateOK, state)
	assert.True(t, res.IsSimple)
	assert.Equal(t, "OK", string(res.Simple))
}

func TestParseInteger(t *testing.T) {
	buf := []byte(":42\r\n")
	res, state := Parse(buf)
	require.Equal(t, StateOK, state)
	assert.True(t, res.IsInteger)
	assert.EqualValues(t, 42, res.Integer)
}

func TestParseErrorLine(t *testing.T) {
	buf := []byte("-ERR something\r\n")
	res, state := Parse(buf)
	require.Equal(t, StateOK, state)
	assert.True(t, res.IsError)
	assert.Equal(t, "ERR something", string(res.ErrorMsg))
}

func TestParseManyTokensOverflowsInlineArrayWithoutError(t *testing.T) {
	n := maxInlineTokens + 10
	buf := []byte("*" + strconv.Itoa(n) + "\r\n")
	for i := 0; i < n; i++ {
		buf = append(buf, []byte("$1\r\nx\r\n")...)
	}
	res, state := Parse(buf)
	require.Equal(t, StateOK, state)
	assert.Equal(t, n, res.TokenCount)
}
