package protocol

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeRequest(t *testing.T) {
	frame, err := EncodeRequest(&Request{ID: "r1", Command: NewCreate("k", "v", 30)})
	require.NoError(t, err)
	assert.Equal(t, `{"id":"r1","cmd":"create","key":"k","payload":"v","ttl":30}`+"\n", string(frame))

	frame, err = EncodeRequest(&Request{ID: "r2", Command: NewCreate("k", "v", -5)})
	require.NoError(t, err)
	assert.NotContains(t, string(frame), "ttl", "non-positive ttl means no expiry and is omitted")

	frame, err = EncodeRequest(&Request{ID: "r3", Command: NewClear()})
	require.NoError(t, err)
	assert.Equal(t, `{"id":"r3","cmd":"clear"}`+"\n", string(frame))
}

func TestEncodeRequestRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		req  *Request
	}{
		{name: "empty id", req: &Request{Command: NewRead("k")}},
		{name: "missing key", req: &Request{ID: "x", Command: NewRead("")}},
		{name: "missing type", req: &Request{ID: "x"}},
		{name: "unknown type", req: &Request{ID: "x", Command: Command{Type: "explode"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := EncodeRequest(tt.req)
			var perr *ProtocolError
			require.ErrorAs(t, err, &perr)
		})
	}
}

func TestEncodeRejectsInvalidUTF8(t *testing.T) {
	tests := []struct {
		name string
		cmd  Command
		want error
	}{
		{name: "payload", cmd: NewCreate("bin", "\xff\xfe\x00a", 0), want: ErrInvalidUTF8Payload},
		{name: "update payload", cmd: NewUpdate("bin", "ok\xc3", 0), want: ErrInvalidUTF8Payload},
		{name: "key", cmd: NewRead("k\xff"), want: ErrInvalidUTF8Key},
		{name: "delete key", cmd: NewDelete("\xed\xa0\x80"), want: ErrInvalidUTF8Key},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.cmd.Validate(), tt.want)

			_, err := EncodeRequest(&Request{ID: "u", Command: tt.cmd})
			var perr *ProtocolError
			require.ErrorAs(t, err, &perr)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	value := "\xff\xfe"
	_, err := EncodeResponse(&Response{ID: "v", Status: StatusSuccess, Value: &value})
	var perr *ProtocolError
	require.ErrorAs(t, err, &perr)
	assert.ErrorIs(t, err, ErrInvalidUTF8Value)

	value = "héllo ✓"
	_, err = EncodeResponse(&Response{ID: "v", Status: StatusSuccess, Value: &value})
	assert.NoError(t, err)
}

func TestPayloadWithDelimiterIsEscaped(t *testing.T) {
	payload := "line one\nline two\r\n\x00"
	frame, err := EncodeRequest(&Request{ID: "nl", Command: NewUpdate("k", payload, 0)})
	require.NoError(t, err)
	assert.Equal(t, 1, bytes.Count(frame, []byte{Delimiter}), "only the trailing delimiter may appear")

	req, err := DecodeRequest(bytes.TrimSuffix(frame, []byte{Delimiter}))
	require.NoError(t, err)
	assert.Equal(t, payload, req.Command.Payload)
}

func TestRequestRoundTrip(t *testing.T) {
	in := &Request{ID: "abc", Command: NewUpdate("user:1", "eyJuYW1lIjoiam9obiJ9", 120)}
	frame, err := EncodeRequest(in)
	require.NoError(t, err)

	out, err := DecodeRequest(frame[:len(frame)-1])
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestDecodeResponse(t *testing.T) {
	resp, err := DecodeResponse([]byte(`{"id":"a1","status":"SUCCESS","category":"SUCCESS","value":"v"}`))
	require.NoError(t, err)
	assert.True(t, resp.OK())
	require.NotNil(t, resp.Value)
	assert.Equal(t, "v", *resp.Value)

	resp, err = DecodeResponse([]byte(`{"id":"a2","status":"NOT_FOUND","message":"no such key"}`))
	require.NoError(t, err)
	assert.Equal(t, CategoryError, resp.Category, "category derived from status")
	assert.Nil(t, resp.Value)

	resp, err = DecodeResponse([]byte(`{"id":"a3","status":"QUOTA_EXCEEDED","category":"ERROR"}`))
	require.NoError(t, err)
	assert.Equal(t, StatusCode("QUOTA_EXCEEDED"), resp.Status)
}

func TestDecodeResponseMalformed(t *testing.T) {
	tests := []struct {
		name  string
		frame string
	}{
		{name: "not json", frame: `hello`},
		{name: "truncated", frame: `{"id":"a1","status":"SUC`},
		{name: "missing id", frame: `{"status":"SUCCESS"}`},
		{name: "missing status", frame: `{"id":"a1"}`},
		{name: "bad category", frame: `{"id":"a1","status":"SUCCESS","category":"MAYBE"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeResponse([]byte(tt.frame))
			var perr *ProtocolError
			require.True(t, errors.As(err, &perr), "expected ProtocolError, got %v", err)
		})
	}
}

func TestEncodeResponseFillsCategory(t *testing.T) {
	frame, err := EncodeResponse(&Response{ID: "z", Status: StatusNotFound})
	require.NoError(t, err)

	resp, err := DecodeResponse(frame[:len(frame)-1])
	require.NoError(t, err)
	assert.Equal(t, CategoryError, resp.Category)

	_, err = EncodeResponse(&Response{Status: StatusSuccess})
	assert.Error(t, err)
}

func TestParseTextCommand(t *testing.T) {
	tests := []struct {
		line    string
		want    Command
		wantErr bool
	}{
		{line: "SET mykey myvalue", want: NewCreate("mykey", "myvalue", 0)},
		{line: "set mykey myvalue 60", want: NewCreate("mykey", "myvalue", 60)},
		{line: "UPDATE k v 5", want: NewUpdate("k", "v", 5)},
		{line: "get k", want: NewRead("k")},
		{line: "READ k", want: NewRead("k")},
		{line: "DEL k", want: NewDelete("k")},
		{line: "  clear  ", want: NewClear()},
		{line: "STATS", want: NewStats()},
		{line: "PING", want: NewPing()},
		{line: "", wantErr: true},
		{line: "GET", wantErr: true},
		{line: "SET k", wantErr: true},
		{line: "SET k v notanumber", wantErr: true},
		{line: "SET k v 1 2", wantErr: true},
		{line: "CLEAR now", wantErr: true},
		{line: "INCR counter", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			got, err := ParseTextCommand(tt.line)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
