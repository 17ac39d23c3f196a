// Package protocol implements the delimited-JSON wire protocol spoken between
// muxcache clients and a cache server.
//
// Every message is one compact JSON record followed by a single newline byte.
// Compact JSON escapes all control characters inside strings, so the delimiter
// never appears inside a well-formed record. Encoders verify this before a
// frame leaves the process.
//
// Protocol Format:
//   - Request:  {"id":"...","cmd":"create","key":"...","payload":"...","ttl":60}\n
//   - Response: {"id":"...","status":"SUCCESS","category":"SUCCESS","value":"..."}\n
//
// Requests carry a correlation id that the server copies into the response.
// Responses may arrive in any order; clients match them by id, never by
// position in the stream.
//
// Example usage:
//
//	req := &protocol.Request{
//		ID:      "a1",
//		Command: protocol.NewCreate("user:123", "am9obg==", 3600),
//	}
//
//	frame, err := protocol.EncodeRequest(req)
//	if err != nil {
//		log.Fatal(err)
//	}
//	_, err = conn.Write(frame)
//
// The protocol supports the following commands:
//   - create: store a value, replacing any previous one
//   - read: fetch a value
//   - update: replace an existing value
//   - delete: remove a value
//   - clear: remove every value
//   - stats: report server statistics
//   - ping: connectivity test
package protocol

import (
	"bytes"
	"errors"
	"fmt"
	"unicode/utf8"

	json "github.com/goccy/go-json"
)

// Delimiter terminates every frame on the wire.
const Delimiter byte = '\n'

// Strings travel as JSON text, so they must be valid UTF-8. Binary data
// goes through a codec such as codec.Msgpack first.
var (
	ErrInvalidUTF8Key     = errors.New("key is not valid UTF-8")
	ErrInvalidUTF8Payload = errors.New("payload is not valid UTF-8")
	ErrInvalidUTF8Value   = errors.New("value is not valid UTF-8")
)

// CommandType names the operation a Request asks the server to perform.
type CommandType string

// Command types supported by the protocol.
const (
	CmdCreate CommandType = "create" // create key payload [ttl] - store value
	CmdRead   CommandType = "read"   // read key - fetch value
	CmdUpdate CommandType = "update" // update key payload [ttl] - replace existing value
	CmdDelete CommandType = "delete" // delete key - remove value
	CmdClear  CommandType = "clear"  // clear - remove all values
	CmdStats  CommandType = "stats"  // stats - server statistics
	CmdPing   CommandType = "ping"   // ping - connectivity test
)

// StatusCode is the outcome reported for a request. Codes the client does not
// know are kept verbatim; StatusCategory decides whether they count as success.
type StatusCode string

// Status codes. StatusTimeout and StatusConnectionClosed never travel on the
// wire: they are produced locally when a request is resolved without a reply.
const (
	StatusSuccess          StatusCode = "SUCCESS"
	StatusNotFound         StatusCode = "NOT_FOUND"
	StatusBadRequest       StatusCode = "BAD_REQUEST"
	StatusInternalError    StatusCode = "INTERNAL_ERROR"
	StatusTimeout          StatusCode = "TIMEOUT"
	StatusConnectionClosed StatusCode = "CONNECTION_CLOSED"
)

// StatusCategory groups status codes into success and error.
type StatusCategory string

const (
	CategorySuccess StatusCategory = "SUCCESS"
	CategoryError   StatusCategory = "ERROR"
)

// Category returns the category a status code belongs to.
func (s StatusCode) Category() StatusCategory {
	if s == StatusSuccess {
		return CategorySuccess
	}
	return CategoryError
}

// Command is the operation carried by a Request. Only the fields relevant to
// Type are sent; Payload is opaque and never interpreted by this package.
type Command struct {
	Type       CommandType // The operation to perform
	Key        string      // Target key (create, read, update, delete)
	Payload    string      // Already-encoded value (create, update)
	TTLSeconds int64       // Expiry in seconds; <= 0 means no expiry
}

// NewCreate returns a create command.
func NewCreate(key, payload string, ttlSeconds int64) Command {
	return Command{Type: CmdCreate, Key: key, Payload: payload, TTLSeconds: ttlSeconds}
}

// NewRead returns a read command.
func NewRead(key string) Command {
	return Command{Type: CmdRead, Key: key}
}

// NewUpdate returns an update command.
func NewUpdate(key, payload string, ttlSeconds int64) Command {
	return Command{Type: CmdUpdate, Key: key, Payload: payload, TTLSeconds: ttlSeconds}
}

// NewDelete returns a delete command.
func NewDelete(key string) Command {
	return Command{Type: CmdDelete, Key: key}
}

// NewClear returns a clear command.
func NewClear() Command {
	return Command{Type: CmdClear}
}

// NewStats returns a stats command.
func NewStats() Command {
	return Command{Type: CmdStats}
}

// NewPing returns a ping command.
func NewPing() Command {
	return Command{Type: CmdPing}
}

// HasKey reports whether the command type addresses a single key.
func (t CommandType) HasKey() bool {
	switch t {
	case CmdCreate, CmdRead, CmdUpdate, CmdDelete:
		return true
	}
	return false
}

// Validate checks that the command has the fields its type requires.
func (c Command) Validate() error {
	switch c.Type {
	case CmdCreate, CmdRead, CmdUpdate, CmdDelete:
		if c.Key == "" {
			return fmt.Errorf("%s requires a key", c.Type)
		}
		if !utf8.ValidString(c.Key) {
			return ErrInvalidUTF8Key
		}
		if !utf8.ValidString(c.Payload) {
			return ErrInvalidUTF8Payload
		}
	case CmdClear, CmdStats, CmdPing:
	case "":
		return errors.New("missing command type")
	default:
		return fmt.Errorf("unknown command: %s", c.Type)
	}
	return nil
}

// Request is a client request. ID correlates it with its Response.
type Request struct {
	ID      string
	Command Command
}

// Response is the server's answer to the Request with the same ID.
// Value is nil when the server returned no value.
type Response struct {
	ID       string         `json:"id"`
	Status   StatusCode     `json:"status"`
	Category StatusCategory `json:"category"`
	Message  string         `json:"message,omitempty"`
	Value    *string        `json:"value,omitempty"`
}

// OK reports whether the response belongs to the success category.
func (r *Response) OK() bool {
	return r.Category == CategorySuccess
}

// NewResponse builds a response whose category follows from status.
func NewResponse(id string, status StatusCode, message string) *Response {
	return &Response{ID: id, Status: status, Category: status.Category(), Message: message}
}

// WithValue sets the response value and returns the response.
func (r *Response) WithValue(v string) *Response {
	r.Value = &v
	return r
}

// Stats is the document returned in the value of a stats response.
type Stats struct {
	Entries    int64 `json:"entries"`
	Hits       int64 `json:"hits"`
	Misses     int64 `json:"misses"`
	DelHits    int64 `json:"del_hits"`
	DelMisses  int64 `json:"del_misses"`
	Collisions int64 `json:"collisions"`
	Expired    int64 `json:"expired"`
}

type requestRecord struct {
	ID      string      `json:"id"`
	Cmd     CommandType `json:"cmd"`
	Key     string      `json:"key,omitempty"`
	Payload string      `json:"payload,omitempty"`
	TTL     int64       `json:"ttl,omitempty"`
}

// ProtocolError reports a frame that could not be encoded or decoded.
// The offending frame is dropped; the stream itself stays usable.
type ProtocolError struct {
	Frame []byte
	Err   error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol error: %v", e.Err)
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// EncodeRequest serializes a Request into a complete frame, delimiter included.
//
// Example:
//
//	frame, err := protocol.EncodeRequest(&protocol.Request{ID: "r1", Command: protocol.NewRead("k")})
//	// frame == []byte(`{"id":"r1","cmd":"read","key":"k"}` + "\n")
//
// Returns:
//   - The frame bytes
//   - A *ProtocolError if the request is invalid or cannot be encoded
func EncodeRequest(req *Request) ([]byte, error) {
	if req.ID == "" {
		return nil, &ProtocolError{Err: errors.New("request id is empty")}
	}
	if err := req.Command.Validate(); err != nil {
		return nil, &ProtocolError{Err: err}
	}

	rec := requestRecord{
		ID:      req.ID,
		Cmd:     req.Command.Type,
		Key:     req.Command.Key,
		Payload: req.Command.Payload,
	}
	if req.Command.TTLSeconds > 0 {
		rec.TTL = req.Command.TTLSeconds
	}

	return encodeFrame(&rec)
}

// DecodeRequest parses one frame (without its delimiter) into a Request.
func DecodeRequest(frame []byte) (*Request, error) {
	var rec requestRecord
	if err := json.Unmarshal(frame, &rec); err != nil {
		return nil, &ProtocolError{Frame: frame, Err: err}
	}
	if rec.ID == "" {
		return nil, &ProtocolError{Frame: frame, Err: errors.New("request id is empty")}
	}

	return &Request{
		ID: rec.ID,
		Command: Command{
			Type:       rec.Cmd,
			Key:        rec.Key,
			Payload:    rec.Payload,
			TTLSeconds: rec.TTL,
		},
	}, nil
}

// EncodeResponse serializes a Response into a complete frame, delimiter included.
func EncodeResponse(resp *Response) ([]byte, error) {
	if resp.ID == "" {
		return nil, &ProtocolError{Err: errors.New("response id is empty")}
	}
	if resp.Value != nil && !utf8.ValidString(*resp.Value) {
		return nil, &ProtocolError{Err: ErrInvalidUTF8Value}
	}
	if resp.Category == "" {
		resp.Category = resp.Status.Category()
	}
	return encodeFrame(resp)
}

// DecodeResponse parses one frame (without its delimiter) into a Response.
// A missing category is derived from the status code.
func DecodeResponse(frame []byte) (*Response, error) {
	resp := &Response{}
	if err := json.Unmarshal(frame, resp); err != nil {
		return nil, &ProtocolError{Frame: frame, Err: err}
	}
	if resp.ID == "" {
		return nil, &ProtocolError{Frame: frame, Err: errors.New("response id is empty")}
	}
	if resp.Status == "" {
		return nil, &ProtocolError{Frame: frame, Err: errors.New("response status is empty")}
	}

	switch resp.Category {
	case CategorySuccess, CategoryError:
	case "":
		resp.Category = resp.Status.Category()
	default:
		return nil, &ProtocolError{Frame: frame, Err: fmt.Errorf("unknown status category: %s", resp.Category)}
	}

	return resp, nil
}

func encodeFrame(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, &ProtocolError{Err: err}
	}
	if bytes.IndexByte(data, Delimiter) >= 0 {
		return nil, &ProtocolError{Err: errors.New("record contains the frame delimiter")}
	}
	return append(data, Delimiter), nil
}
