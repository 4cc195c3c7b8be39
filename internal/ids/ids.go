// Package ids normalizes Rumble identifiers. Stream IDs appear in two
// equivalent encodings, base 10 and base 36, depending on the surface that
// produced them; user, channel, and message IDs arrive over the wire as
// either JSON numbers or base-10 numeric strings.
package ids

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// StreamID identifies a single live stream / chat room. The zero value is
// not a valid stream.
type StreamID int64

// FromB10 builds a StreamID from its base-10 form.
func FromB10(n int64) StreamID { return StreamID(n) }

// FromB36 parses the base-36 form ("v2gedq" style, digits and lowercase
// letters).
func FromB36(s string) (StreamID, error) {
	if s == "" {
		return 0, fmt.Errorf("empty stream id")
	}
	// ParseInt also takes uppercase; the stream alphabet does not.
	for _, r := range s {
		if (r < '0' || r > '9') && (r < 'a' || r > 'z') {
			return 0, fmt.Errorf("invalid base-36 stream id %q", s)
		}
	}
	n, err := strconv.ParseInt(s, 36, 64)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid base-36 stream id %q", s)
	}
	return StreamID(n), nil
}

// Parse accepts either encoding. A string of digits is ambiguous; as with
// the upstream surfaces, string input is assumed base 36. Pass base-10
// values through FromB10.
func Parse(s string) (StreamID, error) {
	return FromB36(s)
}

// B10 is the numeric encoding, used by the chat API endpoints.
func (id StreamID) B10() int64 { return int64(id) }

// B36 is the radix-36 encoding, used in page URLs and embeds.
func (id StreamID) B36() string {
	return strconv.FormatInt(int64(id), 36)
}

func (id StreamID) String() string { return id.B36() }

// ID is a numeric identifier that tolerates the wire's habit of sending the
// same field as a number in one payload and a base-10 string in another.
type ID int64

// UnmarshalJSON accepts a JSON number or a base-10 numeric string.
func (id *ID) UnmarshalJSON(b []byte) error {
	if len(b) == 0 {
		return fmt.Errorf("empty id")
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return fmt.Errorf("id %q is not base-10 numeric", s)
		}
		*id = ID(n)
		return nil
	}
	var n int64
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*id = ID(n)
	return nil
}

func (id ID) Int64() int64 { return int64(id) }
