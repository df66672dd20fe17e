package forumlink

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// ID is a platform snowflake. Older config files stored ids as JSON numbers,
// so both numbers and strings are accepted on read; ids are always written as strings.
type ID string

// UnmarshalJSON implements json.Unmarshaler.
func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("decode id: %w", err)
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("decode id: %w", err)
	}
	if _, err := strconv.ParseUint(n.String(), 10, 64); err != nil {
		return fmt.Errorf("decode id %s: not a snowflake", n.String())
	}
	*id = ID(n.String())
	return nil
}

// String returns the id as a plain string.
func (id ID) String() string {
	return string(id)
}

// Contains reports whether ids holds id.
func Contains(ids []ID, id ID) bool {
	for _, x := range ids {
		if x == id {
			return true
		}
	}
	return false
}

// IDs converts plain strings to ids.
func IDs(ss ...string) []ID {
	out := make([]ID, 0, len(ss))
	for _, s := range ss {
		out = append(out, ID(s))
	}
	return out
}
