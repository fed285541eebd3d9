package listing

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// flexInt decodes JSON numbers that the source serves inconsistently as
// numbers, quoted strings, or null. Anything unparseable decodes to zero.
type flexInt int64

func (f *flexInt) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*f = 0
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			*f = 0
			return nil
		}
		data = []byte(strings.TrimSpace(s))
	}
	n, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		// Some counters arrive as floats.
		fl, ferr := strconv.ParseFloat(string(data), 64)
		if ferr != nil {
			*f = 0
			return nil
		}
		n = int64(fl)
	}
	*f = flexInt(n)
	return nil
}

func (f flexInt) String() string {
	return strconv.FormatInt(int64(f), 10)
}
