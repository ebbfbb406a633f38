package update

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Status is the body returned by the update status endpoint.
//
// The endpoint has served "latest" both as a number and as a numeric
// string, so the raw value is kept and decoded on demand.
type Status struct {
	Latest json.RawMessage `json:"latest"`
}

// LatestEpoch returns the announced update time in Unix seconds. ok is
// false when the endpoint did not announce one (missing, null or empty).
func (s Status) LatestEpoch() (epoch int64, ok bool, err error) {
	raw := bytes.TrimSpace(s.Latest)
	if len(raw) == 0 || string(raw) == "null" {
		return 0, false, nil
	}
	text := string(raw)
	if raw[0] == '"' {
		if text, err = strconv.Unquote(text); err != nil {
			return 0, false, fmt.Errorf("%w: latest: %v", ErrMalformedStatus, err)
		}
		text = strings.TrimSpace(text)
		if text == "" {
			return 0, false, nil
		}
	}
	epoch, err = strconv.ParseInt(text, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("%w: latest: %v", ErrMalformedStatus, err)
	}
	return epoch, true, nil
}
