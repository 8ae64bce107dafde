package collector

import (
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/dshills/rumbeacon/internal/beacon"
)

// Record is one received beacon.
type Record struct {
	ID        int64           `json:"id"`
	Received  time.Time       `json:"received"`
	Client    string          `json:"client"`
	Transport string          `json:"transport"`
	PageID    string          `json:"pageId,omitempty"`
	URL       string          `json:"url,omitempty"`
	Initiator string          `json:"initiator,omitempty"`
	Data      json.RawMessage `json:"data"`
}

// Var looks up a beacon variable by its wire name.
func (r Record) Var(name string) gjson.Result {
	return gjson.GetBytes(r.Data, escapePath(name))
}

// Decode turns wire parameters into a record. Values in JSURL notation are
// expanded into JSON objects and arrays; every other value is kept as the
// string that was sent.
func Decode(values url.Values) (Record, error) {
	if len(values) == 0 {
		return Record{}, ErrEmptyBeacon
	}
	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)

	data := []byte("{}")
	for _, name := range names {
		raw := values.Get(name)
		var err error
		if strings.HasPrefix(raw, "~(") {
			v, perr := beacon.ParseJSURL(raw)
			if perr != nil {
				return Record{}, fmt.Errorf("%w: %s: %v", ErrBadBeacon, name, perr)
			}
			data, err = sjson.SetBytes(data, escapePath(name), v)
		} else {
			data, err = sjson.SetBytes(data, escapePath(name), raw)
		}
		if err != nil {
			return Record{}, fmt.Errorf("%w: %s: %v", ErrBadBeacon, name, err)
		}
	}

	return Record{
		PageID:    values.Get(beacon.VarPageID),
		URL:       values.Get(beacon.VarURL),
		Initiator: values.Get(beacon.VarInitiator),
		Data:      data,
	}, nil
}

// escapePath quotes the characters gjson and sjson treat as path syntax.
// Beacon variable names such as "vis.st" contain dots.
func escapePath(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch r {
		case '.', '*', '?', '|', '#', '@', '\\', ':', '!', '=', '<', '>', '%':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
