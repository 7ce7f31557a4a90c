// Package changelog holds the change event that travels from the log tailer
// to the apply engine and its wire encoding.
package changelog

import (
	"fmt"
	"strconv"
	"strings"

	"bigcartel/trickle/consts"

	"github.com/go-faster/city"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

type Action string

const (
	Create Action = consts.CreateAction
	Update Action = consts.UpdateAction
	Delete Action = consts.DeleteAction
)

// ParseAction accepts both the trigger's statement names and the event
// vocabulary, ignoring case.
func ParseAction(s string) (Action, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "insert", consts.CreateAction:
		return Create, true
	case consts.UpdateAction:
		return Update, true
	case consts.DeleteAction:
		return Delete, true
	default:
		return Action(s), false
	}
}

func (a Action) Valid() bool {
	return a == Create || a == Update || a == Delete
}

type Snapshot map[string]interface{}

// Values returns the snapshot values in column order, nil for attributes
// the snapshot doesn't carry.
func (s Snapshot) Values(columns []string) []interface{} {
	values := make([]interface{}, len(columns))
	for i, c := range columns {
		values[i] = s[c]
	}

	return values
}

// Checksum hashes the snapshot the way it looks on the wire, so the tailer
// and the apply engine log the same value for the same event.
func (s Snapshot) Checksum() uint64 {
	keys := maps.Keys(s)
	slices.Sort(keys)

	var b strings.Builder
	for _, k := range keys {
		b.WriteString(k)
		b.WriteByte('=')

		if v := NormalizeValue(s[k]); v != nil {
			b.WriteString(fmt.Sprintf("%v", v))
		}

		b.WriteByte(';')
	}

	return city.CH64([]byte(b.String()))
}

type ChangeEvent struct {
	Sequence  int64    `json:"sequence"`
	EntityKey int64    `json:"entity_key"`
	Action    Action   `json:"action"`
	Snapshot  Snapshot `json:"snapshot,omitempty"`
}

// PartitionKey is the channel routing key, the entity key in decimal.
func (e ChangeEvent) PartitionKey() []byte {
	return strconv.AppendInt(nil, e.EntityKey, 10)
}

func (e ChangeEvent) String() string {
	return fmt.Sprintf("%s key=%d seq=%d", e.Action, e.EntityKey, e.Sequence)
}
