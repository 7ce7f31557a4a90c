package changelog

import (
	"bytes"
	"time"

	"github.com/goccy/go-json"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

var ErrMalformedEvent = errors.New("malformed change event")

const dateLayout = "2006-01-02"

// FormatDate renders a DATE column value. Anything else that scans as a
// time is an instant and keeps its full RFC3339 form.
func FormatDate(t time.Time) string {
	return t.Format(dateLayout)
}

// NormalizeValue turns a value scanned from the change log into something
// that encodes cleanly and binds on any of the supported databases.
func NormalizeValue(v interface{}) interface{} {
	switch c := v.(type) {
	case []byte:
		return string(c)
	case time.Time:
		return c.UTC().Format(time.RFC3339Nano)
	case int:
		return int64(c)
	case int32:
		return int64(c)
	default:
		return v
	}
}

func Marshal(e ChangeEvent) ([]byte, error) {
	if len(e.Snapshot) > 0 {
		normalized := make(Snapshot, len(e.Snapshot))
		for k, v := range e.Snapshot {
			normalized[k] = NormalizeValue(v)
		}
		e.Snapshot = normalized
	}

	b, err := json.Marshal(e)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to encode %s", e)
	}

	return b, nil
}

// Unmarshal decodes an event from the wire. Numbers are kept exact: whole
// numbers become int64, anything else a decimal. Unknown actions decode
// fine; deciding what to do with them is up to the consumer.
func Unmarshal(b []byte) (ChangeEvent, error) {
	var e ChangeEvent

	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()

	if err := dec.Decode(&e); err != nil {
		return e, errors.Wrap(ErrMalformedEvent, err.Error())
	}

	if e.Sequence <= 0 || e.Action == "" {
		return e, errors.Wrapf(ErrMalformedEvent, "missing sequence or action in %s", b)
	}

	for k, v := range e.Snapshot {
		n, ok := v.(json.Number)
		if !ok {
			continue
		}

		if i, err := n.Int64(); err == nil {
			e.Snapshot[k] = i
		} else if d, err := decimal.NewFromString(n.String()); err == nil {
			e.Snapshot[k] = d
		} else {
			return e, errors.Wrapf(ErrMalformedEvent, "bad number %s for %s", n, k)
		}
	}

	return e, nil
}
