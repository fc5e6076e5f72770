// Package wompi talks to the Wompi payment provider: it parses and verifies pushed events,
// fetches transactions by id and signs checkout widget parameters.
package wompi

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

const EventTransactionUpdated = "transaction.updated"

var ErrMalformedEvent = errors.New("wompi: malformed event")

// Event is the envelope Wompi pushes to the webhook endpoint.
type Event struct {
	Event       string          `json:"event"`
	Data        json.RawMessage `json:"data"`
	Environment string          `json:"environment"`
	Signature   Signature       `json:"signature"`
	Timestamp   json.RawMessage `json:"timestamp"`
	SentAt      string          `json:"sent_at"`
}

type Signature struct {
	Checksum   string   `json:"checksum"`
	Properties []string `json:"properties"`
}

func ParseEvent(body []byte) (*Event, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, fmt.Errorf("%w: empty body", ErrMalformedEvent)
	}
	var event Event
	if err := json.Unmarshal(body, &event); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	return &event, nil
}

// Transaction decodes data.transaction. It returns a nil transaction when the event carries none.
func (e *Event) Transaction() (*Transaction, error) {
	if e == nil || len(e.Data) == 0 {
		return nil, nil
	}
	var data struct {
		Transaction json.RawMessage `json:"transaction"`
	}
	if err := json.Unmarshal(e.Data, &data); err != nil {
		return nil, fmt.Errorf("%w: data: %v", ErrMalformedEvent, err)
	}
	if len(data.Transaction) == 0 || string(data.Transaction) == "null" {
		return nil, nil
	}
	txn, err := decodeTransaction(data.Transaction)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	return txn, nil
}

// TimestampText is the timestamp exactly as it participates in the checksum.
func (e *Event) TimestampText() string {
	if e == nil {
		return ""
	}
	return stringifyRaw(e.Timestamp)
}

// resolve walks a dotted path such as "transaction.amount_in_cents" through data.
// Any missing segment resolves to an empty string.
func resolvePath(tree any, path string) string {
	current := tree
	for _, key := range strings.Split(path, ".") {
		object, ok := current.(map[string]any)
		if !ok {
			return ""
		}
		current, ok = object[key]
		if !ok {
			return ""
		}
	}
	return stringify(current)
}

func (e *Event) dataTree() (any, error) {
	if len(e.Data) == 0 {
		return nil, nil
	}
	decoder := json.NewDecoder(bytes.NewReader(e.Data))
	decoder.UseNumber()
	var tree any
	if err := decoder.Decode(&tree); err != nil {
		return nil, fmt.Errorf("%w: data: %v", ErrMalformedEvent, err)
	}
	return tree, nil
}

func stringify(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case json.Number:
		return v.String()
	case bool:
		if v {
			return "true"
		}
		return "false"
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return string(encoded)
	}
}

func stringifyRaw(raw json.RawMessage) string {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || string(trimmed) == "null" {
		return ""
	}
	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err == nil {
			return s
		}
	}
	return string(trimmed)
}
