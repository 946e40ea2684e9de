package poller

import (
	"bytes"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Status is the outcome of one poll exchange.
type Status string

const (
	StatusSuccess    Status = "SUCCESS"
	StatusCommError  Status = "COMM_ERROR"
	StatusValueError Status = "VALUE_ERROR"
)

// CommErrorValue is the value carried by COMM_ERROR readings.
const CommErrorValue = "COMM_ERROR"

// Reading is the record produced for one sensor on one tick.
type Reading struct {
	Timestamp time.Time `json:"timestamp"`
	SensorID  uuid.UUID `json:"sensorId"`
	Source    string    `json:"source"`
	Status    Status    `json:"status"`
	Value     string    `json:"value"`
}

// DecodeValue turns a sensor reply into reading text. Accepted replies are a
// JSON string, number or boolean, or an object whose "value" member is one
// of those.
func DecodeValue(data []byte) (string, error) {
	v, err := decodeJSON(data)
	if err != nil {
		return "", err
	}

	if obj, ok := v.(map[string]any); ok {
		inner, present := obj["value"]
		if !present {
			return "", stderrors.New("reply object has no value field")
		}
		return scalarText(inner)
	}
	return scalarText(v)
}

func decodeJSON(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		if stderrors.Is(err, io.EOF) {
			return nil, stderrors.New("empty reply")
		}
		return nil, err
	}
	if _, err := dec.Token(); !stderrors.Is(err, io.EOF) {
		return nil, stderrors.New("unexpected data after reply value")
	}
	return v, nil
}

func scalarText(v any) (string, error) {
	switch x := v.(type) {
	case string:
		return x, nil
	case json.Number:
		return x.String(), nil
	case bool:
		return strconv.FormatBool(x), nil
	case nil:
		return "", stderrors.New("reply value is null")
	default:
		return "", fmt.Errorf("reply value of type %s is not supported", jsonKind(x))
	}
}

func jsonKind(v any) string {
	switch v.(type) {
	case []any:
		return "array"
	case map[string]any:
		return "object"
	default:
		return fmt.Sprintf("%T", v)
	}
}
