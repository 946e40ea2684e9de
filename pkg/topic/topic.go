// Package topic converts MQTT topic names into NATS subjects using the same
// mapping the NATS server applies to MQTT clients, so a sensor speaking MQTT
// and a provider speaking NATS address the same logical topic.
package topic

import (
	"fmt"
	"strings"

	"github.com/jclmnop/distributed-iiot-poc/errors"
)

// IsMQTT reports whether name looks like a slash-delimited MQTT topic.
func IsMQTT(name string) bool {
	return strings.Contains(name, "/")
}

// MQTTToNATS converts an MQTT topic or topic filter to a NATS subject.
//
//	foo/bar   -> foo.bar
//	/foo/bar  -> /.foo.bar
//	foo//bar  -> foo./.bar
//	foo/bar/  -> foo.bar./
//	a.b/c     -> a//b.c
//	+/#       -> *.>
func MQTTToNATS(mqtt string) (string, error) {
	if mqtt == "" {
		return "", errors.WrapInvalid(errors.ErrInvalidTopic, "topic", "MQTTToNATS", "convert empty topic")
	}

	res := make([]byte, 0, len(mqtt)+4)
	for i := 0; i < len(mqtt); i++ {
		switch c := mqtt[i]; c {
		case '/':
			switch {
			// Leading level, or a level following an empty one.
			case i == 0 || res[len(res)-1] == '.':
				res = append(res, '/', '.')
			// Trailing level, or followed by an empty one.
			case i == len(mqtt)-1 || mqtt[i+1] == '/':
				res = append(res, '.', '/')
			default:
				res = append(res, '.')
			}
		case '.':
			res = append(res, '/', '/')
		case '+':
			res = append(res, '*')
		case '#':
			res = append(res, '>')
		case ' ', '\t', '\n', '\r':
			return "", errors.WrapInvalid(
				fmt.Errorf("%w: whitespace in %q", errors.ErrInvalidTopic, mqtt),
				"topic", "MQTTToNATS", "convert topic")
		default:
			res = append(res, c)
		}
	}
	if res[len(res)-1] == '.' {
		res = append(res, '/')
	}
	return string(res), nil
}

// Normalize returns name unchanged unless it is an MQTT topic, in which case
// it is converted.
func Normalize(name string) (string, error) {
	if !IsMQTT(name) {
		return name, nil
	}
	return MQTTToNATS(name)
}
