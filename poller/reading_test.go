package poller

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDecodeValue(t *testing.T) {
	tests := []struct {
		name    string
		reply   string
		want    string
		wantErr bool
	}{
		{name: "string", reply: `"42.17"`, want: "42.17"},
		{name: "empty string", reply: `""`, want: ""},
		{name: "integer", reply: `42`, want: "42"},
		{name: "float keeps literal", reply: `3.140`, want: "3.140"},
		{name: "exponent", reply: `1e3`, want: "1e3"},
		{name: "negative", reply: `-7.5`, want: "-7.5"},
		{name: "bool true", reply: `true`, want: "true"},
		{name: "bool false", reply: `false`, want: "false"},
		{name: "surrounding space", reply: " \"ok\"\n", want: "ok"},
		{name: "firmware object number", reply: `{"value": 20.25}`, want: "20.25"},
		{name: "firmware object string", reply: `{"value": "on", "unit": "state"}`, want: "on"},
		{name: "firmware object bool", reply: `{"value": false}`, want: "false"},
		{name: "null", reply: `null`, wantErr: true},
		{name: "array", reply: `[1,2]`, wantErr: true},
		{name: "object without value", reply: `{"reading": 1}`, wantErr: true},
		{name: "object with nested value", reply: `{"value": {"x": 1}}`, wantErr: true},
		{name: "object with null value", reply: `{"value": null}`, wantErr: true},
		{name: "malformed", reply: `{"value":`, wantErr: true},
		{name: "bare word", reply: `hello`, wantErr: true},
		{name: "empty", reply: ``, wantErr: true},
		{name: "trailing data", reply: `1 2`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeValue([]byte(tt.reply))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
