package stream

import (
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameReader(t *testing.T) {
	input := ": keepalive\n" +
		"id: e1\n" +
		"event: update\n" +
		"data: {\"a\":\n" +
		"data: 1}\n" +
		"\n" +
		"retry: 2500\r\n" +
		"data:no-space\r\n" +
		"\r\n" +
		"event: empty\n" +
		"\n" +
		"data: partial"

	fr := newFrameReader(strings.NewReader(input))

	f, err := fr.Next()
	require.NoError(t, err)
	assert.Equal(t, "e1", f.ID)
	assert.Equal(t, "{\"a\":\n1}", f.Data)
	assert.Equal(t, -1, f.Retry)

	f, err = fr.Next()
	require.NoError(t, err)
	assert.Equal(t, "no-space", f.Data)
	assert.Equal(t, 2500, f.Retry)

	// The data-less event is skipped and the trailing partial event is
	// never dispatched.
	_, err = fr.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestFrameReaderLineTooLong(t *testing.T) {
	input := "data: " + strings.Repeat("x", maxLineSize+1) + "\n\n"
	_, err := newFrameReader(strings.NewReader(input)).Next()
	require.Error(t, err)
	assert.NotErrorIs(t, err, io.EOF)
}

func TestParseEvent(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		kind    Kind
		wantErr bool
	}{
		{name: "message", data: `{"@type":"Message","id":"m1","subject":"hi"}`, kind: KindMessage},
		{name: "account", data: `{"@type":"Account","id":"acc","used":10}`, kind: KindAccount},
		{name: "unknown type", data: `{"@type":"Quota"}`, kind: KindUnknown},
		{name: "no type", data: `{"id":"x"}`, kind: KindUnknown},
		{name: "message without id", data: `{"@type":"Message"}`, kind: KindUnknown},
		{name: "not json", data: `hello`, wantErr: true},
		{name: "array", data: `[1,2]`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := ParseEvent([]byte(tt.data))
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.kind, ev.Kind)
			assert.Equal(t, tt.kind == KindMessage, ev.Message != nil)
		})
	}
}

func TestParseEventMessageFields(t *testing.T) {
	ev, err := ParseEvent([]byte(`{"@type":"Message","id":"m1","subject":"Welcome","from":{"name":"Bob","address":"bob@example.com"},"seen":true}`))
	require.NoError(t, err)
	require.NotNil(t, ev.Message)
	assert.Equal(t, "m1", ev.Message.ID)
	assert.Equal(t, "Welcome", ev.Message.Subject)
	assert.Equal(t, "bob@example.com", ev.Message.From.Address)
	assert.True(t, ev.Message.Seen)
}

func TestFrameReaderRetryWithoutData(t *testing.T) {
	input := "retry: 700\n\n" +
		"id: e2\n" +
		"data: x\n\n"

	f, err := newFrameReader(strings.NewReader(input)).Next()
	require.NoError(t, err)
	assert.Equal(t, "e2", f.ID)
	assert.Equal(t, 700, f.Retry)
}
