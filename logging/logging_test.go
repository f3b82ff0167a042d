package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/n0needt0/go-goodies/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lastMessage(t *testing.T, buf *bytes.Buffer) string {
	t.Helper()
	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	var rec log.Record
	require.NoError(t, json.Unmarshal(lines[len(lines)-1], &rec))
	return rec.Message
}

func TestInfofToFormatsEveryArgument(t *testing.T) {
	var buf bytes.Buffer
	l := log.New(&buf)

	InfofTo(l, "Connecting to receiver %s (attempt %d)", "127.0.0.1:1", 1)
	assert.Equal(t, "Connecting to receiver 127.0.0.1:1 (attempt 1)", lastMessage(t, &buf))

	InfofTo(l, "Receiver %s closed the connection (%d bytes pending)", "127.0.0.1:45017", 0)
	assert.Equal(t, "Receiver 127.0.0.1:45017 closed the connection (0 bytes pending)", lastMessage(t, &buf))

	InfofTo(l, "no args")
	assert.Equal(t, "no args", lastMessage(t, &buf))
}

func TestLibraryInfofMangledMultipleArgs(t *testing.T) {
	var buf bytes.Buffer
	l := log.New(&buf)

	l.Infof("Connecting to receiver %s (attempt %d)", "127.0.0.1:1", 1)
	assert.NotEqual(t, "Connecting to receiver 127.0.0.1:1 (attempt 1)", lastMessage(t, &buf))
}
