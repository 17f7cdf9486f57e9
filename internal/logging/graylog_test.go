package logging

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGraylogHandler_SendsGELF(t *testing.T) {
	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer conn.Close()

	h, closer, err := NewGraylogHandler(conn.LocalAddr().String(), "info")
	require.NoError(t, err)
	defer closer.Close()

	slog.New(h).Info("vessel put on rails", "vessel", "buddy")

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	buf := make([]byte, 8192)
	n, _, err := conn.ReadFrom(buf)
	require.NoError(t, err)

	zr, err := gzip.NewReader(bytes.NewReader(buf[:n]))
	require.NoError(t, err)
	raw, err := io.ReadAll(zr)
	require.NoError(t, err)

	var msg map[string]any
	require.NoError(t, json.Unmarshal(raw, &msg))
	assert.Contains(t, msg["short_message"], "vessel put on rails")
}

func TestGraylogHandler_BadAddress(t *testing.T) {
	_, _, err := NewGraylogHandler("not-an-address", "info")
	assert.Error(t, err)
}
