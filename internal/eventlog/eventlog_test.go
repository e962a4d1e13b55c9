package eventlog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var sample = Record{
	Timestamp: time.Date(2024, 7, 1, 13, 45, 9, 0, time.UTC),
	RunID:     "run-1",
	EventType: Close,
	Symbol:    "AAPL",
	Price:     101,
	Quantity:  2,
	PnL:       -4.0,
	Reason:    "STOP_LOSS",
}

func TestRecordLine(t *testing.T) {
	assert.Equal(t,
		"[2024-07-01 13:45:09] CLOSE symbol=AAPL price=101.0000 quantity=2.000000 pnl=-4.0000 reason=STOP_LOSS",
		sample.Line())
}

func TestFileSinkJSONKeys(t *testing.T) {
	var buf bytes.Buffer
	sink := NewWriterSink(&buf, FormatJSON)
	require.NoError(t, sink.Write(context.Background(), sample))

	var payload map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &payload))
	for _, key := range []string{"timestamp", "event_type", "symbol", "price", "quantity", "pnl", "reason"} {
		assert.Contains(t, payload, key)
	}
	assert.Equal(t, "CLOSE", payload["event_type"])
}

func TestFileSinkAppendsText(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.log")
	for i := 0; i < 2; i++ {
		sink, err := OpenFile(path, FormatText)
		require.NoError(t, err)
		require.NoError(t, sink.Write(context.Background(), sample))
		require.NoError(t, sink.Close())
	}

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, sample.Line(), lines[1])
}

type failingSink struct{ err error }

func (f failingSink) Write(context.Context, Record) error { return f.err }
func (f failingSink) Close() error                        { return nil }

func TestMultiContinuesPastFailures(t *testing.T) {
	var buf bytes.Buffer
	boom := errors.New("boom")
	multi := Multi{failingSink{err: boom}, NewWriterSink(&buf, FormatText)}

	err := multi.Write(context.Background(), sample)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, buf.String(), "reason=STOP_LOSS")
	assert.NoError(t, multi.Close())
}

type recordingWriter struct {
	msgs   []kafka.Message
	closed bool
}

func (w *recordingWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *recordingWriter) Close() error {
	w.closed = true
	return nil
}

func TestKafkaSinkKeysBySymbol(t *testing.T) {
	writer := &recordingWriter{}
	sink := &KafkaSink{writer: writer}

	require.NoError(t, sink.Write(context.Background(), sample))
	require.Len(t, writer.msgs, 1)
	assert.Equal(t, "AAPL", string(writer.msgs[0].Key))

	var rec Record
	require.NoError(t, json.Unmarshal(writer.msgs[0].Value, &rec))
	assert.Equal(t, sample, rec)

	require.NoError(t, sink.Close())
	assert.True(t, writer.closed)
}
