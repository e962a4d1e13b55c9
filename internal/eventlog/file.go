package eventlog

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
)

type Format string

const (
	FormatJSON Format = "json"
	FormatText Format = "text"
)

// FileSink appends one record per line and flushes after every write so a
// crash loses at most the record being written.
type FileSink struct {
	format Format
	closer io.Closer
	writer *bufio.Writer
	mu     sync.Mutex
}

func OpenFile(path string, format Format) (*FileSink, error) {
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open event log %s: %w", path, err)
	}
	return NewWriterSink(file, format), nil
}

// NewWriterSink wraps w; Close closes w when it is an io.Closer.
func NewWriterSink(w io.Writer, format Format) *FileSink {
	sink := &FileSink{format: format, writer: bufio.NewWriter(w)}
	if c, ok := w.(io.Closer); ok {
		sink.closer = c
	}
	return sink
}

func (s *FileSink) Write(_ context.Context, rec Record) error {
	var line []byte
	switch s.format {
	case FormatText:
		line = []byte(rec.Line())
	default:
		payload, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("marshal event: %w", err)
		}
		line = payload
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.writer.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	if err := s.writer.Flush(); err != nil {
		return fmt.Errorf("flush event log: %w", err)
	}
	return nil
}

func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.writer.Flush()
	if s.closer != nil {
		if cerr := s.closer.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
