package agentcli

import (
	"bufio"
	"context"
	"errors"
	"io"
	"strings"
	"sync"

	"pkt.systems/parley/schema"
	"pkt.systems/pslog"
)

// combinedStream merges the process's JSONL stdout with stderr lines.
// Stderr lines surface as error events; a line of malformed JSON on stdout
// is isolated the same way so one bad line never kills the stream.
type combinedStream struct {
	events chan schema.AgentEvent
	errMu  sync.Mutex
	err    error
	wg     sync.WaitGroup
	log    pslog.Logger
}

func newCombinedStream(ctx context.Context, stdout io.Reader, stderr io.Reader) *combinedStream {
	stream := &combinedStream{
		events: make(chan schema.AgentEvent, 256),
		log:    pslog.Ctx(ctx),
	}
	stream.wg.Add(2)
	go stream.readJSON(ctx, stdout)
	go stream.readStderr(ctx, stderr)
	go func() {
		stream.wg.Wait()
		close(stream.events)
	}()
	return stream
}

func (s *combinedStream) readJSON(ctx context.Context, reader io.Reader) {
	defer s.wg.Done()
	jsonStream := newJSONLStream(reader)
	for {
		event, err := jsonStream.Next(ctx)
		if err != nil {
			var decodeErr *jsonlDecodeError
			if errors.As(err, &decodeErr) {
				line := strings.TrimSpace(string(decodeErr.Line()))
				if line != "" {
					if s.log != nil {
						preview := previewText(line, 200)
						s.log.Warn("agent jsonl decode failed", "preview", preview, "truncated", len(preview) < len(line), "err", err)
					}
					if !s.send(ctx, schema.AgentEvent{Type: schema.AgentError, Message: line}) {
						return
					}
					continue
				}
			}
			if !errors.Is(err, io.EOF) && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
				if s.log != nil {
					s.log.Warn("agent jsonl stream error", "err", err)
				}
				s.setErr(err)
			}
			return
		}
		if !s.send(ctx, event) {
			return
		}
	}
}

func (s *combinedStream) readStderr(ctx context.Context, reader io.Reader) {
	defer s.wg.Done()
	scanner := bufio.NewScanner(reader)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024)
	count := 0
	for scanner.Scan() {
		text := scanner.Text()
		if text == "" {
			continue
		}
		count++
		if s.log != nil {
			preview := previewText(text, 200)
			s.log.Trace("agent stderr", "text_len", len(text), "preview", preview, "truncated", len(preview) < len(text))
		}
		if !s.send(ctx, schema.AgentEvent{Type: schema.AgentError, Message: text}) {
			return
		}
	}
	if err := scanner.Err(); err != nil {
		if s.log != nil {
			s.log.Warn("agent stderr read failed", "err", err)
		}
		s.setErr(err)
	}
	if count > 0 && s.log != nil {
		s.log.Debug("agent stderr completed", "lines", count)
	}
}

// send delivers one event unless the consumer is gone. Without the
// cancellation escape a full channel would park the producer forever once the
// session stops draining after an interrupt.
func (s *combinedStream) send(ctx context.Context, event schema.AgentEvent) bool {
	select {
	case s.events <- event:
		return true
	case <-ctx.Done():
		return false
	}
}

func (s *combinedStream) setErr(err error) {
	if err == nil {
		return
	}
	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

func (s *combinedStream) Next(ctx context.Context) (schema.AgentEvent, error) {
	select {
	case <-ctx.Done():
		return schema.AgentEvent{}, ctx.Err()
	case event, ok := <-s.events:
		if ok {
			return event, nil
		}
		s.errMu.Lock()
		err := s.err
		s.errMu.Unlock()
		if err != nil {
			return schema.AgentEvent{}, err
		}
		return schema.AgentEvent{}, io.EOF
	}
}

func (s *combinedStream) Close() error {
	return nil
}

func previewText(value string, max int) string {
	if max <= 0 || len(value) <= max {
		return value
	}
	return value[:max]
}
