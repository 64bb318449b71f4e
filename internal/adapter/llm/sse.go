package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"docchat/internal/domain"
)

// maxSSELine bounds a single data line; tool inputs can be large.
const maxSSELine = 4 * 1024 * 1024

// parseSSEStream reads "data: <chunk JSON>" lines from body and converts each
// into a Chunk. "[DONE]" ends the stream. Lines that do not decode are logged
// and skipped. A read error, or a body that ends before "[DONE]", is
// delivered as a final event carrying Err. The
// returned channel is closed when the stream ends or ctx is cancelled.
func parseSSEStream(ctx context.Context, body io.ReadCloser, logger *slog.Logger) <-chan domain.StreamEvent[domain.Chunk] {
	ch := make(chan domain.StreamEvent[domain.Chunk])
	go func() {
		defer close(ch)
		defer body.Close()

		send := func(ev domain.StreamEvent[domain.Chunk]) bool {
			select {
			case ch <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		}

		scanner := bufio.NewScanner(body)
		scanner.Buffer(make([]byte, 0, 64*1024), maxSSELine)
		for scanner.Scan() {
			line := scanner.Bytes()

			// Skip empty lines, comments and non-data fields.
			if len(line) == 0 || line[0] == ':' || !bytes.HasPrefix(line, []byte("data:")) {
				continue
			}
			data := bytes.TrimSpace(bytes.TrimPrefix(line, []byte("data:")))

			if bytes.Equal(data, []byte("[DONE]")) {
				return
			}

			chunk, err := decodeChunk(data)
			if err != nil {
				logger.Warn("sse line skipped", "error", err)
				continue
			}
			if !send(domain.StreamEvent[domain.Chunk]{Value: chunk}) {
				return
			}
		}
		if ctx.Err() != nil {
			return
		}
		if err := scanner.Err(); err != nil {
			send(domain.StreamEvent[domain.Chunk]{Err: fmt.Errorf("%w: read stream: %w", domain.ErrUpstream, err)})
			return
		}
		send(domain.StreamEvent[domain.Chunk]{Err: fmt.Errorf("%w: stream ended without [DONE]: %w", domain.ErrUpstream, io.ErrUnexpectedEOF)})
	}()
	return ch
}

func decodeChunk(data []byte) (domain.Chunk, error) {
	var env domain.ChunkEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode chunk: %w", err)
	}
	return env.Decode()
}
