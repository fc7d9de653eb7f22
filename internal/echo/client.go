package echo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/willibrandon/pipekit/internal/pipe"
)

// ErrEmptyPayload is returned by Exchange when there is nothing to send.
var ErrEmptyPayload = errors.New("empty payload")

// DefaultExchangeTimeout bounds Exchange when no timeout is given.
const DefaultExchangeTimeout = 30 * time.Second

// ExchangeOptions tunes Exchange.
type ExchangeOptions struct {
	PollInterval time.Duration
	Timeout      time.Duration
}

// Exchange opens name as a client, writes payload, and collects the reply
// until it is at least as long as payload. The payload goes out in
// pipe.BufferSize chunks and each chunk's echo is read before the next is
// written, so a payload larger than the OS buffers cannot wedge the server's
// flush against this write. The client never flushes; the server's flush is
// what paces the exchange.
func Exchange(ctx context.Context, name string, payload []byte, opts ExchangeOptions) ([]byte, error) {
	if len(payload) == 0 {
		return nil, ErrEmptyPayload
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultExchangeTimeout
	}

	ch, err := pipe.New(name)
	if err != nil {
		return nil, err
	}
	if err := ch.OpenClient(); err != nil {
		return nil, err
	}
	defer ch.Close()

	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	reply := make([]byte, 0, len(payload))
	for sent := 0; sent < len(payload); {
		end := min(sent+pipe.BufferSize, len(payload))
		if err := ch.Write(payload[sent:end]); err != nil {
			return reply, err
		}
		sent = end

		for len(reply) < sent {
			if _, err := pipe.WaitAvailable(ctx, ch, opts.PollInterval); err != nil {
				return reply, fmt.Errorf("waiting for reply (%d of %d bytes): %w", len(reply), len(payload), err)
			}
			data, err := ch.ReadAvailable()
			if err != nil {
				return reply, err
			}
			reply = append(reply, data...)
		}
	}
	return reply, nil
}

// Peek opens name as a client and reports how many bytes are waiting for it.
// Against an echo server the answer is normally zero since the server only
// writes after reading.
func Peek(name string) (int, error) {
	ch, err := pipe.New(name)
	if err != nil {
		return 0, err
	}
	if err := ch.OpenClient(); err != nil {
		return 0, err
	}
	defer ch.Close()
	return ch.PeekAvailable(), nil
}
