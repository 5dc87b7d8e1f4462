package session

import (
	"fmt"

	"github.com/gorilla/websocket"
	"github.com/klauspost/compress/zstd"

	"github.com/dgnsrekt/oddsfeed-client/internal/feed"
)

// maxDecodedSize bounds a single decompressed frame.
const maxDecodedSize = 4 << 20

// Decoder turns websocket frames into feed messages. Text frames carry a plain
// JSON envelope; binary frames carry a zstd-compressed one.
type Decoder struct {
	zstdDecoder *zstd.Decoder
}

// NewDecoder creates a Decoder. It is safe for concurrent use.
func NewDecoder() (*Decoder, error) {
	dec, err := zstd.NewReader(nil,
		zstd.WithDecoderConcurrency(1),
		zstd.WithDecoderMaxMemory(maxDecodedSize),
	)
	if err != nil {
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	return &Decoder{zstdDecoder: dec}, nil
}

// Decode parses one frame of the given websocket message type.
func (d *Decoder) Decode(messageType int, data []byte) (feed.Message, error) {
	switch messageType {
	case websocket.TextMessage:
		return feed.DecodeEnvelope(data)
	case websocket.BinaryMessage:
		raw, err := d.zstdDecoder.DecodeAll(data, nil)
		if err != nil {
			return nil, fmt.Errorf("decompress frame: %w", err)
		}
		return feed.DecodeEnvelope(raw)
	default:
		return nil, fmt.Errorf("unsupported frame type %d", messageType)
	}
}

// Close releases the decoder's resources.
func (d *Decoder) Close() {
	if d.zstdDecoder != nil {
		d.zstdDecoder.Close()
	}
}
