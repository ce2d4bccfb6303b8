// internal/sink/ingest/client.go
package ingest

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/tamzrod/crate-readout/internal/readout"
)

const (
	magicHi byte = 0x52 // 'R'
	magicLo byte = 0x45 // 'E'

	versionV1 byte = 0x01

	flagSync byte = 0x01

	respOK       byte = 0x00
	respRejected byte = 0x01
)

// HeaderLen is the size of the event packet header.
const HeaderLen = 12

var ErrRejected = errors.New("sink ingest: rejected")

// Client ships events to an event builder.
// Stateless: 1 event = 1 connection.
type Client struct {
	endpoint string
	timeout  time.Duration
}

type Config struct {
	Endpoint string
	Timeout  time.Duration
}

func NewClient(cfg Config) (*Client, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("sink ingest: endpoint required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Second
	}
	return &Client{
		endpoint: cfg.Endpoint,
		timeout:  cfg.Timeout,
	}, nil
}

func (c *Client) Close() error { return nil }

// Emit implements readout.Sink.
func (c *Client) Emit(ev readout.Event) error {
	return c.Send(uint32(ev.Seq), ev.Sync, ev.Words)
}

// Send delivers one framed event and waits for the builder's verdict.
func (c *Client) Send(seq uint32, sync bool, words []uint32) error {
	pkt := BuildPacket(seq, sync, words)

	conn, err := net.DialTimeout("tcp", c.endpoint, c.timeout)
	if err != nil {
		return fmt.Errorf("sink ingest: dial: %w", err)
	}
	defer conn.Close()

	_ = conn.SetWriteDeadline(time.Now().Add(c.timeout))
	if err := writeAll(conn, pkt); err != nil {
		return fmt.Errorf("sink ingest: write: %w", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(c.timeout))
	var resp [1]byte
	if _, err := io.ReadFull(conn, resp[:]); err != nil {
		return fmt.Errorf("sink ingest: read status: %w", err)
	}

	switch resp[0] {
	case respOK:
		return nil
	case respRejected:
		return fmt.Errorf("%w: seq %d", ErrRejected, seq)
	default:
		return fmt.Errorf("sink ingest: unknown status 0x%02x", resp[0])
	}
}

//
// ---- Event packet v1 (LOCKED) ----
//
// Layout (12 bytes header):
// 0–1   Magic "RE"
// 2     Version (0x01)
// 3     Flags (bit0 = sync event)
// 4–7   Sequence
// 8–11  Word count
// 12+   Words, big-endian
//

func BuildPacket(seq uint32, sync bool, words []uint32) []byte {
	pkt := make([]byte, HeaderLen, HeaderLen+4*len(words))

	pkt[0] = magicHi
	pkt[1] = magicLo
	pkt[2] = versionV1
	if sync {
		pkt[3] = flagSync
	}
	binary.BigEndian.PutUint32(pkt[4:8], seq)
	binary.BigEndian.PutUint32(pkt[8:12], uint32(len(words)))

	for _, w := range words {
		pkt = binary.BigEndian.AppendUint32(pkt, w)
	}
	return pkt
}

// Header is a decoded packet header.
type Header struct {
	Sync  bool
	Seq   uint32
	Words uint32
}

// ParseHeader decodes and checks a packet header.
func ParseHeader(b []byte) (Header, error) {
	if len(b) < HeaderLen {
		return Header{}, fmt.Errorf("sink ingest: short header: %d bytes", len(b))
	}
	if b[0] != magicHi || b[1] != magicLo {
		return Header{}, errors.New("sink ingest: bad magic")
	}
	if b[2] != versionV1 {
		return Header{}, fmt.Errorf("sink ingest: unsupported version 0x%02x", b[2])
	}
	return Header{
		Sync:  b[3]&flagSync != 0,
		Seq:   binary.BigEndian.Uint32(b[4:8]),
		Words: binary.BigEndian.Uint32(b[8:12]),
	}, nil
}

//
// ---- helpers ----
//

func writeAll(w io.Writer, b []byte) error {
	for len(b) > 0 {
		n, err := w.Write(b)
		if err != nil {
			return err
		}
		b = b[n:]
	}
	return nil
}

var _ readout.Sink = (*Client)(nil)
