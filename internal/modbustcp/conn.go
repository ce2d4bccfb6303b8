// internal/modbustcp/conn.go
package modbustcp

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/goburrow/modbus"
)

// DefaultTimeout applies when a caller leaves the timeout at zero.
const DefaultTimeout = 2 * time.Second

// ErrNoEndpoint is returned by Dial for an empty endpoint.
var ErrNoEndpoint = errors.New("modbustcp: endpoint required")

// Dial opens one TCP connection to endpoint addressing unitID.
// The handler is returned so the caller can close it or change SlaveId.
func Dial(endpoint string, unitID uint8, timeout time.Duration) (*modbus.TCPClientHandler, modbus.Client, error) {
	if endpoint == "" {
		return nil, nil, ErrNoEndpoint
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	h := modbus.NewTCPClientHandler(endpoint)
	h.Timeout = timeout
	h.SlaveId = unitID

	if err := h.Connect(); err != nil {
		return nil, nil, fmt.Errorf("modbustcp: connect %s: %w", endpoint, err)
	}
	return h, modbus.NewClient(h), nil
}

// PackRegisters lays registers out in Modbus wire order (big-endian).
func PackRegisters(regs []uint16) []byte {
	out := make([]byte, 0, len(regs)*2)
	for _, r := range regs {
		out = binary.BigEndian.AppendUint16(out, r)
	}
	return out
}
