// internal/export/modbus/client.go
package modbus

import (
	"fmt"
	"sync"
	"time"

	"github.com/goburrow/modbus"

	"github.com/tamzrod/crate-readout/internal/modbustcp"
)

// Client is a single TCP connection to one status endpoint.
// It serializes requests because it mutates SlaveId per write.
type Client struct {
	mu      sync.Mutex
	handler *modbus.TCPClientHandler
	client  modbus.Client
}

type Config struct {
	Endpoint string
	Timeout  time.Duration
}

// NewClient connects to the status memory. The unit id is chosen per write.
func NewClient(cfg Config) (*Client, error) {
	h, cli, err := modbustcp.Dial(cfg.Endpoint, 0, cfg.Timeout)
	if err != nil {
		return nil, fmt.Errorf("export modbus: %w", err)
	}
	return &Client{handler: h, client: cli}, nil
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handler.Close()
}

// WriteRegisters writes holding registers starting at addr.
func (c *Client) WriteRegisters(unitID uint8, addr uint16, regs []uint16) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.handler.SlaveId = unitID

	_, err := c.client.WriteMultipleRegisters(addr, uint16(len(regs)), modbustcp.PackRegisters(regs))
	return err
}
