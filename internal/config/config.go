// internal/config/config.go
package config

type Config struct {
	Crate CrateConfig `yaml:"crate"`
}

type CrateConfig struct {
	Name string `yaml:"name"`

	// ROCTag is the tag of the outer event bank.
	ROCTag uint16 `yaml:"roc_tag"`

	BufferWords int `yaml:"buffer_words"`
	MarginWords int `yaml:"margin_words"`
	FlushLimit  int `yaml:"flush_limit"`

	Trigger  TriggerConfig  `yaml:"trigger"`
	Families []FamilyConfig `yaml:"families"`

	Status *StatusConfig `yaml:"status"`
	Runlog *RunlogConfig `yaml:"runlog"`
	Sink   *SinkConfig   `yaml:"sink"`
	Log    LogConfig     `yaml:"log"`
}

// ---- TRIGGER ----

type TriggerConfig struct {
	Role        string `yaml:"role"` // master | slave
	BlockLevel  int    `yaml:"block_level"`
	BufferLevel int    `yaml:"buffer_level"`

	// SyncInterval marks every Nth trigger as a sync event. 0 disables.
	SyncInterval int `yaml:"sync_interval"`

	// Pulser rate in Hz. 0 fires as fast as the loop allows.
	RateHz float64 `yaml:"rate_hz"`

	MaxSlaveBlockLevel  int `yaml:"max_slave_block_level"`
	MaxSlaveBufferLevel int `yaml:"max_slave_buffer_level"`
}

// ---- FAMILY ----

type FamilyConfig struct {
	Name      string `yaml:"name"`
	Kind      string `yaml:"kind"`      // fadc250 | ssp_mpd | ssp_maroc
	Transport string `yaml:"transport"` // sim | modbus
	Endpoint  string `yaml:"endpoint"`
	UnitID    uint8  `yaml:"unit_id"`
	TimeoutMs int    `yaml:"timeout_ms"`

	Bank       uint16 `yaml:"bank"`
	Slots      []int  `yaml:"slots"`
	PollBudget int    `yaml:"poll_budget"`

	Geometry GeometryConfig `yaml:"geometry"`

	// Sim only.
	Sim SimConfig `yaml:"sim"`
}

type GeometryConfig struct {
	Channels     int `yaml:"channels"`
	Window       int `yaml:"window"`
	EventBytes   int `yaml:"event_bytes"`
	// CeilingWords is the largest transfer of one board.
	CeilingWords int `yaml:"ceiling_words"`
}

// SimConfig shapes the data of simulated boards.
type SimConfig struct {
	EventWords int `yaml:"event_words"`
	ReadyDelay int `yaml:"ready_delay"`
}

// ---- OUTPUTS ----

type StatusConfig struct {
	Endpoint  string `yaml:"endpoint"`
	UnitID    uint8  `yaml:"unit_id"`
	BaseSlot  uint16 `yaml:"base_slot"`
	TimeoutMs int    `yaml:"timeout_ms"`
}

type RunlogConfig struct {
	Path string `yaml:"path"`
}

type SinkConfig struct {
	Endpoint  string `yaml:"endpoint"`
	TimeoutMs int    `yaml:"timeout_ms"`
}

type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}
