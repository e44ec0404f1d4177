// Package config holds the tunables shared by the uloader binaries.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
)

// Well-known ports.
const (
	DefaultTFTPPort        = 69
	DefaultSerialRelayPort = 2155
	DefaultRendezvousPort  = 2156
	DefaultDebugPort       = 2159
)

// Config defines the tunables of a bring-up run.
type Config struct {
	// Retry budgets, counted in lines read from the bootloader.
	SyncRetries     int
	CmdRetries      int
	ResponseRetries int
	TransferRetries int
	IPRetries       int

	// ReadTimeout bounds a single serial read. SyncReadTimeout is used
	// while waiting for the interrupt acknowledgment.
	ReadTimeout     time.Duration
	SyncReadTimeout time.Duration

	// Prompt is the initial expected prompt prefix.
	Prompt string

	TFTPPort        int
	TFTPTimeout     time.Duration
	TFTPRetries     int
	RendezvousAddr  string
	SettleDelay     time.Duration
	SerialRelayPort int

	DebugPort         int
	VerifyAttempts    int
	VerifyDelay       time.Duration
	VerifyDialTimeout time.Duration

	// RelayReadTimeout bounds reads inside relay legs.
	RelayReadTimeout time.Duration

	// MQTTURL enables progress reporting when not empty,
	// e.g. mqtt://localhost:1883/lab/
	MQTTURL string
	// TerminalCommand is started after a successful boot with proxy.
	TerminalCommand string
}

// Default returns the default configuration.
func Default() Config {
	return Config{
		SyncRetries:     1,
		CmdRetries:      60,
		ResponseRetries: 60,
		TransferRetries: 10,
		IPRetries:       60,

		ReadTimeout:     100 * time.Millisecond,
		SyncReadTimeout: time.Second,

		Prompt: "U-Boot",

		TFTPPort:        DefaultTFTPPort,
		TFTPTimeout:     5 * time.Second,
		TFTPRetries:     10,
		RendezvousAddr:  fmt.Sprintf("127.0.0.1:%d", DefaultRendezvousPort),
		SettleDelay:     time.Second,
		SerialRelayPort: DefaultSerialRelayPort,

		DebugPort:         DefaultDebugPort,
		VerifyAttempts:    3,
		VerifyDelay:       3 * time.Second,
		VerifyDialTimeout: 2 * time.Second,

		RelayReadTimeout: 100 * time.Millisecond,
	}
}

type fileConfig struct {
	SyncRetries       int    `toml:"sync_retries"`
	CmdRetries        int    `toml:"cmd_retries"`
	ResponseRetries   int    `toml:"response_retries"`
	TransferRetries   int    `toml:"transfer_retries"`
	IPRetries         int    `toml:"ip_retries"`
	ReadTimeout       string `toml:"read_timeout"`
	SyncReadTimeout   string `toml:"sync_read_timeout"`
	Prompt            string `toml:"prompt"`
	TFTPPort          int    `toml:"tftp_port"`
	TFTPTimeout       string `toml:"tftp_timeout"`
	TFTPRetries       int    `toml:"tftp_retries"`
	RendezvousAddr    string `toml:"rendezvous_addr"`
	SettleDelay       string `toml:"settle_delay"`
	SerialRelayPort   int    `toml:"serial_relay_port"`
	DebugPort         int    `toml:"debug_port"`
	VerifyAttempts    int    `toml:"verify_attempts"`
	VerifyDelay       string `toml:"verify_delay"`
	VerifyDialTimeout string `toml:"verify_dial_timeout"`
	RelayReadTimeout  string `toml:"relay_read_timeout"`
	MQTTURL           string `toml:"mqtt_url"`
	TerminalCommand   string `toml:"terminal_command"`
}

// LoadFile applies the keys defined in a TOML file on top of cfg.
func LoadFile(path string, cfg *Config) error {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return errors.Wrapf(err, "load config %s", path)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return errors.Errorf("load config %s: unknown key %q", path, undecoded[0].String())
	}

	ints := []struct {
		key string
		src int
		dst *int
	}{
		{"sync_retries", raw.SyncRetries, &cfg.SyncRetries},
		{"cmd_retries", raw.CmdRetries, &cfg.CmdRetries},
		{"response_retries", raw.ResponseRetries, &cfg.ResponseRetries},
		{"transfer_retries", raw.TransferRetries, &cfg.TransferRetries},
		{"ip_retries", raw.IPRetries, &cfg.IPRetries},
		{"tftp_port", raw.TFTPPort, &cfg.TFTPPort},
		{"tftp_retries", raw.TFTPRetries, &cfg.TFTPRetries},
		{"serial_relay_port", raw.SerialRelayPort, &cfg.SerialRelayPort},
		{"debug_port", raw.DebugPort, &cfg.DebugPort},
		{"verify_attempts", raw.VerifyAttempts, &cfg.VerifyAttempts},
	}
	for _, v := range ints {
		if !meta.IsDefined(v.key) {
			continue
		}
		if v.src < 0 {
			return errors.Errorf("%s must not be negative", v.key)
		}
		*v.dst = v.src
	}

	durations := []struct {
		key string
		src string
		dst *time.Duration
	}{
		{"read_timeout", raw.ReadTimeout, &cfg.ReadTimeout},
		{"sync_read_timeout", raw.SyncReadTimeout, &cfg.SyncReadTimeout},
		{"tftp_timeout", raw.TFTPTimeout, &cfg.TFTPTimeout},
		{"settle_delay", raw.SettleDelay, &cfg.SettleDelay},
		{"verify_delay", raw.VerifyDelay, &cfg.VerifyDelay},
		{"verify_dial_timeout", raw.VerifyDialTimeout, &cfg.VerifyDialTimeout},
		{"relay_read_timeout", raw.RelayReadTimeout, &cfg.RelayReadTimeout},
	}
	for _, v := range durations {
		if !meta.IsDefined(v.key) {
			continue
		}
		d, err := time.ParseDuration(strings.TrimSpace(v.src))
		if err != nil {
			return errors.Wrapf(err, "parse %s", v.key)
		}
		*v.dst = d
	}

	if meta.IsDefined("prompt") {
		cfg.Prompt = raw.Prompt
	}
	if meta.IsDefined("rendezvous_addr") {
		cfg.RendezvousAddr = strings.TrimSpace(raw.RendezvousAddr)
	}
	if meta.IsDefined("mqtt_url") {
		cfg.MQTTURL = strings.TrimSpace(raw.MQTTURL)
	}
	if meta.IsDefined("terminal_command") {
		cfg.TerminalCommand = strings.TrimSpace(raw.TerminalCommand)
	}
	return nil
}

// Environment variables consulted by ApplyEnv.
const (
	EnvConfigFile = "ULOADER_CONFIG"
	EnvMQTTURL    = "ULOADER_MQTT_URL"
	EnvPrompt     = "ULOADER_PROMPT"
	EnvTFTPPort   = "ULOADER_TFTP_PORT"
)

// ApplyEnv applies environment overrides on cfg.
func ApplyEnv(cfg *Config) error {
	if val := os.Getenv(EnvMQTTURL); val != "" {
		cfg.MQTTURL = val
	}
	if val := os.Getenv(EnvPrompt); val != "" {
		cfg.Prompt = val
	}
	if val := os.Getenv(EnvTFTPPort); val != "" {
		port, err := strconv.Atoi(val)
		if err != nil || port <= 0 || port > 65535 {
			return errors.Errorf("invalid %s: %q", EnvTFTPPort, val)
		}
		cfg.TFTPPort = port
	}
	return nil
}

// Load returns the defaults overridden by the file at path, or the one
// named by ULOADER_CONFIG when path is empty, and then by the environment.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		path = os.Getenv(EnvConfigFile)
	}
	if path != "" {
		if err := LoadFile(path, &cfg); err != nil {
			return cfg, err
		}
	}
	return cfg, ApplyEnv(&cfg)
}
