package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Env      string `toml:"env"`       // "dev" | "prod"
	LogLevel string `toml:"log_level"` // zap level name

	HTTP    HTTPConfig    `toml:"http"`
	GRPC    GRPCConfig    `toml:"grpc"`
	DB      DBConfig      `toml:"db"`
	Match   MatchConfig   `toml:"match"`
	Card    CardConfig    `toml:"card"`
	Serial  SerialConfig  `toml:"serial"`
	MQTT    MQTTConfig    `toml:"mqtt"`
	Capture CaptureConfig `toml:"capture"`
	Extract ExtractConfig `toml:"extract"`
	API     APIConfig     `toml:"api"`
}

type HTTPConfig struct {
	Addr string `toml:"addr"`
}

type GRPCConfig struct {
	Addr string `toml:"addr"` // empty disables the health server
}

type DBConfig struct {
	Path      string `toml:"path"`
	Ephemeral bool   `toml:"ephemeral"` // in-memory store, nothing persisted
}

type MatchConfig struct {
	Tolerance    float64 `toml:"tolerance"`
	Policy       string  `toml:"policy"` // "first" | "nearest"
	VectorLength int     `toml:"vector_length"`
}

type CardConfig struct {
	PollInterval time.Duration `toml:"poll_interval"`
	WaitTimeout  time.Duration `toml:"wait_timeout"` // 0 = until cancelled
	SettleDelay  time.Duration `toml:"settle_delay"`
	UIDPattern   string        `toml:"uid_pattern"`
}

type SerialConfig struct {
	Port        string        `toml:"port"`     // empty = autodetect
	Products    []string      `toml:"products"` // autodetect prefers these product names
	Disabled    bool          `toml:"disabled"`
	Baud        int           `toml:"baud"`
	BootDelay   time.Duration `toml:"boot_delay"`
	OpenCommand string        `toml:"open_command"`
}

type MQTTConfig struct {
	Broker   string `toml:"broker"` // empty disables the MQTT lock
	Topic    string `toml:"topic"`
	ClientID string `toml:"client_id"`
	Username string `toml:"username"`
	Password string `toml:"password"`
}

type CaptureConfig struct {
	SnapshotURL string `toml:"snapshot_url"`
}

type ExtractConfig struct {
	URL     string        `toml:"url"`
	Timeout time.Duration `toml:"timeout"`
}

type APIConfig struct {
	UnlockRate  float64 `toml:"unlock_rate"` // attempts per second; 0 disables throttling
	UnlockBurst int     `toml:"unlock_burst"`
}

func Default() Config {
	return Config{
		Env:      "dev",
		LogLevel: "info",
		HTTP:     HTTPConfig{Addr: ":8080"},
		GRPC:     GRPCConfig{Addr: ":9090"},
		DB:       DBConfig{Path: "./data/gate.db"},
		Match: MatchConfig{
			Tolerance:    0.5,
			Policy:       "first",
			VectorLength: 128,
		},
		Card: CardConfig{
			PollInterval: 50 * time.Millisecond,
			WaitTimeout:  30 * time.Second,
			SettleDelay:  50 * time.Millisecond,
			UIDPattern:   `([0-9A-Fa-f:\-\.]{4,})`,
		},
		Serial: SerialConfig{
			Products:    []string{"arduino"},
			Baud:        9600,
			BootDelay:   2 * time.Second,
			OpenCommand: "OPEN",
		},
		MQTT: MQTTConfig{
			Topic:    "portunus/gate/lock",
			ClientID: "portunus-gate",
		},
		Capture: CaptureConfig{SnapshotURL: "http://127.0.0.1:8081/snapshot.jpg"},
		Extract: ExtractConfig{URL: "http://127.0.0.1:8082/encode", Timeout: 10 * time.Second},
		API:     APIConfig{UnlockRate: 1, UnlockBurst: 3},
	}
}

// Load builds the configuration from defaults, then the TOML file at path
// (skipped when path is empty), then GATE_* environment variables.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	cfg.ApplyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// FromEnv is Load without a config file.
func FromEnv() (Config, error) {
	return Load("")
}

func (c *Config) ApplyEnvOverrides() {
	c.Env = strings.ToLower(getenvDefault("GATE_ENV", c.Env))
	c.LogLevel = getenvDefault("GATE_LOG_LEVEL", c.LogLevel)
	c.HTTP.Addr = getenvDefault("GATE_HTTP_ADDR", c.HTTP.Addr)
	c.GRPC.Addr = getenvDefault("GATE_GRPC_ADDR", c.GRPC.Addr)

	c.DB.Path = getenvDefault("GATE_DB_PATH", c.DB.Path)
	c.DB.Ephemeral = getenvBool("GATE_DB_EPHEMERAL", c.DB.Ephemeral)

	c.Match.Tolerance = getenvFloat("GATE_MATCH_TOLERANCE", c.Match.Tolerance)
	c.Match.Policy = strings.ToLower(getenvDefault("GATE_MATCH_POLICY", c.Match.Policy))
	c.Match.VectorLength = getenvInt("GATE_MATCH_VECTOR_LENGTH", c.Match.VectorLength)

	c.Card.PollInterval = getenvDuration("GATE_CARD_POLL_INTERVAL", c.Card.PollInterval)
	c.Card.WaitTimeout = getenvDuration("GATE_CARD_WAIT_TIMEOUT", c.Card.WaitTimeout)
	c.Card.SettleDelay = getenvDuration("GATE_CARD_SETTLE_DELAY", c.Card.SettleDelay)
	c.Card.UIDPattern = getenvDefault("GATE_CARD_UID_PATTERN", c.Card.UIDPattern)

	c.Serial.Port = getenvDefault("GATE_SERIAL_PORT", c.Serial.Port)
	if products := splitCSV(os.Getenv("GATE_SERIAL_PRODUCTS")); products != nil {
		c.Serial.Products = products
	}
	c.Serial.Disabled = getenvBool("GATE_SERIAL_DISABLED", c.Serial.Disabled)
	c.Serial.Baud = getenvInt("GATE_SERIAL_BAUD", c.Serial.Baud)
	c.Serial.BootDelay = getenvDuration("GATE_SERIAL_BOOT_DELAY", c.Serial.BootDelay)
	c.Serial.OpenCommand = getenvDefault("GATE_SERIAL_OPEN_COMMAND", c.Serial.OpenCommand)

	c.MQTT.Broker = getenvDefault("GATE_MQTT_BROKER", c.MQTT.Broker)
	c.MQTT.Topic = getenvDefault("GATE_MQTT_TOPIC", c.MQTT.Topic)
	c.MQTT.ClientID = getenvDefault("GATE_MQTT_CLIENT_ID", c.MQTT.ClientID)
	c.MQTT.Username = getenvDefault("GATE_MQTT_USERNAME", c.MQTT.Username)
	c.MQTT.Password = getenvDefault("GATE_MQTT_PASSWORD", c.MQTT.Password)

	c.Capture.SnapshotURL = getenvDefault("GATE_CAPTURE_SNAPSHOT_URL", c.Capture.SnapshotURL)
	c.Extract.URL = getenvDefault("GATE_EXTRACT_URL", c.Extract.URL)
	c.Extract.Timeout = getenvDuration("GATE_EXTRACT_TIMEOUT", c.Extract.Timeout)

	c.API.UnlockRate = getenvFloat("GATE_API_UNLOCK_RATE", c.API.UnlockRate)
	c.API.UnlockBurst = getenvInt("GATE_API_UNLOCK_BURST", c.API.UnlockBurst)
}

// ValidationError names the offending key.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	msgs := make([]string, 0, len(e))
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return "invalid config: " + strings.Join(msgs, "; ")
}

var ErrInvalid = errors.New("invalid config")

func (e ValidateErrors) Is(target error) bool { return target == ErrInvalid }

func (c *Config) Validate() error {
	var errs ValidateErrors
	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	if c.Env != "dev" && c.Env != "prod" {
		add("env", "must be dev or prod, got %q", c.Env)
	}
	if strings.TrimSpace(c.HTTP.Addr) == "" {
		add("http.addr", "required")
	}
	if !c.DB.Ephemeral && strings.TrimSpace(c.DB.Path) == "" {
		add("db.path", "required unless db.ephemeral is set")
	}
	if c.Match.Tolerance <= 0 {
		add("match.tolerance", "must be positive, got %v", c.Match.Tolerance)
	}
	if c.Match.Policy != "first" && c.Match.Policy != "nearest" {
		add("match.policy", "must be first or nearest, got %q", c.Match.Policy)
	}
	if c.Match.VectorLength <= 0 {
		add("match.vector_length", "must be positive")
	}
	if c.Card.PollInterval <= 0 {
		add("card.poll_interval", "must be positive")
	}
	if c.Card.WaitTimeout < 0 {
		add("card.wait_timeout", "must not be negative")
	}
	if c.Card.SettleDelay < 0 {
		add("card.settle_delay", "must not be negative")
	}
	if re, err := regexp.Compile(c.Card.UIDPattern); err != nil {
		add("card.uid_pattern", "%v", err)
	} else if re.NumSubexp() < 1 {
		add("card.uid_pattern", "must contain a capture group")
	}
	if c.Serial.Baud <= 0 {
		add("serial.baud", "must be positive")
	}
	if c.MQTT.Broker != "" && c.MQTT.Topic == "" {
		add("mqtt.topic", "required when mqtt.broker is set")
	}
	if c.API.UnlockRate < 0 {
		add("api.unlock_rate", "must not be negative")
	}
	if c.API.UnlockRate > 0 && c.API.UnlockBurst < 1 {
		add("api.unlock_burst", "must be at least 1 when throttling is enabled")
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func getenvDefault(key, def string) string {
	v := os.Getenv(key)
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}

func getenvInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}

func getenvFloat(key string, def float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func getenvBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return strings.EqualFold(v, "true") || v == "1"
}

func getenvDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 {
		return def
	}
	return d
}

// splitCSV turns "a, b,,c" into [a b c].
func splitCSV(v string) []string {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
