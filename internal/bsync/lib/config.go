package lib

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/denisbrodbeck/machineid"
	"github.com/spf13/viper"
)

// --- Constants ---

// AppDataDir is the default directory for the config file, root list and state.
const AppDataDir = "app_data"

// DefaultConfigPath is used when no --config flag is given.
const DefaultConfigPath = AppDataDir + "/config.toml"

// DefaultRootListPath is the default location of the list of backup roots.
const DefaultRootListPath = AppDataDir + "/backup_folders.txt"

// DefaultStatePath is the default location of the agent snapshot.
const DefaultStatePath = AppDataDir + "/client_state"

// EnvPrefix prefixes environment overrides, e.g. BSYNC_CLIENT_SERVER_IP.
const EnvPrefix = "BSYNC"

const (
	defaultServerPort     = 8000
	defaultListenHost     = "0.0.0.0"
	defaultDialTimeout    = 10 * time.Second
	defaultAckTimeout     = 60 * time.Second
	defaultIdleTimeout    = 5 * time.Minute
	defaultMaxConnections = 64
	defaultMaxFrameMB     = 512
)

// ErrMissingConfig is returned when a required key has no value.
var ErrMissingConfig = errors.New("missing configuration value")

// --- Provider ---

// Provider exposes raw configuration values by section and key.
type Provider interface {
	Get(section, key string) string
}

// FileProvider reads configuration from a file (TOML by default, one table per
// section) through viper. Environment variables named
// BSYNC_<SECTION>_<KEY> take precedence over the file.
//
// Values are read once; Reload re-reads the file on request. Nothing is
// re-read implicitly.
type FileProvider struct {
	v *viper.Viper
}

// NewFileProvider loads the configuration file at path. A missing file is not
// an error: every value can come from the environment instead.
func NewFileProvider(path string) (*FileProvider, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if filepath.Ext(path) == "" {
		v.SetConfigType("toml")
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	p := &FileProvider{v: v}
	if err := p.Reload(); err != nil {
		return nil, err
	}
	return p, nil
}

// Reload re-reads the configuration file.
func (p *FileProvider) Reload() error {
	if err := p.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("config read '%s': %w", p.v.ConfigFileUsed(), err)
	}
	return nil
}

// Get returns the value of key in section, or "" when unset.
func (p *FileProvider) Get(section, key string) string {
	return strings.TrimSpace(p.v.GetString(section + "." + key))
}

// MapProvider is an in-memory Provider keyed by "section.key".
type MapProvider map[string]string

// Get implements Provider.
func (m MapProvider) Get(section, key string) string {
	return m[section+"."+key]
}

// --- Typed configuration ---

// Timing holds the agent's pacing knobs. None of them affect correctness.
type Timing struct {
	RetryDelay time.Duration // sleep.connection_error
	ItemDelay  time.Duration // sleep.between_one_file
	CycleDelay time.Duration // sleep.between_synchronize
}

// AgentConfig is everything the backup agent needs, loaded once at start-up.
type AgentConfig struct {
	ServerHost   string
	ServerPort   int
	ClientID     string
	Key          []byte
	RootListPath string
	StatePath    string
	Timing       Timing
	DialTimeout  time.Duration
	AckTimeout   time.Duration
}

// ServerAddr returns the collector address in host:port form.
func (c *AgentConfig) ServerAddr() string {
	return net.JoinHostPort(c.ServerHost, strconv.Itoa(c.ServerPort))
}

// CollectorConfig is everything the collector needs, loaded once at start-up.
type CollectorConfig struct {
	ListenHost     string
	ListenPort     int
	BackupRoot     string
	Key            []byte
	MaxConnections int
	IdleTimeout    time.Duration
	MaxFrameSize   int64
}

// ListenAddr returns the listen address in host:port form.
func (c *CollectorConfig) ListenAddr() string {
	return net.JoinHostPort(c.ListenHost, strconv.Itoa(c.ListenPort))
}

// LoadAgentConfig builds an AgentConfig from p, applying defaults and
// validating required values.
func LoadAgentConfig(p Provider) (*AgentConfig, error) {
	r := reader{p: p}
	cfg := &AgentConfig{
		ServerHost:   r.required("client", "server_ip"),
		ServerPort:   r.integer("client", "server_port", defaultServerPort),
		ClientID:     r.str("client", "client_name", ""),
		Key:          r.key(),
		RootListPath: r.str("client", "backup_list", DefaultRootListPath),
		StatePath:    r.str("client", "state_file", DefaultStatePath),
		Timing:       r.timing(),
		DialTimeout:  r.duration("client", "dial_timeout", defaultDialTimeout),
		AckTimeout:   r.duration("client", "ack_timeout", defaultAckTimeout),
	}
	if cfg.ClientID == "" && r.err == nil {
		id, err := DefaultClientID()
		if err != nil {
			return nil, fmt.Errorf("%w: client.client_name (no machine id: %v)", ErrMissingConfig, err)
		}
		cfg.ClientID = id
	}
	if r.err != nil {
		return nil, r.err
	}
	return cfg, nil
}

// LoadTiming reads only the pacing knobs. It backs the agent's explicit reload.
func LoadTiming(p Provider) (Timing, error) {
	r := reader{p: p}
	t := r.timing()
	return t, r.err
}

// LoadCollectorConfig builds a CollectorConfig from p.
func LoadCollectorConfig(p Provider) (*CollectorConfig, error) {
	r := reader{p: p}
	cfg := &CollectorConfig{
		ListenHost:     r.str("server", "host", defaultListenHost),
		ListenPort:     r.integer("server", "port", defaultServerPort),
		BackupRoot:     r.required("server", "backup_folder_path"),
		Key:            r.key(),
		MaxConnections: r.integer("server", "max_connections", defaultMaxConnections),
		IdleTimeout:    r.duration("server", "idle_timeout", defaultIdleTimeout),
		MaxFrameSize:   int64(r.integer("server", "max_frame_mb", defaultMaxFrameMB)) * 1024 * 1024,
	}
	if r.err != nil {
		return nil, r.err
	}
	if cfg.MaxConnections < 1 {
		return nil, fmt.Errorf("server.max_connections must be positive, got %d", cfg.MaxConnections)
	}
	return cfg, nil
}

// DefaultClientID derives a stable, app-specific identifier for this machine.
func DefaultClientID() (string, error) {
	id, err := machineid.ProtectedID("bsync")
	if err != nil {
		return "", err
	}
	return id[:12], nil
}

// DecodeKey parses a base64-encoded symmetric key.
func DecodeKey(encoded string) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		key, err = base64.URLEncoding.DecodeString(encoded)
	}
	if err != nil {
		return nil, fmt.Errorf("security.key is not valid base64: %w", err)
	}
	return key, nil
}

// ParseDuration accepts Go duration syntax ("1500ms", "5s") or a bare number of
// seconds ("5", "0.5").
func ParseDuration(value string) (time.Duration, error) {
	if secs, err := strconv.ParseFloat(value, 64); err == nil {
		if secs < 0 {
			return 0, fmt.Errorf("negative duration %q", value)
		}
		return time.Duration(secs * float64(time.Second)), nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration %q", value)
	}
	return d, nil
}

// reader collects the first error while typed values are pulled from a
// Provider, so loaders read as a flat list of fields.
type reader struct {
	p   Provider
	err error
}

func (r *reader) fail(err error) {
	if r.err == nil {
		r.err = err
	}
}

func (r *reader) str(section, key, def string) string {
	if v := r.p.Get(section, key); v != "" {
		return v
	}
	return def
}

func (r *reader) required(section, key string) string {
	v := r.p.Get(section, key)
	if v == "" {
		r.fail(fmt.Errorf("%w: %s.%s", ErrMissingConfig, section, key))
	}
	return v
}

func (r *reader) integer(section, key string, def int) int {
	v := r.p.Get(section, key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		r.fail(fmt.Errorf("%s.%s: invalid integer %q", section, key, v))
		return def
	}
	return n
}

func (r *reader) duration(section, key string, def time.Duration) time.Duration {
	v := r.p.Get(section, key)
	if v == "" {
		return def
	}
	d, err := ParseDuration(v)
	if err != nil {
		r.fail(fmt.Errorf("%s.%s: %w", section, key, err))
		return def
	}
	return d
}

func (r *reader) key() []byte {
	encoded := r.required("security", "key")
	if encoded == "" {
		return nil
	}
	key, err := DecodeKey(encoded)
	if err != nil {
		r.fail(err)
		return nil
	}
	if len(key) != 32 {
		r.fail(fmt.Errorf("security.key must decode to 32 bytes, got %d", len(key)))
		return nil
	}
	return key
}

func (r *reader) timing() Timing {
	return Timing{
		RetryDelay: r.duration("sleep", "connection_error", 5*time.Second),
		ItemDelay:  r.duration("sleep", "between_one_file", 0),
		CycleDelay: r.duration("sleep", "between_synchronize", 60*time.Second),
	}
}
