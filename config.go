package lightrpc

import (
	"bytes"
	"errors"
	"fmt"
	"net/netip"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"golang.org/x/tools/go/packages"
	"gopkg.in/yaml.v3"

	"github.com/kanengo/lightrpc/runtime/logging"
)

// ErrInvalidConfig is wrapped by every configuration validation error.
var ErrInvalidConfig = errors.New("lightrpc: invalid configuration")

var (
	ipv4Pattern        = regexp.MustCompile(`^(25[0-5]|2[0-4]\d|[0-1]?\d?\d)(\.(25[0-5]|2[0-4]\d|[0-1]?\d?\d)){3}$`)
	importPathSegment  = regexp.MustCompile(`^[A-Za-z0-9_.~+-]+$`)
	errNotPositive     = "must be a positive number"
	defaultConnTimeout = 10 * time.Second
)

// ClientConfig configures a Client.
type ClientConfig struct {
	// AutoScanPackage selects the generated registrations to register at
	// start: those declared in this package or below it.
	AutoScanPackage string `toml:"auto_scan_package" yaml:"auto_scan_package"`

	// BossThreads is the number of connections dialed to the server.
	BossThreads int `toml:"boss_threads" yaml:"boss_threads"`

	// WorkerThreads bounds the number of responses delivered to callbacks at
	// once.
	WorkerThreads int `toml:"worker_threads" yaml:"worker_threads"`

	Port                int    `toml:"port" yaml:"port"`
	RemoteServerAddress string `toml:"remote_server_address" yaml:"remote_server_address"`

	// ConnectTimeout bounds the initial dial. Zero means 10s.
	ConnectTimeout time.Duration `toml:"connect_timeout" yaml:"connect_timeout"`

	Codec      string `toml:"codec" yaml:"codec"`         // "binary" (default) or "cbor"
	LogLevel   string `toml:"log_level" yaml:"log_level"` // debug, info, warn or error
	TraceSpans bool   `toml:"trace_spans" yaml:"trace_spans"`

	// TraceDB is a sqlite file the spans of calls are stored in. "default"
	// stores them under the user's data directory.
	TraceDB string `toml:"trace_db" yaml:"trace_db"`
}

// ServerConfig configures a Server.
type ServerConfig struct {
	AutoScanPackage string `toml:"auto_scan_package" yaml:"auto_scan_package"`

	// BossThreads is the number of goroutines accepting connections.
	BossThreads int `toml:"boss_threads" yaml:"boss_threads"`

	// WorkerThreads bounds the number of calls handled at once.
	WorkerThreads int `toml:"worker_threads" yaml:"worker_threads"`

	Port int `toml:"port" yaml:"port"`

	// BindAddress is the IP address to listen on. Empty means all
	// interfaces.
	BindAddress string `toml:"bind_address" yaml:"bind_address"`

	// MaxConnections bounds the number of open client connections. Zero
	// means no bound.
	MaxConnections int `toml:"max_connections" yaml:"max_connections"`

	Codec      string `toml:"codec" yaml:"codec"`
	LogLevel   string `toml:"log_level" yaml:"log_level"`
	TraceSpans bool   `toml:"trace_spans" yaml:"trace_spans"`
	TraceDB    string `toml:"trace_db" yaml:"trace_db"`
}

func (c *ClientConfig) Validate() error {
	var errs []error
	errs = append(errs, validateCommon(c.AutoScanPackage, c.BossThreads, c.WorkerThreads, c.Port, c.Codec, c.LogLevel)...)
	if !validAddress(c.RemoteServerAddress) {
		errs = append(errs, fmt.Errorf("remote server address %q is neither an IPv4 nor an IPv6 address", c.RemoteServerAddress))
	}
	if c.ConnectTimeout < 0 {
		errs = append(errs, fmt.Errorf("connect timeout %v is negative", c.ConnectTimeout))
	}
	return joinInvalid("client", errs)
}

func (c *ServerConfig) Validate() error {
	var errs []error
	errs = append(errs, validateCommon(c.AutoScanPackage, c.BossThreads, c.WorkerThreads, c.Port, c.Codec, c.LogLevel)...)
	if c.BindAddress != "" && !validAddress(c.BindAddress) {
		errs = append(errs, fmt.Errorf("bind address %q is neither an IPv4 nor an IPv6 address", c.BindAddress))
	}
	if c.MaxConnections < 0 {
		errs = append(errs, fmt.Errorf("max connections %d is negative", c.MaxConnections))
	}
	return joinInvalid("server", errs)
}

func validateCommon(pkg string, boss, workers, port int, codec, level string) []error {
	var errs []error
	if boss <= 0 {
		errs = append(errs, fmt.Errorf("boss threads %s, got %d", errNotPositive, boss))
	}
	if workers <= 0 {
		errs = append(errs, fmt.Errorf("worker threads %s, got %d", errNotPositive, workers))
	}
	if port <= 0 || port > 65535 {
		errs = append(errs, fmt.Errorf("port %s no larger than 65535, got %d", errNotPositive, port))
	}
	if pkg != "" && !validImportPath(pkg) {
		errs = append(errs, fmt.Errorf("auto scan package %q is not a valid import path", pkg))
	}
	switch codec {
	case "", "binary", "cbor":
	default:
		errs = append(errs, fmt.Errorf("unknown codec %q", codec))
	}
	if _, err := logging.ParseLevel(level); err != nil {
		errs = append(errs, err)
	}
	return errs
}

func joinInvalid(section string, errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %s: %w", ErrInvalidConfig, section, errors.Join(errs...))
}

// validAddress accepts dotted-quad IPv4 literals and IPv6 literals.
func validAddress(addr string) bool {
	if ipv4Pattern.MatchString(addr) {
		return true
	}
	ip, err := netip.ParseAddr(addr)
	return err == nil && ip.Is6()
}

func validImportPath(path string) bool {
	if strings.HasPrefix(path, "/") || strings.HasSuffix(path, "/") {
		return false
	}
	for _, seg := range strings.Split(path, "/") {
		if seg == "" || seg == "." || seg == ".." || !importPathSegment.MatchString(seg) {
			return false
		}
	}
	return true
}

// Config is the content of a configuration file. Absent sections are nil.
type Config struct {
	Client *ClientConfig `toml:"client" yaml:"client"`
	Server *ServerConfig `toml:"server" yaml:"server"`
}

// LoadConfig reads a .toml, .yaml or .yml file. Unknown keys are errors, and
// every present section is validated. An auto_scan_package starting with "."
// is resolved relative to the file's directory.
func LoadConfig(file string) (*Config, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, err
	}

	var config Config
	switch ext := strings.ToLower(filepath.Ext(file)); ext {
	case ".toml":
		md, err := toml.Decode(string(data), &config)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", file, err)
		}
		if unknown := md.Undecoded(); len(unknown) > 0 {
			return nil, fmt.Errorf("%s: %w: unknown keys %v", file, ErrInvalidConfig, unknown)
		}
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&config); err != nil {
			return nil, fmt.Errorf("%s: %w", file, err)
		}
	default:
		return nil, fmt.Errorf("%s: unsupported config format %q", file, ext)
	}

	// Relative scan packages name directories next to the file.
	var scan []*string
	if config.Client != nil {
		scan = append(scan, &config.Client.AutoScanPackage)
	}
	if config.Server != nil {
		scan = append(scan, &config.Server.AutoScanPackage)
	}
	dir := filepath.Dir(file)
	for _, pkg := range scan {
		if *pkg == "" {
			continue
		}
		resolved, err := ResolveScanPackage(dir, *pkg)
		if err != nil {
			return nil, fmt.Errorf("%s: auto scan package: %w", file, err)
		}
		*pkg = resolved
	}

	if config.Client != nil {
		if err := config.Client.Validate(); err != nil {
			return nil, fmt.Errorf("%s: %w", file, err)
		}
	}
	if config.Server != nil {
		if err := config.Server.Validate(); err != nil {
			return nil, fmt.Errorf("%s: %w", file, err)
		}
	}

	return &config, nil
}

// ResolveScanPackage turns a relative package pattern such as "./service"
// into an import path.
func ResolveScanPackage(dir, pattern string) (string, error) {
	if !strings.HasPrefix(pattern, ".") {
		return pattern, nil
	}
	pkgs, err := packages.Load(&packages.Config{Mode: packages.NeedName, Dir: dir}, pattern)
	if err != nil {
		return "", err
	}
	if len(pkgs) != 1 {
		return "", fmt.Errorf("%q matches %d packages", pattern, len(pkgs))
	}
	if errs := pkgs[0].Errors; len(errs) > 0 {
		return "", fmt.Errorf("%q: %v", pattern, errs[0])
	}
	if pkgs[0].PkgPath == "" {
		return "", fmt.Errorf("%q is not a package", pattern)
	}
	return pkgs[0].PkgPath, nil
}
