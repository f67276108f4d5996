package lightrpc

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func validClient() ClientConfig {
	return ClientConfig{
		BossThreads:         1,
		WorkerThreads:       2,
		Port:                9527,
		RemoteServerAddress: "127.0.0.1",
	}
}

func TestClientConfigValidate(t *testing.T) {
	for _, test := range []struct {
		name   string
		modify func(c *ClientConfig)
		want   string // empty means valid
	}{
		{"valid", func(c *ClientConfig) {}, ""},
		{"ipv6", func(c *ClientConfig) { c.RemoteServerAddress = "::1" }, ""},
		{"full ipv6", func(c *ClientConfig) { c.RemoteServerAddress = "2001:db8:0:0:0:0:2:1" }, ""},
		{"octet 255", func(c *ClientConfig) { c.RemoteServerAddress = "255.255.255.255" }, ""},
		{"octet 256", func(c *ClientConfig) { c.RemoteServerAddress = "10.0.0.256" }, "remote server address"},
		{"three octets", func(c *ClientConfig) { c.RemoteServerAddress = "10.0.1" }, "remote server address"},
		{"host name", func(c *ClientConfig) { c.RemoteServerAddress = "localhost" }, "remote server address"},
		{"empty address", func(c *ClientConfig) { c.RemoteServerAddress = "" }, "remote server address"},
		{"zero boss", func(c *ClientConfig) { c.BossThreads = 0 }, "boss threads"},
		{"negative workers", func(c *ClientConfig) { c.WorkerThreads = -1 }, "worker threads"},
		{"zero port", func(c *ClientConfig) { c.Port = 0 }, "port"},
		{"huge port", func(c *ClientConfig) { c.Port = 70000 }, "port"},
		{"package", func(c *ClientConfig) { c.AutoScanPackage = "github.com/acme/api" }, ""},
		{"bad package", func(c *ClientConfig) { c.AutoScanPackage = "github.com//api" }, "auto scan package"},
		{"codec", func(c *ClientConfig) { c.Codec = "cbor" }, ""},
		{"bad codec", func(c *ClientConfig) { c.Codec = "json" }, "unknown codec"},
		{"bad level", func(c *ClientConfig) { c.LogLevel = "loud" }, "invalid log level"},
		{"negative timeout", func(c *ClientConfig) { c.ConnectTimeout = -time.Second }, "connect timeout"},
	} {
		t.Run(test.name, func(t *testing.T) {
			c := validClient()
			test.modify(&c)
			err := c.Validate()
			if test.want == "" {
				if err != nil {
					t.Fatalf("Validate() = %v", err)
				}
				return
			}
			if !errors.Is(err, ErrInvalidConfig) || !strings.Contains(err.Error(), test.want) {
				t.Fatalf("Validate() = %v, want ErrInvalidConfig mentioning %q", err, test.want)
			}
		})
	}
}

func TestServerConfigValidate(t *testing.T) {
	valid := ServerConfig{BossThreads: 1, WorkerThreads: 1, Port: 80}
	if err := valid.Validate(); err != nil {
		t.Fatal(err)
	}

	bad := valid
	bad.BindAddress = "0.0.0"
	bad.MaxConnections = -1
	bad.WorkerThreads = 0
	err := bad.Validate()
	if !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("Validate() = %v, want ErrInvalidConfig", err)
	}
	for _, want := range []string{"bind address", "max connections", "worker threads"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("Validate() = %v, does not mention %q", err, want)
		}
	}
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	file := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(file, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return file
}

func TestLoadConfig(t *testing.T) {
	want := &Config{
		Client: &ClientConfig{
			AutoScanPackage:     "github.com/acme/api",
			BossThreads:         2,
			WorkerThreads:       8,
			Port:                9527,
			RemoteServerAddress: "10.1.2.3",
			ConnectTimeout:      3 * time.Second,
			Codec:               "cbor",
		},
		Server: &ServerConfig{
			BossThreads:    1,
			WorkerThreads:  16,
			Port:           9527,
			MaxConnections: 100,
			LogLevel:       "debug",
			TraceSpans:     true,
		},
	}

	for _, test := range []struct {
		name    string
		content string
	}{
		{"config.toml", `
[client]
auto_scan_package = "github.com/acme/api"
boss_threads = 2
worker_threads = 8
port = 9527
remote_server_address = "10.1.2.3"
connect_timeout = "3s"
codec = "cbor"

[server]
boss_threads = 1
worker_threads = 16
port = 9527
max_connections = 100
log_level = "debug"
trace_spans = true
`},
		{"config.yaml", `
client:
  auto_scan_package: github.com/acme/api
  boss_threads: 2
  worker_threads: 8
  port: 9527
  remote_server_address: 10.1.2.3
  connect_timeout: 3s
  codec: cbor
server:
  boss_threads: 1
  worker_threads: 16
  port: 9527
  max_connections: 100
  log_level: debug
  trace_spans: true
`},
	} {
		t.Run(test.name, func(t *testing.T) {
			got, err := LoadConfig(writeFile(t, test.name, test.content))
			if err != nil {
				t.Fatal(err)
			}
			if diff := cmp.Diff(want, got); diff != "" {
				t.Fatalf("LoadConfig (-want +got):\n%s", diff)
			}
		})
	}
}

func TestLoadConfigErrors(t *testing.T) {
	for _, test := range []struct {
		name    string
		file    string
		content string
		want    string
	}{
		{"unknown toml key", "c.toml", "[client]\nbos_threads = 1\n", "unknown keys"},
		{"unknown yaml key", "c.yml", "client:\n  bos_threads: 1\n", "bos_threads"},
		{"invalid section", "c.toml", "[server]\nboss_threads = 0\nworker_threads = 1\nport = 1\n", "boss threads"},
		{"unsupported format", "c.json", "{}", "unsupported config format"},
	} {
		t.Run(test.name, func(t *testing.T) {
			_, err := LoadConfig(writeFile(t, test.file, test.content))
			if err == nil || !strings.Contains(err.Error(), test.want) {
				t.Fatalf("LoadConfig() = %v, want error containing %q", err, test.want)
			}
		})
	}
}

func TestLoadConfigRelativeScanPackage(t *testing.T) {
	dir := t.TempDir()
	for name, content := range map[string]string{
		"go.mod":     "module example.com/cfg\n\ngo 1.21\n",
		"svc/svc.go": "package svc\n",
	} {
		file := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(file), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(file, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	config := `
[client]
auto_scan_package = "./svc"
boss_threads = 1
worker_threads = 1
port = 9527
remote_server_address = "127.0.0.1"

[server]
auto_scan_package = "example.com/other"
boss_threads = 1
worker_threads = 1
port = 9527
`
	file := filepath.Join(dir, "lightrpc.toml")
	if err := os.WriteFile(file, []byte(config), 0o644); err != nil {
		t.Fatal(err)
	}
	got, err := LoadConfig(file)
	if err != nil {
		t.Fatal(err)
	}
	if want := "example.com/cfg/svc"; got.Client.AutoScanPackage != want {
		t.Errorf("client scan package = %q; want %q", got.Client.AutoScanPackage, want)
	}
	if want := "example.com/other"; got.Server.AutoScanPackage != want {
		t.Errorf("server scan package = %q; want %q", got.Server.AutoScanPackage, want)
	}

	missing := strings.Replace(config, `"./svc"`, `"./missing"`, 1)
	if err := os.WriteFile(file, []byte(missing), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadConfig(file); err == nil || !strings.Contains(err.Error(), "auto scan package") {
		t.Fatalf("LoadConfig(./missing) = %v; want an auto scan package error", err)
	}
}
