// Package config resolves the gateway's settings through viper: a plain
// Settings struct populated from defaults, overlaid by KG_* environment
// variables, overlaid by command-line flags. Settings are immutable once
// serving starts.
package config

import (
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Personality selects which HTTP/WS surface the gateway exposes.
type Personality string

const (
	PersonalityRaw          Personality = "kernel_gateway.jupyter_websocket"
	PersonalityNotebookHTTP Personality = "kernel_gateway.notebook_http"
)

// Settings is the fully resolved, immutable-after-startup configuration for
// one gateway process.
type Settings struct {
	Port        int    `mapstructure:"port"`
	PortRetries int    `mapstructure:"port_retries"`
	IP          string `mapstructure:"ip"`
	BaseURL     string `mapstructure:"base_url"`
	AuthToken   string `mapstructure:"auth_token"`

	AllowCredentials string `mapstructure:"allow_credentials"`
	AllowHeaders     string `mapstructure:"allow_headers"`
	AllowMethods     string `mapstructure:"allow_methods"`
	AllowOrigin      string `mapstructure:"allow_origin"`
	ExposeHeaders    string `mapstructure:"expose_headers"`
	MaxAge           string `mapstructure:"max_age"`

	MaxKernels          int      `mapstructure:"max_kernels"`
	SeedURI             string   `mapstructure:"seed_uri"`
	SeedWatch           bool     `mapstructure:"seed_watch"`
	PrespawnCount       int      `mapstructure:"prespawn_count"`
	DefaultKernelName   string   `mapstructure:"default_kernel_name"`
	ForceKernelName     string   `mapstructure:"force_kernel_name"`
	EnvProcessWhitelist []string `mapstructure:"env_process_whitelist"`

	ListKernels bool        `mapstructure:"list_kernels"`
	API         Personality `mapstructure:"api"`

	CertFile      string `mapstructure:"certfile"`
	KeyFile       string `mapstructure:"keyfile"`
	ClientCA      string `mapstructure:"client_ca"`
	SSLVersion    string `mapstructure:"ssl_version"`
	TrustXHeaders bool   `mapstructure:"trust_xheaders"`

	RuntimeDir    string `mapstructure:"runtime_dir"`
	KernelspecDir string `mapstructure:"kernelspec_dir"`

	// Derived from the *_secs keys below; durations never cross the viper
	// boundary directly.
	WSPingInterval   time.Duration `mapstructure:"-"`
	ExecutionTimeout time.Duration `mapstructure:"-"`
	ShutdownGrace    time.Duration `mapstructure:"-"`
}

// defaults declares every settings key viper knows about; a key must appear
// here for its KG_* environment variable to resolve.
var defaults = map[string]interface{}{
	"port":         8888,
	"port_retries": 50,
	"ip":           "127.0.0.1",
	"base_url":     "",
	"auth_token":   "",

	"allow_credentials": "",
	"allow_headers":     "",
	"allow_methods":     "",
	"allow_origin":      "",
	"expose_headers":    "",
	"max_age":           "",

	"max_kernels":           0,
	"seed_uri":              "",
	"seed_watch":            false,
	"prespawn_count":        0,
	"default_kernel_name":   "",
	"force_kernel_name":     "",
	"env_process_whitelist": []string{},

	"list_kernels": false,
	"api":          string(PersonalityRaw),

	"certfile":       "",
	"keyfile":        "",
	"client_ca":      "",
	"ssl_version":    "",
	"trust_xheaders": false,

	"runtime_dir":    "",
	"kernelspec_dir": "",

	"ws_ping_interval_secs":  30,
	"execution_timeout_secs": 5,
	"shutdown_grace_secs":    5,
}

// flagKeys maps each flag BindFlags registers to its settings key, so a
// flag the operator actually passed takes the final word over environment
// and defaults.
var flagKeys = map[string]string{
	"port":                "port",
	"port-retries":        "port_retries",
	"ip":                  "ip",
	"base-url":            "base_url",
	"auth-token":          "auth_token",
	"max-kernels":         "max_kernels",
	"seed-uri":            "seed_uri",
	"prespawn-count":      "prespawn_count",
	"default-kernel-name": "default_kernel_name",
	"force-kernel-name":   "force_kernel_name",
	"list-kernels":        "list_kernels",
	"kernelspec-dir":      "kernelspec_dir",
	"api":                 "api",
}

// BindFlags registers the serve command's flags on fs. Pass the parsed set
// to Resolve; only flags the operator changed override the environment.
func BindFlags(fs *pflag.FlagSet) {
	fs.Int("port", defaults["port"].(int), "port on which to listen")
	fs.Int("port-retries", defaults["port_retries"].(int), "additional ports to try on EADDRINUSE")
	fs.String("ip", defaults["ip"].(string), "IP address on which to listen")
	fs.String("base-url", "", "base path for all API resources")
	fs.String("auth-token", "", "bearer token required for all requests")
	fs.Int("max-kernels", 0, "maximum concurrently running kernels (0 = unbounded)")
	fs.String("seed-uri", "", "path to the seed notebook")
	fs.Int("prespawn-count", 0, "kernels to prespawn for notebook-http pool")
	fs.String("default-kernel-name", "", "default kernelspec name")
	fs.String("force-kernel-name", "", "kernelspec name to force for every create")
	fs.Bool("list-kernels", false, "allow GET /api/kernels and /api/sessions to list")
	fs.String("kernelspec-dir", "", "directory of installed kernelspecs (one subdirectory per kernel)")
	fs.String("api", string(PersonalityRaw), "personality: kernel_gateway.jupyter_websocket or kernel_gateway.notebook_http")
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("kg")
	v.AutomaticEnv()
	for key, def := range defaults {
		v.SetDefault(key, def)
	}
	return v
}

// Resolve builds Settings following the precedence chain default <- env <-
// flag: every key starts at its default, KG_* environment variables
// overlay, and flags the operator explicitly passed on fs take the final
// word. fs may be nil when there is no command line to consider.
func Resolve(fs *pflag.FlagSet) (Settings, error) {
	v := newViper()
	if fs != nil {
		fs.Visit(func(f *pflag.Flag) {
			if key, ok := flagKeys[f.Name]; ok {
				v.Set(key, f.Value.String())
			}
		})
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return Settings{}, errors.Wrap(err, "resolving settings")
	}
	s.WSPingInterval = time.Duration(v.GetInt("ws_ping_interval_secs")) * time.Second
	s.ExecutionTimeout = time.Duration(v.GetInt("execution_timeout_secs")) * time.Second
	s.ShutdownGrace = time.Duration(v.GetInt("shutdown_grace_secs")) * time.Second
	return s, nil
}

// Defaults returns the settings a bare gateway starts with, ignoring the
// environment and command line. Used by tests that build Settings by hand.
func Defaults() Settings {
	return Settings{
		Port:             8888,
		PortRetries:      50,
		IP:               "127.0.0.1",
		MaxKernels:       0,
		PrespawnCount:    0,
		ListKernels:      false,
		API:              PersonalityRaw,
		WSPingInterval:   30 * time.Second,
		ExecutionTimeout: 5 * time.Second,
		ShutdownGrace:    5 * time.Second,
	}
}
