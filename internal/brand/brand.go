// Package brand provides centralized branding constants for the daemon.
// The identity is loaded from brand.json at compile time via go:embed so
// packaging scripts can read the same file.
package brand

import (
	_ "embed"
	"encoding/json"
	"os"
	"path/filepath"
)

//go:embed brand.json
var brandJSON []byte

// Brand holds all branding information.
type Brand struct {
	Name             string `json:"name"`
	LowerName        string `json:"lowerName"`
	Vendor           string `json:"vendor"`
	Website          string `json:"website"`
	Repository       string `json:"repository"`
	Description      string `json:"description"`
	Tagline          string `json:"tagline"`
	ConfigEnvPrefix  string `json:"configEnvPrefix"`
	DefaultConfigDir string `json:"defaultConfigDir"`
	DefaultLogDir    string `json:"defaultLogDir"`
	DefaultRunDir    string `json:"defaultRunDir"`
	SocketName       string `json:"socketName"`
	BinaryName       string `json:"binaryName"`
	ServiceName      string `json:"serviceName"`
	ConfigFileName   string `json:"configFileName"`
	AdminGroup       string `json:"adminGroup"`
}

var b Brand

func init() {
	if err := json.Unmarshal(brandJSON, &b); err != nil {
		panic("failed to parse brand.json: " + err.Error())
	}

	Name = b.Name
	LowerName = b.LowerName
	Vendor = b.Vendor
	Description = b.Description
	ConfigEnvPrefix = b.ConfigEnvPrefix
	DefaultConfigDir = b.DefaultConfigDir
	DefaultLogDir = b.DefaultLogDir
	DefaultRunDir = b.DefaultRunDir
	SocketName = b.SocketName
	BinaryName = b.BinaryName
	ServiceName = b.ServiceName
	ConfigFileName = b.ConfigFileName
	AdminGroup = b.AdminGroup
}

// Exported variables for convenience.
var (
	Name             string
	LowerName        string
	Vendor           string
	Description      string
	ConfigEnvPrefix  string
	DefaultConfigDir string
	DefaultLogDir    string
	DefaultRunDir    string
	SocketName       string
	BinaryName       string
	ServiceName      string
	ConfigFileName   string
	AdminGroup       string

	// Version is set at build time via -ldflags
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// Get returns the full Brand struct.
func Get() Brand {
	return b
}

// GetLogDir returns the log directory, checking env vars first.
// Priority: WARDEN_LOG_DIR > WARDEN_PREFIX/log > DefaultLogDir
func GetLogDir() string {
	if dir := os.Getenv(ConfigEnvPrefix + "_LOG_DIR"); dir != "" {
		return dir
	}
	if prefix := os.Getenv(ConfigEnvPrefix + "_PREFIX"); prefix != "" {
		return filepath.Join(prefix, "log")
	}
	return DefaultLogDir
}

// GetConfigDir returns the config directory, checking env vars first.
// Priority: WARDEN_CONFIG_DIR > WARDEN_PREFIX/config > DefaultConfigDir
func GetConfigDir() string {
	if dir := os.Getenv(ConfigEnvPrefix + "_CONFIG_DIR"); dir != "" {
		return dir
	}
	if prefix := os.Getenv(ConfigEnvPrefix + "_PREFIX"); prefix != "" {
		return filepath.Join(prefix, "config")
	}
	return DefaultConfigDir
}

// GetRunDir returns the runtime directory for sockets and PID files.
// Priority: WARDEN_RUN_DIR > WARDEN_PREFIX/run > DefaultRunDir
func GetRunDir() string {
	if dir := os.Getenv(ConfigEnvPrefix + "_RUN_DIR"); dir != "" {
		return dir
	}
	if prefix := os.Getenv(ConfigEnvPrefix + "_PREFIX"); prefix != "" {
		return filepath.Join(prefix, "run")
	}
	return DefaultRunDir
}

// GetSocketPath returns the full path to the control socket.
// Returns: /var/run/warden-ctl.sock (or equivalent based on env/prefix).
func GetSocketPath() string {
	return filepath.Join(GetRunDir(), LowerName+"-"+SocketName)
}

// GetConfigPath returns the full path to the default config file.
func GetConfigPath() string {
	return filepath.Join(GetConfigDir(), ConfigFileName)
}
