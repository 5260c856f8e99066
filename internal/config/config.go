package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// EnvPrefix prefixes every environment override
const EnvPrefix = "RIDSCAN_"

// Config represents the main application configuration structure
// containing all configuration sections
type Config struct {
	Server      ServerConfig      `toml:"server"`      // HTTP server settings
	Logging     LoggingConfig     `toml:"logging"`     // Application logging settings
	Scan        ScanConfig        `toml:"scan"`        // Local broadcast scanning settings
	Flights     FlightsConfig     `toml:"flights"`     // Nearby aircraft data source settings
	Station     StationConfig     `toml:"station"`     // Optional fixed observer position
	Permissions PermissionsConfig `toml:"permissions"` // Initial capability grants
	Storage     StorageConfig     `toml:"storage"`     // Sighting journal settings
}

// ServerConfig contains HTTP server configuration settings
type ServerConfig struct {
	Port               int      `toml:"port"`                  // HTTP port for the server
	Host               string   `toml:"host"`                  // Host address to bind to (e.g., 127.0.0.1 for localhost only, 0.0.0.0 for all interfaces)
	CORSAllowedOrigins []string `toml:"cors_allowed_origins"`  // List of origins allowed for CORS requests (use ["*"] for all origins)
	ReadTimeoutSecs    int      `toml:"read_timeout_seconds"`  // Maximum duration for reading the entire request
	WriteTimeoutSecs   int      `toml:"write_timeout_seconds"` // Maximum duration for writing the response
	IdleTimeoutSecs    int      `toml:"idle_timeout_seconds"`  // Maximum duration to wait for the next request when keep-alives are enabled
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level    string `toml:"level"`     // debug, info, warn, error
	Format   string `toml:"format"`    // console or json
	FilePath string `toml:"file_path"` // Optional rotating log file
}

// ScanConfig contains the scan timeline settings
type ScanConfig struct {
	IntervalSecs   int    `toml:"interval_seconds"` // Period of the scan timeline
	WifiNamePrefix string `toml:"wifi_name_prefix"` // Only Wi-Fi networks with this SSID prefix are shown
	WifiSource     string `toml:"wifi_source"`      // "push" (hosting platform reports scans) or "nmcli" (Linux NetworkManager)
	NmcliPath      string `toml:"nmcli_path"`       // Path to the nmcli binary
	BLEPolicy      string `toml:"ble_policy"`       // accumulate or replace
	WifiPolicy     string `toml:"wifi_policy"`      // accumulate or replace
}

// FlightsConfig contains the upstream flight-data API settings
type FlightsConfig struct {
	BaseURL            string  `toml:"base_url"`             // Point-query API base URL
	RadiusNM           float64 `toml:"radius_nm"`            // Query radius in nautical miles
	ArrayKey           string  `toml:"array_key"`            // Response key holding the aircraft array
	TimeoutSecs        int     `toml:"timeout_seconds"`      // Per-request timeout
	IsolateEntryErrors bool    `toml:"isolate_entry_errors"` // Skip malformed entries instead of failing the whole response
	MagneticBearing    bool    `toml:"magnetic_bearing"`     // Add a WMM magnetic bearing per aircraft
}

// StationConfig is an optional fallback observer position
type StationConfig struct {
	Enabled   bool    `toml:"enabled"`
	Fixed     bool    `toml:"fixed"` // Ignore live fixes and always use the station position
	Latitude  float64 `toml:"latitude"`
	Longitude float64 `toml:"longitude"`
}

// PermissionsConfig holds the grants in effect at startup
type PermissionsConfig struct {
	BLE      bool `toml:"ble"`
	WiFi     bool `toml:"wifi"`
	Location bool `toml:"location"`
}

// StorageConfig contains sighting journal settings
type StorageConfig struct {
	JournalEnabled bool   `toml:"journal_enabled"`  // Write new detections and fetch outcomes to SQLite
	SQLiteBasePath string `toml:"sqlite_base_path"` // Directory for the daily journal files
}

// Default returns a configuration with every default applied
func Default() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}

// Load loads configuration from a TOML file
func Load(path string) (*Config, error) {
	var config Config

	// Check if the file exists
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file not found: %s", path)
	}

	if _, err := toml.DecodeFile(path, &config); err != nil {
		return nil, fmt.Errorf("failed to decode config file: %w", err)
	}

	return &config, nil
}

// LoadWithFallback attempts to load configuration from multiple locations
func LoadWithFallback(preferredPath string) (*Config, error) {
	// List of paths to check in order of preference
	searchPaths := []string{
		preferredPath,         // User-specified path (if provided)
		"configs/config.toml", // configs/ folder
		"config.toml",         // Root directory
	}

	// Remove duplicates while preserving order
	uniquePaths := make([]string, 0, len(searchPaths))
	seen := make(map[string]bool)
	for _, path := range searchPaths {
		if path != "" && !seen[path] {
			uniquePaths = append(uniquePaths, path)
			seen[path] = true
		}
	}

	var lastErr error
	for _, path := range uniquePaths {
		if _, err := os.Stat(path); err == nil {
			config, err := Load(path)
			if err != nil {
				lastErr = fmt.Errorf("failed to load config from %s: %w", path, err)
				continue
			}
			return config, nil
		}
		lastErr = fmt.Errorf("config file not found: %s", path)
	}

	return nil, fmt.Errorf("config file not found in any of the expected locations: %v. Last error: %w", uniquePaths, lastErr)
}

// ApplyEnv overrides values from RIDSCAN_* environment variables. Variables in
// the given .env files (default ".env") are loaded first without overriding
// variables already set in the environment.
func (c *Config) ApplyEnv(envFiles ...string) error {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return fmt.Errorf("failed to load %s: %w", f, err)
		}
	}

	var errs []string
	setString := func(name string, dst *string) {
		if v, ok := os.LookupEnv(EnvPrefix + name); ok {
			*dst = v
		}
	}
	setInt := func(name string, dst *int) {
		if v, ok := os.LookupEnv(EnvPrefix + name); ok {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s%s=%q is not an integer", EnvPrefix, name, v))
				return
			}
			*dst = n
		}
	}
	setFloat := func(name string, dst *float64) {
		if v, ok := os.LookupEnv(EnvPrefix + name); ok {
			f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s%s=%q is not a number", EnvPrefix, name, v))
				return
			}
			*dst = f
		}
	}
	setBool := func(name string, dst *bool) {
		if v, ok := os.LookupEnv(EnvPrefix + name); ok {
			b, err := strconv.ParseBool(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s%s=%q is not a boolean", EnvPrefix, name, v))
				return
			}
			*dst = b
		}
	}

	setString("SERVER_HOST", &c.Server.Host)
	setInt("SERVER_PORT", &c.Server.Port)
	setString("LOG_LEVEL", &c.Logging.Level)
	setString("LOG_FORMAT", &c.Logging.Format)
	setString("LOG_FILE", &c.Logging.FilePath)
	setInt("SCAN_INTERVAL_SECONDS", &c.Scan.IntervalSecs)
	setString("WIFI_NAME_PREFIX", &c.Scan.WifiNamePrefix)
	setString("WIFI_SOURCE", &c.Scan.WifiSource)
	setString("FLIGHTS_BASE_URL", &c.Flights.BaseURL)
	setFloat("FLIGHTS_RADIUS_NM", &c.Flights.RadiusNM)
	setString("FLIGHTS_ARRAY_KEY", &c.Flights.ArrayKey)
	setBool("STATION_ENABLED", &c.Station.Enabled)
	setBool("STATION_FIXED", &c.Station.Fixed)
	setFloat("STATION_LATITUDE", &c.Station.Latitude)
	setFloat("STATION_LONGITUDE", &c.Station.Longitude)
	setBool("JOURNAL_ENABLED", &c.Storage.JournalEnabled)
	setString("SQLITE_BASE_PATH", &c.Storage.SQLiteBasePath)

	if len(errs) > 0 {
		return fmt.Errorf("invalid environment overrides: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "127.0.0.1"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.ReadTimeoutSecs == 0 {
		c.Server.ReadTimeoutSecs = 15
	}
	if c.Server.WriteTimeoutSecs == 0 {
		c.Server.WriteTimeoutSecs = 15
	}
	if c.Server.IdleTimeoutSecs == 0 {
		c.Server.IdleTimeoutSecs = 60
	}
	if len(c.Server.CORSAllowedOrigins) == 0 {
		c.Server.CORSAllowedOrigins = []string{"*"}
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "console"
	}

	if c.Scan.IntervalSecs == 0 {
		c.Scan.IntervalSecs = 10
	}
	if c.Scan.WifiSource == "" {
		c.Scan.WifiSource = "push"
	}
	if c.Scan.NmcliPath == "" {
		c.Scan.NmcliPath = "nmcli"
	}
	if c.Scan.BLEPolicy == "" {
		c.Scan.BLEPolicy = "accumulate"
	}
	if c.Scan.WifiPolicy == "" {
		c.Scan.WifiPolicy = "replace"
	}

	if c.Flights.BaseURL == "" {
		c.Flights.BaseURL = "https://api.airplanes.live"
	}
	if c.Flights.RadiusNM == 0 {
		c.Flights.RadiusNM = 15
	}
	if c.Flights.ArrayKey == "" {
		c.Flights.ArrayKey = "ac"
	}
	if c.Flights.TimeoutSecs == 0 {
		c.Flights.TimeoutSecs = 10
	}

	if c.Storage.SQLiteBasePath == "" {
		c.Storage.SQLiteBasePath = "data"
	}
}

// Validate fills defaults and checks the configuration for invalid values
func (c *Config) Validate() error {
	c.applyDefaults()

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.ReadTimeoutSecs < 0 || c.Server.WriteTimeoutSecs < 0 || c.Server.IdleTimeoutSecs < 0 {
		return fmt.Errorf("server timeouts must be >= 0")
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %s (must be 'debug', 'info', 'warn' or 'error')", c.Logging.Level)
	}
	if c.Logging.Format != "console" && c.Logging.Format != "json" {
		return fmt.Errorf("invalid log format: %s (must be 'console' or 'json')", c.Logging.Format)
	}

	if c.Scan.IntervalSecs < 1 {
		return fmt.Errorf("invalid scan interval: %d (must be >= 1)", c.Scan.IntervalSecs)
	}
	if c.Scan.WifiSource != "push" && c.Scan.WifiSource != "nmcli" {
		return fmt.Errorf("invalid wifi source: %s (must be 'push' or 'nmcli')", c.Scan.WifiSource)
	}
	for name, p := range map[string]string{"ble_policy": c.Scan.BLEPolicy, "wifi_policy": c.Scan.WifiPolicy} {
		if p != "accumulate" && p != "replace" {
			return fmt.Errorf("invalid %s: %s (must be 'accumulate' or 'replace')", name, p)
		}
	}

	if !strings.HasPrefix(c.Flights.BaseURL, "http://") && !strings.HasPrefix(c.Flights.BaseURL, "https://") {
		return fmt.Errorf("invalid flights base_url: %s", c.Flights.BaseURL)
	}
	if c.Flights.RadiusNM <= 0 || c.Flights.RadiusNM > 250 {
		return fmt.Errorf("invalid flights radius: %v (must be in (0, 250] nm)", c.Flights.RadiusNM)
	}
	if c.Flights.TimeoutSecs < 1 {
		return fmt.Errorf("invalid flights timeout: %d (must be >= 1)", c.Flights.TimeoutSecs)
	}

	if c.Station.Enabled {
		if c.Station.Latitude < -90 || c.Station.Latitude > 90 {
			return fmt.Errorf("invalid station latitude: %v", c.Station.Latitude)
		}
		if c.Station.Longitude < -180 || c.Station.Longitude > 180 {
			return fmt.Errorf("invalid station longitude: %v", c.Station.Longitude)
		}
	}

	return nil
}

// SchedulerStopWait bounds how long shutdown waits for the scheduler. It outlasts
// one flight fetch so a request in progress can finish.
func (c *Config) SchedulerStopWait() time.Duration {
	return time.Duration(c.Flights.TimeoutSecs)*time.Second + 5*time.Second
}
