package config

import (
	"fmt"
	"io/ioutil"
	"os"
	"os/user"
	"path"

	"gopkg.in/yaml.v2"
)

const (
	configDir     string = ".dwarfcfa"
	xdgConfigDir  string = "dwarfcfa"
	configFile    string = "config.yml"
	defaultTables int    = 128
)

// Color modes.
const (
	ColorAuto   = "auto"
	ColorAlways = "always"
	ColorNever  = "never"
)

// Config defines all configuration options available to be set through the config file.
type Config struct {
	// LogOutput is the default value of --log-output, the comma separated
	// list of layers that produce debug logs (frame, rewrite, loclist).
	LogOutput string `yaml:"log-output,omitempty"`

	// TableCacheSize is the number of decoded row tables kept in memory.
	// Zero means the default size, a negative number disables the cache.
	TableCacheSize int `yaml:"table-cache-size,omitempty"`

	// Color is one of auto, always or never.
	Color string `yaml:"color,omitempty"`

	// If ShowOffsets is true expressions are printed with the byte offset
	// of every instruction.
	ShowOffsets bool `yaml:"show-offsets"`

	// If Disassemble is true the rows command prints the instruction at
	// the start of every row.
	Disassemble bool `yaml:"disassemble"`
}

// CacheSize returns the size of the row table cache, 0 if it is disabled.
func (c *Config) CacheSize() int {
	switch {
	case c.TableCacheSize < 0:
		return 0
	case c.TableCacheSize == 0:
		return defaultTables
	}
	return c.TableCacheSize
}

// ColorMode returns the validated color mode, auto if unset.
func (c *Config) ColorMode() (string, error) {
	switch c.Color {
	case "":
		return ColorAuto, nil
	case ColorAuto, ColorAlways, ColorNever:
		return c.Color, nil
	}
	return "", fmt.Errorf("invalid color mode %q, expected auto, always or never", c.Color)
}

// LoadConfig attempts to populate a Config object from the config.yml file.
// Problems are reported on stderr and result in the default configuration.
func LoadConfig() *Config {
	err := createConfigPath()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Could not create config directory: %v.\n", err)
		return &Config{}
	}
	fullConfigFile, err := GetConfigFilePath(configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Unable to get config file path: %v.\n", err)
		return &Config{}
	}

	f, err := os.Open(fullConfigFile)
	if err != nil {
		f, err = createDefaultConfig(fullConfigFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error creating default config file: %v\n", err)
			return &Config{}
		}
	}
	defer func() {
		err := f.Close()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Closing config file failed: %v.\n", err)
		}
	}()

	data, err := ioutil.ReadAll(f)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Unable to read config data: %v.\n", err)
		return &Config{}
	}

	c, err := parseConfig(data)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Unable to decode config file: %v.\n", err)
		return &Config{}
	}
	return c
}

func parseConfig(data []byte) (*Config, error) {
	var c Config
	if err := yaml.UnmarshalStrict(data, &c); err != nil {
		return nil, err
	}
	if _, err := c.ColorMode(); err != nil {
		return nil, err
	}
	return &c, nil
}

// SaveConfig will marshal and save the config struct
// to disk.
func SaveConfig(conf *Config) error {
	if err := createConfigPath(); err != nil {
		return err
	}
	fullConfigFile, err := GetConfigFilePath(configFile)
	if err != nil {
		return err
	}

	out, err := yaml.Marshal(*conf)
	if err != nil {
		return err
	}

	f, err := os.Create(fullConfigFile)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = f.Write(out)
	return err
}

func createDefaultConfig(path string) (*os.File, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("unable to create config file: %v", err)
	}
	err = writeDefaultConfig(f)
	if err != nil {
		return nil, fmt.Errorf("unable to write default configuration: %v", err)
	}
	if _, err := f.Seek(0, 0); err != nil {
		return nil, err
	}
	return f, nil
}

func writeDefaultConfig(f *os.File) error {
	_, err := f.WriteString(
		`# Configuration file for dwarfcfa.

# This is the default configuration file. Available options are provided, but disabled.
# Delete the leading hash mark to enable an item.

# Layers producing debug logs when --log is passed: frame, rewrite, loclist.
# log-output: rewrite

# Number of decoded call frame tables kept in memory, -1 disables the cache.
# table-cache-size: 128

# Colored output: auto, always or never.
# color: auto

# Print the byte offset of every instruction of a location expression.
show-offsets: false

# Print the instruction found at the start of every row (amd64 only).
disassemble: false
`)
	return err
}

// createConfigPath creates the directory structure at which all config files are saved.
func createConfigPath() error {
	path, err := GetConfigFilePath("")
	if err != nil {
		return err
	}
	return os.MkdirAll(path, 0700)
}

// GetConfigFilePath gets the full path to the given config file name.
// $XDG_CONFIG_HOME/dwarfcfa is used when XDG_CONFIG_HOME is set,
// $HOME/.dwarfcfa otherwise.
func GetConfigFilePath(file string) (string, error) {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return path.Join(xdg, xdgConfigDir, file), nil
	}

	userHomeDir := "."
	usr, err := user.Current()
	if err == nil {
		userHomeDir = usr.HomeDir
	}
	return path.Join(userHomeDir, configDir, file), nil
}
