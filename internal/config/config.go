package config

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/mearec/mealog/internal/acquisition"
	"github.com/mearec/mealog/internal/recording"
)

type GlobalsConfig struct {
	Output GlobalOutputConfig `mapstructure:"output" yaml:"output"`
}

type GlobalOutputConfig struct {
	RecordingsDirectory string `mapstructure:"recordings_directory" yaml:"recordings_directory"`
}

type RootConfig struct {
	ActiveConfig string             `mapstructure:"active_config" yaml:"active_config"`
	Globals      *GlobalsConfig     `mapstructure:"globals,omitempty" yaml:"globals,omitempty"`
	Configs      map[string]*Config `mapstructure:"configs" yaml:"configs"`
}

type Config struct {
	Recording   RecordingConfig   `mapstructure:"recording" yaml:"recording"`
	Output      OutputConfig      `mapstructure:"output" yaml:"output"`
	Acquisition AcquisitionConfig `mapstructure:"acquisition" yaml:"acquisition"`

	// Internal field to track inheritance information for the show command
	Inheritance *InheritanceInfo `mapstructure:"-" yaml:"-"`
}

type RecordingConfig struct {
	SampleRate float64 `mapstructure:"sample_rate" yaml:"sample_rate"` // Hz
	Channels   uint32  `mapstructure:"channels" yaml:"channels"`
	BlockSize  uint32  `mapstructure:"block_size" yaml:"block_size"` // samples per block
	Length     float64 `mapstructure:"length" yaml:"length"`         // seconds
	ADCRange   float64 `mapstructure:"adc_range" yaml:"adc_range"`   // volts
	Room       string  `mapstructure:"room" yaml:"room"`
}

type OutputConfig struct {
	Directory string `mapstructure:"directory" yaml:"directory"`
	Overwrite *bool  `mapstructure:"overwrite,omitempty" yaml:"overwrite,omitempty"`
}

type AcquisitionConfig struct {
	Source   string `mapstructure:"source" yaml:"source"` // "synthetic", "stream"
	Input    string `mapstructure:"input" yaml:"input"`   // stream input file, "-" for stdin
	Realtime *bool  `mapstructure:"realtime,omitempty" yaml:"realtime,omitempty"`
	Seed     int64  `mapstructure:"seed" yaml:"seed"`
}

type InheritanceInfo struct {
	Recording struct {
		SampleRate string // "inherited" or "profile-specific"
		Channels   string
		BlockSize  string
		Length     string
		ADCRange   string
		Room       string
	}
	Output struct {
		Directory string
		Overwrite string
	}
	Acquisition struct {
		Source   string
		Input    string
		Realtime string
		Seed     string
	}
}

const (
	inherited       = "inherited"
	profileSpecific = "profile-specific"
)

// Default returns the built-in configuration used when no file is present.
func Default() *Config {
	rc := recording.DefaultConfig()
	return &Config{
		Recording: RecordingConfig{
			SampleRate: rc.SampleRate,
			Channels:   rc.Channels,
			BlockSize:  rc.BlockSize,
			Length:     rc.LengthSeconds,
			ADCRange:   rc.ADCRange,
			Room:       rc.Room,
		},
		Output: OutputConfig{
			Directory: filepath.Join(os.Getenv("HOME"), "Recordings", "mealog"),
			Overwrite: boolPtr(false),
		},
		Acquisition: AcquisitionConfig{
			Source:   string(acquisition.SourceTypeSynthetic),
			Realtime: boolPtr(true),
		},
	}
}

func LoadWithProfile(configFile, profile string) (*Config, error) {
	if configFile == "" {
		return nil, fmt.Errorf("no config file specified, use --config flag")
	}

	// Validate configuration format first
	rootConfig, err := ValidateConfigurationFormat(configFile)
	if err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	// Determine which config to use
	configName := profile
	if configName == "" {
		configName = rootConfig.ActiveConfig
	}
	if configName == "" {
		configName = "default"
	}

	selectedConfig, exists := rootConfig.Configs[configName]
	if !exists {
		return nil, fmt.Errorf("configuration profile '%s' not found", configName)
	}

	// Profiles fall back to the default profile, which falls back to the
	// built-in values
	base := Default()
	if configName != "default" {
		if defaultProfile, exists := rootConfig.Configs["default"]; exists {
			base = mergeConfigs(base, defaultProfile)
		}
	}
	result := mergeConfigs(base, selectedConfig)

	// Global recordings directory takes priority over profile-specific directory
	if rootConfig.Globals != nil && rootConfig.Globals.Output.RecordingsDirectory != "" {
		result.Output.Directory = rootConfig.Globals.Output.RecordingsDirectory
		result.Inheritance.Output.Directory = "global"
	}

	result.Output.Directory = expandPath(result.Output.Directory)
	if result.Acquisition.Input != "" && result.Acquisition.Input != "-" {
		result.Acquisition.Input = expandPath(result.Acquisition.Input)
	}

	if err := result.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return result, nil
}

// UpdateActiveConfig updates the active_config field in the config file
func UpdateActiveConfig(configFile, newActiveConfig string) error {
	if configFile == "" {
		return fmt.Errorf("no config file specified")
	}

	rootConfig, err := ValidateConfigurationFormat(configFile)
	if err != nil {
		return err
	}
	if _, exists := rootConfig.Configs[newActiveConfig]; !exists {
		return fmt.Errorf("configuration profile '%s' not found", newActiveConfig)
	}

	// Use a fresh viper instance so environment overrides are not written back
	v := viper.New()
	v.SetConfigFile(configFile)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("error reading config file %s: %w", configFile, err)
	}

	v.Set("active_config", newActiveConfig)

	if err := v.WriteConfig(); err != nil {
		return fmt.Errorf("error writing config file %s: %w", configFile, err)
	}
	return nil
}

// mergeConfigs overlays profile on base. Every zero-valued profile field
// falls back to base, and Inheritance records which fields came from where.
func mergeConfigs(base, profile *Config) *Config {
	result := &Config{Inheritance: &InheritanceInfo{}}
	inh := result.Inheritance

	if base != nil {
		result.Recording = base.Recording
		result.Output = base.Output
		result.Acquisition = base.Acquisition

		inh.Recording.SampleRate = inherited
		inh.Recording.Channels = inherited
		inh.Recording.BlockSize = inherited
		inh.Recording.Length = inherited
		inh.Recording.ADCRange = inherited
		inh.Recording.Room = inherited
		inh.Output.Directory = inherited
		inh.Output.Overwrite = inherited
		inh.Acquisition.Source = inherited
		inh.Acquisition.Input = inherited
		inh.Acquisition.Realtime = inherited
		inh.Acquisition.Seed = inherited
	}

	if profile == nil {
		return result
	}

	if profile.Recording.SampleRate != 0 {
		result.Recording.SampleRate = profile.Recording.SampleRate
		inh.Recording.SampleRate = profileSpecific
	}
	if profile.Recording.Channels != 0 {
		result.Recording.Channels = profile.Recording.Channels
		inh.Recording.Channels = profileSpecific
	}
	if profile.Recording.BlockSize != 0 {
		result.Recording.BlockSize = profile.Recording.BlockSize
		inh.Recording.BlockSize = profileSpecific
	}
	if profile.Recording.Length != 0 {
		result.Recording.Length = profile.Recording.Length
		inh.Recording.Length = profileSpecific
	}
	if profile.Recording.ADCRange != 0 {
		result.Recording.ADCRange = profile.Recording.ADCRange
		inh.Recording.ADCRange = profileSpecific
	}
	if profile.Recording.Room != "" {
		result.Recording.Room = profile.Recording.Room
		inh.Recording.Room = profileSpecific
	}

	if profile.Output.Directory != "" {
		result.Output.Directory = profile.Output.Directory
		inh.Output.Directory = profileSpecific
	}
	if profile.Output.Overwrite != nil {
		result.Output.Overwrite = boolPtr(*profile.Output.Overwrite)
		inh.Output.Overwrite = profileSpecific
	}

	if profile.Acquisition.Source != "" {
		result.Acquisition.Source = profile.Acquisition.Source
		inh.Acquisition.Source = profileSpecific
	}
	if profile.Acquisition.Input != "" {
		result.Acquisition.Input = profile.Acquisition.Input
		inh.Acquisition.Input = profileSpecific
	}
	if profile.Acquisition.Realtime != nil {
		result.Acquisition.Realtime = boolPtr(*profile.Acquisition.Realtime)
		inh.Acquisition.Realtime = profileSpecific
	}
	if profile.Acquisition.Seed != 0 {
		result.Acquisition.Seed = profile.Acquisition.Seed
		inh.Acquisition.Seed = profileSpecific
	}

	return result
}

// Validate checks a resolved configuration.
func (c *Config) Validate() error {
	if _, err := c.RecordingConfig(); err != nil {
		return err
	}
	if c.Output.Directory == "" {
		return fmt.Errorf("output.directory is required")
	}
	switch strings.ToLower(c.Acquisition.Source) {
	case "", string(acquisition.SourceTypeSynthetic), string(acquisition.SourceTypeStream):
	default:
		return fmt.Errorf("acquisition.source must be 'synthetic' or 'stream', got: %s", c.Acquisition.Source)
	}
	return nil
}

// RecordingConfig converts the recording section into the immutable
// recording configuration. Date and time are stamped at creation.
func (c *Config) RecordingConfig() (recording.Config, error) {
	rc := recording.Config{
		SampleRate:    c.Recording.SampleRate,
		Channels:      c.Recording.Channels,
		BlockSize:     c.Recording.BlockSize,
		LengthSeconds: c.Recording.Length,
		ADCRange:      c.Recording.ADCRange,
		Room:          c.Recording.Room,
	}
	if err := rc.Validate(); err != nil {
		return recording.Config{}, fmt.Errorf("recording: %w", err)
	}
	return rc, nil
}

// SourceOptions converts the acquisition section into source options.
func (c *Config) SourceOptions() acquisition.SourceOptions {
	return acquisition.SourceOptions{
		Type:       c.Acquisition.Source,
		Input:      c.Acquisition.Input,
		SampleRate: c.Recording.SampleRate,
		ADCRange:   c.Recording.ADCRange,
		Realtime:   c.Acquisition.RealtimeEnabled(),
		Seed:       c.Acquisition.Seed,
	}
}

// AllowOverwrite reports whether an existing recording may be replaced.
func (o OutputConfig) AllowOverwrite() bool {
	return o.Overwrite != nil && *o.Overwrite
}

// RealtimeEnabled reports whether a synthetic source is paced to the clock.
func (a AcquisitionConfig) RealtimeEnabled() bool {
	return a.Realtime == nil || *a.Realtime
}

// ValidateConfigurationFormat validates the configuration file format and returns parsed config
func ValidateConfigurationFormat(configFile string) (*RootConfig, error) {
	v := viper.New()
	v.SetConfigFile(configFile)

	// Environment variables override file values, e.g. MEALOG_ACTIVE_CONFIG
	// or MEALOG_CONFIGS_RIG2_RECORDING_LENGTH
	v.SetEnvPrefix("MEALOG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file %s: %w", configFile, err)
	}
	if err := bindEnvKeys(v); err != nil {
		return nil, err
	}

	var rootConfig RootConfig
	if err := v.Unmarshal(&rootConfig); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if len(rootConfig.Configs) == 0 {
		return nil, fmt.Errorf("configs section is required and cannot be empty")
	}
	for name, profile := range rootConfig.Configs {
		if profile == nil {
			return nil, fmt.Errorf("invalid config '%s': profile is empty", name)
		}
		if err := validateProfile(profile); err != nil {
			return nil, fmt.Errorf("invalid config '%s': %w", name, err)
		}
	}
	if rootConfig.ActiveConfig != "" {
		if _, exists := rootConfig.Configs[rootConfig.ActiveConfig]; !exists {
			return nil, fmt.Errorf("active_config '%s' does not name a profile", rootConfig.ActiveConfig)
		}
	}

	return &rootConfig, nil
}

// profileKeys are the settings of one profile, relative to configs.<name>.
var profileKeys = []string{
	"recording.sample_rate",
	"recording.channels",
	"recording.block_size",
	"recording.length",
	"recording.adc_range",
	"recording.room",
	"output.directory",
	"output.overwrite",
	"acquisition.source",
	"acquisition.input",
	"acquisition.realtime",
	"acquisition.seed",
}

// bindEnvKeys registers every settable key with viper. AutomaticEnv alone
// only consults the environment for keys the file already sets, so a profile
// field left unset in the file could not be overridden.
func bindEnvKeys(v *viper.Viper) error {
	keys := []string{"active_config", "globals.output.recordings_directory"}
	for name := range v.GetStringMap("configs") {
		for _, key := range profileKeys {
			keys = append(keys, "configs."+name+"."+key)
		}
	}
	for _, key := range keys {
		if err := v.BindEnv(key); err != nil {
			return fmt.Errorf("error binding environment for %s: %w", key, err)
		}
	}
	return nil
}

// validateProfile checks the fields a profile sets. Unset fields are
// inherited and checked after merging.
func validateProfile(p *Config) error {
	r := p.Recording
	if r.SampleRate < 0 || math.IsNaN(r.SampleRate) || math.IsInf(r.SampleRate, 0) {
		return fmt.Errorf("recording.sample_rate must be > 0, got: %v", r.SampleRate)
	}
	if r.Length < 0 || math.IsNaN(r.Length) {
		return fmt.Errorf("recording.length must be > 0, got: %v", r.Length)
	}
	if r.ADCRange < 0 || math.IsNaN(r.ADCRange) {
		return fmt.Errorf("recording.adc_range must be > 0, got: %v", r.ADCRange)
	}
	if p.Acquisition.Source != "" {
		switch strings.ToLower(p.Acquisition.Source) {
		case string(acquisition.SourceTypeSynthetic), string(acquisition.SourceTypeStream):
		default:
			return fmt.Errorf("acquisition.source must be 'synthetic' or 'stream', got: %s", p.Acquisition.Source)
		}
	}
	return nil
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, path[2:])
	}
	return path
}

func boolPtr(b bool) *bool {
	return &b
}
