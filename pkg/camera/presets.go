package camera

// Preset names for common configurations
const (
	PresetDefault      = "default"
	PresetPortrait1080 = "portrait-1080"
	PresetPortrait720  = "portrait-720"
	PresetPortrait480  = "portrait-480"
	PresetFront        = "front"
	PresetLowPower     = "low-power"
)

// Presets returns all available preset configurations.
func Presets() map[string]Config {
	return map[string]Config{
		PresetDefault:      DefaultConfig(),
		PresetPortrait1080: Portrait1080Config(),
		PresetPortrait720:  Portrait720Config(),
		PresetPortrait480:  Portrait480Config(),
		PresetFront:        FrontConfig(),
		PresetLowPower:     LowPowerConfig(),
	}
}

// PresetNames returns the list of available preset names.
func PresetNames() []string {
	return []string{
		PresetDefault,
		PresetPortrait1080,
		PresetPortrait720,
		PresetPortrait480,
		PresetFront,
		PresetLowPower,
	}
}

// GetPreset returns a preset config by name, or nil if not found.
func GetPreset(name string) *Config {
	if cfg, ok := Presets()[name]; ok {
		return &cfg
	}
	return nil
}

// Portrait1080Config returns a 1920x1080 sensor profile.
// Best box accuracy, highest detection cost.
func Portrait1080Config() Config {
	cfg := DefaultConfig()
	cfg.Width = 1920
	cfg.Height = 1080
	return cfg
}

// Portrait720Config returns a 1280x720 sensor profile.
func Portrait720Config() Config {
	return DefaultConfig()
}

// Portrait480Config returns a 640x480 sensor profile.
func Portrait480Config() Config {
	cfg := DefaultConfig()
	cfg.Width = 640
	cfg.Height = 480
	return cfg
}

// FrontConfig returns the default profile on the front camera.
func FrontConfig() Config {
	cfg := DefaultConfig()
	cfg.Position = "front"
	return cfg
}

// LowPowerConfig trades frame rate and preview quality for CPU.
func LowPowerConfig() Config {
	cfg := Portrait480Config()
	cfg.Framerate = 10
	cfg.Quality = 60
	return cfg
}
