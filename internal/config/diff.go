package config

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked; everything else
// (listen address, credentials, summary backend) needs a restart.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	AgentChanged bool
	NewAgent     AgentConfig

	VoiceChanged bool
	NewVoice     string
}

// Changed reports whether the diff carries any hot-reloadable change.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.AgentChanged || d.VoiceChanged
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Agent != new.Agent {
		d.AgentChanged = true
		d.NewAgent = new.Agent
	}

	if old.Backend.Voice != new.Backend.Voice {
		d.VoiceChanged = true
		d.NewVoice = new.Backend.Voice
	}

	return d
}
