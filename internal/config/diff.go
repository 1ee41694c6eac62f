package config

import (
	"reflect"
	"time"
)

// ConfigDiff describes what changed between two configs.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// EchoWindowChanged and CommitWindowChanged can be applied to a running
	// session.
	EchoWindowChanged   bool
	NewEchoWindow       time.Duration
	CommitWindowChanged bool
	NewCommitWindow     time.Duration

	// NextSession names changed settings that take effect when the next
	// session is started.
	NextSession []string

	// Restart names changed settings that only take effect after a restart.
	Restart []string
}

// Empty reports whether nothing changed.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.EchoWindowChanged && !d.CommitWindowChanged &&
		len(d.NextSession) == 0 && len(d.Restart) == 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.Audio.EchoWindow != new.Audio.EchoWindow {
		d.EchoWindowChanged = true
		d.NewEchoWindow = new.Audio.EchoWindow
	}
	if old.Transcript.CommitWindow != new.Transcript.CommitWindow {
		d.CommitWindowChanged = true
		d.NewCommitWindow = new.Transcript.CommitWindow
	}

	if old.Bridge != new.Bridge {
		d.NextSession = append(d.NextSession, "bridge")
	}
	if old.Audio.Bitrate != new.Audio.Bitrate ||
		old.Audio.PacketsPerPage != new.Audio.PacketsPerPage ||
		old.Audio.PlaybackChannels != new.Audio.PlaybackChannels {
		d.NextSession = append(d.NextSession, "audio")
	}
	if !reflect.DeepEqual(old.Transcript.Vocabulary, new.Transcript.Vocabulary) {
		d.NextSession = append(d.NextSession, "transcript.vocabulary")
	}

	if !reflect.DeepEqual(old.Recognizer, new.Recognizer) {
		d.Restart = append(d.Restart, "recognizer")
	}
	if old.Server.ListenAddr != new.Server.ListenAddr || !reflect.DeepEqual(old.Server.TLS, new.Server.TLS) {
		d.Restart = append(d.Restart, "server")
	}
	if old.Memory != new.Memory {
		d.Restart = append(d.Restart, "memory")
	}

	return d
}
