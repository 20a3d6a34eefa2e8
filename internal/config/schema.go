package config

import (
	"fmt"
	"net/mail"
)

// WatchDocument represents the top-level structure of a watch.yaml file
type WatchDocument struct {
	Watch Watch `yaml:"watch"`
}

// Watch contains the complete watch configuration
type Watch struct {
	Name           string          `yaml:"name"`
	MaxConcurrency int             `yaml:"max_concurrency,omitempty"`
	Trigger        []TriggerConfig `yaml:"trigger,omitempty"`
	Channels       []ChannelConfig `yaml:"channels"`
	Source         SourceConfig    `yaml:"source,omitempty"`
	Registry       RegistryConfig  `yaml:"registry,omitempty"`
	Notify         NotifyConfig    `yaml:"notify"`
}

// TriggerConfig wraps different trigger types
type TriggerConfig struct {
	Cron *CronTrigger `yaml:"cron,omitempty"`
}

// CronTrigger defines a scheduled trigger
type CronTrigger struct {
	Schedule string `yaml:"schedule"`
	Timezone string `yaml:"timezone,omitempty"`
}

// ChannelConfig defines one watched channel. Filter is an optional expr
// rule; when it matches the fetched item, the notification is suppressed.
type ChannelConfig struct {
	ID     string `yaml:"id"`
	Filter string `yaml:"filter,omitempty"`
}

// Source backends.
const (
	SourceBackendAPI = "api"
	SourceBackendRSS = "rss"
)

// SourceConfig selects how latest uploads are fetched.
type SourceConfig struct {
	Backend string `yaml:"backend,omitempty"`
}

// Registry backends.
const (
	RegistryBackendFile   = "file"
	RegistryBackendSQLite = "sqlite"
)

// RegistryConfig selects where last-notified state is persisted.
type RegistryConfig struct {
	Backend string `yaml:"backend,omitempty"`
	Path    string `yaml:"path,omitempty"`
}

// NotifyConfig wraps different notification outputs
type NotifyConfig struct {
	Email *EmailNotify `yaml:"email,omitempty"`
}

// EmailNotify defines email delivery configuration. SMTP connection
// settings come from the environment, not the document.
type EmailNotify struct {
	To      string `yaml:"to"`
	From    string `yaml:"from,omitempty"`
	Subject string `yaml:"subject,omitempty"`
}

// Validate performs validation on the watch document
func (d *WatchDocument) Validate() error {
	if d.Watch.Name == "" {
		return fmt.Errorf("watch name is required")
	}

	if len(d.Watch.Channels) == 0 {
		return fmt.Errorf("at least one channel is required")
	}
	seen := make(map[string]bool, len(d.Watch.Channels))
	for i, channel := range d.Watch.Channels {
		if channel.ID == "" {
			return fmt.Errorf("channel %d: id is required", i)
		}
		if seen[channel.ID] {
			return fmt.Errorf("channel %d: duplicate id %q", i, channel.ID)
		}
		seen[channel.ID] = true
	}

	for i, trigger := range d.Watch.Trigger {
		if trigger.Cron == nil {
			return fmt.Errorf("trigger %d: unsupported trigger type", i)
		}
		if trigger.Cron.Schedule == "" {
			return fmt.Errorf("trigger %d: cron schedule is required", i)
		}
	}

	switch d.Watch.Source.Backend {
	case "", SourceBackendAPI, SourceBackendRSS:
	default:
		return fmt.Errorf("source backend must be %q or %q", SourceBackendAPI, SourceBackendRSS)
	}

	switch d.Watch.Registry.Backend {
	case "", RegistryBackendFile, RegistryBackendSQLite:
	default:
		return fmt.Errorf("registry backend must be %q or %q", RegistryBackendFile, RegistryBackendSQLite)
	}

	if d.Watch.Notify.Email == nil {
		return fmt.Errorf("notify email configuration is required")
	}
	emailConfig := d.Watch.Notify.Email
	if emailConfig.To == "" {
		return fmt.Errorf("notify email: 'to' field is required")
	}
	if _, err := mail.ParseAddress(emailConfig.To); err != nil {
		return fmt.Errorf("notify email: invalid to address")
	}
	if emailConfig.From != "" { // From is optional, but if provided must be valid
		if _, err := mail.ParseAddress(emailConfig.From); err != nil {
			return fmt.Errorf("notify email: invalid from address")
		}
	}

	return nil
}

// SourceBackend returns the configured fetch backend, defaulting to the
// Data API.
func (d *WatchDocument) SourceBackend() string {
	if d.Watch.Source.Backend == "" {
		return SourceBackendAPI
	}
	return d.Watch.Source.Backend
}

// RegistryBackend returns the configured registry backend, defaulting to
// the JSON file store.
func (d *WatchDocument) RegistryBackend() string {
	if d.Watch.Registry.Backend == "" {
		return RegistryBackendFile
	}
	return d.Watch.Registry.Backend
}

// RegistryPath returns the configured state location, defaulting to the
// historical data.json next to the working directory.
func (d *WatchDocument) RegistryPath() string {
	if d.Watch.Registry.Path == "" {
		return "data.json"
	}
	return d.Watch.Registry.Path
}
