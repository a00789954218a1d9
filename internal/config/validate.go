package config

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
	_ "time/tzdata"
)

var reHexColor = regexp.MustCompile(`^#[0-9A-Fa-f]{6}$`)

// Validate checks values that the JSON decoder cannot.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	var errs []error
	if tz := strings.TrimSpace(c.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			errs = append(errs, fmt.Errorf("timezone: %w", err))
		}
	}
	for path, raw := range map[string]string{
		"http.read_timeout":                c.HTTP.ReadTimeout,
		"http.write_timeout":               c.HTTP.WriteTimeout,
		"telegram.poll_timeout":            c.Telegram.PollTimeout,
		"notifier.send_timeout":            c.Notifier.SendTimeout,
		"notifier.channel.vibration_pulse": c.Notifier.Channel.VibrationPulse,
		"storage.busy_timeout":             c.Storage.BusyTimeout,
	} {
		if _, err := ParseDurationField(path, raw); err != nil {
			errs = append(errs, err)
		}
	}
	if col := strings.TrimSpace(c.Notifier.Color); col != "" && !reHexColor.MatchString(col) {
		errs = append(errs, fmt.Errorf("notifier.color: %q is not #RRGGBB", col))
	}
	if c.Notifier.HistorySize < 0 {
		errs = append(errs, errors.New("notifier.history_size must be >= 0"))
	}
	switch strings.ToLower(strings.TrimSpace(c.Storage.Driver)) {
	case "", "none":
	case "file", "sqlite", "sqlite3", "bolt", "bbolt":
		if strings.TrimSpace(c.Storage.Path) == "" {
			errs = append(errs, errors.New("storage.path is required"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.driver: unknown driver %q", c.Storage.Driver))
	}
	if ba := c.HTTP.BasicAuth; ba.Enabled() && (ba.Username == "" || ba.Password == "") {
		errs = append(errs, errors.New("http.basic_auth needs both username and password"))
	}
	if c.Telegram.Enabled && strings.TrimSpace(c.Telegram.Token) == "" {
		errs = append(errs, errors.New("telegram.token is required when telegram is enabled"))
	}
	if c.Metrics.Enabled && !c.HTTP.Enabled {
		errs = append(errs, errors.New("metrics require http.enabled"))
	}
	return errors.Join(errs...)
}

// Location resolves Timezone, falling back to time.Local.
func (c *Config) Location() *time.Location {
	if c == nil || strings.TrimSpace(c.Timezone) == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(strings.TrimSpace(c.Timezone))
	if err != nil {
		return time.Local
	}
	return loc
}
