package app

import (
	"strings"
	"time"

	"alarmd/internal/config"
	"alarmd/internal/notifier"
	"alarmd/internal/storage"
	"alarmd/internal/timer"
	"alarmd/internal/transport/telegram"
	"alarmd/internal/web"
	logx "alarmd/pkg/logx"
)

func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Storage.Driver))
	if driver == "" || driver == "none" {
		return storage.Config{}, false, nil
	}
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", cfg.Storage.BusyTimeout, time.Second)
	if err != nil {
		return storage.Config{}, false, err
	}
	return storage.Config{
		Driver:      driver,
		Path:        strings.TrimSpace(cfg.Storage.Path),
		BusyTimeout: busy,
	}, true, nil
}

func mapLoggingConfig(cfg *config.Config) logx.Config {
	lc := cfg.Logging
	return logx.Config{
		Level:   lc.Level,
		Console: lc.Console,
		File: logx.FileConfig{
			Enabled: lc.File.Enabled,
			Path:    lc.File.Path,
		},
		Chat: logx.ChatConfig{
			Enabled:    lc.Telegram.Enabled && cfg.Telegram.Enabled,
			ThreadID:   lc.Telegram.ThreadID,
			MinLevel:   lc.Telegram.MinLevel,
			RatePerSec: lc.Telegram.RatePerSec,
		},
	}
}

func mapNotifierConfig(cfg *config.Config) (notifier.Config, error) {
	nc := cfg.Notifier
	timeout, err := config.ParseDurationField("notifier.send_timeout", nc.SendTimeout)
	if err != nil {
		return notifier.Config{}, err
	}
	pulse, err := config.ParseDurationField("notifier.channel.vibration_pulse", nc.Channel.VibrationPulse)
	if err != nil {
		return notifier.Config{}, err
	}
	return notifier.Config{
		Icon:        nc.Icon,
		Color:       nc.Color,
		Sound:       nc.Sound,
		HistorySize: nc.HistorySize,
		SendTimeout: timeout,
		Channel: notifier.ChannelConfig{
			ID:              nc.Channel.ID,
			Name:            nc.Channel.Name,
			VibrationPulses: nc.Channel.VibrationPulses,
			VibrationPulse:  pulse,
		},
	}, nil
}

func mapTimerConfig(cfg *config.Config) timer.Config {
	return timer.Config{Timezone: strings.TrimSpace(cfg.Timezone)}
}

func mapTelegramConfig(cfg *config.Config) (telegram.Config, error) {
	poll, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return telegram.Config{}, err
	}
	return telegram.Config{
		Token:        cfg.Telegram.Token,
		PollTimeout:  poll,
		OwnerUserIDs: cfg.Telegram.OwnerUserIDs,
	}, nil
}

func mapWebConfig(cfg *config.Config) (web.Config, error) {
	hc := cfg.HTTP
	rt, err := config.ParseDurationOrDefault("http.read_timeout", hc.ReadTimeout, 15*time.Second)
	if err != nil {
		return web.Config{}, err
	}
	wt, err := config.ParseDurationOrDefault("http.write_timeout", hc.WriteTimeout, 30*time.Second)
	if err != nil {
		return web.Config{}, err
	}
	return web.Config{
		Addr:         hc.Addr,
		ReadTimeout:  rt,
		WriteTimeout: wt,
		Username:     hc.BasicAuth.Username,
		Password:     hc.BasicAuth.Password,
		Pprof:        hc.Pprof,
		MetricsPath:  cfg.Metrics.Path,
	}, nil
}
