package storage

import (
	"context"
	"errors"
	"strings"

	logx "alarmd/pkg/logx"
)

// Store is the persistence API used by the timer service and the audit
// subscriber.
type Store interface {
	PutRegistration(ctx context.Context, r Registration) error
	GetRegistration(ctx context.Context, slot int) (Registration, bool, error)
	DeleteRegistration(ctx context.Context, slot int) error
	ListRegistrations(ctx context.Context) ([]Registration, error)
	AppendAudit(ctx context.Context, e AuditEntry) error
	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("comp", "storage"), logx.String("driver", driver))

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	case "bolt", "bbolt":
		return openBolt(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}

func requirePath(cfg Config) (string, error) {
	p := strings.TrimSpace(cfg.Path)
	if p == "" {
		return "", errors.New("storage.path is required for " + cfg.Driver + " driver")
	}
	return p, nil
}
