package storage

import (
	"strings"

	logx "coinbot/pkg/logx"
)

// Open opens the SQLite store at cfg.Path and applies migrations.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	if strings.TrimSpace(cfg.Path) == "" {
		cfg.Path = "./coinbot.db"
	}
	st, err := openSQLite(cfg, log)
	if err != nil {
		return nil, err
	}
	return st, nil
}
