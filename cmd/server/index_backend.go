package main

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"beaconranger.dev/internal/beacons"
	"beaconranger.dev/internal/persistence/indexdb"
)

type runtimeIndex interface {
	beacons.AuditLogger
	WritePass(p beacons.PassStats) error
	Close() error
}

func indexPath(dataDir string) string {
	return filepath.Join(dataDir, "index", "beacons.sqlite")
}

func openRuntimeIndex(dataDir, serverID string, disableDB bool, logger *log.Logger) (runtimeIndex, error) {
	if disableDB {
		return nil, nil
	}

	backend := strings.ToLower(strings.TrimSpace(os.Getenv("BR_INDEX_BACKEND")))
	if backend == "" {
		backend = "sqlite"
	}

	switch backend {
	case "none", "off", "disabled":
		return nil, nil
	case "sqlite":
		idx, err := indexdb.OpenSQLite(indexPath(dataDir))
		if err != nil {
			return nil, err
		}
		return idx, nil
	case "remote":
		endpoint := strings.TrimSpace(os.Getenv("BR_INDEX_REMOTE_URL"))
		token := strings.TrimSpace(os.Getenv("BR_INDEX_REMOTE_TOKEN"))
		if endpoint == "" {
			return nil, fmt.Errorf("BR_INDEX_BACKEND=remote but BR_INDEX_REMOTE_URL is empty")
		}
		idx, err := indexdb.OpenRemote(indexdb.RemoteConfig{
			Endpoint:      endpoint,
			Token:         token,
			ServerID:      serverID,
			BatchSize:     envInt("BR_INDEX_REMOTE_BATCH_SIZE", 128),
			FlushInterval: time.Duration(envInt("BR_INDEX_REMOTE_FLUSH_MS", 500)) * time.Millisecond,
			Logger:        logger,
		})
		if err != nil {
			return nil, err
		}
		return idx, nil
	default:
		return nil, fmt.Errorf("unsupported BR_INDEX_BACKEND: %s", backend)
	}
}

func envInt(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envBool(key string, def bool) bool {
	raw := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	switch raw {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return def
	}
}
