package syncer

import (
	"database/sql"
	"errors"
	"os"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/host"

	"github.com/evermem/evermem/internal/logger"
)

const statusSchema = `
CREATE TABLE IF NOT EXISTS sync_runs (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    device_id TEXT NOT NULL,
    peer_devices TEXT,
    started_at DATETIME NOT NULL,
    finished_at DATETIME,
    outcome TEXT NOT NULL,
    payload_bytes INTEGER NOT NULL DEFAULT 0,
    added INTEGER NOT NULL DEFAULT 0,
    fast_forwarded INTEGER NOT NULL DEFAULT 0,
    merged INTEGER NOT NULL DEFAULT 0,
    conflicted INTEGER NOT NULL DEFAULT 0,
    skipped INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_sync_runs_started ON sync_runs(started_at DESC);
`

// DeviceIdentity identifies this install for device-scoped snapshot
// keys. Falls back to hostname when the host id is unavailable.
func DeviceIdentity() string {
	if id := os.Getenv("EVERMEM_DEVICE_ID"); id != "" {
		return id
	}

	info, err := host.Info()
	if err == nil && info.HostID != "" {
		return info.HostID
	}

	hostname, err := os.Hostname()
	if err != nil {
		return "unknown-device"
	}
	return hostname
}

// SyncStatus reports the last reconciliation for this store.
type SyncStatus struct {
	DeviceID     string
	LastSyncedAt *time.Time
	Outcome      string
	PayloadBytes int64
	PeerDevices  []string
}

func (r *Reconciler) recordRun(startedAt time.Time, report *SyncReport, outcome string) {
	var peers string
	var bytes int64
	var added, ff, merged, conflicted, skipped int
	if report != nil {
		peers = joinPeers(report.PeerDevices)
		bytes = report.PayloadBytes
		added, ff, merged, conflicted, skipped = report.Added, report.FastForwarded, report.Merged, report.Conflicted, report.Skipped
	}

	_, err := r.db.Exec(`
		INSERT INTO sync_runs (device_id, peer_devices, started_at, finished_at, outcome,
		                       payload_bytes, added, fast_forwarded, merged, conflicted, skipped)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.deviceID, peers, startedAt, time.Now().UTC(), outcome,
		bytes, added, ff, merged, conflicted, skipped)
	if err != nil {
		logger.Warn("sync run not recorded", "outcome", outcome, "error", err)
	}
}

func (r *Reconciler) Status() (*SyncStatus, error) {
	status := &SyncStatus{DeviceID: r.deviceID}

	row := r.db.QueryRow(`
		SELECT finished_at, outcome, payload_bytes, peer_devices
		FROM sync_runs
		WHERE outcome = 'ok'
		ORDER BY started_at DESC LIMIT 1`)

	var finishedAt sql.NullTime
	var outcome string
	var payloadBytes int64
	var peers sql.NullString

	err := row.Scan(&finishedAt, &outcome, &payloadBytes, &peers)
	if errors.Is(err, sql.ErrNoRows) {
		return status, nil
	}
	if err != nil {
		return nil, err
	}

	if finishedAt.Valid {
		t := finishedAt.Time
		status.LastSyncedAt = &t
	}
	status.Outcome = outcome
	status.PayloadBytes = payloadBytes
	status.PeerDevices = splitPeers(peers.String)

	return status, nil
}

func joinPeers(peers []string) string {
	return strings.Join(peers, ",")
}

func splitPeers(raw string) []string {
	if raw == "" {
		return nil
	}
	return strings.Split(raw, ",")
}
