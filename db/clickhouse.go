package db

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"chainsight/config"
)

const createScanReportsSQL = `
CREATE TABLE IF NOT EXISTS scan_reports (
    timestamp DateTime,
    chain String,
    token String,
    operation String,
    requested_blocks UInt64,
    scanned_blocks UInt64,
    coverage_percent UInt8,
    degraded UInt8,
    rate_limited UInt8,
    duration_ms UInt64
) ENGINE = MergeTree()
ORDER BY (timestamp, chain, token)
`

// ScanReportRow is one finished scan recorded for offline analysis.
type ScanReportRow struct {
	Timestamp       time.Time `ch:"timestamp"`
	Chain           string    `ch:"chain"`
	Token           string    `ch:"token"`
	Operation       string    `ch:"operation"`
	RequestedBlocks uint64    `ch:"requested_blocks"`
	ScannedBlocks   uint64    `ch:"scanned_blocks"`
	CoveragePercent uint8     `ch:"coverage_percent"`
	Degraded        uint8     `ch:"degraded"`
	RateLimited     uint8     `ch:"rate_limited"`
	DurationMs      uint64    `ch:"duration_ms"`
}

// TelemetryDB archives scan telemetry. Entirely optional: when no host is
// configured the constructor returns nil and callers skip writes.
type TelemetryDB struct {
	conn driver.Conn
}

func NewTelemetryDB(cfg *config.Config) (*TelemetryDB, error) {
	if cfg.ClickHouse.Host == "" {
		return nil, nil
	}
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{fmt.Sprintf("%s:%d", cfg.ClickHouse.Host, cfg.ClickHouse.Port)},
		Auth: clickhouse.Auth{
			Database: cfg.ClickHouse.Database,
			Username: cfg.ClickHouse.User,
			Password: cfg.ClickHouse.Password,
		},
		Protocol: clickhouse.Native,
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}

	db := &TelemetryDB{conn: conn}
	if err := db.createTables(); err != nil {
		return nil, err
	}
	return db, nil
}

func (db *TelemetryDB) createTables() error {
	return db.conn.Exec(context.Background(), createScanReportsSQL)
}

// InsertScanReports batch-inserts finished scan rows.
func (db *TelemetryDB) InsertScanReports(ctx context.Context, rows []ScanReportRow) error {
	if len(rows) == 0 {
		return nil
	}
	batch, err := db.conn.PrepareBatch(ctx, "INSERT INTO scan_reports")
	if err != nil {
		return err
	}
	for _, row := range rows {
		if err := batch.AppendStruct(&row); err != nil {
			return err
		}
	}
	return batch.Send()
}

func (db *TelemetryDB) Close() error {
	return db.conn.Close()
}
