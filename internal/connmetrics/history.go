// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package connmetrics

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"landscape.router/core/internal/ebpf/types"
	"landscape.router/core/internal/errors"
)

// HistoryStore is the persistent historical store (§4.10): one row per
// connection, keyed by (create-time, cpu-id), overwritten with the
// connection's latest cumulative totals on every Append so a query
// returns per-connection totals rather than a per-sample log.
type HistoryStore struct {
	db *sql.DB
}

// OpenHistoryStore opens (creating if absent) the sqlite-backed store at
// path.
func OpenHistoryStore(path string) (*HistoryStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrapf(err, errors.KindRepository, "open connect history store %s", path)
	}
	const schema = `
CREATE TABLE IF NOT EXISTS connect_history (
	create_time_nanos INTEGER NOT NULL,
	cpu_id            INTEGER NOT NULL,
	src_ip            TEXT NOT NULL,
	dst_ip            TEXT NOT NULL,
	src_port          INTEGER NOT NULL,
	dst_port          INTEGER NOT NULL,
	l4_proto          INTEGER NOT NULL,
	l3_proto          INTEGER NOT NULL,
	flow_id           INTEGER NOT NULL,
	trace_id          INTEGER NOT NULL,
	ingress_bytes     INTEGER NOT NULL,
	egress_bytes      INTEGER NOT NULL,
	ingress_pkts      INTEGER NOT NULL,
	egress_pkts       INTEGER NOT NULL,
	observed_at       INTEGER NOT NULL,
	teardown          INTEGER NOT NULL,
	PRIMARY KEY (create_time_nanos, cpu_id)
);
CREATE INDEX IF NOT EXISTS idx_connect_history_observed_at ON connect_history(observed_at);
`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, errors.Wrapf(err, errors.KindRepository, "create connect history schema")
	}
	return &HistoryStore{db: db}, nil
}

// Close releases the underlying database handle.
func (h *HistoryStore) Close() error { return h.db.Close() }

// Append upserts one connection's latest totals (§4.10).
func (h *HistoryStore) Append(ctx context.Context, m types.ConnectMetric) error {
	const stmt = `
INSERT INTO connect_history (
	create_time_nanos, cpu_id, src_ip, dst_ip, src_port, dst_port,
	l4_proto, l3_proto, flow_id, trace_id,
	ingress_bytes, egress_bytes, ingress_pkts, egress_pkts, observed_at, teardown
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(create_time_nanos, cpu_id) DO UPDATE SET
	ingress_bytes = excluded.ingress_bytes,
	egress_bytes  = excluded.egress_bytes,
	ingress_pkts  = excluded.ingress_pkts,
	egress_pkts   = excluded.egress_pkts,
	observed_at   = excluded.observed_at,
	teardown      = excluded.teardown
`
	_, err := h.db.ExecContext(ctx, stmt,
		m.Key.CreateTimeNanos, m.Key.CPUID, m.Key.SrcIP.String(), m.Key.DstIP.String(),
		m.Key.SrcPort, m.Key.DstPort, m.Key.L4Proto, m.Key.L3Proto, m.Key.FlowID, m.Key.TraceID,
		m.IngressBytes, m.EgressBytes, m.IngressPkts, m.EgressPkts, m.ObservedAt, m.Teardown,
	)
	if err != nil {
		return errors.Wrapf(err, errors.KindRepository, "append connect history record")
	}
	return nil
}

// Record is one per-connection totals row returned by Query.
type Record struct {
	Key          types.ConnectKey
	IngressBytes uint64
	EgressBytes  uint64
	IngressPkts  uint64
	EgressPkts   uint64
	ObservedAt   uint64
	Teardown     bool
}

// SortKey is a ConnectHistoryQueryParams sort column (§4.10).
type SortKey string

const (
	SortTime     SortKey = "time"
	SortPort     SortKey = "port"
	SortIngress  SortKey = "ingress"
	SortEgress   SortKey = "egress"
	SortDuration SortKey = "duration"
)

// QueryParams is ConnectHistoryQueryParams (§4.10): a time window, IP/
// port/proto/status filters, a sort key and order, and a result limit.
type QueryParams struct {
	Start, End     time.Time
	SrcIP, DstIP   net.IP
	SrcPort        uint16
	DstPort        uint16
	L4Proto        uint8
	HasTeardown    bool
	Teardown       bool
	SortKey        SortKey
	Descending     bool
	Limit          int
}

// Query runs a ConnectHistoryQueryParams lookup against the store.
func (h *HistoryStore) Query(ctx context.Context, p QueryParams) ([]Record, error) {
	where := []string{"observed_at >= ?", "observed_at <= ?"}
	args := []any{p.Start.UnixNano(), p.End.UnixNano()}

	if p.SrcIP != nil {
		where = append(where, "src_ip = ?")
		args = append(args, p.SrcIP.String())
	}
	if p.DstIP != nil {
		where = append(where, "dst_ip = ?")
		args = append(args, p.DstIP.String())
	}
	if p.SrcPort != 0 {
		where = append(where, "src_port = ?")
		args = append(args, p.SrcPort)
	}
	if p.DstPort != 0 {
		where = append(where, "dst_port = ?")
		args = append(args, p.DstPort)
	}
	if p.L4Proto != 0 {
		where = append(where, "l4_proto = ?")
		args = append(args, p.L4Proto)
	}
	if p.HasTeardown {
		where = append(where, "teardown = ?")
		args = append(args, p.Teardown)
	}

	order := "observed_at"
	switch p.SortKey {
	case SortPort:
		order = "dst_port"
	case SortIngress:
		order = "ingress_bytes"
	case SortEgress:
		order = "egress_bytes"
	case SortDuration:
		order = "observed_at - create_time_nanos"
	}
	direction := "ASC"
	if p.Descending {
		direction = "DESC"
	}

	limit := p.Limit
	if limit <= 0 {
		limit = 1000
	}

	query := fmt.Sprintf(
		"SELECT create_time_nanos, cpu_id, src_ip, dst_ip, src_port, dst_port, l4_proto, l3_proto, flow_id, trace_id, ingress_bytes, egress_bytes, ingress_pkts, egress_pkts, observed_at, teardown FROM connect_history WHERE %s ORDER BY %s %s LIMIT ?",
		strings.Join(where, " AND "), order, direction,
	)
	args = append(args, limit)

	rows, err := h.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrapf(err, errors.KindRepository, "query connect history")
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		var srcIP, dstIP string
		if err := rows.Scan(
			&r.Key.CreateTimeNanos, &r.Key.CPUID, &srcIP, &dstIP, &r.Key.SrcPort, &r.Key.DstPort,
			&r.Key.L4Proto, &r.Key.L3Proto, &r.Key.FlowID, &r.Key.TraceID,
			&r.IngressBytes, &r.EgressBytes, &r.IngressPkts, &r.EgressPkts, &r.ObservedAt, &r.Teardown,
		); err != nil {
			return nil, errors.Wrapf(err, errors.KindRepository, "scan connect history row")
		}
		r.Key.SrcIP = types.AddrFromIP(net.ParseIP(srcIP))
		r.Key.DstIP = types.AddrFromIP(net.ParseIP(dstIP))
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrapf(err, errors.KindRepository, "iterate connect history rows")
	}
	return out, nil
}

// GlobalStats is ConnectGlobalStats (§4.10): the daily aggregator's
// refreshed snapshot.
type GlobalStats struct {
	TotalIngressBytes   uint64
	TotalEgressBytes    uint64
	TotalIngressPackets uint64
	TotalEgressPackets  uint64
	TotalConnectCount   uint64
}

// RefreshGlobalStats recomputes GlobalStats from the full history table.
func (h *HistoryStore) RefreshGlobalStats(ctx context.Context) (GlobalStats, error) {
	const q = `SELECT COALESCE(SUM(ingress_bytes),0), COALESCE(SUM(egress_bytes),0),
		COALESCE(SUM(ingress_pkts),0), COALESCE(SUM(egress_pkts),0), COUNT(*) FROM connect_history`
	var s GlobalStats
	row := h.db.QueryRowContext(ctx, q)
	if err := row.Scan(&s.TotalIngressBytes, &s.TotalEgressBytes, &s.TotalIngressPackets, &s.TotalEgressPackets, &s.TotalConnectCount); err != nil {
		return GlobalStats{}, errors.Wrapf(err, errors.KindRepository, "refresh connect global stats")
	}
	return s, nil
}
