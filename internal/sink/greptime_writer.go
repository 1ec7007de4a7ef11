package sink

import (
	"context"
	"log/slog"
	"net"
	"strconv"

	gpb "github.com/GreptimeTeam/greptime-proto/go/greptime/v1"
	greptime "github.com/GreptimeTeam/greptimedb-ingester-go"
	"github.com/GreptimeTeam/greptimedb-ingester-go/table"
	"github.com/GreptimeTeam/greptimedb-ingester-go/table/types"
)

// Default table names.
const (
	DefaultConnectivityTable = "robot_connectivity"
	DefaultDispatchTable     = "command_dispatch"
)

type greptimeClient interface {
	Write(ctx context.Context, tables ...*table.Table) (*gpb.GreptimeResponse, error)
}

// GreptimeDBWriter writes connectivity transitions and dispatch rows to
// GreptimeDB via the ingester client.
type GreptimeDBWriter struct {
	client    greptimeClient
	connTable string
	dispTable string
	log       *slog.Logger
}

// NewGreptimeDBWriter creates a new GreptimeDB writer. endpoint is host or
// host:port; tables are created on first write.
func NewGreptimeDBWriter(endpoint, database, connTable, dispTable string, log *slog.Logger) (*GreptimeDBWriter, error) {
	host, port := endpoint, 0
	if h, p, err := net.SplitHostPort(endpoint); err == nil {
		host = h
		if port, err = strconv.Atoi(p); err != nil {
			return nil, err
		}
	}
	cfg := greptime.NewConfig(host).WithDatabase(database)
	if port != 0 {
		cfg = cfg.WithPort(port)
	}
	client, err := greptime.NewClient(cfg)
	if err != nil {
		return nil, err
	}
	if connTable == "" {
		connTable = DefaultConnectivityTable
	}
	if dispTable == "" {
		dispTable = DefaultDispatchTable
	}
	if log == nil {
		log = slog.Default()
	}
	return &GreptimeDBWriter{client: client, connTable: connTable, dispTable: dispTable, log: log}, nil
}

// WriteConnectivity implements EventWriter.
func (w *GreptimeDBWriter) WriteConnectivity(row ConnectivityRow) error {
	tbl, err := table.New(w.connTable)
	if err != nil {
		return err
	}
	tbl.AddTagColumn("robot", types.STRING)
	tbl.AddFieldColumn("robot_index", types.INT64)
	tbl.AddFieldColumn("previous", types.STRING)
	tbl.AddFieldColumn("current", types.STRING)
	tbl.AddTimestampColumn("ts", types.TIMESTAMP_MILLISECOND)
	if err := tbl.AddRow(row.Robot, int64(row.Index), row.Previous, row.Current, row.Timestamp); err != nil {
		return err
	}
	return w.write(w.connTable, tbl, 1)
}

// WriteDispatch implements DispatchWriter.
func (w *GreptimeDBWriter) WriteDispatch(row DispatchRow) error {
	return w.WriteDispatches([]DispatchRow{row})
}

// WriteDispatches inserts all rows of a dispatch in one request.
func (w *GreptimeDBWriter) WriteDispatches(rows []DispatchRow) error {
	if len(rows) == 0 {
		return nil
	}
	tbl, err := table.New(w.dispTable)
	if err != nil {
		return err
	}
	tbl.AddTagColumn("robot", types.STRING)
	tbl.AddTagColumn("dispatch_id", types.STRING)
	tbl.AddFieldColumn("robot_index", types.INT64)
	tbl.AddFieldColumn("mode", types.STRING)
	tbl.AddFieldColumn("address", types.STRING)
	tbl.AddFieldColumn("broadcast", types.BOOLEAN)
	tbl.AddFieldColumn("success", types.BOOLEAN)
	tbl.AddFieldColumn("error", types.STRING)
	tbl.AddTimestampColumn("ts", types.TIMESTAMP_MILLISECOND)
	for _, r := range rows {
		if err := tbl.AddRow(r.Robot, r.DispatchID, int64(r.Index), r.Mode, r.Address,
			r.Broadcast, r.Success, r.Error, r.Timestamp); err != nil {
			return err
		}
	}
	return w.write(w.dispTable, tbl, len(rows))
}

func (w *GreptimeDBWriter) write(name string, tbl *table.Table, n int) error {
	if _, err := w.client.Write(context.Background(), tbl); err != nil {
		w.log.Error("greptime write failed", "table", name, "error", err)
		return err
	}
	w.log.Debug("greptime write", "table", name, "rows", n)
	return nil
}
