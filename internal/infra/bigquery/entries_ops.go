package bigquery

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/dvloznov/spend-assistant/internal/events"
	"google.golang.org/api/iterator"
)

const (
	// DefaultDatasetID holds the warehouse tables.
	DefaultDatasetID   = "finance"
	ledgerEntriesTable = "ledger_entries"
)

type rowInserter interface {
	Put(ctx context.Context, src interface{}) error
}

// EntryExporter streams recorded ledger entries into finance.ledger_entries
// and answers reporting queries over them.
type EntryExporter struct {
	client    *bigquery.Client
	inserter  rowInserter
	projectID string
	datasetID string
	now       func() time.Time
}

// NewEntryExporter creates an exporter with its own BigQuery client.
func NewEntryExporter(ctx context.Context, projectID, datasetID string) (*EntryExporter, error) {
	client, err := bigquery.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("NewEntryExporter: creating client: %w", err)
	}
	return NewEntryExporterWithClient(client, projectID, datasetID), nil
}

// NewEntryExporterWithClient creates an exporter on a shared client.
func NewEntryExporterWithClient(client *bigquery.Client, projectID, datasetID string) *EntryExporter {
	if datasetID == "" {
		datasetID = DefaultDatasetID
	}
	return &EntryExporter{
		client:    client,
		inserter:  client.DatasetInProject(projectID, datasetID).Table(ledgerEntriesTable).Inserter(),
		projectID: projectID,
		datasetID: datasetID,
		now:       time.Now,
	}
}

// Close closes the BigQuery client connection.
func (x *EntryExporter) Close() error {
	if x.client != nil {
		return x.client.Close()
	}
	return nil
}

// Publish implements events.Sink. The entry ID doubles as the streaming
// insert ID so a retried export is deduplicated on a best-effort basis.
func (x *EntryExporter) Publish(ctx context.Context, ev events.TransactionRecorded) error {
	row := RowFromEvent(ev, x.now())
	saver := &bigquery.StructSaver{Struct: row, InsertID: row.EntryID}
	if err := x.inserter.Put(ctx, saver); err != nil {
		return fmt.Errorf("Publish: inserting entry %s: %w", row.EntryID, err)
	}
	return nil
}

func (x *EntryExporter) table() string {
	return fmt.Sprintf("`%s.%s.%s`", x.projectID, x.datasetID, ledgerEntriesTable)
}

// QueryUserSummary aggregates income and expense for one user.
func (x *EntryExporter) QueryUserSummary(ctx context.Context, userID string) (*UserSummary, error) {
	q := x.client.Query(fmt.Sprintf(`
		SELECT
			@user_id AS user_id,
			IFNULL(SUM(IF(kind = 'Income', amount, 0)), 0) AS income,
			IFNULL(SUM(IF(kind = 'Expense', amount, 0)), 0) AS expense,
			COUNT(*) AS entry_count,
			MIN(recorded_at) AS first_entry,
			MAX(recorded_at) AS last_entry
		FROM %s
		WHERE user_id = @user_id
	`, x.table()))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "user_id", Value: userID},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("QueryUserSummary: query read: %w", err)
	}

	var summary UserSummary
	err = it.Next(&summary)
	if err == iterator.Done {
		return &UserSummary{UserID: userID}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("QueryUserSummary: iter next: %w", err)
	}
	return &summary, nil
}

// QueryMonthlyTotals returns per-month totals for one user, oldest first.
func (x *EntryExporter) QueryMonthlyTotals(ctx context.Context, userID string) ([]*MonthlyTotal, error) {
	q := x.client.Query(fmt.Sprintf(`
		SELECT
			FORMAT_DATE('%%Y-%%m', entry_date) AS month,
			IFNULL(SUM(IF(kind = 'Income', amount, 0)), 0) AS income,
			IFNULL(SUM(IF(kind = 'Expense', amount, 0)), 0) AS expense,
			COUNT(*) AS entries
		FROM %s
		WHERE user_id = @user_id
		GROUP BY month
		ORDER BY month
	`, x.table()))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "user_id", Value: userID},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("QueryMonthlyTotals: query read: %w", err)
	}

	var rows []*MonthlyTotal
	for {
		var r MonthlyTotal
		err := it.Next(&r)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("QueryMonthlyTotals: iter next: %w", err)
		}
		rows = append(rows, &r)
	}
	return rows, nil
}

// Compile-time check that EntryExporter implements events.Sink.
var _ events.Sink = (*EntryExporter)(nil)
