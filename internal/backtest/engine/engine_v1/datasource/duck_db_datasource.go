package datasource

import (
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/Masterminds/squirrel"
	_ "github.com/marcboeker/go-duckdb"
	"github.com/moznion/go-optional"
	"github.com/rxtech-lab/argo-backtest/internal/logger"
	"github.com/rxtech-lab/argo-backtest/internal/types"
	"github.com/rxtech-lab/argo-backtest/pkg/errors"
	"go.uber.org/zap"
)

var requiredColumns = []string{"time", "symbol", "open", "high", "low", "close", "volume"}

var numericTypes = []string{"DOUBLE", "FLOAT", "REAL", "DECIMAL", "INTEGER", "BIGINT", "SMALLINT", "TINYINT", "HUGEINT", "UBIGINT", "UINTEGER"}

// DuckDBDataSource reads quotes from a parquet or CSV file through an
// in-process DuckDB view. Numeric columns besides the price columns are
// loaded as fundamentals.
type DuckDBDataSource struct {
	db     *sql.DB
	logger *logger.Logger
	sq     squirrel.StatementBuilderType

	hasAdjClose  bool
	fundamentals []string
}

// NewDataSource opens a DuckDB database at path. Use ":memory:" for a
// throwaway database. Quote data is attached later by Initialize.
func NewDataSource(path string, logger *logger.Logger) (*DuckDBDataSource, error) {
	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeDataSourceUnavailable, "failed to open duckdb", err)
	}

	_, err = db.Exec(`SET threads=4;`)
	if err != nil {
		db.Close()

		return nil, errors.Wrap(errors.ErrCodeDataSourceUnavailable, "failed to set DuckDB options", err)
	}

	return &DuckDBDataSource{
		db:     db,
		logger: logger,
		sq:     squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}, nil
}

// Initialize implements DataSource.
func (d *DuckDBDataSource) Initialize(path string) error {
	d.logger.Debug("Initializing DuckDB data source", zap.String("path", path))

	_, err := d.db.Exec(`DROP VIEW IF EXISTS market_data;`)
	if err != nil {
		return errors.Wrap(errors.ErrCodeQueryFailed, "failed to drop existing view", err)
	}

	reader := "read_parquet"
	if strings.EqualFold(filepath.Ext(path), ".csv") {
		reader = "read_csv_auto"
	}

	// CREATE VIEW takes no bind parameters
	query := fmt.Sprintf(`CREATE VIEW market_data AS SELECT * FROM %s('%s');`,
		reader, strings.ReplaceAll(path, "'", "''"))

	_, err = d.db.Exec(query)
	if err != nil {
		return errors.Wrapf(errors.ErrCodeDataNotFound, err, "failed to load quote data from %s", path)
	}

	return d.inspectColumns()
}

func (d *DuckDBDataSource) inspectColumns() error {
	query, args, err := d.sq.
		Select("*").
		From("market_data").
		Limit(0).
		ToSql()
	if err != nil {
		return errors.Wrap(errors.ErrCodeQueryFailed, "failed to build column query", err)
	}

	rows, err := d.db.Query(query, args...)
	if err != nil {
		return errors.Wrap(errors.ErrCodeQueryFailed, "failed to inspect columns", err)
	}
	defer rows.Close()

	columnTypes, err := rows.ColumnTypes()
	if err != nil {
		return errors.Wrap(errors.ErrCodeQueryFailed, "failed to read column types", err)
	}

	columns := make(map[string]bool, len(columnTypes))
	d.hasAdjClose = false
	d.fundamentals = nil

	for _, column := range columnTypes {
		name := column.Name()
		lower := strings.ToLower(name)
		columns[lower] = true

		switch {
		case lower == "adj_close":
			d.hasAdjClose = true
		case isStandardColumn(lower):
		case isNumeric(column.DatabaseTypeName()):
			d.fundamentals = append(d.fundamentals, name)
		}
	}

	for _, column := range requiredColumns {
		if !columns[column] {
			return errors.Newf(errors.ErrCodeInvalidQuote, "quote data is missing column %s", column)
		}
	}

	d.logger.Debug("Inspected quote columns",
		zap.Bool("adj_close", d.hasAdjClose),
		zap.Strings("fundamentals", d.fundamentals))

	return nil
}

// Count implements DataSource.
func (d *DuckDBDataSource) Count(start optional.Option[time.Time], end optional.Option[time.Time]) (int, error) {
	query, args, err := d.sq.
		Select("COUNT(*)").
		From("market_data").
		Where(timeWindow(start, end)).
		ToSql()
	if err != nil {
		return 0, errors.Wrap(errors.ErrCodeQueryFailed, "failed to build count query", err)
	}

	var count int
	if err := d.db.QueryRow(query, args...).Scan(&count); err != nil {
		return 0, errors.Wrap(errors.ErrCodeQueryFailed, "failed to count quotes", err)
	}

	return count, nil
}

// ReadAll implements DataSource.
func (d *DuckDBDataSource) ReadAll(start optional.Option[time.Time], end optional.Option[time.Time]) func(yield func(types.Quote, error) bool) {
	return func(yield func(types.Quote, error) bool) {
		d.logger.Debug("Reading quotes from DuckDB")

		columns := []string{
			"CAST(time AS TIMESTAMP) AS time",
			"symbol",
			"CAST(open AS DOUBLE)",
			"CAST(high AS DOUBLE)",
			"CAST(low AS DOUBLE)",
			"CAST(close AS DOUBLE)",
			"CAST(volume AS DOUBLE)",
		}

		if d.hasAdjClose {
			columns = append(columns, "CAST(adj_close AS DOUBLE)")
		} else {
			columns = append(columns, "CAST(close AS DOUBLE)")
		}

		for _, name := range d.fundamentals {
			columns = append(columns, fmt.Sprintf(`CAST("%s" AS DOUBLE)`, strings.ReplaceAll(name, `"`, `""`)))
		}

		query, args, err := d.sq.
			Select(columns...).
			From("market_data").
			Where(timeWindow(start, end)).
			OrderBy("time ASC", "symbol ASC").
			ToSql()
		if err != nil {
			yield(types.Quote{}, errors.Wrap(errors.ErrCodeQueryFailed, "failed to build query", err))

			return
		}

		rows, err := d.db.Query(query, args...)
		if err != nil {
			yield(types.Quote{}, errors.Wrap(errors.ErrCodeQueryFailed, "failed to query quotes", err))

			return
		}
		defer rows.Close()

		extra := make([]sql.NullFloat64, len(d.fundamentals))

		for rows.Next() {
			var (
				quote    types.Quote
				adjClose sql.NullFloat64
			)

			dest := []any{&quote.Time, &quote.Symbol, &quote.Open, &quote.High, &quote.Low, &quote.Close, &quote.Volume, &adjClose}
			for i := range extra {
				dest = append(dest, &extra[i])
			}

			if err := rows.Scan(dest...); err != nil {
				yield(types.Quote{}, errors.Wrap(errors.ErrCodeQueryFailed, "failed to scan quote", err))

				return
			}

			quote.AdjClose = quote.Close
			if adjClose.Valid {
				quote.AdjClose = adjClose.Float64
			}

			for i, name := range d.fundamentals {
				if !extra[i].Valid {
					continue
				}

				if quote.Fundamentals == nil {
					quote.Fundamentals = make(map[string]float64, len(d.fundamentals))
				}

				quote.Fundamentals[name] = extra[i].Float64
			}

			if !yield(quote, nil) {
				return
			}
		}

		if err := rows.Err(); err != nil {
			yield(types.Quote{}, errors.Wrap(errors.ErrCodeQueryFailed, "error iterating quotes", err))
		}
	}
}

// Symbols implements DataSource.
func (d *DuckDBDataSource) Symbols() ([]string, error) {
	query, args, err := d.sq.
		Select("DISTINCT symbol").
		From("market_data").
		OrderBy("symbol").
		ToSql()
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeQueryFailed, "failed to build symbol query", err)
	}

	rows, err := d.db.Query(query, args...)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeQueryFailed, "failed to get symbols", err)
	}
	defer rows.Close()

	var symbols []string

	for rows.Next() {
		var symbol string
		if err := rows.Scan(&symbol); err != nil {
			return nil, errors.Wrap(errors.ErrCodeQueryFailed, "failed to scan symbol", err)
		}

		symbols = append(symbols, symbol)
	}

	if err = rows.Err(); err != nil {
		return nil, errors.Wrap(errors.ErrCodeQueryFailed, "error iterating symbols", err)
	}

	return symbols, nil
}

// Fundamentals returns the names of the fundamental columns found by Initialize.
func (d *DuckDBDataSource) Fundamentals() []string {
	return append([]string(nil), d.fundamentals...)
}

// Close implements DataSource.
func (d *DuckDBDataSource) Close() error {
	if d.db != nil {
		return d.db.Close()
	}

	return nil
}

func timeWindow(start optional.Option[time.Time], end optional.Option[time.Time]) squirrel.And {
	conditions := squirrel.And{}

	if start.IsSome() {
		conditions = append(conditions, squirrel.GtOrEq{"time": start.Unwrap()})
	}

	if end.IsSome() {
		conditions = append(conditions, squirrel.LtOrEq{"time": end.Unwrap()})
	}

	return conditions
}

func isStandardColumn(name string) bool {
	for _, column := range requiredColumns {
		if column == name {
			return true
		}
	}

	return false
}

func isNumeric(dataType string) bool {
	upper := strings.ToUpper(dataType)
	for _, t := range numericTypes {
		if strings.HasPrefix(upper, t) {
			return true
		}
	}

	return false
}
