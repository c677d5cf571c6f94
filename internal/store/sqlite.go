//go:build sqlite

package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"sync"
	"time"

	"alphaevolve/internal/model"

	_ "modernc.org/sqlite"
)

// SQLiteBackend persists the population in a single programs table with
// typed columns and descending fitness indexes, so the population survives
// process restarts and stays queryable with external tools.
type SQLiteBackend struct {
	path string

	mu sync.RWMutex
	db *sql.DB
}

func NewSQLiteBackend(path string) *SQLiteBackend {
	return &SQLiteBackend{path: path}
}

func (b *SQLiteBackend) Init(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.path == "" {
		return errors.New("sqlite path is required")
	}
	if b.db != nil {
		return nil
	}

	db, err := sql.Open("sqlite", b.path)
	if err != nil {
		return err
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return err
	}

	if err := createTables(ctx, db); err != nil {
		_ = db.Close()
		return err
	}

	b.db = db
	return nil
}

func (b *SQLiteBackend) Put(ctx context.Context, program model.Program) error {
	db, err := b.getDB()
	if err != nil {
		return err
	}

	var (
		sharpe, calmar, maxDD, cagr, totalReturn sql.NullFloat64
		tradeCount                               sql.NullInt64
		winRate, psr, netSharpe                  sql.NullFloat64
	)
	if metrics, ok := program.Evaluation.Metrics(); ok {
		sharpe = sql.NullFloat64{Float64: metrics.SharpeRatio, Valid: true}
		calmar = sql.NullFloat64{Float64: metrics.CalmarRatio, Valid: true}
		maxDD = sql.NullFloat64{Float64: metrics.MaxDrawdown, Valid: true}
		cagr = sql.NullFloat64{Float64: metrics.CAGR, Valid: true}
		totalReturn = sql.NullFloat64{Float64: metrics.TotalReturn, Valid: true}
		if metrics.TradeCount != nil {
			tradeCount = sql.NullInt64{Int64: int64(*metrics.TradeCount), Valid: true}
		}
		if metrics.WinRate != nil {
			winRate = sql.NullFloat64{Float64: *metrics.WinRate, Valid: true}
		}
		if metrics.PSR != nil {
			psr = sql.NullFloat64{Float64: *metrics.PSR, Valid: true}
		}
		if metrics.NetSharpe != nil {
			netSharpe = sql.NullFloat64{Float64: *metrics.NetSharpe, Valid: true}
		}
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO programs (
			id, code, parent_id, generation, experiment,
			sharpe, calmar, max_dd, cagr, total_return,
			trade_count, win_rate, psr, net_sharpe, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			code = excluded.code,
			parent_id = excluded.parent_id,
			generation = excluded.generation,
			experiment = excluded.experiment,
			sharpe = excluded.sharpe,
			calmar = excluded.calmar,
			max_dd = excluded.max_dd,
			cagr = excluded.cagr,
			total_return = excluded.total_return,
			trade_count = excluded.trade_count,
			win_rate = excluded.win_rate,
			psr = excluded.psr,
			net_sharpe = excluded.net_sharpe,
			created_at = excluded.created_at
	`,
		program.ID, program.Code, nullString(program.ParentID), program.Generation, nullString(program.Experiment),
		sharpe, calmar, maxDD, cagr, totalReturn,
		tradeCount, winRate, psr, netSharpe, program.CreatedAt.UnixNano(),
	)
	return err
}

func (b *SQLiteBackend) Get(ctx context.Context, id string) (model.Program, bool, error) {
	db, err := b.getDB()
	if err != nil {
		return model.Program{}, false, err
	}

	row := db.QueryRowContext(ctx, selectColumns+` FROM programs WHERE id = ?`, id)
	program, err := scanProgram(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Program{}, false, nil
		}
		return model.Program{}, false, err
	}
	return program, true, nil
}

func (b *SQLiteBackend) List(ctx context.Context) ([]model.Program, error) {
	db, err := b.getDB()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, selectColumns+` FROM programs`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var programs []model.Program
	for rows.Next() {
		program, err := scanProgram(rows)
		if err != nil {
			return nil, err
		}
		programs = append(programs, program)
	}
	return programs, rows.Err()
}

func (b *SQLiteBackend) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	db, err := b.getDB()
	if err != nil {
		return err
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	_, err = db.ExecContext(ctx, `DELETE FROM programs WHERE id IN (`+placeholders+`)`, args...)
	return err
}

func (b *SQLiteBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.db == nil {
		return nil
	}
	err := b.db.Close()
	b.db = nil
	return err
}

func (b *SQLiteBackend) getDB() (*sql.DB, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.db == nil {
		return nil, errors.New("backend is not initialized")
	}
	return b.db, nil
}

const selectColumns = `SELECT id, code, parent_id, generation, experiment,
	sharpe, calmar, max_dd, cagr, total_return,
	trade_count, win_rate, psr, net_sharpe, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProgram(row rowScanner) (model.Program, error) {
	var (
		program                                  model.Program
		parentID, experiment                     sql.NullString
		sharpe, calmar, maxDD, cagr, totalReturn sql.NullFloat64
		tradeCount                               sql.NullInt64
		winRate, psr, netSharpe                  sql.NullFloat64
		createdAt                                int64
	)
	err := row.Scan(
		&program.ID, &program.Code, &parentID, &program.Generation, &experiment,
		&sharpe, &calmar, &maxDD, &cagr, &totalReturn,
		&tradeCount, &winRate, &psr, &netSharpe, &createdAt,
	)
	if err != nil {
		return model.Program{}, err
	}

	program.ParentID = parentID.String
	program.Experiment = experiment.String
	program.CreatedAt = time.Unix(0, createdAt).UTC()

	// calmar is always written for a scored program, so its presence is the
	// scored marker.
	if calmar.Valid {
		metrics := model.FitnessMetrics{
			SharpeRatio: sharpe.Float64,
			CalmarRatio: calmar.Float64,
			MaxDrawdown: maxDD.Float64,
			CAGR:        cagr.Float64,
			TotalReturn: totalReturn.Float64,
		}
		if tradeCount.Valid {
			count := int(tradeCount.Int64)
			metrics.TradeCount = &count
		}
		if winRate.Valid {
			rate := winRate.Float64
			metrics.WinRate = &rate
		}
		if psr.Valid {
			value := psr.Float64
			metrics.PSR = &value
		}
		if netSharpe.Valid {
			value := netSharpe.Float64
			metrics.NetSharpe = &value
		}
		program.Evaluation = model.ScoredEvaluation(metrics)
	} else {
		program.Evaluation = model.PendingEvaluation()
	}
	return program, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func createTables(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS programs (
			id TEXT PRIMARY KEY,
			code TEXT NOT NULL,
			parent_id TEXT,
			generation INTEGER NOT NULL DEFAULT 0,
			experiment TEXT,
			sharpe REAL,
			calmar REAL,
			max_dd REAL,
			cagr REAL,
			total_return REAL,
			trade_count INTEGER,
			win_rate REAL,
			psr REAL,
			net_sharpe REAL,
			created_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_programs_calmar ON programs(calmar DESC);
		CREATE INDEX IF NOT EXISTS idx_programs_sharpe ON programs(sharpe DESC);
		CREATE INDEX IF NOT EXISTS idx_programs_experiment ON programs(experiment);
	`)
	return err
}
