// Copyright 2026 fanjia1024
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package runlog

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	started_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS run_steps (
	run_id       TEXT NOT NULL REFERENCES runs(id),
	epoch        INTEGER NOT NULL,
	episode      INTEGER NOT NULL,
	step         INTEGER NOT NULL,
	total_reward REAL NOT NULL,
	reward       REAL NOT NULL,
	opcode       INTEGER NOT NULL,
	operand0     INTEGER,
	operand1     INTEGER,
	events       TEXT NOT NULL,
	created_at   INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_run_steps_run ON run_steps (run_id, epoch, episode, step);
`

// sqliteStore 单文件运行日志
type sqliteStore struct {
	db *sql.DB
}

// NewSQLiteStore 打开（必要时创建）sqlite 文件并建表
func NewSQLiteStore(ctx context.Context, path string) (Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	dsn := filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &sqliteStore{db: db}, nil
}

func (s *sqliteStore) BeginRun(ctx context.Context, name string) (Run, error) {
	run := newRun(name)
	_, err := s.db.ExecContext(ctx, `INSERT INTO runs (id, name, started_at) VALUES (?, ?, ?)`,
		run.ID, run.Name, run.StartedAt.UnixMilli())
	if err != nil {
		return Run{}, fmt.Errorf("insert run: %w", err)
	}
	return run, nil
}

func (s *sqliteStore) AppendSteps(ctx context.Context, steps []Step) error {
	if len(steps) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO run_steps
		(run_id, epoch, episode, step, total_reward, reward, opcode, operand0, operand1, events, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, st := range steps {
		created := st.CreatedAt
		if created.IsZero() {
			created = time.Now().UTC()
		}
		if _, err := stmt.ExecContext(ctx, st.RunID, st.Epoch, st.Episode, st.Step, st.TotalReward, st.Reward,
			st.Opcode, st.Operand0, st.Operand1, string(eventsOrNull(st.Events)), created.UnixMilli()); err != nil {
			return fmt.Errorf("insert step: %w", err)
		}
	}
	return tx.Commit()
}

func (s *sqliteStore) ListSteps(ctx context.Context, runID string, episode int) ([]Step, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT run_id, epoch, episode, step, total_reward, reward, opcode,
		operand0, operand1, events, created_at FROM run_steps
		WHERE run_id = ? AND (? < 0 OR episode = ?) ORDER BY epoch, episode, step`, runID, episode, episode)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Step
	for rows.Next() {
		var st Step
		var op0, op1 sql.NullInt64
		var events string
		var created int64
		if err := rows.Scan(&st.RunID, &st.Epoch, &st.Episode, &st.Step, &st.TotalReward, &st.Reward, &st.Opcode,
			&op0, &op1, &events, &created); err != nil {
			return nil, err
		}
		if op0.Valid {
			st.Operand0 = &op0.Int64
		}
		if op1.Valid {
			st.Operand1 = &op1.Int64
		}
		st.Events = []byte(events)
		st.CreatedAt = time.UnixMilli(created).UTC()
		out = append(out, st)
	}
	return out, rows.Err()
}

func (s *sqliteStore) Close() error { return s.db.Close() }
