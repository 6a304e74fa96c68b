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
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS firmnav_runs (
	id         UUID PRIMARY KEY,
	name       TEXT NOT NULL,
	started_at TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS firmnav_run_steps (
	id           BIGSERIAL PRIMARY KEY,
	run_id       UUID NOT NULL REFERENCES firmnav_runs(id),
	epoch        INT NOT NULL,
	episode      INT NOT NULL,
	step         INT NOT NULL,
	total_reward DOUBLE PRECISION NOT NULL,
	reward       DOUBLE PRECISION NOT NULL,
	opcode       INT NOT NULL,
	operand0     BIGINT,
	operand1     BIGINT,
	events       JSONB NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_firmnav_run_steps_run ON firmnav_run_steps (run_id, epoch, episode, step);
`

// pgStore PostgreSQL 实现，适合多台机器汇总运行日志
type pgStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore 连接并建表；dsn 为连接串
func NewPostgresStore(ctx context.Context, dsn string) (Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, err
	}
	return &pgStore{pool: pool}, nil
}

func (s *pgStore) BeginRun(ctx context.Context, name string) (Run, error) {
	run := newRun(name)
	_, err := s.pool.Exec(ctx, `INSERT INTO firmnav_runs (id, name, started_at) VALUES ($1, $2, $3)`,
		run.ID, run.Name, run.StartedAt)
	if err != nil {
		return Run{}, err
	}
	return run, nil
}

func (s *pgStore) AppendSteps(ctx context.Context, steps []Step) error {
	if len(steps) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, st := range steps {
		created := st.CreatedAt
		if created.IsZero() {
			created = time.Now().UTC()
		}
		batch.Queue(`INSERT INTO firmnav_run_steps
			(run_id, epoch, episode, step, total_reward, reward, opcode, operand0, operand1, events, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
			st.RunID, st.Epoch, st.Episode, st.Step, st.TotalReward, st.Reward, st.Opcode,
			st.Operand0, st.Operand1, string(eventsOrNull(st.Events)), created)
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *pgStore) ListSteps(ctx context.Context, runID string, episode int) ([]Step, error) {
	rows, err := s.pool.Query(ctx, `SELECT run_id::text, epoch, episode, step, total_reward, reward, opcode,
		operand0, operand1, events::text, created_at FROM firmnav_run_steps
		WHERE run_id = $1 AND ($2 < 0 OR episode = $2) ORDER BY epoch, episode, step`, runID, episode)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Step
	for rows.Next() {
		var st Step
		var events string
		if err := rows.Scan(&st.RunID, &st.Epoch, &st.Episode, &st.Step, &st.TotalReward, &st.Reward, &st.Opcode,
			&st.Operand0, &st.Operand1, &events, &st.CreatedAt); err != nil {
			return nil, err
		}
		st.Events = []byte(events)
		out = append(out, st)
	}
	return out, rows.Err()
}

func (s *pgStore) Close() error {
	s.pool.Close()
	return nil
}
