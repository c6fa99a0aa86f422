// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
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

package remote

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Postgres schema (reference):
//
// CREATE TABLE IF NOT EXISTS post (
//   id BIGINT PRIMARY KEY,
//   points BIGINT NOT NULL DEFAULT 0
// );
//
// CREATE TABLE IF NOT EXISTS updoot (
//   user_id BIGINT NOT NULL,
//   post_id BIGINT NOT NULL REFERENCES post(id),
//   value SMALLINT NOT NULL,
//   PRIMARY KEY (user_id, post_id)
// );
//
// CREATE TABLE IF NOT EXISTS applied_votes (
//   request_id TEXT PRIMARY KEY,
//   post_id BIGINT NOT NULL,
//   user_id BIGINT NOT NULL,
//   value SMALLINT NOT NULL,
//   ts TIMESTAMPTZ NOT NULL DEFAULT now()
// );

// PostgresVoter applies a vote in one transaction: request marker, prior vote
// lookup, vote row upsert, then the point adjustment.
type PostgresVoter struct {
	db             *sql.DB
	defaultTimeout time.Duration
}

func NewPostgresVoter(db *sql.DB) *PostgresVoter {
	return &PostgresVoter{db: db, defaultTimeout: 10 * time.Second}
}

func (p *PostgresVoter) Apply(ctx context.Context, e VoteEntry) error {
	if e.RequestID == "" {
		return errors.New("VoteEntry.RequestID must be set")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if _, ok := ctx.Deadline(); !ok && p.defaultTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.defaultTimeout)
		defer cancel()
	}

	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO applied_votes(request_id, post_id, user_id, value) VALUES ($1,$2,$3,$4) ON CONFLICT DO NOTHING`,
		e.RequestID, e.PostID, e.UserID, e.Value)
	if err != nil {
		return fmt.Errorf("insert applied_votes(%s): %w", e.RequestID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		// Replay of a request we already applied.
		return tx.Commit()
	}

	var prior int
	err = tx.QueryRowContext(ctx,
		`SELECT value FROM updoot WHERE user_id = $1 AND post_id = $2`, e.UserID, e.PostID).Scan(&prior)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("select updoot(%d,%d): %w", e.UserID, e.PostID, err)
	}
	if prior == e.Value {
		return tx.Commit()
	}

	delta := e.Value
	if prior == 0 {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO updoot(user_id, post_id, value) VALUES ($1,$2,$3)`, e.UserID, e.PostID, e.Value); err != nil {
			return fmt.Errorf("insert updoot(%d,%d): %w", e.UserID, e.PostID, err)
		}
	} else {
		delta = 2 * e.Value
		if _, err := tx.ExecContext(ctx,
			`UPDATE updoot SET value = $3 WHERE user_id = $1 AND post_id = $2`, e.UserID, e.PostID, e.Value); err != nil {
			return fmt.Errorf("update updoot(%d,%d): %w", e.UserID, e.PostID, err)
		}
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE post SET points = points + $1 WHERE id = $2`, delta, e.PostID); err != nil {
		return fmt.Errorf("update post(%d): %w", e.PostID, err)
	}
	return tx.Commit()
}
