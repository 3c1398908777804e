package db

import (
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrate(t *testing.T) {
	t.Run("fresh database applies all migrations", func(t *testing.T) {
		path := t.TempDir() + "/test.db"
		conn, err := sql.Open("sqlite", path)
		require.NoError(t, err)
		defer conn.Close()

		err = Migrate(conn)
		require.NoError(t, err)

		// Verify schema_migrations table
		var count int
		err = conn.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count)
		require.NoError(t, err)
		assert.Equal(t, 2, count) // We have 2 migrations

		// Verify version numbers
		rows, err := conn.Query("SELECT version FROM schema_migrations ORDER BY version")
		require.NoError(t, err)
		defer rows.Close()

		versions := []int{}
		for rows.Next() {
			var v int
			err = rows.Scan(&v)
			require.NoError(t, err)
			versions = append(versions, v)
		}
		assert.Equal(t, []int{1, 2}, versions)
	})

	t.Run("idempotent - re-running is safe", func(t *testing.T) {
		path := t.TempDir() + "/test.db"
		conn, err := sql.Open("sqlite", path)
		require.NoError(t, err)
		defer conn.Close()

		err = Migrate(conn)
		require.NoError(t, err)

		// Second run should be a no-op
		err = Migrate(conn)
		require.NoError(t, err)

		var count int
		err = conn.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count)
		require.NoError(t, err)
		assert.Equal(t, 2, count)
	})

	t.Run("creates all core tables", func(t *testing.T) {
		path := t.TempDir() + "/test.db"
		conn, err := sql.Open("sqlite", path)
		require.NoError(t, err)
		defer conn.Close()

		err = Migrate(conn)
		require.NoError(t, err)

		tables := []string{"submissions", "failures", "events"}

		for _, table := range tables {
			var count int
			err = conn.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&count)
			require.NoError(t, err)
			assert.Equal(t, 1, count, "table %s should exist", table)
		}
	})

	t.Run("creates indexes", func(t *testing.T) {
		path := t.TempDir() + "/test.db"
		conn, err := sql.Open("sqlite", path)
		require.NoError(t, err)
		defer conn.Close()

		err = Migrate(conn)
		require.NoError(t, err)

		indexes := []string{
			"idx_submissions_session", "idx_submissions_status", "idx_submissions_cluster",
			"idx_failures_token", "idx_events_session", "idx_events_token",
		}

		for _, index := range indexes {
			var count int
			err = conn.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='index' AND name=?", index).Scan(&count)
			require.NoError(t, err)
			assert.Equal(t, 1, count, "index %s should exist", index)
		}
	})

	t.Run("nil db", func(t *testing.T) {
		err := Migrate(nil)
		assert.EqualError(t, err, "db is nil")
	})
}

func TestMigrationVersion1(t *testing.T) {
	t.Run("submissions table structure", func(t *testing.T) {
		path := t.TempDir() + "/test.db"
		conn, err := sql.Open("sqlite", path)
		require.NoError(t, err)
		defer conn.Close()

		err = Migrate(conn)
		require.NoError(t, err)

		columns := []string{
			"token", "session_id", "vm_name", "status", "vm_id",
			"payload", "created_at", "completed_at",
		}

		for _, col := range columns {
			var count int
			err = conn.QueryRow("SELECT COUNT(*) FROM pragma_table_info('submissions') WHERE name=?", col).Scan(&count)
			require.NoError(t, err)
			assert.Equal(t, 1, count, "submissions.%s column should exist", col)
		}
	})

	t.Run("failures foreign key to submissions with cascade delete", func(t *testing.T) {
		path := t.TempDir() + "/test.db"
		conn, err := sql.Open("sqlite", path)
		require.NoError(t, err)
		defer conn.Close()

		err = Migrate(conn)
		require.NoError(t, err)

		// Orphan failure rows must be rejected
		_, err = conn.Exec("INSERT INTO failures (token, message, created_at) VALUES (?, ?, datetime('now'))",
			"missing-token", "boom")
		assert.Error(t, err)

		_, err = conn.Exec("INSERT INTO submissions (token, session_id, vm_name, status, created_at) VALUES (?, ?, ?, ?, datetime('now'))",
			"sess-1-1", "sess-1", "web-01", "pending")
		require.NoError(t, err)

		res, err := conn.Exec("INSERT INTO failures (token, message, created_at) VALUES (?, ?, datetime('now'))",
			"sess-1-1", "boom")
		require.NoError(t, err)
		failureID, _ := res.LastInsertId()

		_, err = conn.Exec("DELETE FROM submissions WHERE token = ?", "sess-1-1")
		require.NoError(t, err)

		var count int
		err = conn.QueryRow("SELECT COUNT(*) FROM failures WHERE id = ?", failureID).Scan(&count)
		require.NoError(t, err)
		assert.Equal(t, 0, count)
	})

	t.Run("events table structure", func(t *testing.T) {
		path := t.TempDir() + "/test.db"
		conn, err := sql.Open("sqlite", path)
		require.NoError(t, err)
		defer conn.Close()

		err = Migrate(conn)
		require.NoError(t, err)

		columns := []string{"id", "ts", "kind", "session_id", "token", "msg"}

		for _, col := range columns {
			var count int
			err = conn.QueryRow("SELECT COUNT(*) FROM pragma_table_info('events') WHERE name=?", col).Scan(&count)
			require.NoError(t, err)
			assert.Equal(t, 1, count, "events.%s column should exist", col)
		}
	})
}

func TestMigrationVersion2(t *testing.T) {
	t.Run("adds attempt context fields", func(t *testing.T) {
		path := t.TempDir() + "/test.db"
		conn, err := sql.Open("sqlite", path)
		require.NoError(t, err)
		defer conn.Close()

		err = Migrate(conn)
		require.NoError(t, err)

		columns := []string{"cluster_id", "template_id"}

		for _, col := range columns {
			var count int
			err = conn.QueryRow("SELECT COUNT(*) FROM pragma_table_info('submissions') WHERE name=?", col).Scan(&count)
			require.NoError(t, err)
			assert.Equal(t, 1, count, "submissions.%s column should exist", col)
		}
	})

	t.Run("alter table preserves existing data", func(t *testing.T) {
		path := t.TempDir() + "/test.db"
		conn, err := sql.Open("sqlite", path)
		require.NoError(t, err)
		defer conn.Close()

		// Apply only the first migration by hand
		for _, m := range migrations {
			if m.version == 1 {
				_, err = conn.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
					version INTEGER PRIMARY KEY,
					name TEXT NOT NULL,
					applied_at TEXT NOT NULL
				)`)
				require.NoError(t, err)
				for _, stmt := range m.statements {
					_, err = conn.Exec(stmt)
					require.NoError(t, err)
				}
				_, err = conn.Exec("INSERT INTO schema_migrations (version, name, applied_at) VALUES (?, ?, datetime('now'))", m.version, m.name)
				require.NoError(t, err)
				break
			}
		}

		_, err = conn.Exec("INSERT INTO submissions (token, session_id, vm_name, status, created_at) VALUES (?, ?, ?, ?, datetime('now'))",
			"sess-1-1", "sess-1", "web-01", "pending")
		require.NoError(t, err)

		err = Migrate(conn)
		require.NoError(t, err)

		var count int
		err = conn.QueryRow("SELECT COUNT(*) FROM submissions WHERE token = ?", "sess-1-1").Scan(&count)
		require.NoError(t, err)
		assert.Equal(t, 1, count)
	})
}

func TestMigrationValidation(t *testing.T) {
	t.Run("all migrations have valid versions", func(t *testing.T) {
		assert.Greater(t, len(migrations), 0)

		for i, m := range migrations {
			assert.Equal(t, i+1, m.version, "migration %d should have version %d", i, i+1)
			assert.NotEmpty(t, m.name, "migration %d should have a name", m.version)
			assert.NotEmpty(t, m.statements, "migration %d should have statements", m.version)
		}
	})
}
