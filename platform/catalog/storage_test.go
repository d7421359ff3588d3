// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package catalog

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"catalogsync/platform/connectors/base"
)

// storageFactories runs every behaviour test against each in-process backend
func storageFactories(t *testing.T) map[string]func() Storage {
	return map[string]func() Storage{
		"memory": func() Storage { return NewMemoryStorage() },
		"sqlite": func() Storage {
			s, err := NewSQLiteStorage(context.Background(), ":memory:")
			require.NoError(t, err)
			t.Cleanup(func() { _ = s.Close() })
			return s
		},
	}
}

func forEachStorage(t *testing.T, fn func(t *testing.T, s Storage)) {
	for name, factory := range storageFactories(t) {
		t.Run(name, func(t *testing.T) {
			fn(t, factory())
		})
	}
}

func seed(t *testing.T, s Storage, server string, names ...string) []*DatabaseRecord {
	t.Helper()
	out := make([]*DatabaseRecord, 0, len(names))
	for _, name := range names {
		rec, err := s.Create(context.Background(), &DatabaseRecord{ServerName: server, DatabaseName: name, Enabled: true})
		require.NoError(t, err)
		out = append(out, rec)
	}
	return out
}

func recordNames(records []*DatabaseRecord) []string {
	names := make([]string, 0, len(records))
	for _, r := range records {
		names = append(names, r.DatabaseName)
	}
	return names
}

func TestStorage_CreateAndFind(t *testing.T) {
	forEachStorage(t, func(t *testing.T, s Storage) {
		ctx := context.Background()
		seed(t, s, "srv1", "orders", "legacy")
		seed(t, s, "srv2", "billing")

		records, err := s.FindByServerName(ctx, "srv1")
		require.NoError(t, err)
		assert.Equal(t, []string{"orders", "legacy"}, recordNames(records))

		for _, r := range records {
			assert.NotZero(t, r.ID)
			assert.True(t, r.Enabled)
			assert.True(t, r.Active())
			assert.False(t, r.IngestedAt.IsZero())
		}

		none, err := s.FindByServerName(ctx, "unknown")
		require.NoError(t, err)
		assert.NotNil(t, none)
		assert.Empty(t, none)
	})
}

func TestStorage_CreateIsIdempotent(t *testing.T) {
	forEachStorage(t, func(t *testing.T, s Storage) {
		ctx := context.Background()
		first := seed(t, s, "srv1", "orders")[0]

		assert.True(t, first.Created)

		again, err := s.Create(ctx, &DatabaseRecord{ServerName: "srv1", DatabaseName: "orders", Enabled: true})
		require.NoError(t, err)
		assert.Equal(t, first.ID, again.ID)
		assert.False(t, again.Created)

		records, err := s.FindByServerName(ctx, "srv1")
		require.NoError(t, err)
		require.Len(t, records, 1)
		assert.False(t, records[0].Created)
	})
}

func TestStorage_CreateRejectsIncompleteRecord(t *testing.T) {
	forEachStorage(t, func(t *testing.T, s Storage) {
		_, err := s.Create(context.Background(), &DatabaseRecord{ServerName: "srv1"})
		assert.True(t, base.IsConfigurationError(err))

		_, err = s.Create(context.Background(), nil)
		assert.True(t, base.IsConfigurationError(err))
	})
}

func TestStorage_SoftDeleteMany(t *testing.T) {
	forEachStorage(t, func(t *testing.T, s Storage) {
		ctx := context.Background()
		recs := seed(t, s, "srv1", "orders", "legacy", "archive")

		n, err := s.SoftDeleteMany(ctx, []int64{recs[1].ID, recs[2].ID})
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)

		active, err := s.FindByServerName(ctx, "srv1")
		require.NoError(t, err)
		assert.Equal(t, []string{"orders"}, recordNames(active))

		all, err := s.FindAllByServerName(ctx, "srv1", true)
		require.NoError(t, err)
		require.Len(t, all, 3)
		for _, r := range all[1:] {
			require.NotNil(t, r.DeletedAt, "record %s should be soft-deleted", r.DatabaseName)
		}
		firstStamp := *all[1].DeletedAt

		// repeating the call is harmless and keeps the original timestamp
		n, err = s.SoftDeleteMany(ctx, []int64{recs[1].ID})
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		all, err = s.FindAllByServerName(ctx, "srv1", true)
		require.NoError(t, err)
		assert.True(t, firstStamp.Equal(*all[1].DeletedAt))
	})
}

func TestStorage_SoftDeleteManyEdgeCases(t *testing.T) {
	forEachStorage(t, func(t *testing.T, s Storage) {
		ctx := context.Background()

		n, err := s.SoftDeleteMany(ctx, nil)
		assert.NoError(t, err)
		assert.Zero(t, n)

		_, err = s.SoftDeleteMany(ctx, []int64{999, 1000})
		assert.True(t, base.IsNotFound(err), "expected not found, got %v", err)
	})
}

func TestStorage_RecreateAfterSoftDelete(t *testing.T) {
	forEachStorage(t, func(t *testing.T, s Storage) {
		ctx := context.Background()
		old := seed(t, s, "srv1", "orders")[0]

		_, err := s.SoftDeleteMany(ctx, []int64{old.ID})
		require.NoError(t, err)

		fresh := seed(t, s, "srv1", "orders")[0]
		assert.NotEqual(t, old.ID, fresh.ID)

		// the deleted copy cannot come back while the new one is active
		_, err = s.Restore(ctx, old.ID)
		assert.True(t, base.IsConfigurationError(err), "expected configuration error, got %v", err)
	})
}

func TestStorage_Restore(t *testing.T) {
	forEachStorage(t, func(t *testing.T, s Storage) {
		ctx := context.Background()
		rec := seed(t, s, "srv1", "legacy")[0]

		_, err := s.SoftDeleteMany(ctx, []int64{rec.ID})
		require.NoError(t, err)

		restored, err := s.Restore(ctx, rec.ID)
		require.NoError(t, err)
		assert.Equal(t, rec.ID, restored.ID)
		assert.Nil(t, restored.DeletedAt)

		active, err := s.FindByServerName(ctx, "srv1")
		require.NoError(t, err)
		assert.Equal(t, []string{"legacy"}, recordNames(active))

		_, err = s.Restore(ctx, 12345)
		assert.True(t, base.IsNotFound(err))
	})
}

func TestStorage_ConcurrentCreates(t *testing.T) {
	forEachStorage(t, func(t *testing.T, s Storage) {
		ctx := context.Background()

		var (
			wg       sync.WaitGroup
			mu       sync.Mutex
			inserted int
		)
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				rec, err := s.Create(ctx, &DatabaseRecord{ServerName: "srv1", DatabaseName: "orders", Enabled: true})
				if !assert.NoError(t, err) {
					return
				}
				if rec.Created {
					mu.Lock()
					inserted++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, 1, inserted)

		records, err := s.FindByServerName(ctx, "srv1")
		require.NoError(t, err)
		assert.Len(t, records, 1)
	})
}

func TestStorage_ServerConfigs(t *testing.T) {
	forEachStorage(t, func(t *testing.T, s Storage) {
		ctx := context.Background()

		saved, err := s.SaveServerConfig(ctx, &base.ServerConfig{
			Name:     "srv1",
			Address:  "10.0.0.5",
			Engine:   base.EnginePostgres,
			Username: "svc",
			Secret:   []byte("hunter2"),
			Enabled:  true,
			Timeout:  15 * time.Second,
		})
		require.NoError(t, err)
		require.NotZero(t, saved.ID)

		got, err := s.GetServerConfig(ctx, saved.ID)
		require.NoError(t, err)
		assert.Equal(t, "srv1", got.Name)
		assert.Equal(t, base.EnginePostgres, got.Engine)
		assert.Equal(t, []byte("hunter2"), got.Secret)
		assert.Equal(t, 15*time.Second, got.Timeout)
		assert.Nil(t, got.NextRunAt)

		got.Enabled = false
		updated, err := s.SaveServerConfig(ctx, got)
		require.NoError(t, err)
		assert.False(t, updated.Enabled)

		_, err = s.GetServerConfig(ctx, 4242)
		assert.True(t, base.IsNotFound(err))
	})
}

func TestStorage_ServerConfigOptions(t *testing.T) {
	forEachStorage(t, func(t *testing.T, s Storage) {
		ctx := context.Background()

		saved, err := s.SaveServerConfig(ctx, &base.ServerConfig{
			Name:     "srv1",
			Address:  "10.0.0.5",
			Engine:   base.EnginePostgres,
			Username: "svc",
			Enabled:  true,
			Options:  map[string]string{"SSLMode": "require"},
		})
		require.NoError(t, err)
		assert.Equal(t, map[string]string{"sslmode": "require"}, saved.Options)

		got, err := s.GetServerConfig(ctx, saved.ID)
		require.NoError(t, err)
		assert.Equal(t, map[string]string{"sslmode": "require"}, got.Options)

		got.Options = nil
		cleared, err := s.SaveServerConfig(ctx, got)
		require.NoError(t, err)
		assert.Empty(t, cleared.Options)

		due, err := s.ListDueServerConfigs(ctx, time.Now())
		require.NoError(t, err)
		require.Len(t, due, 1)
		assert.Empty(t, due[0].Options)
	})
}

func TestStorage_DueConfigsAndMarkRun(t *testing.T) {
	forEachStorage(t, func(t *testing.T, s Storage) {
		ctx := context.Background()
		now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
		later := now.Add(time.Hour)
		earlier := now.Add(-time.Hour)

		mk := func(name string, enabled bool, next *time.Time) *base.ServerConfig {
			cfg, err := s.SaveServerConfig(ctx, &base.ServerConfig{
				Name: name, Address: "db", Engine: base.EngineMySQL, Username: "svc",
				Enabled: enabled, NextRunAt: next,
			})
			require.NoError(t, err)
			return cfg
		}

		never := mk("never-run", true, nil)
		overdue := mk("overdue", true, &earlier)
		mk("not-yet", true, &later)
		mk("disabled", false, nil)

		due, err := s.ListDueServerConfigs(ctx, now)
		require.NoError(t, err)
		require.Len(t, due, 2)
		assert.Equal(t, never.ID, due[0].ID)
		assert.Equal(t, overdue.ID, due[1].ID)

		require.NoError(t, s.MarkRun(ctx, never.ID, now, later))

		due, err = s.ListDueServerConfigs(ctx, now)
		require.NoError(t, err)
		require.Len(t, due, 1)
		assert.Equal(t, overdue.ID, due[0].ID)

		got, err := s.GetServerConfig(ctx, never.ID)
		require.NoError(t, err)
		require.NotNil(t, got.LastRunAt)
		require.NotNil(t, got.NextRunAt)
		assert.True(t, got.NextRunAt.Equal(later))

		assert.True(t, base.IsNotFound(s.MarkRun(ctx, 9999, now, later)))
	})
}
