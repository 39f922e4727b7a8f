//go:build integration

// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
)

func TestPostgresStore(t *testing.T) {
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("gateway"),
		tcpostgres.WithUsername("gateway"),
		tcpostgres.WithPassword("gateway"),
		tcpostgres.BasicWaitStrategies(),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = testcontainers.TerminateContainer(container) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	testStoreBehaviour(t, func(t *testing.T) Store {
		s, err := OpenSQL(ctx, DriverPostgres, dsn)
		require.NoError(t, err)
		t.Cleanup(func() {
			_, _ = s.db.ExecContext(ctx, "TRUNCATE email_creds, wireless_carrier_email_text RESTART IDENTITY")
			_ = s.Close()
		})
		return s
	})
}
