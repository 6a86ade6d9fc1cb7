package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/celerix-dev/celerix-dca/internal/server"
	"github.com/celerix-dev/celerix-dca/pkg/schema"
	"github.com/celerix-dev/celerix-dca/pkg/sdk"
)

func connect(t *testing.T) *sdk.Client {
	t.Helper()
	p, err := sdk.NewEmbedded(sdk.Options{})
	require.NoError(t, err)
	router := server.NewRouter(p)
	go router.Listen("127.0.0.1:0")
	t.Cleanup(func() { router.Stop() })

	for i := 0; i < 20 && router.Addr() == nil; i++ {
		time.Sleep(25 * time.Millisecond)
	}
	require.NotNil(t, router.Addr())

	client, err := sdk.Connect(router.Addr().String(), sdk.WithoutTLS())
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return client
}

func TestRun(t *testing.T) {
	ctx := context.Background()
	client := connect(t)

	file := filepath.Join(t.TempDir(), "batch.csv")
	require.NoError(t, os.WriteFile(file, []byte("Case ID,Customer Name,Amount,Age\nFX-1,Ada,1000,10\nFX-2,Bob,9000,50\n"), 0o644))

	var out bytes.Buffer
	require.NoError(t, run(ctx, client, "import", []string{file}, &out))
	assert.Equal(t, "Imported 2 cases from batch.csv\n", out.String())

	out.Reset()
	require.NoError(t, run(ctx, client, "UPDATE", []string{"FX-1", "Closed", "Apex Collections", "Paid", "in", "full"}, &out))
	var c schema.Case
	require.NoError(t, json.Unmarshal(out.Bytes(), &c))
	assert.Equal(t, schema.StatusClosed, c.Status)

	out.Reset()
	require.NoError(t, run(ctx, client, "audit", []string{"1"}, &out))
	var log []schema.AuditLogEntry
	require.NoError(t, json.Unmarshal(out.Bytes(), &log))
	require.Len(t, log, 1)
	assert.Contains(t, log[0].Action, "Note: Paid in full")

	out.Reset()
	require.NoError(t, run(ctx, client, "ping", nil, &out))
	assert.Equal(t, "PONG\n", out.String())
}

func TestRun_Errors(t *testing.T) {
	ctx := context.Background()
	client := connect(t)
	var out bytes.Buffer

	err := run(ctx, client, "get", []string{"FX-404"}, &out)
	assert.ErrorIs(t, err, sdk.ErrNotFound)
	assert.Equal(t, 3, exitCode(err))

	err = run(ctx, client, "update", []string{"FX-1"}, &out)
	assert.Equal(t, 2, exitCode(err))

	err = run(ctx, client, "view", []string{"Nobody"}, &out)
	assert.Equal(t, 4, exitCode(err))

	err = run(ctx, client, "frobnicate", nil, &out)
	assert.ErrorIs(t, err, errUsage)
	assert.Contains(t, out.String(), "Usage:")
}
