package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/hackclub/replit-lifeboat/modules/objectstore"
	"github.com/hackclub/replit-lifeboat/modules/queuestate"
	"github.com/hackclub/replit-lifeboat/pkg/orchestrator"
	"github.com/stretchr/testify/require"
)

func TestReadJobSpecFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "job.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"auth_token": "tok",
		"repl": {"id": "r1", "slug": "my-repl", "username": "alice", "created_at": 1000},
		"user_email": "alice@example.com",
		"working_dir": "/tmp/work",
		"metadata_url": "https://example.com/meta"
	}`), 0o644))

	spec, err := readJobSpec(path)
	require.NoError(t, err)
	require.Equal(t, "tok", spec.AuthToken)
	require.Equal(t, "my-repl", spec.Repl.Slug)
	require.Equal(t, int64(1000), spec.Repl.CreatedAt)
	require.Equal(t, "https://example.com/meta", spec.MetadataURL)
}

func TestRecordOutcomeMapsStatusToQueueState(t *testing.T) {
	store := objectstore.NewFake()
	stateStore := queuestate.NewLogStore()
	mailClient := newCapturingMailer()
	spec := &jobSpec{UserEmail: "bob@example.com"}
	spec.Repl.ID = "r1"
	spec.Repl.Username = "bob"

	recordOutcome(context.Background(), store, stateStore, mailClient, spec, orchestrator.Result{Status: orchestrator.StatusFailed})

	row, err := stateStore.Get(context.Background(), "bob")
	require.NoError(t, err)
	require.Equal(t, queuestate.Errored, row.Status)
	require.Equal(t, []string{"r1"}, row.FailedIDs)
	require.Len(t, mailClient.sent, 1)
}

type capturingMailer struct {
	sent []string
}

func newCapturingMailer() *capturingMailer { return &capturingMailer{} }

func (m *capturingMailer) Send(_ context.Context, template, to string, _ map[string]string) error {
	m.sent = append(m.sent, template+":"+to)
	return nil
}
