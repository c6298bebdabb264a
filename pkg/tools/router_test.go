package tools

import (
	"context"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notedock/notedock/pkg/notebook"
	"github.com/notedock/notedock/pkg/scope"
	"github.com/notedock/notedock/pkg/store"
)

type recordingAuditor struct {
	entries []store.ActionLog
}

func (a *recordingAuditor) AppendActionLog(_ context.Context, entry store.ActionLog) (*store.ActionLog, error) {
	a.entries = append(a.entries, entry)
	return &entry, nil
}

func newTestRouter(t *testing.T, s scope.Scope) (*Router, *recordingAuditor, notebook.Store) {
	t.Helper()

	nb, err := notebook.NewFSStore(t.TempDir(), zerolog.Nop())
	require.NoError(t, err)

	audit := &recordingAuditor{}
	router := New(Config{
		Guard:     scope.NewGuard(s),
		Notebook:  nb,
		Audit:     audit,
		SessionID: "sess-1",
		Logger:    zerolog.Nop(),
	})
	return router, audit, nb
}

func fullScope() scope.Scope {
	return scope.Scope{
		Notebooks: []string{"*"},
		Folders:   []string{"*"},
		FileTypes: []string{"*"},
		CanRead:   true,
		CanWrite:  true,
		CanCreate: true,
		CanDelete: true,
	}
}

func TestCatalogFiltersByCapability(t *testing.T) {
	readOnly := fullScope()
	readOnly.CanWrite = false
	readOnly.CanCreate = false
	readOnly.CanDelete = false

	router, _, _ := newTestRouter(t, readOnly)

	names := make([]string, 0)
	for _, def := range router.Catalog() {
		names = append(names, def.Name)
	}
	assert.ElementsMatch(t, []string{"read_file", "list_files", "search_content", "get_file_metadata"}, names)

	providerTools := router.ProviderTools()
	require.Len(t, providerTools, 4)
	assert.Equal(t, "object", providerTools[0].InputSchema["type"])
}

func TestDispatchUnknownToolLeavesNoAuditRow(t *testing.T) {
	router, audit, _ := newTestRouter(t, fullScope())

	res := router.Dispatch(context.Background(), "send_email", map[string]interface{}{}, true)

	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "unknown tool")
	assert.Empty(t, audit.entries)
}

func TestDispatchUnconfirmedMutationIsPending(t *testing.T) {
	router, audit, nb := newTestRouter(t, fullScope())

	res := router.Dispatch(context.Background(), "write_file", map[string]interface{}{
		"path":    "/notes/a.md",
		"content": "hello",
	}, false)

	assert.True(t, res.PendingConfirmation)
	assert.False(t, res.Success)
	assert.Empty(t, audit.entries)

	_, err := nb.ReadFile(context.Background(), "/notes/a.md")
	assert.ErrorIs(t, err, notebook.ErrNotFound)
}

func TestDispatchDeniedWritesSingleAuditRow(t *testing.T) {
	s := fullScope()
	s.Folders = []string{"/experiments/*"}

	router, audit, _ := newTestRouter(t, s)

	res := router.Dispatch(context.Background(), "read_file", map[string]interface{}{
		"path": "/secrets/keys.md",
	}, false)

	assert.True(t, res.Denied)
	assert.Contains(t, res.Error, "folder not in scope")
	require.Len(t, audit.entries, 1)
	assert.Equal(t, "read_file", audit.entries[0].Action)
	assert.Equal(t, "/secrets/keys.md", audit.entries[0].Target)
	assert.False(t, audit.entries[0].WasAllowed)
}

func TestDispatchCapabilityDisabledToolReachesGuard(t *testing.T) {
	s := fullScope()
	s.CanDelete = false

	router, audit, _ := newTestRouter(t, s)

	res := router.Dispatch(context.Background(), "delete_file", map[string]interface{}{
		"path": "/notes/a.md",
	}, true)

	assert.True(t, res.Denied)
	require.Len(t, audit.entries, 1)
	assert.False(t, audit.entries[0].WasAllowed)
}

func TestDispatchReadRoundTrip(t *testing.T) {
	router, audit, nb := newTestRouter(t, fullScope())

	_, err := nb.CreateFile(context.Background(), "/notes/a.md", "alpha")
	require.NoError(t, err)

	res := router.Dispatch(context.Background(), "read_file", map[string]interface{}{
		"path": "/notes/a.md",
	}, false)

	assert.True(t, res.Success)
	assert.Equal(t, "alpha", res.Output)
	assert.False(t, res.Mutated)
	require.Len(t, audit.entries, 1)
	assert.True(t, audit.entries[0].WasAllowed)
	assert.Equal(t, "alpha", audit.entries[0].OutputSummary)
}

func TestDispatchFolderScopedReadWithoutNotebookList(t *testing.T) {
	s := scope.Scope{
		Folders:   []string{"/experiments/*"},
		FileTypes: []string{"*.md"},
		CanRead:   true,
	}

	router, audit, nb := newTestRouter(t, s)

	_, err := nb.CreateFile(context.Background(), "/experiments/log.md", "trial 1")
	require.NoError(t, err)

	res := router.Dispatch(context.Background(), "read_file", map[string]interface{}{
		"path": "/experiments/log.md",
	}, false)

	assert.True(t, res.Success)
	assert.False(t, res.Denied)
	assert.Equal(t, "trial 1", res.Output)
	require.Len(t, audit.entries, 1)
	assert.True(t, audit.entries[0].WasAllowed)

	res = router.Dispatch(context.Background(), "read_file", map[string]interface{}{
		"path": "/secrets/keys.md",
	}, false)

	assert.True(t, res.Denied)
	assert.Contains(t, res.Error, "folder not in scope")
}

func TestDispatchConfirmedWriteMutates(t *testing.T) {
	router, audit, nb := newTestRouter(t, fullScope())

	res := router.Dispatch(context.Background(), "write_file", map[string]interface{}{
		"path":    "/notes/a.md",
		"content": "draft",
	}, true)

	assert.True(t, res.Success)
	assert.True(t, res.Mutated)
	require.Len(t, audit.entries, 1)
	assert.True(t, audit.entries[0].WasAllowed)

	file, err := nb.ReadFile(context.Background(), "/notes/a.md")
	require.NoError(t, err)
	assert.Equal(t, "draft", file.Content)
}

func TestDispatchInvalidArgumentsNeverReachGuard(t *testing.T) {
	router, audit, _ := newTestRouter(t, fullScope())

	res := router.Dispatch(context.Background(), "read_file", map[string]interface{}{}, false)

	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "invalid arguments")
	assert.Empty(t, audit.entries)
}

func TestDispatchSummariesAreTruncated(t *testing.T) {
	router, audit, nb := newTestRouter(t, fullScope())

	long := strings.Repeat("x", 4096)
	_, err := nb.CreateFile(context.Background(), "/notes/long.md", long)
	require.NoError(t, err)

	res := router.Dispatch(context.Background(), "read_file", map[string]interface{}{
		"path": "/notes/long.md",
	}, false)

	assert.Equal(t, long, res.Output)
	require.Len(t, audit.entries, 1)
	assert.LessOrEqual(t, len(audit.entries[0].OutputSummary), 200)
	assert.True(t, strings.HasSuffix(audit.entries[0].OutputSummary, "..."))
}

func TestDispatchSearchFiltersOutOfScopeMatches(t *testing.T) {
	s := fullScope()
	s.Folders = []string{"/experiments/*"}

	router, audit, nb := newTestRouter(t, s)

	_, err := nb.CreateFile(context.Background(), "/experiments/log.md", "needle in here")
	require.NoError(t, err)
	_, err = nb.CreateFile(context.Background(), "/secrets/keys.md", "needle too")
	require.NoError(t, err)

	res := router.Dispatch(context.Background(), "search_content", map[string]interface{}{
		"query": "needle",
	}, false)

	assert.True(t, res.Success)
	assert.Contains(t, res.Output, "/experiments/log.md")
	assert.NotContains(t, res.Output, "/secrets/keys.md")
	require.Len(t, audit.entries, 1)
	assert.Equal(t, "search:needle", audit.entries[0].Target)
}

func TestDispatchDeleteFile(t *testing.T) {
	router, _, nb := newTestRouter(t, fullScope())

	_, err := nb.CreateFile(context.Background(), "/notes/a.md", "bye")
	require.NoError(t, err)

	res := router.Dispatch(context.Background(), "delete_file", map[string]interface{}{
		"path": "/notes/a.md",
	}, true)

	assert.True(t, res.Success)
	_, err = nb.ReadFile(context.Background(), "/notes/a.md")
	assert.ErrorIs(t, err, notebook.ErrNotFound)
}
