package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"inboxd/internal/counter"
	"inboxd/internal/state"
	"inboxd/internal/testutil"
)

func TestRootCmd_HasSubcommands(t *testing.T) {
	cmd := NewRootCmdForTest()

	names := make([]string, 0)
	for _, c := range cmd.Commands() {
		names = append(names, c.Name())
	}
	assert.Contains(t, names, "serve")
	assert.Contains(t, names, "badge")
	assert.Contains(t, names, "token")
}

func TestBadgeOnce_PrintsSlot(t *testing.T) {
	dir := t.TempDir()
	dsn := "file://" + filepath.Join(dir, "state.zst")
	kv, err := state.OpenKV(dsn)
	require.NoError(t, err)
	require.NoError(t, kv.Set(counter.SlotKey, "3"))
	require.NoError(t, kv.Close())

	config := filepath.Join(dir, "inboxd.yaml")
	require.NoError(t, os.WriteFile(config, []byte(`
webServer: {host: 127.0.0.1, port: 8090}
logger: {level: info, mode: 420, dir: `+dir+`}
state: {dsn: "`+dsn+`"}
remote: {baseURL: "https://realtime.example.com", guardianID: g1, studentIDs: [s1]}
`), 0644))

	cmd := NewRootCmdForTest()
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetArgs([]string{"badge", "--once", "--config", config})

	require.NoError(t, cmd.Execute())
	assert.Equal(t, "unread: 3\n", out.String())
}

func TestFollowBadge_PrintsChanges(t *testing.T) {
	kv := state.NewMemoryKV()
	require.NoError(t, kv.Set(counter.SlotKey, "1"))
	poller := counter.NewPoller(kv, 10*time.Millisecond, &testutil.MockLogger{})

	ctx, cancel := context.WithCancel(context.Background())
	out := &syncBuffer{}
	done := make(chan error, 1)
	go func() { done <- followBadge(ctx, poller, out) }()

	assert.Eventually(t, func() bool { return out.String() == "unread: 1\n" }, time.Second, 5*time.Millisecond)
	require.NoError(t, kv.Set(counter.SlotKey, "0"))
	assert.Eventually(t, func() bool { return out.String() == "unread: 1\nunread: 0\n" }, time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}
