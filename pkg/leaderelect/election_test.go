package leaderelect

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBootstrapSingleNodeBecomesLeader(t *testing.T) {
	dir := t.TempDir()
	e, err := Bootstrap(Config{
		NodeID:   "node-1",
		BindAddr: "127.0.0.1:17601",
		DataDir:  dir,
	})
	require.NoError(t, err)
	defer e.Shutdown()

	require.Eventually(t, e.IsLeader, 3*time.Second, 20*time.Millisecond)
	require.Equal(t, "127.0.0.1:17601", e.LeaderAddr())

	servers, err := e.Servers()
	require.NoError(t, err)
	require.Len(t, servers, 1)
	require.Equal(t, "node-1", string(servers[0].ID))
}
