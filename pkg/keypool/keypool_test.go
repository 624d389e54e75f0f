package keypool

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeKeysFile(t *testing.T, lines ...string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "keys.txt")
	content := ""
	for _, l := range lines {
		content += l + "\n"
	}
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadAndPopOrder(t *testing.T) {
	path := writeKeysFile(t,
		"lsk1 lpk1 esk1 epk1 xsk1 xpk1",
		"lsk2 lpk2 esk2 epk2 xsk2 xpk2",
	)

	pool, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 2, pool.Remaining())

	kt, err := pool.Pop()
	require.NoError(t, err)
	require.Equal(t, "lpk2", kt.LegacyPK)
	require.Equal(t, 1, pool.Remaining())

	kt, err = pool.Pop()
	require.NoError(t, err)
	require.Equal(t, "lpk1", kt.LegacyPK)

	_, err = pool.Pop()
	require.Error(t, err)
}

func TestLoadRejectsMalformedLine(t *testing.T) {
	path := writeKeysFile(t, "only three fields here")
	_, err := Load(path)
	require.Error(t, err)
}
