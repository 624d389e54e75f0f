package certbootstrap

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEnsureGeneratesAndReuses(t *testing.T) {
	dir := t.TempDir()

	certPath, keyPath, err := Ensure(dir)
	require.NoError(t, err)
	require.FileExists(t, certPath)
	require.FileExists(t, keyPath)
	require.FileExists(t, filepath.Join(dir, "dh.pem"))

	_, err = LoadTLSCertificate(certPath, keyPath)
	require.NoError(t, err)

	dhBefore, err := os.ReadFile(filepath.Join(dir, "dh.pem"))
	require.NoError(t, err)

	certPath2, keyPath2, err := Ensure(dir)
	require.NoError(t, err)
	require.Equal(t, certPath, certPath2)
	require.Equal(t, keyPath, keyPath2)

	dhAfter, err := os.ReadFile(filepath.Join(dir, "dh.pem"))
	require.NoError(t, err)
	require.Equal(t, dhBefore, dhAfter)
}
