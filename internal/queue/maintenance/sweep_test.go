package maintenance

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maauso/mediaqueue/internal/store/sqlite"
)

func TestRun_RemovesOldTempFilesKeepsRecent(t *testing.T) {
	dir := t.TempDir()
	old := filepath.Join(dir, "old.tmp")
	fresh := filepath.Join(dir, "fresh.tmp")
	require.NoError(t, os.WriteFile(old, []byte("x"), 0o600))
	require.NoError(t, os.WriteFile(fresh, []byte("x"), 0o600))
	require.NoError(t, os.Chtimes(old, time.Now().Add(-2*time.Hour), time.Now().Add(-2*time.Hour)))

	st, err := sqlite.Open(filepath.Join(t.TempDir(), "queue.db"), sqlite.DefaultConfig())
	require.NoError(t, err)
	defer func() { _ = st.Close() }()

	s := &Sweeper{TempDir: dir, MaxAge: time.Hour, DB: st.DB()}
	require.NoError(t, s.Run(context.Background()))

	_, err = os.Stat(old)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(fresh)
	assert.NoError(t, err)
}

func TestRun_SecureEraseRemovesOldTempFiles(t *testing.T) {
	dir := t.TempDir()
	old := filepath.Join(dir, "old.tmp")
	require.NoError(t, os.WriteFile(old, []byte("secret"), 0o600))
	require.NoError(t, os.Chtimes(old, time.Now().Add(-2*time.Hour), time.Now().Add(-2*time.Hour)))

	st, err := sqlite.Open(filepath.Join(t.TempDir(), "queue.db"), sqlite.DefaultConfig())
	require.NoError(t, err)
	defer func() { _ = st.Close() }()

	s := &Sweeper{TempDir: dir, MaxAge: time.Hour, DB: st.DB(), SecureErase: true}
	require.NoError(t, s.Run(context.Background()))

	_, err = os.Stat(old)
	assert.True(t, os.IsNotExist(err))
}

func TestRun_MissingTempDirIsNotAnError(t *testing.T) {
	s := &Sweeper{TempDir: "/nonexistent/temp/dir", MaxAge: time.Hour}
	assert.NoError(t, s.Run(context.Background()))
}

func TestStartStop_SchedulesAndHalts(t *testing.T) {
	dir := t.TempDir()
	s := &Sweeper{TempDir: dir, MaxAge: time.Hour}
	require.NoError(t, s.Start("@every 1h"))
	s.Stop()
}
