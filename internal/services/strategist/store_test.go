package strategist

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cunarist/solie/internal/domain"
)

func storePath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "strategist", "strategies.json")
}

func TestStoreSeedsSampleOnFirstRun(t *testing.T) {
	path := storePath(t)
	store, err := NewStore(path, nil)
	require.NoError(t, err)

	list := store.List()
	require.Len(t, list, 1)
	require.Equal(t, "SLSLDS", list[0].CodeName)

	// second open loads the file instead of reseeding
	again, err := NewStore(path, nil)
	require.NoError(t, err)
	require.Len(t, again.List(), 1)
}

func TestStoreSaveValidatesAndUpserts(t *testing.T) {
	store, err := NewStore(storePath(t), nil)
	require.NoError(t, err)

	bad := domain.Strategy{CodeName: "bad", Version: "1.0", RiskLevel: domain.RiskLow}
	require.Error(t, store.Save(bad))

	fresh := domain.Strategy{CodeName: "ABCDEF", Version: "1.0", RiskLevel: domain.RiskLow}
	require.NoError(t, store.Save(fresh))
	got, ok := store.Get("ABCDEF")
	require.True(t, ok)
	require.Equal(t, "1.0", got.Version)

	fresh.Version = "1.2"
	fresh.Description = "updated"
	require.NoError(t, store.Save(fresh))
	got, _ = store.Get("ABCDEF")
	require.Equal(t, "1.2", got.Version)
	require.Equal(t, "updated", got.Description)
}

func TestStoreRejectsVersionRollback(t *testing.T) {
	store, err := NewStore(storePath(t), nil)
	require.NoError(t, err)

	st := domain.Strategy{CodeName: "ABCDEF", Version: "2.3", RiskLevel: domain.RiskMiddle}
	require.NoError(t, store.Save(st))

	st.Version = "2.1"
	require.Error(t, store.Save(st))

	// equal version is allowed
	st.Version = "2.3"
	require.NoError(t, store.Save(st))
}

func TestStoreRemove(t *testing.T) {
	store, err := NewStore(storePath(t), nil)
	require.NoError(t, err)

	require.NoError(t, store.Remove("SLSLDS"))
	require.Empty(t, store.List())
	require.Error(t, store.Remove("SLSLDS"))
}
