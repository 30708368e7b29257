package pinned

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func quietLogger() logrus.FieldLogger {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return log
}

func TestPinLookupUnpin(t *testing.T) {
	r, err := NewRegistry("", quietLogger())
	require.NoError(t, err)

	require.NoError(t, r.Pin("QmCidA", "/pins/a.bin"))
	require.NoError(t, r.Pin("QmCidB", "/pins/b.bin"))
	require.Equal(t, 2, r.Count())

	path, ok := r.Lookup("QmCidA")
	require.True(t, ok)
	require.Equal(t, "/pins/a.bin", path)

	// 重复 Pin 覆盖路径
	require.NoError(t, r.Pin("QmCidA", "/pins/a2.bin"))
	path, _ = r.Lookup("QmCidA")
	require.Equal(t, "/pins/a2.bin", path)

	require.NoError(t, r.Unpin("QmCidA"))
	_, ok = r.Lookup("QmCidA")
	require.False(t, ok)

	// 不存在的 CID 空操作
	require.NoError(t, r.Unpin("QmMissing"))
}

func TestPinRejectsEmptyFields(t *testing.T) {
	r, err := NewRegistry("", quietLogger())
	require.NoError(t, err)

	require.Error(t, r.Pin("", "/pins/a.bin"))
	require.Error(t, r.Pin("QmCidA", " "))
}

func TestListSorted(t *testing.T) {
	r, err := NewRegistry("", quietLogger())
	require.NoError(t, err)

	require.NoError(t, r.Pin("QmZ", "/z"))
	require.NoError(t, r.Pin("QmA", "/a"))
	require.Equal(t, []string{"QmA", "QmZ"}, r.List())
}

func TestPickRandom(t *testing.T) {
	r, err := NewRegistry("", quietLogger())
	require.NoError(t, err)
	require.NoError(t, r.Pin("QmA", "/a"))
	require.NoError(t, r.Pin("QmB", "/b"))
	require.NoError(t, r.Pin("QmC", "/c"))

	picked, err := r.PickRandom(2)
	require.NoError(t, err)
	require.Len(t, picked, 2)
	require.Subset(t, r.List(), picked)

	_, err = r.PickRandom(4)
	require.Error(t, err)
}

func TestPersistenceRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pins.txt")

	r, err := NewRegistry(path, quietLogger())
	require.NoError(t, err)
	require.NoError(t, r.Pin("QmCidA", "/pins/a.bin"))
	require.NoError(t, r.Pin("QmCidB", "/pins/b.bin"))
	require.NoError(t, r.Unpin("QmCidB"))

	reloaded, err := NewRegistry(path, quietLogger())
	require.NoError(t, err)
	require.Equal(t, []string{"QmCidA"}, reloaded.List())
	p, ok := reloaded.Lookup("QmCidA")
	require.True(t, ok)
	require.Equal(t, "/pins/a.bin", p)
}

func TestLoadMalformedPinList(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pins.txt")
	require.NoError(t, os.WriteFile(path, []byte("only-one-field\n"), 0644))

	_, err := NewRegistry(path, quietLogger())
	require.Error(t, err)
}
