package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	logx "alarmd/pkg/logx"
)

func openTestStore(t *testing.T, driver string) (Store, Config) {
	t.Helper()
	cfg := Config{Driver: driver, Path: filepath.Join(t.TempDir(), "alarmd.db")}
	st, err := Open(cfg, logx.Nop())
	require.NoError(t, err)
	require.NotNil(t, st)
	return st, cfg
}

var drivers = []string{"file", "sqlite", "bolt"}

func TestOpenDisabled(t *testing.T) {
	t.Parallel()
	for _, d := range []string{"", "none", " NONE "} {
		st, err := Open(Config{Driver: d}, logx.Nop())
		require.NoError(t, err)
		require.Nil(t, st)
	}
	_, err := Open(Config{Driver: "etcd", Path: "x"}, logx.Nop())
	require.Error(t, err)
	_, err = Open(Config{Driver: "file"}, logx.Nop())
	require.Error(t, err)
}

func TestRegistrationCRUD(t *testing.T) {
	t.Parallel()
	for _, driver := range drivers {
		driver := driver
		t.Run(driver, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			st, _ := openTestStore(t, driver)
			defer st.Close()

			fireAt := time.Date(2025, time.June, 2, 7, 15, 0, 0, time.UTC)
			r := Registration{
				Slot:    1012,
				Mode:    "oneshot",
				FireAt:  fireAt,
				Payload: []byte(`{"type":"OneTimeAlarm","message":"x"}`),
				Token:   "tok-1",
			}
			require.NoError(t, st.PutRegistration(ctx, r))

			got, ok, err := st.GetRegistration(ctx, 1012)
			require.NoError(t, err)
			require.True(t, ok)
			require.True(t, got.FireAt.Equal(fireAt))
			require.Equal(t, "oneshot", got.Mode)
			require.Equal(t, r.Payload, got.Payload)
			require.False(t, got.CreatedAt.IsZero())

			// Put on the same slot replaces.
			r.Token = "tok-2"
			r.Payload = []byte(`{"type":"OneTimeAlarm","message":"y"}`)
			require.NoError(t, st.PutRegistration(ctx, r))
			require.NoError(t, st.PutRegistration(ctx, Registration{
				Slot: 1013, Mode: "repeating", FireAt: fireAt, Interval: 24 * time.Hour,
				Payload: []byte(`{}`), Token: "tok-3",
			}))

			list, err := st.ListRegistrations(ctx)
			require.NoError(t, err)
			require.Len(t, list, 2)
			require.Equal(t, 1012, list[0].Slot)
			require.Equal(t, "tok-2", list[0].Token)
			require.Equal(t, 24*time.Hour, list[1].Interval)

			require.NoError(t, st.DeleteRegistration(ctx, 1012))
			require.NoError(t, st.DeleteRegistration(ctx, 4242))
			_, ok, err = st.GetRegistration(ctx, 1012)
			require.NoError(t, err)
			require.False(t, ok)
		})
	}
}

func TestRegistrationsSurviveReopen(t *testing.T) {
	t.Parallel()
	for _, driver := range drivers {
		driver := driver
		t.Run(driver, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			st, cfg := openTestStore(t, driver)

			fireAt := time.Date(2025, time.June, 2, 7, 15, 0, 0, time.UTC)
			require.NoError(t, st.PutRegistration(ctx, Registration{Slot: 1012, Mode: "oneshot", FireAt: fireAt, Payload: []byte("a"), Token: "a"}))
			require.NoError(t, st.PutRegistration(ctx, Registration{Slot: 1013, Mode: "repeating", FireAt: fireAt, Interval: time.Hour, Payload: []byte("b"), Token: "b"}))
			require.NoError(t, st.DeleteRegistration(ctx, 1012))
			require.NoError(t, st.AppendAudit(ctx, AuditEntry{Action: "alarm.scheduled", Kind: "RepeatingAlarm", Slot: 1013, OK: true}))
			require.NoError(t, st.Close())

			st2, err := Open(cfg, logx.Nop())
			require.NoError(t, err)
			defer st2.Close()

			list, err := st2.ListRegistrations(ctx)
			require.NoError(t, err)
			require.Len(t, list, 1)
			require.Equal(t, 1013, list[0].Slot)
			require.Equal(t, []byte("b"), list[0].Payload)
			require.Equal(t, time.Hour, list[0].Interval)
		})
	}
}

func TestFileStoreCompactsJournal(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st, cfg := openTestStore(t, "file")

	for i := 0; i < fileCompactEvery*2+3; i++ {
		require.NoError(t, st.PutRegistration(ctx, Registration{Slot: 1013, Mode: "repeating", Token: "t", Payload: []byte{byte(i)}}))
	}
	require.NoError(t, st.Close())

	st2, err := Open(cfg, logx.Nop())
	require.NoError(t, err)
	defer st2.Close()
	got, ok, err := st2.GetRegistration(ctx, 1013)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte{byte(fileCompactEvery*2 + 2)}, got.Payload)
}
