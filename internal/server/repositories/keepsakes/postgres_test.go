package keepsakes

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/keepsake/internal/common"
	"github.com/dmitrijs2005/keepsake/internal/cryptox"
	"github.com/dmitrijs2005/keepsake/internal/server/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2031, 5, 4, 10, 0, 0, 0, time.UTC)

func newRepoWithMock(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		_ = db.Close()
	})
	return NewPostgresRepository(db), mock
}

var columns = []string{
	"id", "vault_id", "type", "title", "ciphertext", "nonce", "trigger_condition",
	"reveal_delay_days", "reveal_date", "scheduled_at", "media_key", "status",
	"created_at", "updated_at", "deleted_at",
}

func sampleKeepsake() *models.Keepsake {
	return &models.Keepsake{
		ID:        "k1",
		VaultID:   "v1",
		Type:      models.KeepsakeLetter,
		Title:     "Letter",
		Content:   cryptox.EncryptedContent{Ciphertext: "Y2lwaGVy", Nonce: "bm9uY2U="},
		Trigger:   models.TriggerOnDeath,
		Status:    models.KeepsakeScheduled,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestSave(t *testing.T) {
	k := sampleKeepsake()
	q := `INSERT INTO keepsakes .* ON CONFLICT \(id\) DO UPDATE SET .* WHERE keepsakes\.status <> 'delivered';`
	args := []driver.Value{"k1", "v1", "letter", "Letter", "Y2lwaGVy", "bm9uY2U=", "on_death", nil, nil, nil, nil, "scheduled", now, now, nil}

	t.Run("ok", func(t *testing.T) {
		repo, mock := newRepoWithMock(t)
		mock.ExpectExec(q).WithArgs(args...).WillReturnResult(sqlmock.NewResult(0, 1))
		require.NoError(t, repo.Save(context.Background(), k))
	})

	t.Run("delivered row is not overwritten", func(t *testing.T) {
		repo, mock := newRepoWithMock(t)
		mock.ExpectExec(q).WithArgs(args...).WillReturnResult(sqlmock.NewResult(0, 0))
		assert.ErrorIs(t, repo.Save(context.Background(), k), common.ErrVersionConflict)
	})

	t.Run("db error", func(t *testing.T) {
		repo, mock := newRepoWithMock(t)
		mock.ExpectExec(q).WillReturnError(errors.New("db is down"))
		err := repo.Save(context.Background(), k)
		assert.ErrorContains(t, err, "db error: db is down")
	})
}

func TestFindByID(t *testing.T) {
	q := `SELECT id, vault_id, .* FROM keepsakes WHERE id = \$1 AND deleted_at IS NULL`

	t.Run("found with optional fields", func(t *testing.T) {
		repo, mock := newRepoWithMock(t)
		reveal := now.AddDate(0, 1, 0)
		mock.ExpectQuery(q).WithArgs("k1").WillReturnRows(sqlmock.NewRows(columns).AddRow(
			"k1", "v1", "photo", "Beach", "c", "n", "on_date",
			int64(3), reveal, nil, "media/k1", "scheduled", now, now, nil,
		))

		k, err := repo.FindByID(context.Background(), "k1")
		require.NoError(t, err)
		assert.Equal(t, models.KeepsakePhoto, k.Type)
		assert.Equal(t, models.TriggerOnDate, k.Trigger)
		require.NotNil(t, k.RevealDelayDays)
		assert.Equal(t, 3, *k.RevealDelayDays)
		require.NotNil(t, k.RevealDate)
		assert.True(t, reveal.Equal(*k.RevealDate))
		assert.Nil(t, k.ScheduledAt)
		require.NotNil(t, k.MediaKey)
		assert.Equal(t, "media/k1", *k.MediaKey)
		assert.Nil(t, k.DeletedAt)
	})

	t.Run("not found", func(t *testing.T) {
		repo, mock := newRepoWithMock(t)
		mock.ExpectQuery(q).WithArgs("nope").WillReturnError(sql.ErrNoRows)
		_, err := repo.FindByID(context.Background(), "nope")
		assert.ErrorIs(t, err, common.ErrorNotFound)
	})
}

func TestFindScheduledByTrigger(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	q := `FROM keepsakes WHERE vault_id = \$1 AND trigger_condition = \$2 AND status = 'scheduled'`

	mock.ExpectQuery(q).WithArgs("v1", "on_death").WillReturnRows(sqlmock.NewRows(columns).
		AddRow("k1", "v1", "letter", "a", "c", "n", "on_death", nil, nil, nil, nil, "scheduled", now, now, nil).
		AddRow("k2", "v1", "wish", "b", "c", "n", "on_death", nil, nil, nil, nil, "scheduled", now, now, nil))

	ks, err := repo.FindScheduledByTrigger(context.Background(), "v1", models.TriggerOnDeath)
	require.NoError(t, err)
	require.Len(t, ks, 2)
	assert.Equal(t, "k1", ks[0].ID)
	assert.Equal(t, "k2", ks[1].ID)
}

func TestFindDueOnDate(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	q := `trigger_condition = 'on_date' AND status = 'scheduled' .* COALESCE\(scheduled_at, reveal_date\) \+ make_interval\(days => COALESCE\(reveal_delay_days, 0\)\) <= \$1`

	mock.ExpectQuery(q).WithArgs(now).WillReturnRows(sqlmock.NewRows(columns))

	ks, err := repo.FindDueOnDate(context.Background(), now)
	require.NoError(t, err)
	assert.Empty(t, ks)
}

func TestFindDeliveredByVault_QueryError(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	mock.ExpectQuery(`status = 'delivered'`).WithArgs("v1").WillReturnError(errors.New("timeout"))

	_, err := repo.FindDeliveredByVault(context.Background(), "v1")
	assert.ErrorContains(t, err, "db error: timeout")
}

func TestListByVault_ScanError(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	mock.ExpectQuery(`WHERE vault_id = \$1 AND deleted_at IS NULL ORDER BY created_at`).WithArgs("v1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("k1"))

	_, err := repo.ListByVault(context.Background(), "v1")
	assert.Error(t, err)
}

func TestMarkDelivered(t *testing.T) {
	q := `UPDATE keepsakes SET status = 'delivered', updated_at = \$2 WHERE id = \$1 AND status = 'scheduled'`

	t.Run("wins", func(t *testing.T) {
		repo, mock := newRepoWithMock(t)
		mock.ExpectExec(q).WithArgs("k1", now).WillReturnResult(sqlmock.NewResult(0, 1))
		require.NoError(t, repo.MarkDelivered(context.Background(), "k1", now))
	})

	t.Run("already delivered", func(t *testing.T) {
		repo, mock := newRepoWithMock(t)
		mock.ExpectExec(q).WithArgs("k1", now).WillReturnResult(sqlmock.NewResult(0, 0))
		assert.ErrorIs(t, repo.MarkDelivered(context.Background(), "k1", now), common.ErrVersionConflict)
	})

	t.Run("rows affected error", func(t *testing.T) {
		repo, mock := newRepoWithMock(t)
		mock.ExpectExec(q).WithArgs("k1", now).WillReturnResult(sqlmock.NewErrorResult(errors.New("rows-err")))
		assert.ErrorContains(t, repo.MarkDelivered(context.Background(), "k1", now), "rows affected error")
	})
}

func TestFindVaultsAwaitingDeathDelivery(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	mock.ExpectQuery(`SELECT DISTINCT k\.vault_id FROM keepsakes k JOIN vaults v ON v\.id = k\.vault_id WHERE v\.status = 'unsealed' AND k\.trigger_condition = 'on_death' AND k\.status = 'scheduled'`).
		WillReturnRows(sqlmock.NewRows([]string{"vault_id"}).AddRow("v1").AddRow("v2"))

	ids, err := repo.FindVaultsAwaitingDeathDelivery(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"v1", "v2"}, ids)
}

func TestFindUnnotifiedDeliveries(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	mock.ExpectQuery(`WHERE status = 'delivered' AND notified_at IS NULL AND deleted_at IS NULL AND updated_at <= \$1 ORDER BY updated_at LIMIT \$2`).
		WithArgs(now, 100).
		WillReturnRows(sqlmock.NewRows(columns).
			AddRow("k1", "v1", "letter", "a", "c", "n", "on_death", nil, nil, nil, nil, "delivered", now, now, nil))

	ks, err := repo.FindUnnotifiedDeliveries(context.Background(), now, 100)
	require.NoError(t, err)
	require.Len(t, ks, 1)
	assert.Equal(t, models.KeepsakeDelivered, ks[0].Status)
}

func TestMarkNotified(t *testing.T) {
	q := `UPDATE keepsakes SET notified_at = \$2 WHERE id = \$1 AND notified_at IS NULL`

	t.Run("stamps", func(t *testing.T) {
		repo, mock := newRepoWithMock(t)
		mock.ExpectExec(q).WithArgs("k1", now).WillReturnResult(sqlmock.NewResult(0, 1))
		require.NoError(t, repo.MarkNotified(context.Background(), "k1", now))
	})

	t.Run("already stamped", func(t *testing.T) {
		repo, mock := newRepoWithMock(t)
		mock.ExpectExec(q).WithArgs("k1", now).WillReturnResult(sqlmock.NewResult(0, 0))
		require.NoError(t, repo.MarkNotified(context.Background(), "k1", now))
	})
}
