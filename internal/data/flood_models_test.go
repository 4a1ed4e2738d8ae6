package data_test

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/technosupport/ts-vms/internal/data"
	"github.com/technosupport/ts-vms/internal/flood"
)

func TestFloodModelCreateSession(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("INSERT INTO flood_session").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(42)))

	m := data.FloodModel{DB: db}
	id, err := m.CreateSession(context.Background(), "cam-1", "Main St", "Downtown", "video", "/videos/a.mp4", flood.DefaultParams())

	require.NoError(t, err)
	assert.Equal(t, int64(42), id)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFloodModelSaveTick(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("INSERT INTO flood_tick").WillReturnResult(sqlmock.NewResult(1, 1))

	m := data.FloodModel{DB: db}
	err = m.SaveTick(context.Background(), 42, flood.TickResult{
		TickIdx: 3, TSMs: 1500, Pct: 12.4, Level: 2,
		Water: flood.WaterResult{ImageW: 640, ImageH: 360},
	})

	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFloodModelFinishSession(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("UPDATE flood_session SET status").WillReturnResult(sqlmock.NewResult(0, 1))

	m := data.FloodModel{DB: db}
	err = m.FinishSession(context.Background(), 42, flood.StatusDone)

	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFloodModelDeleteSessionNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("DELETE FROM flood_tick").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("DELETE FROM flood_session").WillReturnResult(sqlmock.NewResult(0, 0))

	m := data.FloodModel{DB: db}
	err = m.DeleteSession(context.Background(), 999)

	assert.ErrorIs(t, err, data.ErrRecordNotFound)
}
