package components

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"CREDIT-backend/internal/component_mgmt/location"
)

func newTestService(t *testing.T) (*Service, sqlmock.Sqlmock) {
	t.Helper()
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return NewService(conn, zap.NewNop()), mock
}

var componentCols = []string{
	"id", "name", "category", "quantity", "remarks",
	"storage_type", "cabinet_number", "shelf_number", "container_id",
	"drawer_index", "storage_box_index", "location_type", "location_index",
	"is_deleted", "deleted_reason", "deleted_at", "created_at", "updated_at",
}

func addComponentRow(rows *sqlmock.Rows, id int64, name string, qty int, deleted bool) *sqlmock.Rows {
	ts := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	return rows.AddRow(
		id, name, "passive", qty, nil,
		"DRAWER", nil, nil, nil,
		3, nil, "NONE", nil,
		deleted, nil, nil, ts, ts,
	)
}

func TestAvailableIsComputed(t *testing.T) {
	svc, mock := newTestService(t)

	mock.ExpectQuery(regexp.QuoteMeta(`FROM components WHERE id = ?`)).
		WithArgs(int64(1)).
		WillReturnRows(addComponentRow(sqlmock.NewRows(componentCols), 1, "Resistor", 10, false))
	mock.ExpectQuery(`SELECT COALESCE\(SUM`).
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"sum"}).AddRow(7))

	got, err := svc.Available(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 3, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateQuantityBelowOutstandingRejected(t *testing.T) {
	svc, mock := newTestService(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`FOR UPDATE`)).
		WithArgs(int64(1)).
		WillReturnRows(addComponentRow(sqlmock.NewRows(componentCols), 1, "Resistor", 10, false))
	mock.ExpectQuery(`SELECT COALESCE\(SUM`).
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"sum"}).AddRow(8))
	mock.ExpectRollback()

	five := 5
	_, err := svc.Update(context.Background(), 1, UpdateComponentRequest{Quantity: &five})

	var api *APIError
	require.ErrorAs(t, err, &api)
	assert.Equal(t, CodeConflict, api.Code)
	assert.Equal(t, "quantity 5 is less than outstanding borrowed 8", api.Message)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateLocationBlockedWhileBorrowed(t *testing.T) {
	svc, mock := newTestService(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`FOR UPDATE`)).
		WithArgs(int64(1)).
		WillReturnRows(addComponentRow(sqlmock.NewRows(componentCols), 1, "Resistor", 10, false))
	mock.ExpectQuery(`SELECT COALESCE\(SUM`).
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"sum"}).AddRow(2))
	mock.ExpectRollback()

	idx := 5
	spec := location.Spec{StorageType: location.StorageDrawer, DrawerIndex: &idx}
	_, err := svc.Update(context.Background(), 1, UpdateComponentRequest{Location: &spec})

	var api *APIError
	require.ErrorAs(t, err, &api)
	assert.Equal(t, CodeConflict, api.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateLocationAllowedWhenNothingOutstanding(t *testing.T) {
	svc, mock := newTestService(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`FOR UPDATE`)).
		WithArgs(int64(1)).
		WillReturnRows(addComponentRow(sqlmock.NewRows(componentCols), 1, "Resistor", 10, false))
	mock.ExpectQuery(`SELECT COALESCE\(SUM`).
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"sum"}).AddRow(0))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE components SET`)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	// 更新後の再読込
	mock.ExpectQuery(regexp.QuoteMeta(`FROM components WHERE id = ?`)).
		WithArgs(int64(1)).
		WillReturnRows(addComponentRow(sqlmock.NewRows(componentCols), 1, "Resistor", 10, false))
	mock.ExpectQuery(`SELECT COALESCE\(SUM`).
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"sum"}).AddRow(0))

	idx := 5
	spec := location.Spec{StorageType: location.StorageDrawer, DrawerIndex: &idx}
	_, err := svc.Update(context.Background(), 1, UpdateComponentRequest{Location: &spec})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteBlockedWhileBorrowed(t *testing.T) {
	svc, mock := newTestService(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`FOR UPDATE`)).
		WithArgs(int64(1)).
		WillReturnRows(addComponentRow(sqlmock.NewRows(componentCols), 1, "Resistor", 10, false))
	mock.ExpectQuery(`SELECT COALESCE\(SUM`).
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"sum"}).AddRow(1))
	mock.ExpectRollback()

	err := svc.Delete(context.Background(), 1, "broken")

	var api *APIError
	require.ErrorAs(t, err, &api)
	assert.Equal(t, CodeConflict, api.Code)
	assert.Equal(t, "component is currently borrowed", api.Message)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateRejectsInvalidLocation(t *testing.T) {
	svc, mock := newTestService(t)

	idx := 2
	spec := location.Spec{
		StorageType:   location.StorageBox,
		LocationType:  location.SubBox,
		LocationIndex: &idx,
	}
	_, err := svc.Create(context.Background(), CreateComponentRequest{
		Name: "Sensor", Category: "module", Quantity: 1, Location: spec,
	})

	var api *APIError
	require.ErrorAs(t, err, &api)
	assert.Equal(t, CodeInvalidArgument, api.Code)
	assert.Contains(t, api.Violations, "STORAGE_BOX cannot have BOX or PARTITION location_type")
	assert.NoError(t, mock.ExpectationsWereMet())
}
