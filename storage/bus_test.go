package storage

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/dfft546/gproxy/common/config"
	"github.com/dfft546/gproxy/model"
)

func mockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	db, err := gorm.Open(mysql.New(mysql.Config{
		Conn:                      sqlDB,
		SkipInitializeWithVersion: true,
	}), &gorm.Config{})
	require.NoError(t, err)
	return db, mock
}

func TestBusBatchesTrafficRows(t *testing.T) {
	db, mock := mockDB(t)
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO `downstream_traffic`").
		WillReturnResult(sqlmock.NewResult(1, 2))
	mock.ExpectCommit()

	bus := NewBus(db)
	bus.Start()

	bus.RecordDownstream(&model.DownstreamTraffic{TraceId: "a", Operation: "claude.messages"})
	bus.RecordDownstream(&model.DownstreamTraffic{TraceId: "b", Operation: "claude.messages"})

	// both rows land in one batch on the next flush tick
	time.Sleep(config.BusFlushInterval + 150*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	bus.Shutdown(ctx)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBusFlushesOnShutdown(t *testing.T) {
	db, mock := mockDB(t)
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO `upstream_usages`").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	bus := NewBus(db)
	bus.Start()
	bus.RecordUsage(&model.UpstreamUsage{TraceId: "u", Model: "claude-sonnet-4-5", InputTokens: 3})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	bus.Shutdown(ctx)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBusRetriesOnWriteFailure(t *testing.T) {
	db, mock := mockDB(t)
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO `upstream_traffic`").
		WillReturnError(assert.AnError)
	mock.ExpectRollback()
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO `upstream_traffic`").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	bus := NewBus(db)
	bus.Start()
	bus.RecordUpstream(&model.UpstreamTraffic{TraceId: "r"})

	time.Sleep(config.BusFlushInterval + config.BusRetryBackoff + 200*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	bus.Shutdown(ctx)

	assert.NoError(t, mock.ExpectationsWereMet())
}
