package model

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/Laisky/errors/v2"
	"github.com/Laisky/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/dfft546/gproxy/common"
	"github.com/dfft546/gproxy/common/config"
	"github.com/dfft546/gproxy/common/logger"
	"github.com/dfft546/gproxy/common/random"
)

var DB *gorm.DB

func chooseDB(dsn string) (*gorm.DB, error) {
	switch {
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return openPostgreSQL(dsn)
	case dsn != "":
		return openMySQL(dsn)
	default:
		return openSQLite()
	}
}

func openPostgreSQL(dsn string) (*gorm.DB, error) {
	logger.Logger.Info("using PostgreSQL as database")
	common.UsingPostgreSQL.Store(true)
	return gorm.Open(postgres.New(postgres.Config{
		DSN:                  dsn,
		PreferSimpleProtocol: true, // disables implicit prepared statement usage
	}), &gorm.Config{
		PrepareStmt: true,
	})
}

func openMySQL(dsn string) (*gorm.DB, error) {
	logger.Logger.Info("using MySQL as database")
	common.UsingMySQL.Store(true)
	normalized, err := common.NormalizeMySQLDSN(dsn)
	if err != nil {
		return nil, errors.Wrap(err, "normalize MySQL DSN")
	}
	return gorm.Open(mysql.Open(normalized), &gorm.Config{
		PrepareStmt: true,
	})
}

func openSQLite() (*gorm.DB, error) {
	logger.Logger.Info("SQL_DSN not set, using SQLite as database")
	common.UsingSQLite.Store(true)
	dsn := fmt.Sprintf("%s?_busy_timeout=%d", common.SQLitePath, common.SQLiteBusyTimeout)
	return gorm.Open(sqlite.Open(dsn), &gorm.Config{
		PrepareStmt: true,
	})
}

func InitDB() {
	var err error
	DB, err = chooseDB(config.DSN)
	if err != nil {
		logger.Logger.Fatal("failed to initialize database", zap.Error(err))
		return
	}

	sqlDB, err := DB.DB()
	if err != nil {
		logger.Logger.Fatal("failed to get sql.DB", zap.Error(err))
		return
	}
	setDBConns(sqlDB)

	if err = migrateDB(); err != nil {
		logger.Logger.Fatal("failed to migrate database", zap.Error(err))
		return
	}
	logger.Logger.Info("database migrated")
}

func migrateDB() error {
	return DB.AutoMigrate(
		&Provider{},
		&Credential{},
		&CredentialDisallow{},
		&User{},
		&ApiKey{},
		&GlobalConfig{},
		&DownstreamTraffic{},
		&UpstreamTraffic{},
		&UpstreamUsage{},
	)
}

func setDBConns(sqlDB *sql.DB) {
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)
}

func CloseDB() error {
	sqlDB, err := DB.DB()
	if err != nil {
		return errors.Wrap(err, "get sql.DB")
	}
	return errors.Wrap(sqlDB.Close(), "close database")
}

// CreateRootAccountIfNeed bootstraps the admin plane on an empty database:
// a root user plus a generated admin key printed once to the log.
func CreateRootAccountIfNeed() error {
	var user User
	if err := DB.First(&user).Error; err == nil {
		return nil
	}

	hashedPassword, err := common.Password2Hash("123456")
	if err != nil {
		return errors.WithStack(err)
	}
	rootUser := User{
		Username:    "root",
		Password:    hashedPassword,
		DisplayName: "Root User",
		Role:        RoleRoot,
		Status:      UserStatusEnabled,
	}
	if err := DB.Create(&rootUser).Error; err != nil {
		return errors.Wrap(err, "create root user")
	}
	logger.Logger.Info("no user exists, created root user: username is root, password is 123456")

	adminKey := config.InitialAdminKey
	if adminKey == "" {
		adminKey = random.GenerateKey()
		logger.Logger.Info("generated admin key", zap.String("admin_key", adminKey))
	}
	cfg := config.GetRuntime()
	cfg.AdminKey = adminKey
	if err := SaveGlobalConfig(cfg); err != nil {
		return errors.Wrap(err, "save initial global config")
	}
	return nil
}
