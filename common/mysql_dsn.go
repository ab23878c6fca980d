package common

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/Laisky/errors/v2"
	gosqlmysql "github.com/go-sql-driver/mysql"
)

// NormalizeMySQLDSN accepts both mysql:// URLs and native go-sql-driver DSNs,
// forces parseTime=true, and defaults the location to UTC so timestamp columns
// scan consistently across database backends.
func NormalizeMySQLDSN(dsn string) (string, error) {
	if strings.HasPrefix(strings.ToLower(dsn), "mysql://") {
		parsed, err := url.Parse(dsn)
		if err != nil {
			return "", errors.Wrap(err, "parse mysql:// DSN")
		}
		if parsed.Host == "" {
			return "", errors.New("mysql DSN missing host")
		}
		userInfo := ""
		if parsed.User != nil {
			userInfo = parsed.User.Username()
			if pwd, ok := parsed.User.Password(); ok {
				userInfo += ":" + pwd
			}
		}
		dsn = ""
		if userInfo != "" {
			dsn = userInfo + "@"
		}
		dsn += fmt.Sprintf("tcp(%s)/%s", parsed.Host, strings.TrimPrefix(parsed.Path, "/"))
		if parsed.RawQuery != "" {
			dsn += "?" + parsed.RawQuery
		}
	}

	cfg, err := gosqlmysql.ParseDSN(dsn)
	if err != nil {
		return "", errors.Wrap(err, "parse MySQL DSN")
	}
	cfg.ParseTime = true
	if !strings.Contains(dsn, "loc=") {
		cfg.Loc = time.UTC
	}
	return cfg.FormatDSN(), nil
}
