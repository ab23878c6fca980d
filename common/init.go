package common

import (
	"flag"

	"github.com/dfft546/gproxy/common/config"
)

var (
	Port         = flag.Int("port", 0, "override the listening port from global config")
	PrintVersion = flag.Bool("version", false, "print version and exit")
)

func Init() {
	flag.Parse()

	SQLitePath = config.SQLitePath
}
