package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	gmw "github.com/Laisky/gin-middlewares/v6"
	glog "github.com/Laisky/go-utils/v5/log"
	"github.com/Laisky/zap"
	"github.com/gin-gonic/gin"
	_ "github.com/joho/godotenv/autoload"

	"github.com/dfft546/gproxy/common"
	"github.com/dfft546/gproxy/common/config"
	"github.com/dfft546/gproxy/common/logger"
	"github.com/dfft546/gproxy/model"
	rcontroller "github.com/dfft546/gproxy/relay/controller"
	"github.com/dfft546/gproxy/relay/provider"
	"github.com/dfft546/gproxy/router"
	"github.com/dfft546/gproxy/storage"
)

var version = "dev"

func main() {
	common.Init()
	logger.Logger.Info("gproxy started", zap.String("version", version))

	if os.Getenv("GIN_MODE") != gin.DebugMode {
		gin.SetMode(gin.ReleaseMode)
	}

	model.InitDB()
	defer func() {
		if err := model.CloseDB(); err != nil {
			logger.Logger.Error("failed to close database", zap.Error(err))
		}
	}()

	if err := model.LoadGlobalConfig(); err != nil {
		logger.Logger.Fatal("failed to load global config", zap.Error(err))
	}
	if err := model.CreateRootAccountIfNeed(); err != nil {
		logger.Logger.Fatal("database init error", zap.Error(err))
	}
	if err := common.InitRedisClient(); err != nil {
		logger.Logger.Fatal("failed to initialize redis", zap.Error(err))
	}

	bus := storage.NewBus(model.DB)
	bus.Start()
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		bus.Shutdown(ctx)
	}()

	registry := provider.NewRegistry(bus, nil)
	rcontroller.Setup(registry, bus)

	logLevel := glog.LevelInfo
	if config.DebugEnabled {
		logLevel = glog.LevelDebug
	}

	server := gin.New()
	server.RedirectTrailingSlash = false
	server.Use(
		gin.Recovery(),
		gmw.NewLoggerMiddleware(
			gmw.WithLoggerMwColored(),
			gmw.WithLevel(logLevel.String()),
			gmw.WithLogger(logger.Logger.Named("gin")),
		),
	)
	router.SetRouter(server)

	rt := config.GetRuntime()
	port := rt.Port
	if *common.Port != 0 {
		port = *common.Port
	}
	addr := fmt.Sprintf("%s:%d", rt.Host, port)
	logger.Logger.Info("listening", zap.String("addr", addr))
	if err := server.Run(addr); err != nil && err != http.ErrServerClosed {
		logger.Logger.Fatal("failed to start HTTP server", zap.Error(err))
	}
}
