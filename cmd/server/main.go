package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/music-jam-system/internal/analytics"
	"github.com/music-jam-system/internal/catalog"
	"github.com/music-jam-system/internal/config"
	"github.com/music-jam-system/internal/jam"
	"github.com/music-jam-system/internal/logging"
	"github.com/music-jam-system/internal/middleware"
	"github.com/music-jam-system/internal/room"
	"github.com/music-jam-system/internal/ws"
	"github.com/music-jam-system/pkg/database"
	"github.com/music-jam-system/pkg/events"
	"github.com/music-jam-system/pkg/redis"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("failed to load configuration")
	}

	log := logging.New(cfg.LogLevel, cfg.Env)
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Song catalog
	songs, err := catalog.Open(cfg.CatalogPath, log)
	if err != nil {
		log.WithError(err).Fatal("failed to open catalog")
	}
	defer songs.Close()
	go songs.Watch(ctx)

	// Event sinks: Kafka and the play archive are both optional
	var sinks events.Multi
	if cfg.Kafka.Enabled() {
		kafkaPublisher := events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic, log)
		defer kafkaPublisher.Close()
		sinks = append(sinks, kafkaPublisher)
		log.WithField("topic", cfg.Kafka.Topic).Info("publishing session events to kafka")
	}

	var archive *database.Archive
	if cfg.Database.Driver != "" {
		archive, err = database.Open(cfg.Database.Driver, cfg.Database.DSN(), logging.NewGorm(log), log)
		if err != nil {
			log.WithError(err).Fatal("failed to open archive database")
		}
		defer archive.Close()
		sinks = append(sinks, archive)
		log.WithField("driver", cfg.Database.Driver).Info("archiving played tracks")
	}

	var publisher events.Publisher = events.Nop{}
	if len(sinks) > 0 {
		publisher = sinks
	}

	// Rate limiting, shared through Redis when configured
	var limiter middleware.Limiter
	if cfg.Redis.Enabled() {
		client, err := redis.NewClient(ctx, redis.Config{
			Host:     cfg.Redis.Host,
			Port:     cfg.Redis.Port,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			log.WithError(err).Fatal("failed to connect to redis")
		}
		defer client.Close()
		limiter = redis.NewLimiter(client, cfg.RateLimit.Max, cfg.RateLimit.Window)
	} else {
		mem := middleware.NewMemoryLimiter(cfg.RateLimit.Max, cfg.RateLimit.Window, clock.New())
		go mem.Run(ctx, cfg.RateLimit.Window)
		limiter = mem
	}

	// Sessions
	settings := jam.DefaultSettings()
	settings.MaxQueueSize = cfg.Jam.MaxQueueSize

	var (
		wsHandler   *ws.Handler
		roomService *room.Service
	)
	storeCfg := jam.DefaultStoreConfig()
	storeCfg.EmptyGrace = cfg.Jam.EmptyGrace
	storeCfg.SweepInterval = cfg.Jam.SweepInterval
	storeCfg.StaleAfter = cfg.Jam.StaleAfter
	storeCfg.ActiveWindow = cfg.Jam.ActiveWindow
	storeCfg.Settings = settings
	storeCfg.Logger = log
	storeCfg.OnDelete = func(sess *jam.Session) {
		wsHandler.Forget(sess.Code())
		roomService.SessionClosed(sess)
	}
	store := jam.NewStore(storeCfg)
	defer store.Shutdown()

	roomService = room.NewService(store, publisher, log)
	wsHandler = ws.NewHandler(store, songs, publisher, log, ws.Options{AllowedOrigins: cfg.AllowedOrigins})
	go store.Run(ctx)

	roomHandler := room.NewHandler(roomService)
	catalogHandler := catalog.NewHandler(songs, cfg.PlaylistsPath, log)

	router := gin.New()
	router.Use(gin.Recovery(), logging.Middleware(log))
	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept"},
		ExposeHeaders:    []string{"Content-Length", "X-RateLimit-Limit", "X-RateLimit-Remaining"},
		AllowCredentials: true,
	}))

	started := time.Now()
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
			"uptime": time.Since(started).Seconds(),
		})
	})

	api := router.Group("/api")
	api.Use(middleware.RateLimit(limiter, log), middleware.BodyLimit(cfg.Jam.BodyLimit))
	{
		roomHandler.RegisterRoutes(api)
		catalogHandler.RegisterRoutes(api)
		if archive != nil {
			analytics.NewHandler(archive, log).RegisterRoutes(api)
		}
	}

	wsHandler.RegisterRoutes(router)
	catalog.RegisterMedia(router, cfg.MediaDir)

	if cfg.StaticDir != "" {
		router.NoRoute(spaFallback(cfg.StaticDir))
	}

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		log.WithField("port", cfg.Port).Info("jam server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("failed to start server")
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("server shutdown failed")
	}
}

// spaFallback serves files from a built frontend and falls back to its
// index.html for client-side routes.
func spaFallback(dir string) gin.HandlerFunc {
	index := filepath.Join(dir, "index.html")
	return func(c *gin.Context) {
		cleanPath := filepath.Clean("/" + c.Request.URL.Path)
		filePath := filepath.Join(dir, cleanPath)
		if info, err := os.Stat(filePath); err == nil && !info.IsDir() {
			c.File(filePath)
			return
		}
		c.File(index)
	}
}
