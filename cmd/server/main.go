package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"gymdesk/internal/auth"
	"gymdesk/internal/backup"
	"gymdesk/internal/config"
	apphttp "gymdesk/internal/http"
	"gymdesk/internal/repository/sqlite"
	"gymdesk/internal/service"
	"gymdesk/internal/storage"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatalf("invalid config: %v", err)
	}
	if level, err := logrus.ParseLevel(cfg.Log.Level); err == nil {
		logger.SetLevel(level)
	} else {
		logger.Warnf("unknown log level %q, using info", cfg.Log.Level)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := sqlite.Open(cfg.Database.Path)
	if err != nil {
		logger.Fatalf("open database: %v", err)
	}
	defer db.Close()

	principalRepo := sqlite.NewPrincipalRepository(db)
	backupRepo := sqlite.NewBackupRepository(db)
	if err := sqlite.InitAll(ctx, principalRepo, backupRepo); err != nil {
		logger.Fatalf("init repositories: %v", err)
	}

	tokens, err := auth.NewTokenManager(
		[]byte(cfg.Auth.JWTSecret),
		cfg.Auth.TokenTTL,
		auth.WithDenylist(auth.NewDenylist(time.Now)),
	)
	if err != nil {
		logger.Fatalf("token manager: %v", err)
	}

	authService, err := service.NewAuthService(principalRepo, tokens, service.AuthConfig{
		BcryptCost: cfg.Auth.BcryptCost,
		Logger:     logger,
	})
	if err != nil {
		logger.Fatalf("auth service: %v", err)
	}
	principalService := service.NewPrincipalService(principalRepo, cfg.Auth.BcryptCost, logger)
	backupService := service.NewBackupService(backupRepo)

	created, err := principalService.EnsureAdmin(ctx, cfg.Seed.AdminUsername, cfg.Seed.AdminPassword, cfg.Seed.AdminEmail)
	if err != nil {
		logger.Fatalf("seed admin: %v", err)
	}
	if created {
		logger.Infof("created initial admin %q", cfg.Seed.AdminUsername)
		if cfg.UsesDefaultAdminPassword() {
			logger.Warn("initial admin uses the default password; change it after first login")
		}
	}

	storageSvc, err := buildStorage(ctx, cfg, logger)
	if err != nil {
		logger.Fatalf("setup storage: %v", err)
	}

	manager := backup.NewManager(backup.Config{
		Dir:       cfg.Backup.Dir,
		Interval:  cfg.Backup.Interval,
		KeepLocal: cfg.Backup.KeepLocal,
		UploadOptions: storage.UploadOptions{
			Bucket:    cfg.Storage.Bucket,
			KeyPrefix: cfg.Storage.KeyPrefix,
		},
		Logger: logger,
	}, backupService, sqlite.NewSnapshotter(db), storageSvc)

	if err := manager.Start(ctx); err != nil {
		logger.Fatalf("start backup manager: %v", err)
	}
	if err := manager.Resume(ctx); err != nil {
		logger.Warnf("resume backups: %v", err)
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	handler := apphttp.NewHandler(
		authService,
		principalService,
		backupService,
		manager,
		storageSvc,
		logger,
	)
	handler.RegisterRoutes(router)

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Infof("listening on %s", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("http server: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warnf("http shutdown: %v", err)
	}
	manager.Shutdown()

	logger.Info("bye")
}

// buildStorage returns nil when no bucket is configured; backups then stay on local disk.
func buildStorage(ctx context.Context, cfg config.Config, logger *logrus.Logger) (storage.Service, error) {
	if cfg.Storage.Bucket == "" {
		logger.Info("no storage bucket configured, backups stay local")
		return nil, nil
	}

	loadOpts := []func(*awscfg.LoadOptions) error{
		awscfg.WithRegion(cfg.Storage.Region),
	}
	if cfg.AWS.Profile != "" {
		loadOpts = append(loadOpts, awscfg.WithSharedConfigProfile(cfg.AWS.Profile))
	}

	awsCfg, err := awscfg.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Storage.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Storage.Endpoint)
			o.UsePathStyle = true
		}
	})
	logger.Infof("using s3 bucket %s (region %s)", cfg.Storage.Bucket, cfg.Storage.Region)
	return storage.NewS3Service(client), nil
}
