package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	_ "github.com/go-sql-driver/mysql"
	"go.uber.org/zap"

	"CREDIT-backend/internal/component_mgmt/borrows"
	"CREDIT-backend/internal/component_mgmt/components"
	"CREDIT-backend/internal/component_mgmt/overdue"
	"CREDIT-backend/internal/platform/db"
	"CREDIT-backend/internal/platform/hardware"
	"CREDIT-backend/internal/platform/logger"
	"CREDIT-backend/internal/platform/mailer"
)

func main() {
	// 設定読み込み
	cfg, err := db.LoadConfig("config/config.yaml")
	if err != nil {
		panic(err)
	}

	if cfg.Mode != "dev" && cfg.Mode != "release" {
		fmt.Println("config/config.yaml: mode must be dev or release")
		return
	}

	log, err := logger.New(cfg.Mode)
	if err != nil {
		panic(err)
	}
	defer log.Sync()
	log.Info("起動", zap.String("mode", cfg.Mode), zap.String("version", cfg.Version))

	conn, err := db.Connect(cfg.DB)
	if err != nil {
		log.Fatal("DB接続失敗", zap.Error(err))
	}
	defer conn.Close()
	log.Info("DB接続完了", zap.String("dbname", cfg.DB.DBName))

	// 日付計算とcronスケジュールの基準タイムゾーン
	tz, err := time.LoadLocation(cfg.Overdue.Timezone)
	if err != nil {
		log.Fatal("タイムゾーン読み込み失敗", zap.String("timezone", cfg.Overdue.Timezone), zap.Error(err))
	}

	mail := mailer.New(cfg.SMTP, log)
	buzzer := hardware.NewBuzzer(cfg.Hardware, log)
	defer buzzer.Close()

	componentSvc := components.NewService(conn, log)
	borrowSvc := borrows.NewService(conn, mail, tz, log)
	overdueSvc := overdue.NewService(conn, mail, buzzer, tz, cfg.Overdue.RequireAdminAck, log)

	sched, err := overdue.NewScheduler(overdueSvc, cfg.Overdue, tz, log)
	if err != nil {
		log.Fatal("スケジューラ初期化失敗", zap.Error(err))
	}
	sched.Start()
	defer sched.Stop()

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())
	_ = r.SetTrustedProxies(nil)

	if cfg.Mode == "dev" {
		// CORS（開発中のみ必要）
		r.Use(cors.New(cors.Config{
			AllowOrigins:     []string{"http://localhost:3000"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
			ExposeHeaders:    []string{"Content-Length", "Location"},
			AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowCredentials: true,
		}))
	}

	// ヘルス
	r.GET("/healthz", func(c *gin.Context) { c.String(http.StatusOK, "ok") })

	// /api/v2
	api := r.Group("/api/v2")
	components.RegisterRoutes(api, componentSvc)
	borrows.RegisterRoutes(api, borrowSvc)
	overdue.RegisterRoutes(api, overdueSvc, sched)

	srv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: r,
	}

	go func() {
		var err error
		if cfg.Certificate.Cert != "" && cfg.Certificate.Key != "" {
			certFile := fmt.Sprintf("config/tls/%s/%s", cfg.Mode, cfg.Certificate.Cert)
			keyFile := fmt.Sprintf("config/tls/%s/%s", cfg.Mode, cfg.Certificate.Key)
			log.Info("listening (TLS)", zap.String("addr", cfg.ListenAddr))
			err = srv.ListenAndServeTLS(certFile, keyFile)
		} else {
			log.Info("listening", zap.String("addr", cfg.ListenAddr))
			err = srv.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			log.Fatal("サーバ起動失敗", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit
	log.Info("シャットダウン開始")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error("シャットダウン失敗", zap.Error(err))
	}
}
