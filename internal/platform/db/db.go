package db

import (
	"database/sql"
	"fmt"
	"os"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"gopkg.in/yaml.v3"
)

const driverName = "mysql"

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
}

type SMTPConfig struct {
	Host        string   `yaml:"host"`
	Port        int      `yaml:"port"`
	Username    string   `yaml:"user"`
	Password    string   `yaml:"password"`
	FromEmail   string   `yaml:"from_email"`
	FromName    string   `yaml:"from_name"`
	UseTLS      bool     `yaml:"use_tls"`
	AdminEmails []string `yaml:"admin_emails"`
}

// 督促スイープのスケジュール設定
type OverdueConfig struct {
	Timezone   string `yaml:"timezone"`    // 例: Asia/Kuala_Lumpur
	DailySpec  string `yaml:"daily_cron"`  // 毎日の督促チェック（デフォルト 09:00）
	WeeklySpec string `yaml:"weekly_cron"` // フラグ再アーム用の週次リセット（デフォルト 月曜 08:00）
	// trueの場合、管理者向け通知の送信失敗時も督促済みフラグを立てない
	RequireAdminAck bool `yaml:"require_admin_ack"`
}

type HardwareConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    string `yaml:"port"` // 例: /dev/ttyACM0, COM3
	Baud    int    `yaml:"baud"`
}

type Certs struct {
	Cert string `yaml:"cert"`
	Key  string `yaml:"key"`
}

type Config struct {
	Version     string         `yaml:"version"`
	Mode        string         `yaml:"mode"`
	ListenAddr  string         `yaml:"listen_addr"`
	DB          DatabaseConfig `yaml:"database"`
	SMTP        SMTPConfig     `yaml:"smtp"`
	Overdue     OverdueConfig  `yaml:"overdue"`
	Hardware    HardwareConfig `yaml:"hardware"`
	Certificate Certs          `yaml:"certificate"`
}

func LoadConfig(path string) (*Config, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("設定ファイルの読み込み失敗: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(buf, &cfg); err != nil {
		return nil, fmt.Errorf("設定ファイルのパース失敗: %w", err)
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8080"
	}
	if cfg.Overdue.Timezone == "" {
		cfg.Overdue.Timezone = "Asia/Kuala_Lumpur"
	}
	if cfg.Overdue.DailySpec == "" {
		cfg.Overdue.DailySpec = "0 9 * * *"
	}
	if cfg.Overdue.WeeklySpec == "" {
		cfg.Overdue.WeeklySpec = "0 8 * * 1"
	}
	if cfg.Hardware.Baud == 0 {
		cfg.Hardware.Baud = 9600
	}
	return &cfg, nil
}

func Connect(c DatabaseConfig) (*sql.DB, error) {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&tls=false&timeout=3s&readTimeout=5s&writeTimeout=5s&loc=UTC",
		c.Username, c.Password, c.Host, c.Port, c.DBName)

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("接続準備に失敗: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("DB接続に失敗: %w", err)
	}

	// 接続プール（合算がMySQLの max_connections を超えないよう配分する）
	db.SetMaxOpenConns(80)
	db.SetMaxIdleConns(20)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)

	return db, nil
}
