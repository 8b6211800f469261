package core

import (
	"log"
	"net"
	"net/mail"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	StoragePostgres = "postgres"
	StorageMemory   = "memory"
)

type (
	Config struct {
		AppName            string
		Env                string // DEV (local; default), TEST, QA, PROD
		Build              string
		Debug              bool
		TestMode           bool
		WorkDir            string
		SecretKey          string
		DefaultFromAddress string
		Storage            string // postgres | memory
		RollbarToken       string
		SendgridApiKey     string

		Database DatabaseConfig
		Log      LogConfig
	}

	DatabaseConfig struct {
		Engine        string
		Host          string
		Port          string
		User          string
		Password      string
		AdminUser     string
		AdminPassword string
		Name          string
		DisableTLS    bool
		PingTimeout   time.Duration
	}

	LogConfig struct {
		Level      string
		File       string // empty: stdout
		MaxSizeMB  int
		MaxBackups int
		MaxAgeDays int
	}
)

func (db DatabaseConfig) Address() string {
	return net.JoinHostPort(db.Host, db.Port)
}

// DefaultFromEmail parses DefaultFromAddress, falling back to a bare address on malformed input.
func (c *Config) DefaultFromEmail() mail.Address {
	addr, err := mail.ParseAddress(c.DefaultFromAddress)
	if err != nil {
		return mail.Address{Name: c.AppName, Address: c.DefaultFromAddress}
	}
	return *addr
}

func NewConfig() *Config {
	conf := viper.New()

	// defaults
	conf.SetTypeByDefaultValue(true)
	conf.SetDefault("debug", true)
	conf.SetDefault("testMode", false)
	conf.SetDefault("appName", "Institude")
	conf.SetDefault("build", "develop")
	conf.SetDefault("secretKey", "n3x!o7-2v#r@qz6b+f0l^h=k9w_y4cd&u8j$1s5p*gm)ta(e")
	conf.SetDefault("defaultFromEmail", "Institude <noreply@localhost>")
	conf.SetDefault("storage", StoragePostgres)
	conf.SetDefault("rollbarToken", "")
	conf.SetDefault("sendgridApiKey", "")

	conf.SetDefault("databaseEngine", "postgres")
	conf.SetDefault("databaseHost", "localhost")
	conf.SetDefault("databasePort", "5432")
	conf.SetDefault("databaseUser", "institude")
	conf.SetDefault("databasePassword", "institude")
	conf.SetDefault("databaseAdminUser", "postgres")
	conf.SetDefault("databaseAdminPassword", "")
	conf.SetDefault("databaseName", "institude")
	conf.SetDefault("databaseDisableTLS", true)
	conf.SetDefault("databasePingTimeout", 30*time.Second)

	conf.SetDefault("logLevel", "info")
	conf.SetDefault("logFile", "")
	conf.SetDefault("logMaxSizeMB", 50)
	conf.SetDefault("logMaxBackups", 5)
	conf.SetDefault("logMaxAgeDays", 28)

	env := strings.ToUpper(os.Getenv("ENV"))
	switch env {
	case "":
		env = "DEV"
	case "TEST":
		conf.SetDefault("testMode", true)
		conf.SetDefault("storage", StorageMemory)
	}
	conf.SetEnvPrefix(env)

	wd := Getwd()

	// load .env if it exists (ignore if it does not)
	dotEnvPath := filepath.Join(wd, "config", ".env."+strings.ToLower(env))
	if _, err := os.Stat(dotEnvPath); err == nil {
		if err := godotenv.Load(dotEnvPath); err != nil {
			log.Fatalf("config.godotenv(%s): %v", dotEnvPath, err)
		}
	} else if !os.IsNotExist(err) {
		log.Fatalf("config.os.Stat(%s): %v", dotEnvPath, err)
	}
	conf.AutomaticEnv()

	return &Config{
		AppName:            conf.GetString("appName"),
		Env:                env,
		Build:              conf.GetString("build"),
		Debug:              conf.GetBool("debug"),
		TestMode:           conf.GetBool("testMode"),
		WorkDir:            wd,
		SecretKey:          conf.GetString("secretKey"),
		DefaultFromAddress: conf.GetString("defaultFromEmail"),
		Storage:            strings.ToLower(conf.GetString("storage")),
		RollbarToken:       conf.GetString("rollbarToken"),
		SendgridApiKey:     conf.GetString("sendgridApiKey"),
		Database: DatabaseConfig{
			Engine:        conf.GetString("databaseEngine"),
			Host:          conf.GetString("databaseHost"),
			Port:          conf.GetString("databasePort"),
			User:          conf.GetString("databaseUser"),
			Password:      conf.GetString("databasePassword"),
			AdminUser:     conf.GetString("databaseAdminUser"),
			AdminPassword: conf.GetString("databaseAdminPassword"),
			Name:          conf.GetString("databaseName"),
			DisableTLS:    conf.GetBool("databaseDisableTLS"),
			PingTimeout:   conf.GetDuration("databasePingTimeout"),
		},
		Log: LogConfig{
			Level:      conf.GetString("logLevel"),
			File:       conf.GetString("logFile"),
			MaxSizeMB:  conf.GetInt("logMaxSizeMB"),
			MaxBackups: conf.GetInt("logMaxBackups"),
			MaxAgeDays: conf.GetInt("logMaxAgeDays"),
		},
	}
}
