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

type (
	AuthConfig struct {
		JWTExpirationDelta        time.Duration
		JWTRefreshExpirationDelta time.Duration
		PasswordResetTimeoutDelta time.Duration
	}

	ServerConfig struct {
		Host            string
		Port            string
		DebugHost       string
		GRPCAddress     string
		ShutdownTimeout time.Duration
		AllowedOrigins  []string
	}

	DatabaseConfig struct {
		Engine        string // postgres | sqlite3
		Host          string
		Port          string
		Name          string
		User          string
		Password      string
		AdminUser     string // postgres only, used to create the app user & database
		AdminPassword string
		DisableTLS    bool
		Path          string // sqlite3 only
	}

	DeviceConfig struct {
		OfflineAfter     time.Duration
		SweepInterval    time.Duration
		MetricsRetention time.Duration
	}

	AttendanceConfig struct {
		RetentionDays int
		PurgeInterval time.Duration
	}

	Config struct {
		Env              string
		AppName          string
		Build            string
		Debug            bool
		TestMode         bool
		WorkDir          string
		SecretKey        string
		FrontendBaseURL  string
		DefaultFromEmail mail.Address
		SendgridApiKey   string
		RollbarToken     string

		Auth       AuthConfig
		Server     ServerConfig
		Database   DatabaseConfig
		Devices    DeviceConfig
		Attendance AttendanceConfig
	}
)

func (s ServerConfig) Address() string {
	return net.JoinHostPort(s.Host, s.Port)
}

func (d DatabaseConfig) Address() string {
	if d.Port == "" {
		return d.Host
	}
	return net.JoinHostPort(d.Host, d.Port)
}

// NewConfig loads the Config from the environment (and optional dotenv file) of the current ENV.
func NewConfig() *Config {
	v := viper.New()

	// defaults
	v.SetTypeByDefaultValue(true)
	v.SetDefault("debug", true)
	v.SetDefault("testMode", false)
	v.SetDefault("appName", "Attendance")
	v.SetDefault("build", "develop")
	v.SetDefault("secretKey", "k7#t(2mq_v0w!r9zx$f3la+8e@d1hj5-u4s6c&yb=pn%go)ie")
	v.SetDefault("frontendBaseURL", "http://localhost:3000")
	v.SetDefault("defaultFromEmail", "Attendance <noreply@localhost>")
	v.SetDefault("sendgridApiKey", "")
	v.SetDefault("rollbarToken", "")

	v.SetDefault("jwtExpirationDelta", 24*time.Hour)
	v.SetDefault("jwtRefreshExpirationDelta", 7*24*time.Hour)
	v.SetDefault("passwordResetTimeoutDelta", 3*24*time.Hour)

	v.SetDefault("host", "")
	v.SetDefault("port", "8000")
	v.SetDefault("debugHost", "localhost:4000")
	v.SetDefault("grpcAddress", ":50051")
	v.SetDefault("shutdownTimeout", 5*time.Second)
	v.SetDefault("allowedOrigins", []string{"http://localhost:3000"})

	v.SetDefault("databaseEngine", "sqlite3")
	v.SetDefault("databaseHost", "localhost")
	v.SetDefault("databasePort", "5432")
	v.SetDefault("databaseName", "attendance")
	v.SetDefault("databaseUser", "attendance")
	v.SetDefault("databasePassword", "")
	v.SetDefault("databaseAdminUser", "postgres")
	v.SetDefault("databaseAdminPassword", "")
	v.SetDefault("databaseDisableTLS", true)
	v.SetDefault("databasePath", "attendance.db")

	v.SetDefault("deviceOfflineAfter", 2*time.Minute)
	v.SetDefault("deviceSweepInterval", 30*time.Second)
	v.SetDefault("deviceMetricsRetention", 7*24*time.Hour)

	v.SetDefault("attendanceRetentionDays", 90)
	v.SetDefault("attendancePurgeInterval", 24*time.Hour)

	env := strings.ToUpper(os.Getenv("ENV")) // DEV (local; default), TEST, QA, PROD
	switch env {
	case "":
		env = "DEV"
	case "TEST":
		v.SetDefault("testMode", true)
	}
	v.SetEnvPrefix(env)

	workDir := Getwd()

	// load .env if it exists (ignore if it does not)
	dotEnvPath := filepath.Join(workDir, "config", ".env."+strings.ToLower(env))
	if _, err := os.Stat(dotEnvPath); err == nil {
		if err := godotenv.Load(dotEnvPath); err != nil {
			log.Fatalf("config.godotenv(%s): %v", dotEnvPath, err)
		}
	} else if !os.IsNotExist(err) {
		log.Fatalf("config.os.Stat(%s): %v", dotEnvPath, err)
	}
	v.AutomaticEnv()

	fromEmail, err := mail.ParseAddress(v.GetString("defaultFromEmail"))
	if err != nil {
		log.Fatalf("config.defaultFromEmail: %v", err)
	}

	return &Config{
		Env:              env,
		AppName:          v.GetString("appName"),
		Build:            v.GetString("build"),
		Debug:            v.GetBool("debug"),
		TestMode:         v.GetBool("testMode"),
		WorkDir:          workDir,
		SecretKey:        v.GetString("secretKey"),
		FrontendBaseURL:  strings.TrimSuffix(v.GetString("frontendBaseURL"), "/"),
		DefaultFromEmail: *fromEmail,
		SendgridApiKey:   v.GetString("sendgridApiKey"),
		RollbarToken:     v.GetString("rollbarToken"),
		Auth: AuthConfig{
			JWTExpirationDelta:        v.GetDuration("jwtExpirationDelta"),
			JWTRefreshExpirationDelta: v.GetDuration("jwtRefreshExpirationDelta"),
			PasswordResetTimeoutDelta: v.GetDuration("passwordResetTimeoutDelta"),
		},
		Server: ServerConfig{
			Host:            v.GetString("host"),
			Port:            v.GetString("port"),
			DebugHost:       v.GetString("debugHost"),
			GRPCAddress:     v.GetString("grpcAddress"),
			ShutdownTimeout: v.GetDuration("shutdownTimeout"),
			AllowedOrigins:  v.GetStringSlice("allowedOrigins"),
		},
		Database: DatabaseConfig{
			Engine:        v.GetString("databaseEngine"),
			Host:          v.GetString("databaseHost"),
			Port:          v.GetString("databasePort"),
			Name:          v.GetString("databaseName"),
			User:          v.GetString("databaseUser"),
			Password:      v.GetString("databasePassword"),
			AdminUser:     v.GetString("databaseAdminUser"),
			AdminPassword: v.GetString("databaseAdminPassword"),
			DisableTLS:    v.GetBool("databaseDisableTLS"),
			Path:          v.GetString("databasePath"),
		},
		Devices: DeviceConfig{
			OfflineAfter:     v.GetDuration("deviceOfflineAfter"),
			SweepInterval:    v.GetDuration("deviceSweepInterval"),
			MetricsRetention: v.GetDuration("deviceMetricsRetention"),
		},
		Attendance: AttendanceConfig{
			RetentionDays: v.GetInt("attendanceRetentionDays"),
			PurgeInterval: v.GetDuration("attendancePurgeInterval"),
		},
	}
}

// NewTestConfig returns a Config suitable for tests: no dotenv, fixed secret, test mode on.
func NewTestConfig() *Config {
	_ = os.Setenv("ENV", "TEST")
	conf := NewConfig()
	conf.Debug = false
	conf.TestMode = true
	conf.SecretKey = "test-secret"
	return conf
}
