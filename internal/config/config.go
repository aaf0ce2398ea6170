package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// AppConfig 汇总运行服务所需的基础配置。
type AppConfig struct {
	ListenAddr         string
	Port               string
	DatabasePath       string
	RemoteDatabaseURL  string
	RemoteProbeTimeout time.Duration
	RemoteMigrate      bool
	SessionSecret      string
	TrustedProxies     []string
	GinMode            string
	AdminUserName      string
	AdminPassword      string
	CommentRatePerMin  int
	CommentRateBurst   int
	AdminRatePerMin    int
	AdminRateBurst     int
	CommentListLimit   int
	ViewDayLocation    *time.Location
	SiteBaseURL        string
	LogLevel           string
}

// Load 从环境变量读取应用配置，并为缺失项提供安全的默认值。
func Load() AppConfig {
	port := envString("PORT", "8080")

	listenAddr := strings.TrimSpace(os.Getenv("LISTEN_ADDR"))
	if listenAddr == "" {
		listenAddr = fmt.Sprintf(":%s", port)
	}

	return AppConfig{
		ListenAddr:         listenAddr,
		Port:               port,
		DatabasePath:       envString("DATABASE_PATH", "data/blogpulse.db"),
		RemoteDatabaseURL:  strings.TrimSpace(os.Getenv("REMOTE_DATABASE_URL")),
		RemoteProbeTimeout: envDuration("REMOTE_PROBE_TIMEOUT", 3*time.Second),
		RemoteMigrate:      envBool("REMOTE_MIGRATE", true),
		SessionSecret:      strings.TrimSpace(os.Getenv("SESSION_SECRET")),
		TrustedProxies:     envList("TRUSTED_PROXIES"),
		GinMode:            envString("GIN_MODE", "release"),
		AdminUserName:      envString("ADMIN_USER_NAME", "admin"),
		AdminPassword:      strings.TrimSpace(os.Getenv("ADMIN_PASSWORD")),
		CommentRatePerMin:  envInt("COMMENT_RATE_PER_MINUTE", 6),
		CommentRateBurst:   envInt("COMMENT_RATE_BURST", 3),
		AdminRatePerMin:    envInt("ADMIN_RATE_PER_MINUTE", 10),
		AdminRateBurst:     envInt("ADMIN_RATE_BURST", 5),
		CommentListLimit:   envInt("COMMENT_LIST_LIMIT", 50),
		ViewDayLocation:    envLocation("VIEW_DAY_TIMEZONE", time.Local),
		SiteBaseURL:        strings.TrimRight(envString("SITE_BASE_URL", "http://localhost:8080"), "/"),
		LogLevel:           envString("LOG_LEVEL", "info"),
	}
}

// ErrMissingSessionSecret 表示 release 模式下未配置会话密钥
var ErrMissingSessionSecret = errors.New("SESSION_SECRET must be set when GIN_MODE=release")

// Validate rejects settings that are only acceptable during development.
func (c AppConfig) Validate() error {
	if c.GinMode == "release" && c.SessionSecret == "" {
		return ErrMissingSessionSecret
	}
	return nil
}

func envString(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if v := strings.TrimSpace(part); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func envInt(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

func envBool(key string, fallback bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

func envLocation(key string, fallback *time.Location) *time.Location {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	loc, err := time.LoadLocation(v)
	if err != nil {
		return fallback
	}
	return loc
}
