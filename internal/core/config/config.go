package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type NotifyCfg struct {
	Enabled bool
	Brokers string
	Topic   string
}

type Config struct {
	Addr       string
	LogLevel   string
	RedisAddr  string
	OpenDAPURL string

	FetchTimeout  time.Duration
	CacheTTL      time.Duration
	MaxValueBytes int
	MaxHistory    int

	PollInterval    time.Duration
	BackfillOnStart bool
	BackfillSleep   time.Duration

	LatMin float64
	LatMax float64
	LonMin float64
	LonMax float64
	Region string

	Notify NotifyCfg
}

func FromEnv() Config {
	return Config{
		Addr:       getenv("ADDR", ":8090"),
		LogLevel:   getenv("LOG_LEVEL", "info"),
		RedisAddr:  getenv("REDIS_ADDR", "localhost:6379"),
		OpenDAPURL: getenv("OPENDAP_BASE_URL", "https://nomads.ncep.noaa.gov/dods/gfs_0p50"),

		FetchTimeout:  getduration("FETCH_TIMEOUT", 30*time.Second),
		CacheTTL:      getduration("CACHE_TTL", time.Hour),
		MaxValueBytes: getint("MAX_VALUE_BYTES", 8<<20),
		MaxHistory:    getint("MAX_HISTORY", 20),

		PollInterval:    getduration("POLL_INTERVAL", 5*time.Minute),
		BackfillOnStart: getbool("BACKFILL_ON_START", true),
		BackfillSleep:   getduration("BACKFILL_SLEEP", time.Second),

		LatMin: getfloat("LAT_MIN", 35),
		LatMax: getfloat("LAT_MAX", 71),
		LonMin: getfloat("LON_MIN", -10),
		LonMax: getfloat("LON_MAX", 45),
		Region: getenv("REGION", "europe"),

		Notify: NotifyCfg{
			Enabled: getbool("NOTIFY_ENABLED", false),
			Brokers: getenv("KAFKA_BROKERS", "localhost:9092"),
			Topic:   getenv("KAFKA_TOPIC", "weather-artifacts"),
		},
	}
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getint(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v := os.Getenv(k); v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "t", "true", "y", "yes":
			return true
		case "0", "f", "false", "n", "no":
			return false
		}
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v := os.Getenv(k); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getduration(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
