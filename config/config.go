package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

var gitSHA string
var buildDate string

func GetDataDir() string {
	value, exists := os.LookupEnv("VOD_ARCHIVER_DATA_DIR")
	if exists {
		return value
	}
	return "data"
}

// defaults to GetDataDir() / config
func GetConfigDir() string {
	value, exists := os.LookupEnv("VOD_ARCHIVER_CONFIG_DIR")
	if exists {
		return value
	}
	return filepath.Join(GetDataDir(), "config")
}

// defaults to GetDataDir() / temp
func GetTempDir() string {
	value, exists := os.LookupEnv("VOD_ARCHIVER_TEMP_DIR")
	if exists {
		return value
	}
	return filepath.Join(GetDataDir(), "temp")
}

func GetAdminInitialPassword() (string, error) {
	key := "VOD_ARCHIVER_ADMIN_INITIAL_PASSWORD"
	value, exists := os.LookupEnv(key)
	if exists {
		return value, nil
	}
	return "", fmt.Errorf("please set %s", key)
}

func GetListenAddr() string {
	value, exists := os.LookupEnv("VOD_ARCHIVER_LISTEN")
	if exists {
		return value
	}
	return ":8080"
}

// "per-service" (default) or "single"
func GetLaneMode() string {
	value, exists := os.LookupEnv("VOD_ARCHIVER_LANE_MODE")
	if exists {
		return strings.ToLower(strings.TrimSpace(value))
	}
	return "per-service"
}

// 0 means use the default for the lane mode
func GetLaneCap() int {
	return getInt("VOD_ARCHIVER_LANE_CAP", 0)
}

func GetMinFreeBytes() uint64 {
	mb := getInt("VOD_ARCHIVER_MIN_FREE_MB", 2048)
	if mb < 0 {
		mb = 0
	}
	return uint64(mb) * 1024 * 1024
}

// download bandwidth cap in KiB/s, 0 means unlimited
func GetBandwidthKBps() int {
	return getInt("VOD_ARCHIVER_BANDWIDTH_KBPS", 0)
}

// "hold" (default) or "requeue"
func GetErrorPolicy() string {
	value, exists := os.LookupEnv("VOD_ARCHIVER_ERROR_POLICY")
	if exists {
		return strings.ToLower(strings.TrimSpace(value))
	}
	return "hold"
}

func GetLogLevel() string {
	value, exists := os.LookupEnv("VOD_ARCHIVER_LOG_LEVEL")
	if exists {
		return value
	}
	return "debug"
}

func GetGitSHA() string {
	if gitSHA == "" {
		return "<not provided>"
	} else {
		return gitSHA
	}
}

func GetBuildDate() string {
	if buildDate == "" {
		return "<not provided>"
	} else {
		return buildDate
	}
}

func getInt(key string, def int) int {
	value, exists := os.LookupEnv(key)
	if !exists {
		return def
	}
	i, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return def
	}
	return i
}
