package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	// SourceCamera reads frames from a local capture device.
	SourceCamera = "camera"
	// SourceRemote takes frames pushed over UDP or websocket.
	SourceRemote = "remote"

	// MaskBackground keeps the background and cuts the person out.
	MaskBackground = "background"
	// MaskPerson keeps the person and cuts the background out.
	MaskPerson = "person"
)

type Config struct {
	Port        int
	Password    string
	CamerasPort int // UDP port for remote JPEG frames

	FrameSource  string
	CameraDevice string
	CameraWidth  int
	CameraHeight int
	CanvasWidth  int
	CanvasHeight int
	FrameRate    int // Render ticks per second
	JPEGQuality  int

	SegmentationModel string // ONNX selfie segmentation model; empty uses background subtraction
	MaskType          string

	MaxEchoes        int
	EchoLifetime     time.Duration
	OpacityLevel     int
	IntervalRate     int // ms between echo captures
	ControlQueueSize int
	MaxUploadBytes   int64

	SnapshotDirectory     string
	SnapshotBufferLimit   int
	SnapshotFlushInterval int // seconds
	DatabasePath          string
	LogDirectory          string

	CameraNames map[string]string // remote IP -> display name

	// Warnings lists settings Load replaced with a default. The logger is
	// built from the config, so the caller logs them.
	Warnings []string
}

// Load reads an optional .env file and then the environment.
func Load() *Config {
	// Missing .env is fine; real environment variables always win.
	_ = godotenv.Load()

	cfg := &Config{
		Port:        getEnvAsInt("PORT", 8080),
		Password:    getEnv("PASSWORD", "echoes"),
		CamerasPort: getEnvAsInt("CAMERAS_PORT", 8081),

		FrameSource:  strings.ToLower(getEnv("FRAME_SOURCE", SourceCamera)),
		CameraDevice: getEnv("CAMERA_DEVICE", "0"),
		CameraWidth:  getEnvAsInt("CAMERA_WIDTH", 640),
		CameraHeight: getEnvAsInt("CAMERA_HEIGHT", 480),
		CanvasWidth:  getEnvAsInt("CANVAS_WIDTH", 1280),
		CanvasHeight: getEnvAsInt("CANVAS_HEIGHT", 960),
		FrameRate:    getEnvAsInt("FRAME_RATE", 30),
		JPEGQuality:  getEnvAsInt("JPEG_QUALITY", 80),

		SegmentationModel: getEnv("SEGMENTATION_MODEL", filepath.Join(".", "models", "selfie_segmentation.onnx")),
		MaskType:          strings.ToLower(getEnv("MASK_TYPE", MaskBackground)),

		MaxEchoes:        getEnvAsInt("MAX_ECHOES", 25),
		EchoLifetime:     time.Duration(getEnvAsInt("ECHO_LIFETIME_MS", 10000)) * time.Millisecond,
		OpacityLevel:     getEnvAsInt("OPACITY_LEVEL", 255),
		IntervalRate:     getEnvAsInt("INTERVAL_RATE", 500),
		ControlQueueSize: getEnvAsInt("CONTROL_QUEUE_SIZE", 64),
		MaxUploadBytes:   getEnvAsInt64("MAX_UPLOAD_BYTES", 10<<20),

		SnapshotDirectory:     getEnv("SNAPSHOT_DIR", filepath.Join(".", "snapshots")),
		SnapshotBufferLimit:   getEnvAsInt("SNAPSHOT_BUFFER_LIMIT", 10),
		SnapshotFlushInterval: getEnvAsInt("SNAPSHOT_FLUSH_INTERVAL", 30),
		DatabasePath:          getEnv("DATABASE_PATH", filepath.Join(".", "data", "snapshots.db")),
		LogDirectory:          getEnv("LOG_DIR", filepath.Join(".", "logs")),

		CameraNames: getEnvAsMap("CAMERA_NAMES"),
	}

	switch cfg.MaskType {
	case MaskBackground, MaskPerson:
	default:
		cfg.Warnings = append(cfg.Warnings, fmt.Sprintf("unknown MASK_TYPE %q, using %q", cfg.MaskType, MaskBackground))
		cfg.MaskType = MaskBackground
	}

	return cfg
}

// TickInterval is the render loop period derived from FrameRate.
func (c *Config) TickInterval() time.Duration {
	if c.FrameRate <= 0 {
		return time.Second / 30
	}
	return time.Second / time.Duration(c.FrameRate)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvAsMap parses "ip=name,ip=name" pairs.
func getEnvAsMap(key string) map[string]string {
	result := make(map[string]string)
	value := os.Getenv(key)
	if value == "" {
		return result
	}

	for _, pair := range strings.Split(value, ",") {
		k, v, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}
		k, v = strings.TrimSpace(k), strings.TrimSpace(v)
		if k != "" && v != "" {
			result[k] = v
		}
	}
	return result
}
