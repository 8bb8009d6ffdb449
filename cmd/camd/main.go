package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/secure"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/edgewatch/camd/internal/buildinfo"
	"github.com/edgewatch/camd/internal/http/handler"
	mw "github.com/edgewatch/camd/internal/http/middleware"
	"github.com/edgewatch/camd/internal/metrics"
	"github.com/edgewatch/camd/internal/supervisor"
)

// Config is the camd.yaml layout. Durations are seconds (float).
type Config struct {
	ListenAddr string `yaml:"listen_address"`
	Port       string `yaml:"port"`

	MediaServer struct {
		Host       string `yaml:"host"`
		APIPort    int    `yaml:"api_port"`
		RTSPPort   int    `yaml:"rtsp_port"`
		WebRTCPort int    `yaml:"webrtc_port"`
		HLSPort    int    `yaml:"hls_port"`
		ConfigPath string `yaml:"config_path"`
	} `yaml:"media_server"`

	RecordingsDir string `yaml:"recordings_dir"`
	SnapshotsDir  string `yaml:"snapshots_dir"`
	FFmpegBin     string `yaml:"ffmpeg_bin"`

	Health struct {
		CheckIntervalSec         float64 `yaml:"check_interval_sec"`
		FailureThreshold         int     `yaml:"failure_threshold"`
		CircuitBreakerTimeoutSec float64 `yaml:"circuit_breaker_timeout_sec"`
		MaxBackoffIntervalSec    float64 `yaml:"max_backoff_interval_sec"`
		BackoffMultiplier        float64 `yaml:"backoff_multiplier"`
		JitterLow                float64 `yaml:"jitter_low"`
		JitterHigh               float64 `yaml:"jitter_high"`
		RecoveryThreshold        int     `yaml:"recovery_threshold"`
	} `yaml:"health"`

	SnapshotTimeoutSec  float64 `yaml:"snapshot_timeout_sec"`
	TerminateTimeoutSec float64 `yaml:"terminate_timeout_sec"`
	KillTimeoutSec      float64 `yaml:"kill_timeout_sec"`
}

var serverConfig *Config

func init() {
	// Handle version display
	handleVersion()
}

func main() {
	// Read env
	isDev := os.Getenv("ENV") == "dev"

	// Load config
	if err := loadConfig(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Create Zap logger
	log := buildLogger()
	defer log.Sync()
	log = log.Named("main")

	// Build the supervisor core
	m := metrics.New()
	sup, err := supervisor.New(log, supervisorConfig(serverConfig), m)
	if err != nil {
		log.Fatal("supervisor creation failed", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := sup.Start(ctx); err != nil {
		log.Fatal("supervisor start failed", zap.Error(err))
	}
	defer func() {
		if err := sup.Stop(); err != nil {
			log.Warn("supervisor stop", zap.Error(err))
		}
	}()

	// Create Gin router
	if !isDev {
		gin.SetMode(gin.ReleaseMode)
	}
	gin.DefaultWriter = zap.NewStdLog(log.Named("gin")).Writer() // Configure Gin's logger to use Zap
	r := gin.New()

	// Apply Gin middlewares
	{
		r.Use(gin.Recovery()) // Recovery first (outermost)
		r.Use(mw.RequestID()) // Attach request ID for tracing; early in the chain so it's available everywhere

		if isDev { // Enable CORS for local dev frontends
			r.Use(cors.New(cors.Config{
				AllowOrigins:     []string{"http://localhost:5173", "http://localhost:3000"},
				AllowMethods:     []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
				AllowHeaders:     []string{"X-Request-ID", "Content-Type"},
				ExposeHeaders:    []string{"X-Request-ID"},
				AllowCredentials: false,
				MaxAge:           12 * time.Hour,
			}))
		} else { // Behind Nginx + TLS
			r.SetTrustedProxies([]string{"127.0.0.1"})
			r.Use(secure.New(secure.Config{
				SSLProxyHeaders: map[string]string{
					"X-Forwarded-Proto": "https", // Fix scheme for secure cookies
				},
			}))
		}

		r.Use(accessLog(log))

		// Readiness polls and snapshot captures are long-running; keep the
		// handler pool bounded.
		r.Use(mw.LimitConcurrentRequests(64))

		r.Use(func(c *gin.Context) {
			// Enforce a hard 1MB max request body.
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, 1<<20)
			c.Next()
		})
	}

	// Register route handlers
	{
		r.GET("/api/ping", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"message": "pong"}) })
		r.GET("/metrics", gin.WrapH(m.Handler()))

		suphndlr := handler.NewSupervisorHandler(log, sup)
		r.GET("/api/health", suphndlr.Health)

		// --- Streams ---
		r.POST("/api/streams", suphndlr.CreateStream)
		r.DELETE("/api/streams/:name", suphndlr.DeleteStream)
		r.GET("/api/streams/:name/ready", suphndlr.StreamReady)

		// --- Recordings ---
		r.POST("/api/streams/:name/record/start", suphndlr.StartRecording)
		r.POST("/api/streams/:name/record/stop", suphndlr.StopRecording)

		// --- Snapshots ---
		r.POST("/api/streams/:name/snapshot", suphndlr.Snapshot)

		// --- Media server config ---
		r.PATCH("/api/config", suphndlr.UpdateConfig)
	}

	httpsrv := &http.Server{
		Addr:              serverConfig.ListenAddr + ":" + serverConfig.Port,
		Handler:           r,
		ReadHeaderTimeout: 2 * time.Second,  // kills header-drip Slowloris
		ReadTimeout:       10 * time.Second, // full request read (incl. body)
		WriteTimeout:      60 * time.Second, // readiness polls may run long
		IdleTimeout:       60 * time.Second, // keep-alive cap
		MaxHeaderBytes:    1 << 20,          // 1MB cap
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpsrv.Shutdown(shutdownCtx); err != nil {
			log.Warn("http shutdown", zap.Error(err))
		}
	}()

	log.Info("running HTTP server", zap.String("addr", httpsrv.Addr))
	if err := httpsrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal("server failed", zap.Error(err))
	}
	log.Info("server closed")
}

// handleVersion prints build metadata and exits when -v/--version is provided.
func handleVersion() {
	v := flag.Bool("v", false, "print version and exit")
	flag.BoolVar(v, "version", false, "print version and exit")
	flag.Parse()

	if *v {
		fmt.Printf("camd %s (commit %s, built %s)\n", buildinfo.Version, buildinfo.GitCommit, buildinfo.BuildDate)
		os.Exit(0)
	}
}

// accessLog is a Gin middleware that records HTTP request/response details with Zap after handling.
func accessLog(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		latency := time.Since(start)
		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}

		// collect all errors from Gin context
		var errs []error
		for _, ge := range c.Errors {
			if ge.Err != nil {
				errs = append(errs, ge.Err)
			}
		}
		// errors.Join returns nil if errs is empty
		joinedErr := errors.Join(errs...)

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("route", route),
			zap.Int("status", status),
			zap.String("client_ip", c.ClientIP()),
			zap.String("request_id", mw.GetRequestID(c)),
			zap.Duration("latency", latency),
		}
		if joinedErr != nil {
			fields = append(fields, zap.Error(joinedErr))
		}

		switch {
		case status >= 500:
			log.Error("request", fields...)
		case status >= 400:
			log.Warn("request", fields...)
		default:
			log.Info("request", fields...)
		}
	}
}

// helpers

func buildLogger() *zap.Logger {
	logConfig := zap.NewDevelopmentConfig()
	logConfig.EncoderConfig.TimeKey = ""
	logConfig.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	logConfig.DisableStacktrace = true
	logConfig.DisableCaller = true
	logConfig.Level.SetLevel(zap.DebugLevel)
	return zap.Must(logConfig.Build())
}

func loadConfig() error {
	serverConfig = &Config{ListenAddr: "127.0.0.1", Port: "9080"}

	data, err := os.ReadFile("camd.yaml")
	if os.IsNotExist(err) {
		return nil // defaults apply
	}
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, serverConfig)
}

// supervisorConfig maps the YAML file onto the supervisor's typed config,
// falling back to defaults for anything unset.
func supervisorConfig(c *Config) supervisor.Config {
	cfg := supervisor.DefaultConfig()

	if c.MediaServer.Host != "" {
		cfg.Host = c.MediaServer.Host
	}
	setInt(&cfg.APIPort, c.MediaServer.APIPort)
	setInt(&cfg.RTSPPort, c.MediaServer.RTSPPort)
	setInt(&cfg.WebRTCPort, c.MediaServer.WebRTCPort)
	setInt(&cfg.HLSPort, c.MediaServer.HLSPort)
	cfg.ConfigPath = c.MediaServer.ConfigPath

	if c.RecordingsDir != "" {
		cfg.RecordingsDir = c.RecordingsDir
	}
	if c.SnapshotsDir != "" {
		cfg.SnapshotsDir = c.SnapshotsDir
	}
	cfg.FFmpegBin = c.FFmpegBin

	setDur(&cfg.Health.CheckInterval, c.Health.CheckIntervalSec)
	setInt(&cfg.Health.FailureThreshold, c.Health.FailureThreshold)
	setDur(&cfg.Health.CircuitBreakerTimeout, c.Health.CircuitBreakerTimeoutSec)
	setDur(&cfg.Health.MaxBackoffInterval, c.Health.MaxBackoffIntervalSec)
	if c.Health.BackoffMultiplier > 0 {
		cfg.Health.BackoffMultiplier = c.Health.BackoffMultiplier
	}
	if c.Health.JitterLow > 0 && c.Health.JitterHigh >= c.Health.JitterLow {
		cfg.Health.JitterLow = c.Health.JitterLow
		cfg.Health.JitterHigh = c.Health.JitterHigh
	}
	setInt(&cfg.Health.RecoveryThreshold, c.Health.RecoveryThreshold)

	setDur(&cfg.SnapshotTimeout, c.SnapshotTimeoutSec)
	setDur(&cfg.TerminateTimeout, c.TerminateTimeoutSec)
	setDur(&cfg.KillTimeout, c.KillTimeoutSec)

	return cfg
}

func setInt(dst *int, v int) {
	if v > 0 {
		*dst = v
	}
}

func setDur(dst *time.Duration, seconds float64) {
	if seconds > 0 {
		*dst = time.Duration(seconds * float64(time.Second))
	}
}
