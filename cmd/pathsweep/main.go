// pathsweep bulk-deletes relay paths from the media server. Useful when a
// test run or a crashed control plane leaves stale path configs behind.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/edgewatch/camd/internal/mediamtx"
)

func main() {
	// CLI flags
	host := flag.String("host", "127.0.0.1", "media server host")
	port := flag.Int("port", 9997, "media server API port")
	prefix := flag.String("prefix", "", "only delete paths with this name prefix")
	dryRun := flag.Bool("dry-run", false, "list matching paths without deleting")
	flag.Parse()

	if *prefix == "" && !*dryRun {
		fmt.Println("Usage: ./pathsweep -prefix=<name_prefix> [-dry-run]")
		fmt.Println("Refusing to sweep every path without an explicit prefix.")
		os.Exit(1)
	}

	log := buildLogger()
	log = log.Named("main")

	client := mediamtx.NewClient(log, *host, *port, 5*time.Second)
	defer client.Close()

	paths, err := client.PathList(context.TODO())
	if err != nil {
		log.Fatal("path list failed", zap.Error(err))
	}

	var matched []string
	for _, p := range paths {
		if strings.HasPrefix(p.Name, *prefix) {
			matched = append(matched, p.Name)
		}
	}
	log.Info("paths matched", zap.Int("matched", len(matched)), zap.Int("total", len(paths)))

	for idx, name := range matched {
		if *dryRun {
			log.Info("would delete", zap.String("path", name))
			continue
		}

		iterStart := time.Now()
		if err := client.DeletePath(context.TODO(), name); err != nil {
			log.Fatal("path deletion failed",
				zap.String("path", name),
				zap.Error(err),
			)
		}

		log.Info("path deleted",
			zap.String("path", name),
			zap.Int("deleted", idx+1),
			zap.Int("total", len(matched)),
			zap.Duration("took", time.Since(iterStart)),
		)
	}
}

func buildLogger() *zap.Logger {
	logConfig := zap.NewDevelopmentConfig()
	logConfig.EncoderConfig.TimeKey = ""
	logConfig.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	logConfig.DisableStacktrace = true
	logConfig.DisableCaller = true
	logConfig.Level.SetLevel(zap.DebugLevel)
	return zap.Must(logConfig.Build())
}
