// Command pdp-server is a thin example process that loads a model and a
// CSV policy file and exposes a minimal loopback HTTP health/debug
// surface. It carries no decision logic of its own -- it exists only to
// exercise the library end to end, the way the teacher's cmd/authz-server
// exercises go-core. A real front end (HTTP/gRPC API, auth, request
// routing) is explicitly out of scope (spec.md §1) and is not this
// binary's job.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/authz-engine/pdp/internal/adapter/fileadapter"
	"github.com/authz-engine/pdp/pkg/pdp"
)

func main() {
	modelPath := flag.String("model", "", "path to the model configuration file")
	policyPath := flag.String("policy", "", "path to the CSV policy file")
	addr := flag.String("addr", "127.0.0.1:8181", "address for the health/debug endpoint")
	logPath := flag.String("log-file", "", "optional rotating log file path; defaults to stderr")
	flag.Parse()

	if *modelPath == "" {
		fmt.Fprintln(os.Stderr, "pdp-server: -model is required")
		os.Exit(2)
	}

	logger := buildLogger(*logPath)
	defer logger.Sync()

	fa := fileadapter.New(*policyPath, logger)
	enforcer, err := pdp.NewEnforcerFromFile(*modelPath, pdp.WithAdapter(fa), pdp.WithLogger(logger))
	if err != nil {
		log.Fatalf("pdp-server: building enforcer: %v", err)
	}
	if *policyPath != "" {
		if err := enforcer.LoadPolicy(); err != nil {
			log.Fatalf("pdp-server: loading policy: %v", err)
		}
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok\n"))
	})
	mux.HandleFunc("/debug/policy", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"policy":   enforcer.GetPolicy(),
			"filtered": enforcer.IsFiltered(),
		})
	})

	logger.Info("pdp-server: listening", zap.String("addr", *addr))
	if err := http.ListenAndServe(*addr, mux); err != nil {
		log.Fatalf("pdp-server: %v", err)
	}
}

// buildLogger mirrors the teacher's rotating-file logging setup: a JSON
// encoder over a lumberjack sink when a log file is configured, plain
// zap.NewProduction otherwise.
func buildLogger(logPath string) *zap.Logger {
	if logPath == "" {
		logger, _ := zap.NewProduction()
		return logger
	}
	writer := zapcore.AddSync(&lumberjack.Logger{
		Filename:   logPath,
		MaxSize:    100,
		MaxBackups: 5,
		MaxAge:     28,
	})
	encoder := zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
	core := zapcore.NewCore(encoder, writer, zap.InfoLevel)
	return zap.New(core)
}
