package main

import (
	"fmt"
	"os"
	"os/signal"
	"path"
	"runtime"
	"strings"
	"time"

	nested "github.com/antonfisher/nested-logrus-formatter"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	flag "github.com/spf13/pflag"

	"github.com/twopc-transfer/config"
	"github.com/twopc-transfer/coordinator"
	httpd "github.com/twopc-transfer/http"
	"github.com/twopc-transfer/metric"
	"github.com/twopc-transfer/participant"
)

const (
	// DefaultListenAddress is the coordinator HTTP address.
	DefaultListenAddress = "localhost:11000"
	// DefaultConfigPath ...
	DefaultConfigPath = "config/cluster-config.json"
)

// Command line parameters
var (
	configPath     string
	listenAddress  string
	nodeID         string
	initialBalance int64
	auditPath      string
	isCoordinator  bool
)

func init() {
	flag.StringVarP(&configPath, "config", "f", DefaultConfigPath, "Cluster config file")
	flag.BoolVarP(&isCoordinator, "coordinator", "c", false, "Start as coordinator")
	flag.StringVarP(&listenAddress, "listen", "l", DefaultListenAddress,
		"Set the coordinator HTTP listen address")
	flag.StringVarP(&nodeID, "id", "i", "", "Participant ID, must match a config entry")
	flag.Int64VarP(&initialBalance, "balance", "b", 1000, "Initial account balance")
	flag.StringVarP(&auditPath, "audit", "a", "", "Audit journal file, disabled if empty")

	flag.Usage = func() {
		log.Errorf("Usage: %s [options]\n", os.Args[0])
		flag.PrintDefaults()
	}
}

func main() {
	flag.Parse()
	logger := log.New()
	logger.SetFormatter(&nested.Formatter{
		HideKeys:    true,
		FieldsOrder: []string{"component"},
		CustomCallerFormatter: func(f *runtime.Frame) string {
			s := strings.Split(f.Function, ".")
			funcName := s[len(s)-1]
			return fmt.Sprintf(" [%s:%d][%s()]", path.Base(f.File), f.Line, funcName)
		},
		CallerFirst: true,
	})
	logger.SetReportCaller(true)
	log := logger.WithField("component", "main")

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("unable to load config: %s", err)
	}

	if isCoordinator {
		m := metric.New(prometheus.DefaultRegisterer, "twopc")
		coord, err := coordinator.New(logger, cfg, m)
		if err != nil {
			log.Fatalf("unable to start coordinator: %s", err)
		}
		h := httpd.NewService(logger, listenAddress, coord)
		if err := h.Start(); err != nil {
			log.Fatalf("unable to start HTTP service: %s", err)
		}
		defer h.Close()
	} else {
		entry, ok := cfg.Lookup(nodeID)
		if !ok {
			log.Fatalf("participant id %q not present in %s", nodeID, configPath)
		}
		p, err := participant.New(logger, participant.Options{
			ID:             nodeID,
			InitialBalance: initialBalance,
			LockTimeout:    time.Duration(cfg.LockTimeout),
			CommitTimeout:  time.Duration(cfg.CommitTimeout),
			AuditPath:      auditPath,
		})
		if err != nil {
			log.Fatalf("unable to start participant: %s", err)
		}
		if err := p.Serve(entry.Address); err != nil {
			log.Fatalf("unable to serve participant rpc: %s", err)
		}
		defer p.Close()
	}

	log.Info("node started successfully")
	terminate := make(chan os.Signal, 1)
	signal.Notify(terminate, os.Interrupt)
	<-terminate
	log.Info("node exiting")
}
