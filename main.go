package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"chainsight/activity"
	"chainsight/config"
	"chainsight/db"
	"chainsight/flow"
	"chainsight/holders"
	"chainsight/metrics"
	"chainsight/middleware"
	"chainsight/models"
	"chainsight/monitoring"
	"chainsight/risk"
	"chainsight/rpcpool"
	"chainsight/scanner"
	"chainsight/utils"
	"chainsight/ws"
)

type app struct {
	cfg       *config.Config
	pools     *rpcpool.Manager
	exec      *rpcpool.Executor
	scan      *scanner.Service
	holders   *holders.Service
	flow      *flow.Service
	activity  *activity.Service
	hub       *ws.Hub
	telemetry chan db.ScanReportRow
}

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("No .env file loaded: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	if err := utils.InitLogger(); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	pools := rpcpool.NewManager(cfg)
	exec := rpcpool.NewExecutor(pools, cfg.Scan.MaxAttempts)
	scanSvc := scanner.NewService(exec, cfg)

	a := &app{
		cfg:       cfg,
		pools:     pools,
		exec:      exec,
		scan:      scanSvc,
		holders:   holders.NewService(scanSvc),
		flow:      flow.NewService(scanSvc),
		activity:  activity.NewService(scanSvc, activity.NewStaticRegistry(cfg.KnownContracts)),
		hub:       ws.NewHub(),
		telemetry: make(chan db.ScanReportRow, cfg.App.BufferSize),
	}

	scanSvc.SetObserver(func(chain string, token common.Address, p scanner.Progress) {
		a.hub.Publish(ws.ProgressFrame{
			Scan:      "logs",
			Chain:     chain,
			Token:     token.Hex(),
			From:      p.From,
			To:        p.To,
			Cursor:    p.Cursor,
			ChunkSize: p.ChunkSize,
			Logs:      p.Logs,
		})
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	startTelemetryFlusher(ctx, cfg, a.telemetry)
	monitoring.StartMetricsCollection()

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/holders", a.handleHolders)
	mux.HandleFunc("/api/v1/flow", a.handleFlow)
	mux.HandleFunc("/api/v1/activity", a.handleActivity)
	mux.HandleFunc("/api/v1/risk", a.handleRisk)
	mux.HandleFunc("/health", monitoring.HealthHandler(pools))
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/stats", statsHandler)
	mux.HandleFunc("/ws/progress", a.hub.Handler)

	server := &http.Server{
		Addr:    cfg.App.ListenAddr,
		Handler: utils.RequestLogger(middleware.Recover(mux)),
	}

	go func() {
		utils.Logger.Infow("Listening", "addr", cfg.App.ListenAddr, "chains", pools.Chains())
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			utils.Error(err, "Server error")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	utils.Logger.Infow("Shutting down")
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	server.Shutdown(shutdownCtx)
}

// startTelemetryFlusher batches finished-scan rows into ClickHouse when a
// sink is configured. The connect is retried with exponential backoff so a
// sink that comes up late still gets the archive; a down sink never blocks
// the scan path: writes go through the telemetry breaker and drops are
// silent.
func startTelemetryFlusher(ctx context.Context, cfg *config.Config, rows chan db.ScanReportRow) {
	if cfg.ClickHouse.Host == "" {
		return
	}

	go func() {
		var sink *db.TelemetryDB
		err := utils.Retry(ctx, utils.NewExponentialBackoff(), "clickhouse-connect", func() error {
			s, err := db.NewTelemetryDB(cfg)
			if err != nil {
				return err
			}
			sink = s
			return nil
		})
		if err != nil {
			utils.Error(err, "Telemetry sink unavailable, scan archive disabled")
			return
		}

		buffer := make([]db.ScanReportRow, 0, 256)
		ticker := time.NewTicker(cfg.ClickHouse.FlushInterval)
		defer ticker.Stop()

		flush := func() {
			if len(buffer) == 0 {
				return
			}
			batch := buffer
			buffer = buffer[:0]
			err := middleware.WithTelemetryBreaker(func() error {
				return sink.InsertScanReports(ctx, batch)
			})
			if err != nil {
				utils.Error(err, "Telemetry flush failed", "rows", len(batch))
			}
		}

		for {
			select {
			case <-ctx.Done():
				flush()
				sink.Close()
				return
			case row := <-rows:
				buffer = append(buffer, row)
			case <-ticker.C:
				flush()
			}
		}
	}()
}

func (a *app) recordScan(chain, token, operation string, cov models.Coverage, started time.Time) {
	row := db.ScanReportRow{
		Timestamp:       time.Now(),
		Chain:           chain,
		Token:           token,
		Operation:       operation,
		RequestedBlocks: cov.RequestedBlocks,
		ScannedBlocks:   cov.ScannedBlocks,
		CoveragePercent: uint8(cov.Percent()),
		DurationMs:      uint64(time.Since(started).Milliseconds()),
	}
	if cov.Degraded {
		row.Degraded = 1
	}
	if cov.RateLimited {
		row.RateLimited = 1
	}
	select {
	case a.telemetry <- row:
	default:
	}
}

func (a *app) handleHolders(w http.ResponseWriter, r *http.Request) {
	chain, token, ok := parseTokenQuery(w, r, a.cfg)
	if !ok {
		return
	}
	depth := parseUint(r.URL.Query().Get("depth"))
	mode := holders.ModeApproximate
	if r.URL.Query().Get("mode") == "accurate" {
		mode = holders.ModeAccurate
	}

	started := time.Now()
	report, err := a.holders.Scan(r.Context(), chain, token, depth, mode)
	monitoring.RequestDuration.WithLabelValues("holders").Observe(time.Since(started).Seconds())
	if err != nil {
		monitoring.ErrorCounter.WithLabelValues("holders").Inc()
		writeError(w, err)
		return
	}
	a.recordScan(chain, token.Hex(), "holders", report.Coverage, started)
	writeJSON(w, report)
}

func (a *app) handleFlow(w http.ResponseWriter, r *http.Request) {
	chain, token, ok := parseTokenQuery(w, r, a.cfg)
	if !ok {
		return
	}

	started := time.Now()
	report, err := a.flow.Analyze(r.Context(), chain, token)
	monitoring.RequestDuration.WithLabelValues("flow").Observe(time.Since(started).Seconds())
	if err != nil {
		monitoring.ErrorCounter.WithLabelValues("flow").Inc()
		writeError(w, err)
		return
	}
	a.recordScan(chain, token.Hex(), "flow", report.Coverage, started)
	writeJSON(w, report)
}

func (a *app) handleActivity(w http.ResponseWriter, r *http.Request) {
	chain, token, ok := parseTokenQuery(w, r, a.cfg)
	if !ok {
		return
	}
	depth := parseUint(r.URL.Query().Get("depth"))

	started := time.Now()
	report, err := a.activity.Analyze(r.Context(), chain, token, depth)
	monitoring.RequestDuration.WithLabelValues("activity").Observe(time.Since(started).Seconds())
	if err != nil {
		monitoring.ErrorCounter.WithLabelValues("activity").Inc()
		writeError(w, err)
		return
	}
	a.recordScan(chain, token.Hex(), "activity", report.Coverage, started)
	writeJSON(w, report)
}

func (a *app) handleRisk(w http.ResponseWriter, r *http.Request) {
	chain, token, ok := parseTokenQuery(w, r, a.cfg)
	if !ok {
		return
	}

	reader := risk.NewExecutorReader(a.exec, chain, a.cfg.Scan.CallTimeout)
	engine := risk.NewEngine(reader, a.cfg.Chains[chain].BlocksPerHour)

	started := time.Now()
	report := engine.Assess(r.Context(), token)
	monitoring.RequestDuration.WithLabelValues("risk").Observe(time.Since(started).Seconds())
	writeJSON(w, report)
}

func parseTokenQuery(w http.ResponseWriter, r *http.Request, cfg *config.Config) (string, common.Address, bool) {
	q := r.URL.Query()
	chain := q.Get("chain")
	if chain == "" {
		chain = "ethereum"
	}
	if _, ok := cfg.Chains[chain]; !ok {
		http.Error(w, "unknown chain", http.StatusBadRequest)
		return "", common.Address{}, false
	}
	tokenStr := q.Get("token")
	if !common.IsHexAddress(tokenStr) {
		http.Error(w, "invalid token address", http.StatusBadRequest)
		return "", common.Address{}, false
	}
	return chain, common.HexToAddress(tokenStr), true
}

func parseUint(s string) uint64 {
	v, _ := strconv.ParseUint(s, 10, 64)
	return v
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadGateway)
	json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}

func statsHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	scans, degraded, lastScan, uptime := metrics.GetStats()
	w.Write([]byte(
		"scans_completed_total " + strconv.FormatUint(scans, 10) + "\n" +
			"scans_degraded_total " + strconv.FormatUint(degraded, 10) + "\n" +
			"last_scan_timestamp " + strconv.FormatInt(lastScan, 10) + "\n" +
			"uptime_seconds " + strconv.FormatFloat(uptime.Seconds(), 'f', 1, 64) + "\n",
	))
}
