package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/FilipeBarcellos/integrationm-greenn/internal/mailer"
	"github.com/FilipeBarcellos/integrationm-greenn/internal/store"
	"github.com/FilipeBarcellos/integrationm-greenn/internal/webhook"
	"github.com/FilipeBarcellos/integrationm-greenn/pkg/kafka"
	"github.com/FilipeBarcellos/integrationm-greenn/pkg/logging"
	"github.com/FilipeBarcellos/integrationm-greenn/pkg/metrics"
	"github.com/FilipeBarcellos/integrationm-greenn/pkg/outbox"
)

const maxBodyBytes = 64 * 1024

type cfg struct {
	Port        string
	DatabaseURL string

	LogEnabled  bool
	LogRawData  bool
	LogFilePath string

	SMTPHost     string
	SMTPPort     string
	SMTPUsername string
	SMTPPassword string
	MailFrom     string

	KafkaBrokers  string
	KafkaTopic    string
	RelayInterval time.Duration
}

func readCfg() (cfg, error) {
	db := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if db == "" {
		return cfg{}, errors.New("DATABASE_URL is required")
	}
	relayMS, _ := strconv.Atoi(getenv("OUTBOX_RELAY_MS", "1000"))

	return cfg{
		Port:          getenv("PORT", "8080"),
		DatabaseURL:   db,
		LogEnabled:    boolenv("LOG_ENABLED", true),
		LogRawData:    boolenv("LOG_RAW_DATA", false),
		LogFilePath:   getenv("LOG_FILE_PATH", "greenn.log"),
		SMTPHost:      getenv("SMTP_HOST", "localhost"),
		SMTPPort:      getenv("SMTP_PORT", "25"),
		SMTPUsername:  getenv("SMTP_USERNAME", ""),
		SMTPPassword:  getenv("SMTP_PASSWORD", ""),
		MailFrom:      getenv("MAIL_FROM", "no-reply@academiadoimportador.com.br"),
		KafkaBrokers:  getenv("KAFKA_BROKERS", ""),
		KafkaTopic:    getenv("KAFKA_TOPIC", "greenn.events"),
		RelayInterval: time.Duration(relayMS) * time.Millisecond,
	}, nil
}

func main() {
	cfg, err := readCfg()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db connect error: %v", err)
	}
	defer pool.Close()

	if err := pingDB(ctx, pool); err != nil {
		log.Fatalf("db ping error: %v", err)
	}

	eventLog := logging.New(logging.Config{
		Enabled:    cfg.LogEnabled,
		RawEnabled: cfg.LogRawData,
		Path:       cfg.LogFilePath,
	})

	mail := mailer.New(mailer.Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.MailFrom,
	})

	auditor := &outbox.Auditor{Pool: pool, Topic: cfg.KafkaTopic}
	engine := webhook.NewEngine(store.New(pool), mail, eventLog, auditor)

	kafkaClient := kafka.NewClient(cfg.KafkaBrokers)
	if kafkaClient.Enabled() {
		go outbox.Relay(context.Background(), pool, kafkaClient, cfg.KafkaTopic, cfg.RelayInterval)
	}

	srvMetrics := metrics.NewServerMetrics("webhook_service")

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		if err := pool.Ping(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "db_error"})
			observe(srvMetrics, "health", http.StatusServiceUnavailable, start)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
		observe(srvMetrics, "health", http.StatusOK, start)
	})
	mux.Handle("/metrics", metrics.Handler())

	mux.HandleFunc("/greenn-webhook/v1/process", func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		if r.Method != http.MethodPost {
			writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"error": "method not allowed"})
			observe(srvMetrics, "process", http.StatusMethodNotAllowed, start)
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		body, err := io.ReadAll(r.Body)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, webhook.Response{Message: "No data provided"})
			observe(srvMetrics, "process", http.StatusBadRequest, start)
			return
		}

		headers := make(map[string]string, len(r.Header))
		for k := range r.Header {
			headers[k] = r.Header.Get(k)
		}

		ctx, cancel := context.WithTimeout(r.Context(), 15*time.Second)
		defer cancel()

		status, resp := engine.Handle(ctx, body, headers)
		writeJSON(w, status, resp)
		observe(srvMetrics, "process", status, start)
		srvMetrics.Events.WithLabelValues(outcomeLabel(status)).Inc()
	})

	srv := &http.Server{Addr: ":" + cfg.Port, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	log.Printf("webhook-service listening on :%s (raw logging=%v, kafka=%v)", cfg.Port, cfg.LogRawData, kafkaClient.Enabled())
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("http server error: %v", err)
	}
}

func pingDB(ctx context.Context, pool *pgxpool.Pool) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return pool.Ping(ctx)
}

func observe(m *metrics.ServerMetrics, handler string, status int, start time.Time) {
	m.Requests.WithLabelValues(handler, strconv.Itoa(status)).Inc()
	m.LatencyMS.WithLabelValues(handler).Observe(float64(time.Since(start).Milliseconds()))
}

func outcomeLabel(status int) string {
	switch {
	case status == http.StatusOK:
		return "processed"
	case status < http.StatusInternalServerError:
		return "rejected"
	default:
		return "failed"
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func getenv(k, def string) string {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def
	}
	return v
}

func boolenv(k string, def bool) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(k)))
	if v == "" {
		return def
	}
	return v == "1" || v == "true" || v == "yes"
}
