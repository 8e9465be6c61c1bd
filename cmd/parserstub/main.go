// Command parserstub is a local dev/test double for a backend parser and
// relevance oracle (C8's wire collaborators): it decodes base64 code and
// counts whitespace-delimited tokens as a stand-in symbol-usage multiset, and
// always reports every symbol as relevant. It exists so cmd/worker and
// cmd/scanner can be exercised end-to-end without a real language backend.
package main

import (
	"bufio"
	"context"
	"encoding/base64"
	"encoding/json"
	"flag"
	"log/slog"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rebase-inc/knowledge-scanner/internal/adapter/observability"
	"github.com/rebase-inc/knowledge-scanner/internal/config"
	"github.com/rebase-inc/knowledge-scanner/internal/tcp"
)

type backendRequest struct {
	Code    string         `json:"code"`
	Context map[string]any `json:"context"`
}

type backendResponse struct {
	Error    string         `json:"error,omitempty"`
	UseCount map[string]int `json:"use_count,omitempty"`
}

type oracleRequest struct {
	Module  string         `json:"module"`
	Context map[string]any `json:"context"`
}

type oracleResponse struct {
	Impact int `json:"impact"`
}

func main() {
	port := flag.Int("port", 26001, "port to bind the stub on")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := tcp.NewServer(tcp.ServerConfig{
		Address:    "0.0.0.0",
		Port:       *port,
		BufferSize: cfg.ParserBufferSize,
	}, handle, logger)

	slog.Info("parser stub starting", slog.Int("port", *port))
	if err := srv.ListenAndServe(ctx); err != nil {
		slog.Error("parser stub stopped", slog.Any("error", err))
	}
}

func handle(ctx context.Context, request json.RawMessage) (any, error) {
	var probe struct {
		Module string `json:"module"`
		Code   string `json:"code"`
	}
	if err := json.Unmarshal(request, &probe); err != nil {
		return backendResponse{Error: err.Error()}, nil
	}
	if probe.Module != "" {
		var req oracleRequest
		_ = json.Unmarshal(request, &req)
		return oracleResponse{Impact: 1}, nil
	}

	var req backendRequest
	if err := json.Unmarshal(request, &req); err != nil {
		return backendResponse{Error: err.Error()}, nil
	}
	blob, err := base64.StdEncoding.DecodeString(req.Code)
	if err != nil {
		return backendResponse{Error: err.Error()}, nil
	}
	return backendResponse{UseCount: tokenize(blob)}, nil
}

func tokenize(blob []byte) map[string]int {
	counts := map[string]int{}
	scanner := bufio.NewScanner(strings.NewReader(string(blob)))
	scanner.Split(bufio.ScanWords)
	for scanner.Scan() {
		tok := strings.Trim(scanner.Text(), "()[]{}.,:;\"'")
		if tok == "" {
			continue
		}
		counts[tok]++
	}
	return counts
}
