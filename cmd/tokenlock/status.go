// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tokenlock Contributors

package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"
)

const (
	statusTimeout      = 2 * time.Second
	pendingMetricName  = "tokenlock_pending_requests"
	maxStatusBodyBytes = 4 << 20
)

// ServerStatus holds what a running instance reports about itself.
type ServerStatus struct {
	Addr            string `json:"addr"`
	Live            bool   `json:"live"`
	Ready           bool   `json:"ready"`
	PendingRequests *int   `json:"pending_requests,omitempty"`
	Error           string `json:"error,omitempty"`
}

// statusConfig holds configuration for the status command.
type statusConfig struct {
	jsonOutput bool
}

// NewStatusCmd creates the status subcommand.
func NewStatusCmd() *cobra.Command {
	cfg := &statusConfig{}

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show status of a running tokenlock server",
		Long:  `Query the health endpoints of a running tokenlock server.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStatus(cmd, cfg)
		},
	}

	cmd.Flags().String("metrics-addr", defaultMetricsAddr, "metrics/health address of the server")
	cmd.Flags().BoolVar(&cfg.jsonOutput, "json", false, "output status as JSON")

	return cmd
}

// runStatus executes the status command. The command fails when the server
// is not ready so scripts can rely on the exit code.
func runStatus(cmd *cobra.Command, cfg *statusConfig) error {
	conf, err := loadConfig(configFile, cmd.Flags())
	if err != nil {
		return err
	}
	addr := conf.Metrics.Addr
	if addr == "" {
		return oops.Code("CONFIG_INVALID").Errorf("metrics address is required to query status")
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	client := &http.Client{Timeout: statusTimeout}
	status := queryServerStatus(ctx, client, addr)

	if cfg.jsonOutput {
		output, err := formatStatusJSON(status)
		if err != nil {
			return err
		}
		cmd.Println(output)
	} else {
		cmd.Print(formatStatusTable(status))
	}

	if !status.Ready {
		return oops.Code("SERVER_NOT_READY").With("addr", addr).Errorf("tokenlock at %s is not ready", addr)
	}
	return nil
}

// queryServerStatus probes liveness, readiness and the pending request gauge.
func queryServerStatus(ctx context.Context, client *http.Client, addr string) ServerStatus {
	status := ServerStatus{Addr: addr}
	base := "http://" + addr

	code, _, err := get(ctx, client, base+"/healthz/liveness")
	if err != nil {
		status.Error = fmt.Sprintf("failed to connect: %v", err)
		return status
	}
	status.Live = code == http.StatusOK

	code, _, err = get(ctx, client, base+"/healthz/readiness")
	if err != nil {
		status.Error = fmt.Sprintf("readiness probe failed: %v", err)
		return status
	}
	status.Ready = code == http.StatusOK

	// Pending requests are informational; a failed scrape is not an error.
	if code, body, err := get(ctx, client, base+"/metrics"); err == nil && code == http.StatusOK {
		if n, ok := parseGauge(body, pendingMetricName); ok {
			status.PendingRequests = &n
		}
	}
	return status
}

func get(ctx context.Context, client *http.Client, url string) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxStatusBodyBytes))
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, body, nil
}

// parseGauge finds an unlabelled sample in Prometheus text exposition output.
func parseGauge(body []byte, name string) (int, bool) {
	scanner := bufio.NewScanner(bytes.NewReader(body))
	for scanner.Scan() {
		rest, ok := strings.CutPrefix(scanner.Text(), name+" ")
		if !ok {
			continue
		}
		fields := strings.Fields(rest)
		if len(fields) == 0 {
			return 0, false
		}
		v, err := strconv.ParseFloat(fields[0], 64)
		if err != nil {
			return 0, false
		}
		return int(v), true
	}
	return 0, false
}

// formatStatusTable formats the status as a human-readable table.
func formatStatusTable(status ServerStatus) string {
	var buf bytes.Buffer
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)

	_, _ = fmt.Fprintln(w, "ADDRESS\tLIVE\tREADY\tPENDING")
	_, _ = fmt.Fprintln(w, "-------\t----\t-----\t-------")

	if status.Error != "" {
		_, _ = fmt.Fprintf(w, "%s\t-\t-\t%s\n", status.Addr, status.Error)
	} else {
		pending := "-"
		if status.PendingRequests != nil {
			pending = strconv.Itoa(*status.PendingRequests)
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", status.Addr, yesNo(status.Live), yesNo(status.Ready), pending)
	}

	_ = w.Flush()
	return buf.String()
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

// formatStatusJSON formats the status as JSON.
func formatStatusJSON(status ServerStatus) (string, error) {
	data, err := json.MarshalIndent(status, "", "  ")
	if err != nil {
		return "", oops.Code("STATUS_FORMAT_FAILED").Wrap(err)
	}
	return string(data), nil
}
