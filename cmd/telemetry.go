package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	consts "github.com/khanhnv2901/netlab/internal/shared/constants"
)

const telemetryFileName = "telemetry.jsonl"

type telemetryRecord struct {
	Timestamp       time.Time `json:"timestamp"`
	Command         string    `json:"command"`
	Host            string    `json:"host"`
	ResolvedIP      string    `json:"resolved_ip,omitempty"`
	TargetCount     int       `json:"target_count"`
	SuccessCount    int       `json:"success_count"`
	ErrorCount      int       `json:"error_count"`
	SuccessRate     float64   `json:"success_rate"`
	DurationSeconds float64   `json:"duration_seconds"`
	Error           string    `json:"error,omitempty"`
}

// probeTally summarizes one probe run for telemetry: how many units were
// attempted (ports, ping attempts) and how many succeeded.
type probeTally struct {
	Host       string
	ResolvedIP string
	Total      int
	Succeeded  int
	Err        error
}

func recordTelemetry(appCtx *AppContext, command string, tally probeTally, duration time.Duration) error {
	successRate := 0.0
	if tally.Total > 0 {
		successRate = (float64(tally.Succeeded) / float64(tally.Total)) * 100
	}

	record := telemetryRecord{
		Timestamp:       time.Now().UTC(),
		Command:         command,
		Host:            tally.Host,
		ResolvedIP:      tally.ResolvedIP,
		TargetCount:     tally.Total,
		SuccessCount:    tally.Succeeded,
		ErrorCount:      tally.Total - tally.Succeeded,
		SuccessRate:     successRate,
		DurationSeconds: duration.Seconds(),
	}
	if tally.Err != nil {
		record.Error = tally.Err.Error()
	}

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal telemetry: %w", err)
	}

	telemetryPath := filepath.Join(appCtx.ResultsDir, telemetryFileName)
	f, err := os.OpenFile(telemetryPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, consts.DefaultFilePerm)
	if err != nil {
		return fmt.Errorf("open telemetry file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write telemetry: %w", err)
	}

	return nil
}
