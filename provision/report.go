package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Report is posted to the inventory endpoint after a run.
type Report struct {
	Serial    string       `json:"serial"`
	Revision  string       `json:"revision"`
	Firmware  string       `json:"firmware,omitempty"`
	BatchID   string       `json:"batch_id,omitempty"`
	Succeeded bool         `json:"succeeded"`
	Steps     []ReportStep `json:"steps"`
}

type ReportStep struct {
	Step   string `json:"step"`
	Target string `json:"target"`
	Result string `json:"result"`
	Detail string `json:"detail,omitempty"`
}

func newReport(serial, revision, firmware, batch string, results []stepResult) Report {
	rep := Report{Serial: serial, Revision: revision, Firmware: firmware, BatchID: batch, Succeeded: true}
	for _, r := range results {
		rep.Steps = append(rep.Steps, ReportStep{Step: r.Step, Target: r.Target, Result: r.Result.String(), Detail: r.Detail})
		if !r.ok() {
			rep.Succeeded = false
		}
	}
	return rep
}

func sendReport(endpoint, bearerToken string, rep Report) error {
	payload, err := json.Marshal(rep)
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}

	req, err := http.NewRequest("POST", endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if bearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+bearerToken)
	}

	client := &http.Client{
		Timeout: 30 * time.Second,
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("API returned non-2xx status: %d %s", resp.StatusCode, resp.Status)
	}

	return nil
}
