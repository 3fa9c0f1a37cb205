package bench

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/fxnlabs/hgemm/internal/config"
	"github.com/fxnlabs/hgemm/internal/gpu"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

// Case status values.
const (
	StatusPass    = "pass"
	StatusFail    = "fail"
	StatusSkipped = "skipped"
)

// Verification methods.
const (
	VerifyNone      = "none"
	VerifyReference = "reference"
	VerifyFreivalds = "freivalds"
)

// Result is the outcome of one kernel on one shape.
type Result struct {
	Kernel       string       `json:"kernel"`
	Shape        config.Shape `json:"shape"`
	Status       string       `json:"status"`
	Reason       string       `json:"reason,omitempty"`
	Iterations   int          `json:"iterations"`
	AvgTimeMs    float64      `json:"avgTimeMs"`
	MinTimeMs    float64      `json:"minTimeMs"`
	TFLOPS       float64      `json:"tflops"`
	Verification string       `json:"verification"`
	MaxDiff      float64      `json:"maxDiff"`
	AvgDiff      float64      `json:"avgDiff"`
}

// Report collects the results of one benchmark run.
type Report struct {
	RunID      uuid.UUID      `json:"runId"`
	StartedAt  time.Time      `json:"startedAt"`
	FinishedAt time.Time      `json:"finishedAt"`
	Backend    string         `json:"backend"`
	Device     gpu.DeviceInfo `json:"device"`
	Results    []Result       `json:"results"`
}

func newReport(backend string, device gpu.DeviceInfo) *Report {
	return &Report{
		RunID:     uuid.New(),
		StartedAt: time.Now().UTC(),
		Backend:   backend,
		Device:    device,
	}
}

// Failed returns the number of failed cases.
func (r *Report) Failed() int {
	n := 0
	for _, res := range r.Results {
		if res.Status == StatusFail {
			n++
		}
	}
	return n
}

// WriteJSON writes the indented report to w.
func (r *Report) WriteJSON(w io.Writer) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding report: %w", err)
	}
	data = append(data, '\n')
	_, err = w.Write(data)
	return err
}

// Save writes the report to path.
func (r *Report) Save(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := r.WriteJSON(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// LoadReport reads a report written by Save.
func LoadReport(path string) (*Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var r Report
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decoding report %s: %w", path, err)
	}
	return &r, nil
}
