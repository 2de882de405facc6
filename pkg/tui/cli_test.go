package tui

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/paygraph/paygraph/internal/model"
	"github.com/paygraph/paygraph/pkg/enrich"
	"github.com/paygraph/paygraph/pkg/ingest"
	"github.com/paygraph/paygraph/pkg/partition"
)

func TestPrintSummary(t *testing.T) {
	var buf bytes.Buffer
	PrintSummary(&buf, Summary{
		RunID:   "run-1",
		Source:  "sim",
		Backend: "duckdb",
		Stats: ingest.Stats{
			Batches:        4,
			Buckets:        13,
			RecordsWritten: 2000,
			FailedWrites:   1,
			Elapsed:        65 * time.Second,
		},
		Passes: []enrich.PassResult{{Name: "label_mules", Chunks: 1}},
	})

	out := buf.String()
	for _, want := range []string{"LOAD COMPLETE", "run-1", "2.0K", "4 (13 buckets)", "1m 5s", "Failed writes", "label_mules"} {
		if !strings.Contains(out, want) {
			t.Errorf("summary lacks %q:\n%s", want, out)
		}
	}
}

func TestPrintSummaryFailure(t *testing.T) {
	var buf bytes.Buffer
	PrintSummary(&buf, Summary{Source: "csv", Backend: "neo4j", Err: errors.New("[E301] write failed")})

	out := buf.String()
	if !strings.Contains(out, "LOAD FAILED") || !strings.Contains(out, "[E301] write failed") {
		t.Errorf("unexpected output:\n%s", out)
	}
	if strings.Contains(out, "Run:") {
		t.Error("empty run id should be omitted")
	}
}

func TestPrintPlan(t *testing.T) {
	var batch []model.Transaction
	for i := 0; i < 6; i++ {
		batch = append(batch, model.Transaction{
			GlobalStep: int64(i),
			SenderID:   fmt.Sprintf("C%d", i),
			ReceiverID: fmt.Sprintf("M%d", i),
		})
	}
	plan := partition.Partition(batch, 3)

	var buf bytes.Buffer
	PrintPlan(&buf, 7, plan)

	out := buf.String()
	// Six two-participant components against a threshold of 2: one per
	// primary bucket, the rest in overflow.
	for _, want := range []string{"batch    7", "buckets=[1 1 1 +3]", "threshold=2", "components=6", "overflow="} {
		if !strings.Contains(out, want) {
			t.Errorf("plan lacks %q: %s", want, out)
		}
	}
}

func TestLoadProgress(t *testing.T) {
	var buf bytes.Buffer
	p := NewLoadProgress(&buf, 100)
	p.Progress(ingest.Stats{RecordsWritten: 40})
	p.Finished(ingest.Stats{RecordsWritten: 100}, nil)

	estimated := NewLoadProgress(&buf, 100)
	estimated.Progress(ingest.Stats{RecordsWritten: 130})
	if estimated.max != 130 || estimated.bar.GetMax64() != 130 {
		t.Errorf("bar max = %d, want 130 after passing the estimate", estimated.bar.GetMax64())
	}
	estimated.Finished(ingest.Stats{RecordsWritten: 140}, nil)

	spinner := NewLoadProgress(&buf, 0)
	spinner.Progress(ingest.Stats{RecordsWritten: 5})
	spinner.Finished(ingest.Stats{RecordsWritten: 5}, errors.New("aborted"))
	if spinner.max != -1 {
		t.Errorf("spinner max = %d, want -1", spinner.max)
	}
}

func TestFormatNumber(t *testing.T) {
	tests := []struct {
		in   int64
		want string
	}{
		{0, "0"},
		{999, "999"},
		{1500, "1.5K"},
		{2500000, "2.5M"},
	}
	for _, tt := range tests {
		if got := formatNumber(tt.in); got != tt.want {
			t.Errorf("formatNumber(%d) = %s, want %s", tt.in, got, tt.want)
		}
	}
}
