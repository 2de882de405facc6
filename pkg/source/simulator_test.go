package source

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"github.com/paygraph/paygraph/internal/model"
	pgerrors "github.com/paygraph/paygraph/pkg/errors"
)

func testLogger() *logrus.Entry {
	logger, _ := test.NewNullLogger()
	return logrus.NewEntry(logger)
}

func smallSimulation() SimulationConfig {
	cfg := DefaultSimulationConfig()
	cfg.Steps = 5
	cfg.TransactionsPerStep = 40
	cfg.Clients = 50
	cfg.Merchants = 10
	cfg.Banks = 2
	cfg.Mules = 3
	cfg.FraudRate = 0.1
	cfg.QueueDepth = 8
	return cfg
}

func drain(t *testing.T, s *Simulator) []model.Transaction {
	t.Helper()
	var out []model.Transaction
	for s.HasNext() {
		tx, err := s.Next()
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		out = append(out, tx)
	}
	return out
}

func TestSimulatorGeneratesEverySlot(t *testing.T) {
	cfg := smallSimulation()
	sim, err := NewSimulator(cfg, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	if err := sim.Run(); err != nil {
		t.Fatal(err)
	}

	txs := drain(t, sim)
	if int64(len(txs)) < cfg.Total() {
		t.Fatalf("got %d records, want at least %d", len(txs), cfg.Total())
	}

	fraud := 0
	for i, tx := range txs {
		if tx.GlobalStep != int64(i) {
			t.Fatalf("record %d has global step %d", i, tx.GlobalStep)
		}
		if tx.SenderID == tx.ReceiverID {
			t.Errorf("record %d is a self transfer", i)
		}
		if tx.Step < 0 || tx.Step >= cfg.Steps {
			t.Errorf("record %d has step %d", i, tx.Step)
		}
		if tx.Fraud {
			fraud++
		}
		if tx.Action == model.ActionDebit && tx.ReceiverKind != model.ActorBank {
			t.Errorf("debit to %s", tx.ReceiverKind)
		}
	}
	if extra := int64(len(txs)) - cfg.Total(); int64(fraud) != 2*extra {
		t.Errorf("fraud records %d, want twice the %d extra records", fraud, extra)
	}

	if _, err := sim.Next(); !pgerrors.IsCode(err, pgerrors.CodeExhausted) {
		t.Errorf("expected exhaustion, got %v", err)
	}
}

func TestSimulatorIsDeterministic(t *testing.T) {
	a, _ := NewSimulator(smallSimulation(), testLogger())
	b, _ := NewSimulator(smallSimulation(), testLogger())
	a.Run()
	b.Run()

	left, right := drain(t, a), drain(t, b)
	if len(left) != len(right) {
		t.Fatalf("lengths differ: %d vs %d", len(left), len(right))
	}
	for i := range left {
		if left[i] != right[i] {
			t.Fatalf("record %d differs", i)
		}
	}
}

func TestSimulatorAbortTwice(t *testing.T) {
	sim, _ := NewSimulator(smallSimulation(), testLogger())
	if err := sim.Run(); err != nil {
		t.Fatal(err)
	}
	if _, err := sim.Next(); err != nil {
		t.Fatal(err)
	}

	if err := sim.Abort(); err != nil {
		t.Fatalf("first abort: %v", err)
	}
	if err := sim.Abort(); !pgerrors.IsCode(err, pgerrors.CodeAlreadyAborted) {
		t.Fatalf("second abort should fail with already aborted, got %v", err)
	}

	// A buffered record may still be peeked; after that the stream ends.
	for i := 0; i < 2 && sim.HasNext(); i++ {
		sim.Next()
	}
	if sim.HasNext() {
		t.Error("aborted simulator still has records")
	}
}

func TestSimulatorRunTwice(t *testing.T) {
	sim, _ := NewSimulator(smallSimulation(), testLogger())
	if err := sim.Run(); err != nil {
		t.Fatal(err)
	}
	defer sim.Abort()
	if err := sim.Run(); !pgerrors.IsCode(err, pgerrors.CodeAlreadyRunning) {
		t.Fatalf("expected already running, got %v", err)
	}
}

func TestSimulatorPopulation(t *testing.T) {
	cfg := smallSimulation()
	sim, _ := NewSimulator(cfg, testLogger())

	if len(sim.Clients()) != cfg.Clients || len(sim.Identities()) != cfg.Clients {
		t.Errorf("clients %d, identities %d", len(sim.Clients()), len(sim.Identities()))
	}
	if len(sim.Mules()) != cfg.Mules || len(sim.Banks()) != cfg.Banks || len(sim.Merchants()) != cfg.Merchants {
		t.Error("population size mismatch")
	}

	ids := make(map[string]bool)
	for _, group := range [][]model.Actor{sim.Clients(), sim.Mules(), sim.Merchants(), sim.Banks()} {
		for _, a := range group {
			if ids[a.ID] {
				t.Errorf("duplicate actor id %s", a.ID)
			}
			ids[a.ID] = true
		}
	}
	if sim.Merchants()[0].Properties["category"] == "" {
		t.Error("merchant properties missing")
	}
}

func TestSimulationExpected(t *testing.T) {
	tests := []struct {
		name string
		cfg  SimulationConfig
		want int64
	}{
		{"no fraud", SimulationConfig{Steps: 10, TransactionsPerStep: 100, Mules: 5}, 1000},
		{"fraud pairs", SimulationConfig{Steps: 10, TransactionsPerStep: 100, Mules: 5, FraudRate: 0.1}, 1100},
		{"no mules", SimulationConfig{Steps: 10, TransactionsPerStep: 100, FraudRate: 0.1}, 1000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cfg.Expected(); got != tt.want {
				t.Errorf("Expected() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestSimulatorRejectsBadConfig(t *testing.T) {
	cfg := smallSimulation()
	cfg.MerchantSkew = 1
	if _, err := NewSimulator(cfg, testLogger()); !pgerrors.IsCode(err, pgerrors.CodeInvalidConfig) {
		t.Errorf("expected invalid config, got %v", err)
	}
}
