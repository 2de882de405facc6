package source

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"strconv"

	"github.com/sirupsen/logrus"

	"github.com/paygraph/paygraph/internal/model"
	pgerrors "github.com/paygraph/paygraph/pkg/errors"
)

// SimulationConfig shapes the simulated network.
type SimulationConfig struct {
	Seed                int64
	Steps               int
	TransactionsPerStep int

	Clients   int
	Merchants int
	Banks     int
	Mules     int

	// FraudRate is the chance that a step slot produces a fraud pair
	// (victim to mule transfer, then mule cash out).
	FraudRate float64

	// MerchantSkew is the Zipf exponent for merchant choice. Must be > 1.
	MerchantSkew float64

	// QueueDepth bounds the records generated ahead of consumption.
	QueueDepth int
}

// DefaultSimulationConfig returns a small but skewed network.
func DefaultSimulationConfig() SimulationConfig {
	return SimulationConfig{
		Seed:                1,
		Steps:               720,
		TransactionsPerStep: 100,
		Clients:             5000,
		Merchants:           500,
		Banks:               10,
		Mules:               50,
		FraudRate:           0.002,
		MerchantSkew:        1.1,
		QueueDepth:          5000,
	}
}

// Total returns the number of step slots the simulation fills. A fraud slot
// emits two records, so the stream is at least this long.
func (c SimulationConfig) Total() int64 {
	return int64(c.Steps) * int64(c.TransactionsPerStep)
}

// Expected estimates the records the simulation emits, counting the second
// record of each fraud slot at the configured rate.
func (c SimulationConfig) Expected() int64 {
	slots := c.Total()
	if c.Mules == 0 {
		return slots
	}
	return slots + int64(math.Round(float64(slots)*c.FraudRate))
}

// flaggedFraudAmount is the transfer amount above which fraud is flagged.
const flaggedFraudAmount = 200000

var actionWeights = []struct {
	action model.Action
	weight float64
}{
	{model.ActionCashIn, 0.22},
	{model.ActionCashOut, 0.35},
	{model.ActionDebit, 0.01},
	{model.ActionPayment, 0.34},
	{model.ActionTransfer, 0.08},
}

var (
	firstNames = []string{"Ada", "Bo", "Chen", "Dara", "Eli", "Farah", "Gus", "Hana", "Ivo", "Jun", "Kai", "Lena", "Milo", "Nia", "Oren", "Priya"}
	lastNames  = []string{"Abara", "Brandt", "Castillo", "Dube", "Eriksen", "Fofana", "Garcia", "Haddad", "Ito", "Jensen", "Kowalski", "Lindqvist", "Mensah", "Novak"}
	categories = []string{"food", "travel", "retail", "utilities", "health", "entertainment", "telecom"}
)

// Simulator generates a PaySim-like stream of mobile money transactions on
// a background goroutine, at most QueueDepth records ahead of the consumer.
type Simulator struct {
	lifecycle

	cfg SimulationConfig
	rng *rand.Rand
	log *logrus.Entry

	clients    []model.Actor
	merchants  []model.Actor
	banks      []model.Actor
	mules      []model.Actor
	identities []model.Identity

	zipf   *rand.Zipf
	queue  chan model.Transaction
	ctx    context.Context
	cancel context.CancelFunc
	peeked *model.Transaction
}

// NewSimulator builds the actor population. Nothing is generated until Run.
func NewSimulator(cfg SimulationConfig, log *logrus.Entry) (*Simulator, error) {
	if cfg.Clients < 2 || cfg.Merchants < 1 || cfg.Banks < 1 {
		return nil, pgerrors.New(pgerrors.CodeInvalidConfig, "simulation needs at least 2 clients, 1 merchant and 1 bank")
	}
	if cfg.MerchantSkew <= 1 {
		return nil, pgerrors.New(pgerrors.CodeInvalidConfig, "merchant skew must be greater than 1").
			WithContext("merchant_skew", cfg.MerchantSkew)
	}
	if cfg.QueueDepth < 1 {
		cfg.QueueDepth = 1
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Simulator{
		lifecycle: lifecycle{name: "simulator"},
		cfg:       cfg,
		rng:       rand.New(rand.NewSource(cfg.Seed)),
		log:       log.WithField("producer", "simulator"),
		queue:     make(chan model.Transaction, cfg.QueueDepth),
		ctx:       ctx,
		cancel:    cancel,
	}
	s.populate()
	if cfg.Merchants > 1 {
		s.zipf = rand.NewZipf(s.rng, cfg.MerchantSkew, 1, uint64(cfg.Merchants-1))
	}
	return s, nil
}

func (s *Simulator) populate() {
	s.clients = make([]model.Actor, s.cfg.Clients)
	s.identities = make([]model.Identity, s.cfg.Clients)
	for i := range s.clients {
		name := s.personName()
		s.clients[i] = model.Actor{
			ID:   fmt.Sprintf("C%09d", i),
			Name: name,
			Kind: model.ActorClient,
		}
		s.identities[i] = s.identity(s.clients[i].ID, name, i)
	}

	s.mules = make([]model.Actor, s.cfg.Mules)
	for i := range s.mules {
		s.mules[i] = model.Actor{
			ID:   fmt.Sprintf("C%09d", s.cfg.Clients+i),
			Name: s.personName(),
			Kind: model.ActorMule,
		}
	}

	s.merchants = make([]model.Actor, s.cfg.Merchants)
	for i := range s.merchants {
		s.merchants[i] = model.Actor{
			ID:   fmt.Sprintf("M%09d", i),
			Name: fmt.Sprintf("%s %s", lastNames[s.rng.Intn(len(lastNames))], categories[i%len(categories)]),
			Kind: model.ActorMerchant,
			Properties: map[string]string{
				"category": categories[i%len(categories)],
				"highRisk": strconv.FormatBool(s.rng.Float64() < 0.05),
			},
		}
	}

	s.banks = make([]model.Actor, s.cfg.Banks)
	for i := range s.banks {
		s.banks[i] = model.Actor{
			ID:   fmt.Sprintf("B%04d", i),
			Name: fmt.Sprintf("Bank %d", i),
			Kind: model.ActorBank,
			Properties: map[string]string{
				"code": fmt.Sprintf("BK%03d", i),
			},
		}
	}
}

func (s *Simulator) personName() string {
	return firstNames[s.rng.Intn(len(firstNames))] + " " + lastNames[s.rng.Intn(len(lastNames))]
}

func (s *Simulator) identity(clientID, name string, i int) model.Identity {
	return model.Identity{
		ClientID:    clientID,
		Name:        name,
		Email:       fmt.Sprintf("user%d@example.com", i),
		SSN:         fmt.Sprintf("%03d-%02d-%04d", 100+s.rng.Intn(800), 1+s.rng.Intn(98), s.rng.Intn(10000)),
		PhoneNumber: fmt.Sprintf("%03d-%03d-%04d", 200+s.rng.Intn(700), s.rng.Intn(1000), s.rng.Intn(10000)),
	}
}

// Run starts generation.
func (s *Simulator) Run() error {
	if err := s.start(); err != nil {
		return err
	}
	s.log.WithFields(logrus.Fields{
		"steps":     s.cfg.Steps,
		"per_step":  s.cfg.TransactionsPerStep,
		"clients":   s.cfg.Clients,
		"merchants": s.cfg.Merchants,
		"mules":     s.cfg.Mules,
	}).Info("simulation started")
	go s.generate()
	return nil
}

func (s *Simulator) generate() {
	defer close(s.queue)

	var global int64
	emit := func(tx model.Transaction) bool {
		tx.GlobalStep = global
		global++
		select {
		case s.queue <- tx:
			return true
		case <-s.ctx.Done():
			return false
		}
	}

	for step := 0; step < s.cfg.Steps; step++ {
		for i := 0; i < s.cfg.TransactionsPerStep; i++ {
			if len(s.mules) > 0 && s.rng.Float64() < s.cfg.FraudRate {
				transfer, cashOut := s.fraudPair(step)
				if !emit(transfer) || !emit(cashOut) {
					return
				}
				continue
			}
			if !emit(s.transaction(step)) {
				return
			}
		}
	}
	s.log.WithField("records", global).Debug("simulation finished")
}

func (s *Simulator) transaction(step int) model.Transaction {
	client := s.clients[s.rng.Intn(len(s.clients))]
	tx := model.Transaction{
		Step:       step,
		SenderID:   client.ID,
		SenderName: client.Name,
		SenderKind: model.ActorClient,
		Action:     s.action(),
		Amount:     s.amount(),
	}

	var dest model.Actor
	switch tx.Action {
	case model.ActionDebit:
		dest = s.banks[s.rng.Intn(len(s.banks))]
	case model.ActionTransfer:
		dest = s.clients[s.rng.Intn(len(s.clients))]
		for dest.ID == client.ID {
			dest = s.clients[s.rng.Intn(len(s.clients))]
		}
	default:
		dest = s.merchant()
	}
	tx.ReceiverID, tx.ReceiverName, tx.ReceiverKind = dest.ID, dest.Name, dest.Kind
	return tx
}

// fraudPair moves a victim's balance to a mule, which then cashes out.
func (s *Simulator) fraudPair(step int) (model.Transaction, model.Transaction) {
	victim := s.clients[s.rng.Intn(len(s.clients))]
	mule := s.mules[s.rng.Intn(len(s.mules))]
	merchant := s.merchant()
	amount := s.amount() * 20

	transfer := model.Transaction{
		Step:         step,
		SenderID:     victim.ID,
		SenderName:   victim.Name,
		SenderKind:   model.ActorClient,
		ReceiverID:   mule.ID,
		ReceiverName: mule.Name,
		ReceiverKind: model.ActorMule,
		Action:       model.ActionTransfer,
		Amount:       amount,
		Fraud:        true,
		FlaggedFraud: amount > flaggedFraudAmount,
	}
	cashOut := model.Transaction{
		Step:         step,
		SenderID:     mule.ID,
		SenderName:   mule.Name,
		SenderKind:   model.ActorMule,
		ReceiverID:   merchant.ID,
		ReceiverName: merchant.Name,
		ReceiverKind: model.ActorMerchant,
		Action:       model.ActionCashOut,
		Amount:       amount,
		Fraud:        true,
	}
	return transfer, cashOut
}

func (s *Simulator) action() model.Action {
	r := s.rng.Float64()
	for _, w := range actionWeights {
		if r < w.weight {
			return w.action
		}
		r -= w.weight
	}
	return model.ActionPayment
}

// amount draws a log-normal value rounded to cents.
func (s *Simulator) amount() float64 {
	v := math.Exp(7 + 1.2*s.rng.NormFloat64())
	return math.Round(v*100) / 100
}

func (s *Simulator) merchant() model.Actor {
	if s.zipf == nil {
		return s.merchants[0]
	}
	return s.merchants[s.zipf.Uint64()]
}

// HasNext reports whether another record is available. It waits for the
// generator when the queue is momentarily empty.
func (s *Simulator) HasNext() bool {
	if s.peeked != nil {
		return true
	}
	if !s.running() {
		return false
	}
	select {
	case tx, ok := <-s.queue:
		if !ok {
			return false
		}
		s.peeked = &tx
		return true
	case <-s.ctx.Done():
		return false
	}
}

// Next returns the next record, or CodeExhausted when there is none.
func (s *Simulator) Next() (model.Transaction, error) {
	if !s.HasNext() {
		return model.Transaction{}, pgerrors.Exhausted("simulator")
	}
	tx := *s.peeked
	s.peeked = nil
	return tx, nil
}

// Abort stops generation. A second call fails with CodeAlreadyAborted.
func (s *Simulator) Abort() error {
	if err := s.abort(); err != nil {
		return err
	}
	s.cancel()
	s.log.Info("simulation aborted")
	return nil
}

// Clients returns the simulated clients.
func (s *Simulator) Clients() []model.Actor { return s.clients }

// Merchants returns the simulated merchants.
func (s *Simulator) Merchants() []model.Actor { return s.merchants }

// Banks returns the simulated banks.
func (s *Simulator) Banks() []model.Actor { return s.banks }

// Mules returns the simulated mules.
func (s *Simulator) Mules() []model.Actor { return s.mules }

// Identities returns the identity attached to each client.
func (s *Simulator) Identities() []model.Identity { return s.identities }
