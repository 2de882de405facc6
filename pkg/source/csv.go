package source

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/paygraph/paygraph/internal/model"
	pgerrors "github.com/paygraph/paygraph/pkg/errors"
)

// CSVReplay replays a PaySim transaction log. Required columns are step,
// type (or action), amount, nameOrig, nameDest, isFraud and isFlaggedFraud;
// origType and destType are optional. Header names are case-insensitive.
type CSVReplay struct {
	lifecycle

	path string
	open func(ctx context.Context) (io.ReadCloser, error)
	log  *logrus.Entry

	mu     sync.Mutex
	rc     io.ReadCloser
	reader *csv.Reader
	cols   csvColumns
	row    int64
	global int64
	peeked *model.Transaction
	failed error

	actors    map[string]struct{}
	clients   []model.Actor
	merchants []model.Actor
	banks     []model.Actor
	mules     []model.Actor
}

type csvColumns struct {
	step, action, amount, orig, dest, fraud, flagged int
	origType, destType                               int
}

// NewCSVReplay replays the log at path, a local file or an s3:// URI.
func NewCSVReplay(path string, s3cfg S3Config, log *logrus.Entry) *CSVReplay {
	return newCSVReplay(path, func(ctx context.Context) (io.ReadCloser, error) {
		if IsS3URI(path) {
			return OpenS3(ctx, s3cfg, path)
		}
		f, err := os.Open(path)
		if os.IsNotExist(err) {
			return nil, pgerrors.FileNotFound(path)
		}
		return f, err
	}, log)
}

// NewCSVReplayReader replays a log from r. name identifies it in errors.
func NewCSVReplayReader(name string, r io.Reader, log *logrus.Entry) *CSVReplay {
	return newCSVReplay(name, func(context.Context) (io.ReadCloser, error) {
		return io.NopCloser(r), nil
	}, log)
}

func newCSVReplay(path string, open func(context.Context) (io.ReadCloser, error), log *logrus.Entry) *CSVReplay {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &CSVReplay{
		lifecycle: lifecycle{name: "csv"},
		path:      path,
		open:      open,
		log:       log.WithFields(logrus.Fields{"producer": "csv", "path": path}),
		actors:    make(map[string]struct{}),
	}
}

// Run opens the log and reads its header.
func (c *CSVReplay) Run() error {
	if err := c.start(); err != nil {
		return err
	}

	rc, err := c.open(context.Background())
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", c.path, err)
	}

	reader := csv.NewReader(rc)
	reader.ReuseRecord = true
	header, err := reader.Read()
	if err != nil {
		rc.Close()
		return pgerrors.InvalidRecord(c.path, 0, fmt.Errorf("read header: %w", err))
	}
	cols, err := resolveColumns(header)
	if err != nil {
		rc.Close()
		return pgerrors.InvalidRecord(c.path, 0, err)
	}

	c.mu.Lock()
	c.rc, c.reader, c.cols = rc, reader, cols
	c.mu.Unlock()

	c.log.Info("replay started")
	return nil
}

func resolveColumns(header []string) (csvColumns, error) {
	cols := csvColumns{-1, -1, -1, -1, -1, -1, -1, -1, -1}
	for i, name := range header {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "step":
			cols.step = i
		case "type", "action":
			cols.action = i
		case "amount":
			cols.amount = i
		case "nameorig":
			cols.orig = i
		case "namedest":
			cols.dest = i
		case "isfraud":
			cols.fraud = i
		case "isflaggedfraud":
			cols.flagged = i
		case "origtype":
			cols.origType = i
		case "desttype":
			cols.destType = i
		}
	}

	var missing []string
	for name, idx := range map[string]int{
		"step": cols.step, "type": cols.action, "amount": cols.amount,
		"nameOrig": cols.orig, "nameDest": cols.dest,
		"isFraud": cols.fraud, "isFlaggedFraud": cols.flagged,
	} {
		if idx < 0 {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return cols, fmt.Errorf("missing columns: %s", strings.Join(missing, ", "))
	}
	return cols, nil
}

// HasNext reads ahead one row. A malformed row also reports true so that
// Next can return the error.
func (c *CSVReplay) HasNext() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.peeked != nil || c.failed != nil {
		return true
	}
	if !c.running() || c.reader == nil {
		return false
	}

	record, err := c.reader.Read()
	if err == io.EOF {
		c.closeLocked()
		return false
	}
	c.row++
	if err != nil {
		c.failed = pgerrors.InvalidRecord(c.path, c.row, err)
		return true
	}

	tx, err := c.parse(record)
	if err != nil {
		c.failed = pgerrors.InvalidRecord(c.path, c.row, err)
		return true
	}
	c.peeked = &tx
	return true
}

// Next returns the next record, the error of a malformed row, or
// CodeExhausted when the log is done.
func (c *CSVReplay) Next() (model.Transaction, error) {
	if !c.HasNext() {
		return model.Transaction{}, pgerrors.Exhausted("csv")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failed != nil {
		err := c.failed
		c.failed = nil
		return model.Transaction{}, err
	}
	tx := *c.peeked
	c.peeked = nil
	return tx, nil
}

func (c *CSVReplay) parse(record []string) (model.Transaction, error) {
	step, err := strconv.Atoi(record[c.cols.step])
	if err != nil {
		return model.Transaction{}, fmt.Errorf("step: %w", err)
	}
	action, err := model.ParseAction(record[c.cols.action])
	if err != nil {
		return model.Transaction{}, err
	}
	amount, err := strconv.ParseFloat(record[c.cols.amount], 64)
	if err != nil {
		return model.Transaction{}, fmt.Errorf("amount: %w", err)
	}
	fraud, err := parseFlag(record[c.cols.fraud])
	if err != nil {
		return model.Transaction{}, fmt.Errorf("isFraud: %w", err)
	}
	flagged, err := parseFlag(record[c.cols.flagged])
	if err != nil {
		return model.Transaction{}, fmt.Errorf("isFlaggedFraud: %w", err)
	}

	orig, dest := record[c.cols.orig], record[c.cols.dest]
	if orig == "" || dest == "" {
		return model.Transaction{}, fmt.Errorf("empty participant")
	}

	tx := model.Transaction{
		GlobalStep:   c.global,
		Step:         step,
		SenderID:     orig,
		SenderKind:   c.kind(record, c.cols.origType, orig),
		ReceiverID:   dest,
		ReceiverKind: c.kind(record, c.cols.destType, dest),
		Action:       action,
		Amount:       amount,
		Fraud:        fraud,
		FlaggedFraud: flagged,
	}
	c.global++
	c.track(tx.SenderID, tx.SenderKind)
	c.track(tx.ReceiverID, tx.ReceiverKind)
	return tx, nil
}

// kind reads the explicit type column or falls back to PaySim id prefixes.
func (c *CSVReplay) kind(record []string, col int, id string) model.ActorKind {
	if col >= 0 {
		if k, err := model.ParseActorKind(record[col]); err == nil {
			return k
		}
	}
	switch id[0] {
	case 'M':
		return model.ActorMerchant
	case 'B':
		return model.ActorBank
	default:
		return model.ActorClient
	}
}

func (c *CSVReplay) track(id string, kind model.ActorKind) {
	if _, ok := c.actors[id]; ok {
		return
	}
	c.actors[id] = struct{}{}

	actor := model.Actor{ID: id, Kind: kind}
	switch kind {
	case model.ActorMerchant:
		c.merchants = append(c.merchants, actor)
	case model.ActorBank:
		c.banks = append(c.banks, actor)
	case model.ActorMule:
		c.mules = append(c.mules, actor)
	default:
		c.clients = append(c.clients, actor)
	}
}

func parseFlag(s string) (bool, error) {
	return strconv.ParseBool(strings.TrimSpace(s))
}

func (c *CSVReplay) closeLocked() {
	if c.rc != nil {
		if err := c.rc.Close(); err != nil {
			c.log.WithError(err).Warn("failed to close log")
		}
		c.rc, c.reader = nil, nil
		c.log.WithField("rows", c.row).Info("replay finished")
	}
}

// Abort stops the replay. A second call fails with CodeAlreadyAborted.
func (c *CSVReplay) Abort() error {
	if err := c.abort(); err != nil {
		return err
	}
	c.mu.Lock()
	c.closeLocked()
	c.mu.Unlock()
	return nil
}

// Clients returns the client accounts seen so far.
func (c *CSVReplay) Clients() []model.Actor { return c.clients }

// Merchants returns the merchants seen so far.
func (c *CSVReplay) Merchants() []model.Actor { return c.merchants }

// Banks returns the banks seen so far.
func (c *CSVReplay) Banks() []model.Actor { return c.banks }

// Mules returns the mules seen so far. Only logs with type columns name them.
func (c *CSVReplay) Mules() []model.Actor { return c.mules }

// Identities returns nothing; PaySim logs carry no identity data.
func (c *CSVReplay) Identities() []model.Identity { return nil }
