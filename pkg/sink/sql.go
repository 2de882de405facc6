package sink

import (
	"sort"
	"strings"

	"github.com/paygraph/paygraph/internal/model"
)

// The graph is stored as node, transaction and edge tables. Edge types match
// the Cypher relationship names so both stores answer the same questions.
var sqlSchema = []string{
	`CREATE TABLE IF NOT EXISTS nodes (
		id VARCHAR PRIMARY KEY,
		label VARCHAR NOT NULL,
		name VARCHAR,
		is_client BOOLEAN DEFAULT false
	)`,
	`CREATE TABLE IF NOT EXISTS transactions (
		id VARCHAR PRIMARY KEY,
		action VARCHAR NOT NULL,
		step INTEGER,
		global_step BIGINT NOT NULL,
		amount DOUBLE,
		fraud BOOLEAN,
		flagged_fraud BOOLEAN,
		sender_id VARCHAR NOT NULL,
		receiver_id VARCHAR NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS edges (
		src VARCHAR NOT NULL,
		dst VARCHAR NOT NULL,
		type VARCHAR NOT NULL,
		PRIMARY KEY (src, dst, type)
	)`,
	`CREATE TABLE IF NOT EXISTS node_properties (
		id VARCHAR NOT NULL,
		key VARCHAR NOT NULL,
		value VARCHAR,
		PRIMARY KEY (id, key)
	)`,
	`CREATE TABLE IF NOT EXISTS identities (
		client_id VARCHAR PRIMARY KEY,
		name VARCHAR,
		email VARCHAR,
		ssn VARCHAR,
		phone_number VARCHAR
	)`,
	"CREATE INDEX IF NOT EXISTS transactions_global_step ON transactions (global_step)",
	"CREATE INDEX IF NOT EXISTS nodes_label ON nodes (label)",
}

// SQL compiles graph operations for DuckDB.
type SQL struct{}

func (SQL) Name() string { return "sql" }

func (SQL) Schema() []Statement {
	stmts := make([]Statement, len(sqlSchema))
	for i, text := range sqlSchema {
		stmts[i] = Statement{Text: text}
	}
	return stmts
}

// InsertBucket emits three multi-row inserts: participants, transactions and
// the PERFORMED/TO edges.
func (SQL) InsertBucket(b model.Bucket) Request {
	req := Request{Records: b.Len()}
	if b.Len() == 0 {
		return req
	}

	seen := make(map[string]struct{}, 2*b.Len())
	var nodeArgs []any
	addNode := func(id, name string, kind model.ActorKind) {
		if _, ok := seen[id]; ok {
			return
		}
		seen[id] = struct{}{}
		nodeArgs = append(nodeArgs, id, label(kind), name)
	}

	txArgs := make([]any, 0, 9*b.Len())
	edgeArgs := make([]any, 0, 6*b.Len())
	for _, tx := range b.Transactions {
		addNode(tx.SenderID, tx.SenderName, tx.SenderKind)
		addNode(tx.ReceiverID, tx.ReceiverName, tx.ReceiverKind)

		id := tx.ID()
		txArgs = append(txArgs, id, string(tx.Action), tx.Step, tx.GlobalStep,
			tx.Amount, tx.Fraud, tx.FlaggedFraud, tx.SenderID, tx.ReceiverID)
		edgeArgs = append(edgeArgs,
			tx.SenderID, id, "PERFORMED",
			id, tx.ReceiverID, "TO")
	}

	req.Statements = []Statement{
		{
			Text:  insertValues("INSERT OR IGNORE INTO nodes (id, label, name)", 3, len(nodeArgs)/3),
			Args:  nodeArgs,
			Tally: TallyNodes,
		},
		{
			Text: insertValues("INSERT OR IGNORE INTO transactions (id, action, step, global_step, amount, "+
				"fraud, flagged_fraud, sender_id, receiver_id)", 9, b.Len()),
			Args:  txArgs,
			Tally: TallyNodes,
		},
		{
			Text:  insertValues("INSERT OR IGNORE INTO edges (src, dst, type)", 3, 2*b.Len()),
			Args:  edgeArgs,
			Tally: TallyRelationships,
		},
	}
	return req
}

func (SQL) LabelMules() Statement {
	return Statement{Text: "UPDATE nodes SET is_client = true WHERE label = 'Mule' AND NOT is_client"}
}

func (SQL) ClientIdentities(ids []model.Identity) Statement {
	if len(ids) == 0 {
		return Statement{}
	}
	args := make([]any, 0, 5*len(ids))
	for _, id := range ids {
		args = append(args, id.ClientID, id.Name, id.Email, id.SSN, id.PhoneNumber)
	}
	return Statement{
		Text: insertValues("INSERT OR REPLACE INTO identities (client_id, name, email, ssn, phone_number)",
			5, len(ids)),
		Args: args,
	}
}

func (SQL) UpdateProperties(actor model.Actor) Statement {
	keys := make([]string, 0, len(actor.Properties))
	for k := range actor.Properties {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	if len(keys) == 0 {
		return Statement{}
	}

	args := make([]any, 0, 3*len(keys))
	for _, k := range keys {
		args = append(args, actor.ID, k, actor.Properties[k])
	}
	return Statement{
		Text: insertValues("INSERT OR REPLACE INTO node_properties (id, key, value)", 3, len(keys)),
		Args: args,
	}
}

func (SQL) ThreadTransactions(clientIDs []string) []Statement {
	if len(clientIDs) == 0 {
		return nil
	}
	in := placeholders(len(clientIDs))
	args := make([]any, len(clientIDs))
	for i, id := range clientIDs {
		args[i] = id
	}

	return []Statement{
		{
			Text: `INSERT OR IGNORE INTO edges (src, dst, type)
SELECT sender_id, arg_min(id, global_step), 'FIRST_TX' FROM transactions
WHERE sender_id IN (` + in + `) GROUP BY sender_id`,
			Args:  args,
			Tally: TallyRelationships,
		},
		{
			Text: `INSERT OR IGNORE INTO edges (src, dst, type)
SELECT sender_id, arg_max(id, global_step), 'LAST_TX' FROM transactions
WHERE sender_id IN (` + in + `) GROUP BY sender_id`,
			Args:  args,
			Tally: TallyRelationships,
		},
		{
			Text: `INSERT OR IGNORE INTO edges (src, dst, type)
SELECT id, next_id, 'NEXT' FROM (
	SELECT id, lead(id) OVER (PARTITION BY sender_id ORDER BY global_step) AS next_id
	FROM transactions WHERE sender_id IN (` + in + `)
) WHERE next_id IS NOT NULL`,
			Args:  args,
			Tally: TallyRelationships,
		},
	}
}

// insertValues renders "prefix VALUES (?, ?), (?, ?)" for rows of width cols.
func insertValues(prefix string, cols, rows int) string {
	row := "(" + placeholders(cols) + ")"

	var sb strings.Builder
	sb.Grow(len(prefix) + 8 + rows*(len(row)+2))
	sb.WriteString(prefix)
	sb.WriteString(" VALUES ")
	for i := 0; i < rows; i++ {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(row)
	}
	return sb.String()
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?, ", n-1) + "?"
}
