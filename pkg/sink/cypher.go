package sink

import (
	"fmt"

	"github.com/paygraph/paygraph/internal/model"
)

var cypherSchema = []string{
	"CREATE CONSTRAINT client_id IF NOT EXISTS FOR (n:Client) REQUIRE n.id IS UNIQUE",
	"CREATE CONSTRAINT bank_id IF NOT EXISTS FOR (n:Bank) REQUIRE n.id IS UNIQUE",
	"CREATE CONSTRAINT merchant_id IF NOT EXISTS FOR (n:Merchant) REQUIRE n.id IS UNIQUE",
	"CREATE CONSTRAINT mule_id IF NOT EXISTS FOR (n:Mule) REQUIRE n.id IS UNIQUE",
	"CREATE CONSTRAINT cash_in_id IF NOT EXISTS FOR (n:CashIn) REQUIRE n.id IS UNIQUE",
	"CREATE CONSTRAINT cash_out_id IF NOT EXISTS FOR (n:CashOut) REQUIRE n.id IS UNIQUE",
	"CREATE CONSTRAINT debit_id IF NOT EXISTS FOR (n:Debit) REQUIRE n.id IS UNIQUE",
	"CREATE CONSTRAINT payment_id IF NOT EXISTS FOR (n:Payment) REQUIRE n.id IS UNIQUE",
	"CREATE CONSTRAINT transfer_id IF NOT EXISTS FOR (n:Transfer) REQUIRE n.id IS UNIQUE",
	"CREATE CONSTRAINT transaction_id IF NOT EXISTS FOR (n:Transaction) REQUIRE n.id IS UNIQUE",
	"CREATE INDEX cash_in_global_step IF NOT EXISTS FOR (n:CashIn) ON (n.globalStep)",
	"CREATE INDEX cash_out_global_step IF NOT EXISTS FOR (n:CashOut) ON (n.globalStep)",
	"CREATE INDEX debit_global_step IF NOT EXISTS FOR (n:Debit) ON (n.globalStep)",
	"CREATE INDEX payment_global_step IF NOT EXISTS FOR (n:Payment) ON (n.globalStep)",
	"CREATE INDEX transfer_global_step IF NOT EXISTS FOR (n:Transfer) ON (n.globalStep)",
	"CREATE INDEX transaction_global_step IF NOT EXISTS FOR (n:Transaction) ON (n.globalStep)",
	"CREATE INDEX mule_lookup IF NOT EXISTS FOR (n:Mule) ON (n.id)",
}

const cypherInsert = `UNWIND $rows AS row
MERGE (s:%s {id: row.senderId})
  ON CREATE SET s.name = row.senderName
MERGE (r:%s {id: row.receiverId})
  ON CREATE SET r.name = row.receiverName
CREATE (tx:Transaction:%s {id: row.id})
SET tx.step = row.step,
    tx.globalStep = row.globalStep,
    tx.amount = row.amount,
    tx.fraud = row.fraud,
    tx.flaggedFraud = row.flaggedFraud
CREATE (s)-[:PERFORMED]->(tx)
CREATE (tx)-[:TO]->(r)`

const cypherLabelMules = `MATCH (m:Mule) WHERE NOT m:Client
SET m:Client
RETURN count(m)`

const cypherIdentities = `UNWIND $identities AS ident
MATCH (c:Client {id: ident.clientId})
SET c.name = ident.name
MERGE (s:SSN {ssn: ident.ssn})
MERGE (e:Email {email: ident.email})
MERGE (p:Phone {phoneNumber: ident.phoneNumber})
MERGE (c)-[:HAS_SSN]->(s)
MERGE (c)-[:HAS_EMAIL]->(e)
MERGE (c)-[:HAS_PHONE]->(p)`

const cypherUpdateProps = `MATCH (n:%s {id: $id})
SET n += $props`

const cypherThread = `UNWIND $ids AS clientId
MATCH (c:Client {id: clientId})-[:PERFORMED]->(tx:Transaction)
WITH c, tx ORDER BY tx.globalStep
WITH c, collect(tx) AS txs
WITH c, txs, head(txs) AS firstTx, last(txs) AS lastTx
MERGE (c)-[:FIRST_TX]->(firstTx)
MERGE (c)-[:LAST_TX]->(lastTx)
WITH txs
UNWIND range(0, size(txs) - 2) AS i
WITH txs[i] AS a, txs[i + 1] AS b
MERGE (a)-[:NEXT]->(b)`

// Cypher compiles graph operations for Neo4j.
type Cypher struct{}

func (Cypher) Name() string { return "cypher" }

func (Cypher) Schema() []Statement {
	stmts := make([]Statement, len(cypherSchema))
	for i, text := range cypherSchema {
		stmts[i] = Statement{Text: text}
	}
	return stmts
}

// InsertBucket emits one UNWIND statement per (sender kind, receiver kind,
// action) group, since labels cannot be parameterised.
func (Cypher) InsertBucket(b model.Bucket) Request {
	groups := groupBucket(b)
	req := Request{
		Statements: make([]Statement, 0, len(groups)),
		Records:    b.Len(),
	}
	for _, g := range groups {
		rows := make([]any, len(g.txs))
		for i, tx := range g.txs {
			rows[i] = map[string]any{
				"id":           tx.ID(),
				"senderId":     tx.SenderID,
				"senderName":   tx.SenderName,
				"receiverId":   tx.ReceiverID,
				"receiverName": tx.ReceiverName,
				"step":         int64(tx.Step),
				"globalStep":   tx.GlobalStep,
				"amount":       tx.Amount,
				"fraud":        tx.Fraud,
				"flaggedFraud": tx.FlaggedFraud,
			}
		}
		req.Statements = append(req.Statements, Statement{
			Text:   fmt.Sprintf(cypherInsert, label(g.sender), label(g.receiver), g.action.Label()),
			Params: map[string]any{"rows": rows},
		})
	}
	return req
}

func (Cypher) LabelMules() Statement {
	return Statement{Text: cypherLabelMules}
}

func (Cypher) ClientIdentities(ids []model.Identity) Statement {
	rows := make([]any, len(ids))
	for i, id := range ids {
		rows[i] = map[string]any{
			"clientId":    id.ClientID,
			"name":        id.Name,
			"email":       id.Email,
			"ssn":         id.SSN,
			"phoneNumber": id.PhoneNumber,
		}
	}
	return Statement{Text: cypherIdentities, Params: map[string]any{"identities": rows}}
}

func (Cypher) UpdateProperties(actor model.Actor) Statement {
	props := make(map[string]any, len(actor.Properties))
	for k, v := range actor.Properties {
		props[k] = v
	}
	return Statement{
		Text:   fmt.Sprintf(cypherUpdateProps, label(actor.Kind)),
		Params: map[string]any{"id": actor.ID, "props": props},
	}
}

func (Cypher) ThreadTransactions(clientIDs []string) []Statement {
	ids := make([]any, len(clientIDs))
	for i, id := range clientIDs {
		ids[i] = id
	}
	return []Statement{{Text: cypherThread, Params: map[string]any{"ids": ids}}}
}
