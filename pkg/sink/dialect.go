package sink

import (
	"github.com/paygraph/paygraph/internal/model"
)

// Dialect compiles graph operations into statements for one backend.
type Dialect interface {
	// Name identifies the dialect in logs.
	Name() string

	// Schema returns the constraint and index statements, one per item.
	Schema() []Statement

	// InsertBucket compiles a bucket into the statements of one write.
	// Record order inside the bucket is preserved per statement group.
	InsertBucket(b model.Bucket) Request

	// LabelMules marks every mule as a client too.
	LabelMules() Statement

	// ClientIdentities attaches identity attributes to existing clients.
	ClientIdentities(ids []model.Identity) Statement

	// UpdateProperties sets extra properties on one actor.
	UpdateProperties(actor model.Actor) Statement

	// ThreadTransactions links each client's transactions in step order.
	ThreadTransactions(clientIDs []string) []Statement
}

// group is a run of bucket records sharing sender kind, receiver kind and
// action, in first-seen order.
type group struct {
	sender   model.ActorKind
	receiver model.ActorKind
	action   model.Action
	txs      []model.Transaction
}

func groupBucket(b model.Bucket) []*group {
	type key struct {
		sender, receiver model.ActorKind
		action           model.Action
	}

	var groups []*group
	byKey := make(map[key]*group)
	for _, tx := range b.Transactions {
		k := key{tx.SenderKind, tx.ReceiverKind, tx.Action}
		g, ok := byKey[k]
		if !ok {
			g = &group{sender: k.sender, receiver: k.receiver, action: k.action}
			byKey[k] = g
			groups = append(groups, g)
		}
		g.txs = append(g.txs, tx)
	}
	return groups
}

// label returns the node label for kind, falling back to Client.
func label(kind model.ActorKind) string {
	if kind == model.ActorUnknown {
		return model.ActorClient.Label()
	}
	return kind.Label()
}
