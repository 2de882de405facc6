// Package model defines core data structures for paygraph.
package model

import (
	"fmt"
	"strings"
)

// ActorKind identifies the kind of participant on either side of a transaction.
type ActorKind uint8

const (
	ActorUnknown ActorKind = iota
	ActorClient
	ActorMerchant
	ActorBank
	ActorMule
)

var actorKindNames = []string{"UNKNOWN", "CLIENT", "MERCHANT", "BANK", "MULE"}

func (k ActorKind) String() string {
	if int(k) < len(actorKindNames) {
		return actorKindNames[k]
	}
	return "UNKNOWN"
}

// Label returns the graph label for the kind (e.g. "Client").
func (k ActorKind) Label() string {
	return Capitalize(k.String())
}

// ParseActorKind parses a kind name, case-insensitively.
func ParseActorKind(s string) (ActorKind, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "CLIENT":
		return ActorClient, nil
	case "MERCHANT":
		return ActorMerchant, nil
	case "BANK":
		return ActorBank, nil
	case "MULE", "FRAUDSTER":
		return ActorMule, nil
	default:
		return ActorUnknown, fmt.Errorf("unknown actor kind %q", s)
	}
}

// Action is the transaction type.
type Action string

const (
	ActionCashIn   Action = "CASH_IN"
	ActionCashOut  Action = "CASH_OUT"
	ActionDebit    Action = "DEBIT"
	ActionPayment  Action = "PAYMENT"
	ActionTransfer Action = "TRANSFER"
)

// Actions lists every known action in a stable order.
var Actions = []Action{ActionCashIn, ActionCashOut, ActionDebit, ActionPayment, ActionTransfer}

// Label returns the graph label for the action (e.g. "CashIn").
func (a Action) Label() string {
	return Capitalize(string(a))
}

// ParseAction parses an action name, case-insensitively.
func ParseAction(s string) (Action, error) {
	a := Action(strings.ToUpper(strings.TrimSpace(s)))
	for _, known := range Actions {
		if a == known {
			return a, nil
		}
	}
	return "", fmt.Errorf("unknown action %q", s)
}

// Transaction is a single money movement between two participants.
// Values are produced upstream and never mutated once handed to the loader.
type Transaction struct {
	// GlobalStep is monotonic across the whole run and doubles as the id.
	GlobalStep int64

	// Step is the simulation-local time unit (hours in PaySim).
	Step int

	SenderID     string
	SenderName   string
	SenderKind   ActorKind
	ReceiverID   string
	ReceiverName string
	ReceiverKind ActorKind

	Action Action
	Amount float64

	Fraud        bool
	FlaggedFraud bool
}

// ID returns the transaction node id.
func (t Transaction) ID() string {
	return fmt.Sprintf("tx-%d", t.GlobalStep)
}

// Capitalize turns an upper snake case name into camel case: CASH_IN -> CashIn.
func Capitalize(s string) string {
	var sb strings.Builder
	for _, part := range strings.Split(s, "_") {
		if part == "" {
			continue
		}
		sb.WriteString(strings.ToUpper(part[:1]))
		sb.WriteString(strings.ToLower(part[1:]))
	}
	return sb.String()
}
