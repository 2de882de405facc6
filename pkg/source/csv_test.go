package source

import (
	"strings"
	"testing"

	"github.com/paygraph/paygraph/internal/model"
	pgerrors "github.com/paygraph/paygraph/pkg/errors"
)

const paysimLog = `step,type,amount,nameOrig,oldbalanceOrg,newbalanceOrig,nameDest,oldbalanceDest,newbalanceDest,isFraud,isFlaggedFraud
1,PAYMENT,9839.64,C1231006815,170136.0,160296.36,M1979787155,0.0,0.0,0,0
1,TRANSFER,181.0,C1305486145,181.0,0.0,C553264065,0.0,0.0,1,0
1,CASH_OUT,181.0,C840083671,181.0,0.0,C38997010,21182.0,0.0,1,0
2,DEBIT,5337.77,C712410124,41720.0,36382.23,B1195600860,41898.0,40348.79,0,0
`

func TestCSVReplay(t *testing.T) {
	r := NewCSVReplayReader("paysim.csv", strings.NewReader(paysimLog), testLogger())
	if err := r.Run(); err != nil {
		t.Fatal(err)
	}

	var txs []model.Transaction
	for r.HasNext() {
		tx, err := r.Next()
		if err != nil {
			t.Fatal(err)
		}
		txs = append(txs, tx)
	}
	if len(txs) != 4 {
		t.Fatalf("got %d records, want 4", len(txs))
	}

	first := txs[0]
	if first.GlobalStep != 0 || first.Step != 1 || first.Action != model.ActionPayment || first.Amount != 9839.64 {
		t.Errorf("unexpected first record %+v", first)
	}
	if first.SenderKind != model.ActorClient || first.ReceiverKind != model.ActorMerchant {
		t.Errorf("kinds %s -> %s", first.SenderKind, first.ReceiverKind)
	}
	if !txs[1].Fraud || txs[1].FlaggedFraud {
		t.Errorf("fraud flags not parsed: %+v", txs[1])
	}
	if txs[3].ReceiverKind != model.ActorBank || txs[3].GlobalStep != 3 {
		t.Errorf("unexpected last record %+v", txs[3])
	}

	if len(r.Clients()) != 6 || len(r.Merchants()) != 1 || len(r.Banks()) != 1 {
		t.Errorf("tracked %d clients, %d merchants, %d banks",
			len(r.Clients()), len(r.Merchants()), len(r.Banks()))
	}
	if _, err := r.Next(); !pgerrors.IsCode(err, pgerrors.CodeExhausted) {
		t.Errorf("expected exhaustion, got %v", err)
	}
}

func TestCSVReplayTypeColumns(t *testing.T) {
	log := "step,action,amount,nameOrig,origType,nameDest,destType,isFraud,isFlaggedFraud\n" +
		"3,TRANSFER,500000,C1,CLIENT,C2,MULE,1,true\n"
	r := NewCSVReplayReader("typed.csv", strings.NewReader(log), testLogger())
	if err := r.Run(); err != nil {
		t.Fatal(err)
	}
	tx, err := r.Next()
	if err != nil {
		t.Fatal(err)
	}
	if tx.ReceiverKind != model.ActorMule || !tx.FlaggedFraud {
		t.Errorf("unexpected record %+v", tx)
	}
	if len(r.Mules()) != 1 {
		t.Errorf("mules = %d, want 1", len(r.Mules()))
	}
}

func TestCSVReplayInvalidRow(t *testing.T) {
	log := "step,type,amount,nameOrig,nameDest,isFraud,isFlaggedFraud\n" +
		"1,PAYMENT,10,C1,M1,0,0\n" +
		"1,REFUND,10,C1,M1,0,0\n"
	r := NewCSVReplayReader("bad.csv", strings.NewReader(log), testLogger())
	if err := r.Run(); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Next(); err != nil {
		t.Fatal(err)
	}
	if !r.HasNext() {
		t.Fatal("malformed row should be reported through Next")
	}
	_, err := r.Next()
	if !pgerrors.IsCode(err, pgerrors.CodeInvalidRecord) {
		t.Fatalf("expected invalid record, got %v", err)
	}
	if !strings.Contains(err.Error(), "row=2") {
		t.Errorf("error lacks row number: %v", err)
	}
}

func TestCSVReplayMissingColumns(t *testing.T) {
	r := NewCSVReplayReader("short.csv", strings.NewReader("step,type,amount\n1,PAYMENT,3\n"), testLogger())
	err := r.Run()
	if !pgerrors.IsCode(err, pgerrors.CodeInvalidRecord) {
		t.Fatalf("expected invalid record, got %v", err)
	}
	if !strings.Contains(err.Error(), "nameOrig") {
		t.Errorf("error does not name the missing column: %v", err)
	}
}

func TestCSVReplayMissingFile(t *testing.T) {
	r := NewCSVReplay("/nonexistent/paysim.csv", S3Config{}, testLogger())
	if err := r.Run(); !pgerrors.IsCode(err, pgerrors.CodeFileNotFound) {
		t.Fatalf("expected file not found, got %v", err)
	}
}

func TestCSVReplayAbortTwice(t *testing.T) {
	r := NewCSVReplayReader("paysim.csv", strings.NewReader(paysimLog), testLogger())
	if err := r.Run(); err != nil {
		t.Fatal(err)
	}
	if err := r.Abort(); err != nil {
		t.Fatal(err)
	}
	if err := r.Abort(); !pgerrors.IsCode(err, pgerrors.CodeAlreadyAborted) {
		t.Fatalf("expected already aborted, got %v", err)
	}
	if r.HasNext() {
		t.Error("aborted replay still has records")
	}
}

func TestParseS3URI(t *testing.T) {
	bucket, key, err := ParseS3URI("s3://paysim-logs/2024/run-1.csv")
	if err != nil {
		t.Fatal(err)
	}
	if bucket != "paysim-logs" || key != "2024/run-1.csv" {
		t.Errorf("got %q %q", bucket, key)
	}

	for _, bad := range []string{"/tmp/x.csv", "s3://", "s3://bucket", "s3://bucket/"} {
		if _, _, err := ParseS3URI(bad); err == nil {
			t.Errorf("ParseS3URI(%q) should fail", bad)
		}
	}
}
