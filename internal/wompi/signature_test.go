package wompi

import (
	"errors"
	"strings"
	"testing"
)

const (
	testEventsSecret = "prod_events_OcHnwh8ec0kWE8Y7K1p48pvdvSwOMWe6"
	testChecksum     = "ed120c846af55aacea878b261caf40b1b031ebc8f596b4c809adfa1da7e21118"
)

func testEventBody(checksum string) []byte {
	return []byte(`{
		"event": "transaction.updated",
		"data": {
			"transaction": {
				"id": "1234-1610641025-49201",
				"amount_in_cents": 4490000,
				"reference": "ORD-20260224-ABC123",
				"currency": "COP",
				"payment_method_type": "NEQUI",
				"status": "APPROVED"
			}
		},
		"environment": "prod",
		"signature": {
			"properties": ["transaction.id", "transaction.status", "transaction.amount_in_cents"],
			"checksum": "` + checksum + `"
		},
		"timestamp": 1530291411,
		"sent_at": "2018-07-20T16:45:05.000Z"
	}`)
}

func TestVerifier_Verify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		secret   string
		checksum string
		wantErr  error
	}{
		{name: "valid checksum", secret: testEventsSecret, checksum: testChecksum},
		{name: "uppercase checksum", secret: testEventsSecret, checksum: strings.ToUpper(testChecksum)},
		{name: "wrong secret", secret: "prod_events_wrong", checksum: testChecksum, wantErr: ErrSignatureInvalid},
		{name: "tampered checksum", secret: testEventsSecret, checksum: strings.Repeat("0", 64), wantErr: ErrSignatureInvalid},
		{name: "missing checksum", secret: testEventsSecret, checksum: "", wantErr: ErrSignatureInvalid},
		{name: "permissive without secret", secret: "", checksum: "anything"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			verifier, err := NewVerifier(tt.secret, false)
			if err != nil {
				t.Fatalf("new verifier: %v", err)
			}
			event, err := ParseEvent(testEventBody(tt.checksum))
			if err != nil {
				t.Fatalf("parse event: %v", err)
			}

			err = verifier.Verify(event)
			if tt.wantErr == nil && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestNewVerifier_RequiresSecretInProduction(t *testing.T) {
	t.Parallel()

	if _, err := NewVerifier("", true); !errors.Is(err, ErrMissingEventsSecret) {
		t.Fatalf("expected missing secret error, got %v", err)
	}

	verifier, err := NewVerifier("  ", false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !verifier.Permissive() {
		t.Fatal("expected blank secret to produce a permissive verifier")
	}

	strict, err := NewVerifier(testEventsSecret, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strict.Permissive() {
		t.Fatal("expected verifier with secret to enforce checksums")
	}
}

func TestChecksum_MissingPropertiesResolveEmpty(t *testing.T) {
	t.Parallel()

	event, err := ParseEvent([]byte(`{
		"data": {"transaction": {"id": "abc", "flag": true, "nothing": null}},
		"signature": {"properties": ["transaction.id", "transaction.flag", "transaction.nothing", "transaction.missing.deep"]},
		"timestamp": "42"
	}`))
	if err != nil {
		t.Fatalf("parse event: %v", err)
	}

	got, err := Checksum(event, "s")
	if err != nil {
		t.Fatalf("checksum: %v", err)
	}
	want, err := Checksum(&Event{
		Data:      []byte(`{"v":"abctrue42"}`),
		Signature: Signature{Properties: []string{"v"}},
	}, "s")
	if err != nil {
		t.Fatalf("reference checksum: %v", err)
	}
	if got != want {
		t.Fatalf("checksum mismatch: got=%s want=%s", got, want)
	}
}

func TestParseEvent_Transaction(t *testing.T) {
	t.Parallel()

	event, err := ParseEvent(testEventBody(testChecksum))
	if err != nil {
		t.Fatalf("parse event: %v", err)
	}
	if event.Event != EventTransactionUpdated {
		t.Fatalf("unexpected event name: %s", event.Event)
	}
	if event.TimestampText() != "1530291411" {
		t.Fatalf("unexpected timestamp text: %s", event.TimestampText())
	}

	txn, err := event.Transaction()
	if err != nil {
		t.Fatalf("transaction: %v", err)
	}
	if txn.ID != "1234-1610641025-49201" || txn.AmountInCents != 4490000 || txn.Status != "APPROVED" {
		t.Fatalf("unexpected transaction: %+v", txn)
	}

	record := txn.Record()
	if record.OrderNumber != "ORD-20260224-ABC123" || record.ProviderTransactionID != txn.ID || len(record.RawPayload) == 0 {
		t.Fatalf("unexpected record: %+v", record)
	}
}

func TestParseEvent_Malformed(t *testing.T) {
	t.Parallel()

	for _, body := range []string{"", "   ", "{not json", `{"data": "x"`} {
		if _, err := ParseEvent([]byte(body)); !errors.Is(err, ErrMalformedEvent) {
			t.Fatalf("body %q: expected malformed event, got %v", body, err)
		}
	}

	event, err := ParseEvent([]byte(`{"event":"transaction.updated","data":{}}`))
	if err != nil {
		t.Fatalf("parse event: %v", err)
	}
	txn, err := event.Transaction()
	if err != nil || txn != nil {
		t.Fatalf("expected no transaction, got %+v err=%v", txn, err)
	}
}

func TestIntegritySignature(t *testing.T) {
	t.Parallel()

	got := IntegritySignature("ORD-20260224-ABC123", 1830000, "COP", "test_integrity_secret")
	want := "5b272e0f056fce632f873c8e1ec74b853e0a1ae82ba8a4cb16afc57684c5b77f"
	if got != want {
		t.Fatalf("unexpected integrity signature: got=%s want=%s", got, want)
	}
}
