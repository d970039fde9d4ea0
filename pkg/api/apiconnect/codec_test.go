package apiconnect

import (
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/mmynk/iouledger/pkg/api"
)

func TestCodecAmounts(t *testing.T) {
	var c Codec
	var cb api.PaymentCallback
	if err := c.Unmarshal([]byte(`{"provider_payment_id":"pay_1","amount":10.5}`), &cb); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if cb.Amount == nil || !cb.Amount.Equal(decimal.RequireFromString("10.5")) {
		t.Errorf("amount = %v", cb.Amount)
	}

	var quoted api.PaymentCallback
	if err := c.Unmarshal([]byte(`{"provider_payment_id":"pay_1","amount":"10.50"}`), &quoted); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if !quoted.Amount.Equal(*cb.Amount) {
		t.Errorf("quoted amount = %v", quoted.Amount)
	}

	var missing api.PaymentCallback
	if err := c.Unmarshal([]byte(`{"provider_payment_id":"pay_1"}`), &missing); err != nil {
		t.Fatal(err)
	}
	if missing.Amount != nil {
		t.Errorf("absent amount decoded as %v", missing.Amount)
	}
}

func TestCodecEmptyBody(t *testing.T) {
	var req api.GetCurrentUserRequest
	if err := (Codec{}).Unmarshal(nil, &req); err != nil {
		t.Errorf("empty body: %v", err)
	}
}

func TestCodecMarshalOmitsUnset(t *testing.T) {
	out, err := (Codec{}).Marshal(&api.PaymentAck{Message: "wallet timed out"})
	if err != nil {
		t.Fatal(err)
	}
	if got := string(out); got != `{"message":"wallet timed out"}` {
		t.Errorf("got %s", got)
	}
}

func TestCodecRejectsMalformed(t *testing.T) {
	var req api.CreateIOURequest
	err := (Codec{}).Unmarshal([]byte(`{"amount":"ten"}`), &req)
	if err == nil || !strings.Contains(err.Error(), "CreateIOURequest") {
		t.Errorf("err = %v", err)
	}
}
