package x402

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

type fakeSigner struct {
	address   string
	signature string
	signed    []TypedData
}

func (s *fakeSigner) Address() string { return s.address }

func (s *fakeSigner) SignTypedData(ctx context.Context, data TypedData) (string, error) {
	s.signed = append(s.signed, data)
	return s.signature, nil
}

func challengeJSON(t *testing.T) []byte {
	t.Helper()

	raw, err := json.Marshal(PaymentRequiredResponse{
		X402Version: Version,
		Error:       "Payment required",
		Accepts: []PaymentRequirements{{
			Scheme:            SchemeExact,
			Network:           "eip155:8453",
			Amount:            "150000",
			Asset:             usdcByNetwork["eip155:8453"],
			PayTo:             "0x69D51B18C1EfE88A9302a03A60127d98eD3D307D",
			MaxTimeoutSeconds: 600,
		}},
	})
	if err != nil {
		t.Fatalf("marshal challenge: %v", err)
	}
	return raw
}

func TestAgentPaysOnceAndReturnsSecondResponse(t *testing.T) {
	signer := &fakeSigner{
		address:   "0x1111111111111111111111111111111111111111",
		signature: "0xsigned",
	}

	calls := 0
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		switch calls {
		case 1:
			if r.Header.Get(HeaderPaymentSignature) != "" {
				t.Error("first request must not carry a payment")
			}
			w.WriteHeader(http.StatusPaymentRequired)
			w.Write(challengeJSON(t))
		case 2:
			header := r.Header.Get(HeaderPaymentSignature)
			if header == "" {
				t.Error("retry must carry a payment signature")
			}
			payload, err := DecodePaymentSignature(header)
			if err != nil {
				t.Errorf("decode retried payment: %v", err)
			} else {
				if payload.Payload.Signature != "0xsigned" {
					t.Errorf("unexpected signature %q", payload.Payload.Signature)
				}
				if payload.Payload.Authorization.From != signer.address {
					t.Errorf("unexpected payer %q", payload.Payload.Authorization.From)
				}
				if payload.Payload.Authorization.Value != "150000" {
					t.Errorf("unexpected value %q", payload.Payload.Authorization.Value)
				}
			}
			body, _ := io.ReadAll(r.Body)
			if !bytes.Contains(body, []byte("example@email.com")) {
				t.Error("retry lost the original request body")
			}
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{"List":{}}`))
		default:
			t.Errorf("unexpected call %d", calls)
		}
	}))
	defer ts.Close()

	agent := NewAgent(ts.Client(), signer).
		WithClock(func() time.Time { return time.Unix(1_700_000_000, 0) })

	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/api/search",
		bytes.NewBufferString(`{"request":"example@email.com","limit":10}`))

	resp, err := agent.Do(req)
	if err != nil {
		t.Fatalf("agent do: %v", err)
	}
	defer resp.Body.Close()

	if calls != 2 {
		t.Fatalf("expected exactly 2 network calls, got %d", calls)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if len(signer.signed) != 1 {
		t.Fatalf("expected exactly one signature prompt, got %d", len(signer.signed))
	}

	data := signer.signed[0]
	if data.PrimaryType != "TransferWithAuthorization" {
		t.Fatalf("unexpected primary type %q", data.PrimaryType)
	}
	if data.Domain.ChainID != 8453 {
		t.Fatalf("expected domain chain id 8453, got %d", data.Domain.ChainID)
	}
	if data.Domain.VerifyingContract != usdcByNetwork["eip155:8453"] {
		t.Fatalf("unexpected verifying contract %q", data.Domain.VerifyingContract)
	}
}

func TestAgentFailsHardOnSecond402(t *testing.T) {
	calls := 0
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusPaymentRequired)
		w.Write(challengeJSON(t))
	}))
	defer ts.Close()

	agent := NewAgent(ts.Client(), &fakeSigner{
		address:   "0x1111111111111111111111111111111111111111",
		signature: "0xsigned",
	})

	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/api/search",
		bytes.NewBufferString(`{"request":"q"}`))

	if _, err := agent.Do(req); err != ErrPaymentAlreadyAttempted {
		t.Fatalf("expected ErrPaymentAlreadyAttempted, got %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected exactly 2 network calls, no third retry, got %d", calls)
	}
}

func TestAgentPassesThroughNon402(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	defer ts.Close()

	agent := NewAgent(ts.Client(), nil)

	req, _ := http.NewRequest(http.MethodGet, ts.URL, nil)
	resp, err := agent.Do(req)
	if err != nil {
		t.Fatalf("agent do: %v", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusTeapot {
		t.Fatalf("expected 418 passthrough, got %d", resp.StatusCode)
	}
}

func TestAgentPrefersChallengeHeaderOverBody(t *testing.T) {
	encoded, err := EncodePaymentRequired(&PaymentRequiredResponse{
		X402Version: Version,
		Error:       "Payment required",
		Accepts: []PaymentRequirements{{
			Scheme:  SchemeExact,
			Network: "eip155:8453",
			Amount:  "300000",
			Asset:   usdcByNetwork["eip155:8453"],
			PayTo:   "0x69D51B18C1EfE88A9302a03A60127d98eD3D307D",
		}},
	})
	if err != nil {
		t.Fatalf("encode challenge: %v", err)
	}

	signer := &fakeSigner{address: "0x1111111111111111111111111111111111111111", signature: "0xsig"}

	calls := 0
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.Header().Set(HeaderPaymentRequired, encoded)
			w.WriteHeader(http.StatusPaymentRequired)
			w.Write([]byte(`not json`))
			return
		}
		payload, err := DecodePaymentSignature(r.Header.Get(HeaderPaymentSignature))
		if err != nil {
			t.Errorf("decode payment: %v", err)
		} else if payload.Payload.Authorization.Value != "300000" {
			t.Errorf("expected header challenge terms used, got value %q", payload.Payload.Authorization.Value)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	agent := NewAgent(ts.Client(), signer)
	req, _ := http.NewRequest(http.MethodPost, ts.URL, bytes.NewBufferString(`{}`))

	resp, err := agent.Do(req)
	if err != nil {
		t.Fatalf("agent do: %v", err)
	}
	resp.Body.Close()
}
