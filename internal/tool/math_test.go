package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"soschat/internal/domain"
)

func newMathServer(t *testing.T, status int, body string) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		var req mathRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Expr == "" {
			t.Errorf("bad math request body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		fmt.Fprint(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func newCalculator(srv *httptest.Server, fallback bool) *CalculatorTool {
	return NewCalculatorTool(MathConfig{
		Endpoint:      srv.URL,
		LocalFallback: fallback,
		Client:        srv.Client(),
		Logger:        testLogger(),
	})
}

func TestCalculate_Remote(t *testing.T) {
	srv, calls := newMathServer(t, http.StatusOK, `{"result":"4","error":null}`)
	res, err := newCalculator(srv, true).Handle(context.Background(), domain.Params{"input": "2+2"})
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if !res.OK() || res.Data["result"] != "4" || res.SourceHint != "" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if calls.Load() != 1 {
		t.Fatalf("expected 1 remote call, got %d", calls.Load())
	}
}

func TestCalculate_LocalFallback(t *testing.T) {
	srv, _ := newMathServer(t, http.StatusInternalServerError, "oops")
	res, err := newCalculator(srv, true).Handle(context.Background(), domain.Params{"input": "2+2"})
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	env := res.Envelope()
	if env["status"] != "success" || env["result"] != 4.0 || env["sourceHint"] != "local" {
		t.Fatalf("unexpected envelope: %v", env)
	}
}

func TestCalculate_LocalFallbackPower(t *testing.T) {
	srv, _ := newMathServer(t, http.StatusBadGateway, "")
	res, _ := newCalculator(srv, true).Handle(context.Background(), domain.Params{"input": "2^10"})
	if !res.OK() || res.Data["result"] != 1024.0 {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestCalculate_NonArithmeticPropagatesRemoteError(t *testing.T) {
	srv, _ := newMathServer(t, http.StatusInternalServerError, "oops")
	res, _ := newCalculator(srv, true).Handle(context.Background(), domain.Params{"input": "sqrt(16) + x"})
	if res.OK() {
		t.Fatal("expected failure")
	}
	if res.SourceHint != "" || res.Error != "math API error: Internal Server Error" {
		t.Fatalf("expected remote error, got %+v", res)
	}
}

func TestCalculate_DivisionByZeroPropagatesRemoteError(t *testing.T) {
	srv, _ := newMathServer(t, http.StatusInternalServerError, "oops")
	res, _ := newCalculator(srv, true).Handle(context.Background(), domain.Params{"input": "1/0"})
	if res.OK() {
		t.Fatal("expected failure")
	}
	if res.Error != "math API error: Internal Server Error" {
		t.Fatalf("expected remote error, got %q", res.Error)
	}
}

func TestCalculate_MalformedArithmeticPropagatesLocalError(t *testing.T) {
	srv, _ := newMathServer(t, http.StatusInternalServerError, "oops")
	res, _ := newCalculator(srv, true).Handle(context.Background(), domain.Params{"input": "1,2"})
	if res.OK() {
		t.Fatal("expected failure")
	}
	if !strings.HasPrefix(res.Error, "local evaluation failed") {
		t.Fatalf("expected local evaluation error, got %q", res.Error)
	}
}

func TestCalculate_RemoteErrorField(t *testing.T) {
	srv, _ := newMathServer(t, http.StatusBadRequest, `{"result":null,"error":"Undefined symbol x"}`)
	res, _ := newCalculator(srv, true).Handle(context.Background(), domain.Params{"input": "x + 1"})
	if res.OK() || res.Error != "math API error: Undefined symbol x" {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestCalculate_FallbackDisabled(t *testing.T) {
	srv, _ := newMathServer(t, http.StatusInternalServerError, "oops")
	res, _ := newCalculator(srv, false).Handle(context.Background(), domain.Params{"input": "2+2"})
	if res.OK() {
		t.Fatalf("expected failure with fallback disabled, got %+v", res)
	}
}

func TestCalculate_MissingInput(t *testing.T) {
	srv, calls := newMathServer(t, http.StatusOK, `{"result":"1"}`)
	res, _ := newCalculator(srv, true).Handle(context.Background(), domain.Params{"input": "  "})
	if res.OK() || res.Code != 400 {
		t.Fatalf("expected input failure, got %+v", res)
	}
	if calls.Load() != 0 {
		t.Fatal("remote must not be called without input")
	}
}

func TestIsArithmetic(t *testing.T) {
	cases := map[string]bool{
		"2+2":             true,
		" (1.5 * 4) / 2 ": true,
		"10 % 3":          true,
		"2^8":             true,
		"sqrt(4)":         false,
		"1; os.Exit(1)":   false,
		"2 + x":           false,
		"":                false,
	}
	for in, want := range cases {
		if got := IsArithmetic(in); got != want {
			t.Errorf("IsArithmetic(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestEvaluateArithmetic(t *testing.T) {
	cases := map[string]float64{
		"2 + 3 * 4": 14,
		"(1+2)^2":   9,
		"7/2":       3.5,
		"10 % 3":    1,
		"2.5*2":     5,
		"-3 + 1":    -2,
		"7.5 % 2":   1.5,
		".5 + 1.":   1.5,
	}
	for in, want := range cases {
		got, err := EvaluateArithmetic(in)
		if err != nil {
			t.Errorf("EvaluateArithmetic(%q): %v", in, err)
			continue
		}
		if got != want {
			t.Errorf("EvaluateArithmetic(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestEvaluateArithmetic_Rejects(t *testing.T) {
	if _, err := EvaluateArithmetic("len('abc')"); err == nil {
		t.Fatal("expected whitelist rejection")
	}
	if _, err := EvaluateArithmetic("1/0"); err != errNonFinite {
		t.Fatalf("expected errNonFinite, got %v", err)
	}
	if _, err := EvaluateArithmetic("(1+"); err == nil {
		t.Fatal("expected syntax error")
	}
}

func TestEvaluateArithmetic_BeyondInt64(t *testing.T) {
	cases := map[string]float64{
		"3037000500*3037000500":  3037000500.0 * 3037000500.0,
		"9999999999*9999999999":  9999999999.0 * 9999999999.0,
		"99999999999999999999+1": 1e20,
		"2^64":                   math.Pow(2, 64),
	}
	for in, want := range cases {
		got, err := EvaluateArithmetic(in)
		if err != nil {
			t.Errorf("EvaluateArithmetic(%q): %v", in, err)
			continue
		}
		if math.Abs(got-want) > want*1e-12 {
			t.Errorf("EvaluateArithmetic(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestCalculate_LocalFallbackLargeProduct(t *testing.T) {
	srv, _ := newMathServer(t, http.StatusBadGateway, `{}`)
	res, err := newCalculator(srv, true).Handle(context.Background(), domain.Params{"input": "9999999999*9999999999"})
	if err != nil {
		t.Fatal(err)
	}
	got, _ := res.Data["result"].(float64)
	if !res.OK() || res.SourceHint != domain.SourceLocal || got < 9.99999999e19 {
		t.Fatalf("unexpected result: %+v", res)
	}
}
