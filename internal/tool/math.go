package tool

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"regexp"
	"strings"

	"github.com/expr-lang/expr"

	"soschat/internal/domain"
	"soschat/internal/metrics"
)

const DefaultMathEndpoint = "https://api.mathjs.org/v4/"

// arithmeticOnly is the whitelist an expression must satisfy before it is
// evaluated in-process.
var arithmeticOnly = regexp.MustCompile(`^[\d\s+\-*/().,%^]+$`)

var errNonFinite = errors.New("result is not a finite number")

type MathConfig struct {
	Endpoint      string
	LocalFallback bool
	Client        *http.Client
	Logger        *slog.Logger
}

// CalculatorTool evaluates expressions with a remote math API and falls
// back to a local arithmetic evaluator when the API is unavailable.
type CalculatorTool struct {
	endpoint      string
	localFallback bool
	client        *http.Client
	logger        *slog.Logger
}

func NewCalculatorTool(cfg MathConfig) *CalculatorTool {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultMathEndpoint
	}
	if cfg.Client == nil {
		cfg.Client = SharedHTTPClient(0)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &CalculatorTool{
		endpoint:      cfg.Endpoint,
		localFallback: cfg.LocalFallback,
		client:        cfg.Client,
		logger:        cfg.Logger,
	}
}

func (t *CalculatorTool) Name() domain.ToolName { return domain.ToolCalculate }
func (t *CalculatorTool) Description() string {
	return "Evaluate a math expression, e.g. \"2^10 / (3 + 1)\" or \"sqrt(16) + 5 cm to inch\"."
}
func (t *CalculatorTool) Parameters() map[string]any {
	return ToolParameters(
		map[string]Param{
			"input": {Type: "string", Description: "Expression to evaluate"},
		},
		[]string{"input"},
	)
}

func (t *CalculatorTool) Handle(ctx context.Context, params domain.Params) (domain.Result, error) {
	input := strings.TrimSpace(ArgsString(params, "input"))
	if input == "" {
		return domain.Failure(domain.KindInput, http.StatusBadRequest, "Missing required parameter: input"), nil
	}

	result, remoteErr := t.remote(ctx, input)
	if remoteErr == nil {
		return domain.Success(map[string]any{"input": input, "result": result}), nil
	}

	if !t.localFallback || !IsArithmetic(input) {
		return domain.Failure(domain.KindUpstream, 0, "%s", remoteErr.Error()), nil
	}

	value, err := EvaluateArithmetic(input)
	if errors.Is(err, errNonFinite) {
		return domain.Failure(domain.KindUpstream, 0, "%s", remoteErr.Error()), nil
	}
	if err != nil {
		return domain.Failure(domain.KindInput, http.StatusBadRequest, "local evaluation failed: %v", err), nil
	}

	t.logger.Warn("math API failed, answered locally", "err", remoteErr)
	metrics.MathFallbacks.Inc()
	return domain.Success(map[string]any{"input": input, "result": value}).WithSource(domain.SourceLocal), nil
}

type mathRequest struct {
	Expr string `json:"expr"`
}

type mathResponse struct {
	Result any     `json:"result"`
	Error  *string `json:"error"`
}

// remote posts the expression to a mathjs-compatible API.
func (t *CalculatorTool) remote(ctx context.Context, input string) (any, error) {
	payload, err := json.Marshal(mathRequest{Expr: input})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgentString)

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("math API request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("read math API response: %w", err)
	}

	var mr mathResponse
	decodeErr := json.Unmarshal(body, &mr)
	if decodeErr == nil && mr.Error != nil && *mr.Error != "" {
		return nil, fmt.Errorf("math API error: %s", *mr.Error)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, newStatusError("math API", resp)
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("parse math API response: %w", decodeErr)
	}
	if mr.Result == nil {
		return nil, errors.New("math API error: empty result")
	}
	return mr.Result, nil
}

// IsArithmetic reports whether input only uses digits, whitespace and the
// operators + - * / ( ) . , % ^.
func IsArithmetic(input string) bool {
	return arithmeticOnly.MatchString(input)
}

// numberLiteral matches the numeric literals of a whitelisted expression.
var numberLiteral = regexp.MustCompile(`\d+(?:\.\d*)?|\.\d+`)

// floatLiterals rewrites every number as a float literal so evaluation
// happens in float64 and cannot wrap around like int64 arithmetic.
func floatLiterals(expression string) string {
	return numberLiteral.ReplaceAllStringFunc(expression, func(n string) string {
		if strings.HasPrefix(n, ".") {
			n = "0" + n
		}
		switch {
		case !strings.Contains(n, "."):
			return n + ".0"
		case strings.HasSuffix(n, "."):
			return n + "0"
		}
		return n
	})
}

// arithmeticOptions maps % onto math.Mod; the built-in operator only
// accepts integers.
var arithmeticOptions = []expr.Option{
	expr.Function("fmod", func(params ...any) (any, error) {
		return math.Mod(params[0].(float64), params[1].(float64)), nil
	}, new(func(float64, float64) float64)),
	expr.Operator("%", "fmod"),
}

// EvaluateArithmetic evaluates a whitelisted arithmetic expression locally
// in float64. "^" is exponentiation. Anything outside the whitelist is
// rejected before evaluation.
func EvaluateArithmetic(input string) (float64, error) {
	if !IsArithmetic(input) {
		return 0, errors.New("expression contains characters outside the arithmetic whitelist")
	}
	expression := floatLiterals(strings.ReplaceAll(input, "^", "**"))

	program, err := expr.Compile(expression, arithmeticOptions...)
	if err != nil {
		return 0, err
	}
	out, err := expr.Run(program, nil)
	if err != nil {
		return 0, err
	}

	var v float64
	switch n := out.(type) {
	case int:
		v = float64(n)
	case float64:
		v = n
	default:
		return 0, fmt.Errorf("expression did not produce a number (%T)", out)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, errNonFinite
	}
	return v, nil
}
