package decision

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	xerrors "ASpec-Commerce/internal/errors"
)

// shapeSchema 约束结构与类型，不满足即视为 ORACLE_MALFORMED。
const shapeSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["action", "reasoning", "confidence"],
  "properties": {
    "action": {"type": "string", "enum": ["EXECUTE", "HOLD", "REJECT"]},
    "reasoning": {"type": "string"},
    "confidence": {"type": "number"},
    "parameters": {"type": "object"}
  }
}`

// rangeSchema 约束取值范围，不满足即视为 ORACLE_OUT_OF_RANGE。
const rangeSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "properties": {
    "confidence": {"minimum": 0, "maximum": 100},
    "parameters": {
      "properties": {
        "amount": {"minimum": 0},
        "suggestedBudget": {"minimum": 0}
      }
    }
  }
}`

var (
	shape  = mustCompile("https://aspec.schemas.local/decision/shape.schema.json", shapeSchema)
	ranges = mustCompile("https://aspec.schemas.local/decision/range.schema.json", rangeSchema)
)

func mustCompile(url, schema string) *jsonschema.Schema {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource(url, strings.NewReader(schema)); err != nil {
		panic(fmt.Sprintf("decision schema load failed: %v", err))
	}
	compiled, err := c.Compile(url)
	if err != nil {
		panic(fmt.Sprintf("decision schema compile failed: %v", err))
	}
	return compiled
}

// Parse 把决策方的原始输出解析为 Decision。输出可以夹带在 markdown 或说明文字中，
// 取第一个 '{' 到最后一个 '}' 之间的内容。
func Parse(raw string) (Decision, error) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return Decision{}, xerrors.New(xerrors.CodeOracleMalformed, "no JSON object in oracle output",
			xerrors.WithMetadata("raw", truncate(raw, 200)))
	}
	body := raw[start : end+1]

	dec := json.NewDecoder(bytes.NewReader([]byte(body)))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return Decision{}, xerrors.Wrap(xerrors.CodeOracleMalformed, err, "oracle output is not valid JSON")
	}
	if err := shape.Validate(doc); err != nil {
		return Decision{}, xerrors.Wrap(xerrors.CodeOracleMalformed, err, "oracle output does not match the decision shape")
	}
	if err := ranges.Validate(doc); err != nil {
		return Decision{}, xerrors.Wrap(xerrors.CodeOracleOutOfRange, err, "oracle output values out of range")
	}

	obj := doc.(map[string]any)
	confidence, _ := obj["confidence"].(json.Number).Float64()
	d := Decision{
		Action:     Action(obj["action"].(string)),
		Reasoning:  obj["reasoning"].(string),
		Confidence: int(math.Round(confidence)),
	}
	if params, ok := obj["parameters"].(map[string]any); ok {
		d.Parameters = normalizeNumbers(params).(map[string]any)
	}
	return d, nil
}

// Validate 检查决策方直接返回的 Decision。未知动作记为 ORACLE_MALFORMED，
// 置信度或金额越界记为 ORACLE_OUT_OF_RANGE，与 Parse 的判定一致。
func Validate(d Decision) error {
	switch d.Action {
	case ActionExecute, ActionHold, ActionReject:
	default:
		return xerrors.New(xerrors.CodeOracleMalformed, fmt.Sprintf("unknown action %q", d.Action))
	}
	if d.Confidence < 0 || d.Confidence > 100 {
		return xerrors.New(xerrors.CodeOracleOutOfRange, fmt.Sprintf("confidence %d outside 0..100", d.Confidence))
	}
	for _, key := range []string{ParamAmount, ParamSuggestedBudget} {
		if v, ok := d.Parameters[key].(float64); ok && v < 0 {
			return xerrors.New(xerrors.CodeOracleOutOfRange, fmt.Sprintf("%s %v is negative", key, v))
		}
	}
	return nil
}

// normalizeNumbers 把 json.Number 转成 float64，保持与普通 JSON 解码一致的形态。
func normalizeNumbers(v any) any {
	switch t := v.(type) {
	case json.Number:
		if f, err := t.Float64(); err == nil {
			return f
		}
		return t.String()
	case map[string]any:
		for k, inner := range t {
			t[k] = normalizeNumbers(inner)
		}
		return t
	case []any:
		for i, inner := range t {
			t[i] = normalizeNumbers(inner)
		}
		return t
	default:
		return v
	}
}

// Degradable 判断错误是否属于应当降级为 HOLD 的三类决策错误。
func Degradable(err error) bool {
	switch xerrors.CodeOf(err) {
	case xerrors.CodeOracleUnavailable, xerrors.CodeOracleMalformed, xerrors.CodeOracleOutOfRange:
		return true
	default:
		return false
	}
}

// Degrade 返回决策错误对应的保守决策。
func Degrade(err error) Decision {
	reason := "Unable to parse agent response"
	if xerrors.CodeOf(err) == xerrors.CodeOracleUnavailable {
		reason = "Decision oracle unavailable"
	}
	if e, ok := xerrors.From(err); ok {
		reason = fmt.Sprintf("%s: %s", reason, e.Message())
	}
	return Decision{Action: ActionHold, Reasoning: reason, Confidence: 0}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
