package decision

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	xerrors "ASpec-Commerce/internal/errors"
)

func TestParseExtractsEmbeddedObject(t *testing.T) {
	raw := "Here is my call:\n```json\n{\"action\":\"EXECUTE\",\"reasoning\":\"22% below target\",\"confidence\":84.6,\"parameters\":{\"amount\":250.5,\"urgency\":\"high\"}}\n```"
	d, err := Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, ActionExecute, d.Action)
	assert.Equal(t, 85, d.Confidence)
	amount, ok := d.Amount(ParamAmount)
	require.True(t, ok)
	assert.True(t, amount.Equal(decimal.RequireFromString("250.5")))
	assert.Equal(t, "high", d.Parameters["urgency"])
}

func TestParseErrorCodes(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		code xerrors.Code
	}{
		{"no json", "buy it", xerrors.CodeOracleMalformed},
		{"broken json", `{"action": "EXECUTE",`, xerrors.CodeOracleMalformed},
		{"missing reasoning", `{"action":"HOLD","confidence":10}`, xerrors.CodeOracleMalformed},
		{"unknown action", `{"action":"BUY","reasoning":"x","confidence":10}`, xerrors.CodeOracleMalformed},
		{"confidence as string", `{"action":"HOLD","reasoning":"x","confidence":"high"}`, xerrors.CodeOracleMalformed},
		{"confidence above range", `{"action":"HOLD","reasoning":"x","confidence":101}`, xerrors.CodeOracleOutOfRange},
		{"negative amount", `{"action":"EXECUTE","reasoning":"x","confidence":50,"parameters":{"amount":-5}}`, xerrors.CodeOracleOutOfRange},
		{"negative budget", `{"action":"EXECUTE","reasoning":"x","confidence":50,"parameters":{"suggestedBudget":-1}}`, xerrors.CodeOracleOutOfRange},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse(tc.raw)
			require.Error(t, err)
			assert.Equal(t, tc.code, xerrors.CodeOf(err))
			assert.True(t, Degradable(err))
		})
	}
}

func TestDegradeProducesHold(t *testing.T) {
	d := Degrade(xerrors.New(xerrors.CodeOracleMalformed, "no JSON object in oracle output"))
	assert.Equal(t, ActionHold, d.Action)
	assert.Equal(t, 0, d.Confidence)
	assert.Equal(t, "Unable to parse agent response: no JSON object in oracle output", d.Reasoning)

	d = Degrade(xerrors.New(xerrors.CodeOracleUnavailable, "timeout"))
	assert.Equal(t, "Decision oracle unavailable: timeout", d.Reasoning)
}

func TestAmountTreatsZeroAndGarbageAsAbsent(t *testing.T) {
	d := Decision{Parameters: map[string]any{
		"zero":   0.0,
		"text":   "100",
		"int":    7,
		"number": decimal.NewFromInt(3),
	}}
	for _, key := range []string{"zero", "text", "missing"} {
		_, ok := d.Amount(key)
		assert.False(t, ok, key)
	}
	v, ok := d.Amount("int")
	assert.True(t, ok)
	assert.True(t, v.Equal(decimal.NewFromInt(7)))
	v, ok = d.Amount("number")
	assert.True(t, ok)
	assert.True(t, v.Equal(decimal.NewFromInt(3)))
}

func TestCloneIsolatesParameters(t *testing.T) {
	d := Decision{Action: ActionExecute, Parameters: map[string]any{"amount": 10.0}}
	c := d.Clone()
	c.Parameters["amount"] = 99.0
	assert.Equal(t, 10.0, d.Parameters["amount"])
}
