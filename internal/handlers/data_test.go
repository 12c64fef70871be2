package handlers

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseJSONHandler(t *testing.T) {
	h := NewParseJSONHandler(nil)
	vars := map[string]any{
		"raw": `{"order":{"items":[{"sku":"A1"},{"sku":"B2"}]}}`,
		"obj": map[string]any{"order": map[string]any{"total": float64(40)}},
	}

	res, err := h.Handle(context.Background(), map[string]any{"sourceVariable": "raw", "jsonPath": "order.items.1.sku"}, vars)
	require.NoError(t, err)
	require.True(t, res.Success)
	assert.Equal(t, "B2", res.Output["extractedValue"])

	res, err = h.Handle(context.Background(), map[string]any{"sourceVariable": "raw", "jsonPath": ".order.items[].sku", "outputKey": "skus"}, vars)
	require.NoError(t, err)
	assert.Equal(t, []any{"A1", "B2"}, res.Output["skus"])

	res, err = h.Handle(context.Background(), map[string]any{"sourceVariable": "obj", "jsonPath": "order.total"}, vars)
	require.NoError(t, err)
	assert.Equal(t, float64(40), res.Output["extractedValue"])

	res, err = h.Handle(context.Background(), map[string]any{"sourceVariable": "ghost", "jsonPath": "a"}, vars)
	require.NoError(t, err)
	assert.False(t, res.Success)

	res, err = h.Handle(context.Background(), map[string]any{"sourceVariable": "raw"}, vars)
	require.NoError(t, err)
	assert.Equal(t, "Source variable and JSON path are required", res.Message)

	res, err = h.Handle(context.Background(), map[string]any{"sourceVariable": "bad", "jsonPath": "a"}, map[string]any{"bad": "{nope"})
	require.NoError(t, err)
	assert.False(t, res.Success)
}

func TestCalculationHandler(t *testing.T) {
	h := NewCalculationHandler(nil)
	vars := map[string]any{"price": float64(19.99), "qty": "3", "vip": true, "order": map[string]any{"discount": float64(5)}}

	res, err := h.Handle(context.Background(), map[string]any{
		"expression": "{{price}} * {{qty}} - {{order.discount}}", "precision": float64(2),
	}, vars)
	require.NoError(t, err)
	require.True(t, res.Success, res.Message)
	assert.Equal(t, 54.97, res.Output["calculatedValue"])

	res, err = h.Handle(context.Background(), map[string]any{"expression": "{{vip}} == 1 ? 10 : 0", "outputVariable": "bonus"}, vars)
	require.NoError(t, err)
	require.True(t, res.Success, res.Message)
	assert.Equal(t, float64(10), res.Output["bonus"])

	res, err = h.Handle(context.Background(), map[string]any{"expression": "{{missing}} + 1"}, vars)
	require.NoError(t, err)
	assert.Equal(t, float64(1), res.Output["calculatedValue"])

	res, err = h.Handle(context.Background(), map[string]any{"expression": "1 / 0"}, vars)
	require.NoError(t, err)
	assert.False(t, res.Success)

	res, err = h.Handle(context.Background(), map[string]any{"expression": "1 +"}, vars)
	require.NoError(t, err)
	assert.False(t, res.Success)

	res, err = h.Handle(context.Background(), map[string]any{}, vars)
	require.NoError(t, err)
	assert.Equal(t, "Expression is required", res.Message)
}

func TestTriggerHandler(t *testing.T) {
	res, err := TriggerHandler{}.Handle(context.Background(), map[string]any{"initialValue": "seed"}, map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, "seed", res.Output["output"])
	assert.Equal(t, "seed", res.Output["extractedValue"])

	res, err = TriggerHandler{}.Handle(context.Background(), map[string]any{"outputKey": "in"}, map[string]any{"b": 2, "a": 1})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Output["in"], "first variable by name")

	res, err = TriggerHandler{}.Handle(context.Background(), map[string]any{}, map[string]any{"a": 1, "extractedValue": "ev"})
	require.NoError(t, err)
	assert.Equal(t, "ev", res.Output["output"])

	res, err = TriggerHandler{}.Handle(context.Background(), map[string]any{"inputVariable": "b"}, map[string]any{"a": 1, "b": 2})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Output["output"])
}

func TestReturnHandler(t *testing.T) {
	res, err := ReturnHandler{}.Handle(context.Background(), map[string]any{"variableToReturn": "total"}, map[string]any{"total": float64(9)})
	require.NoError(t, err)
	assert.Equal(t, float64(9), res.Output["returnValue"])

	res, err = ReturnHandler{}.Handle(context.Background(), map[string]any{}, map[string]any{})
	require.NoError(t, err)
	assert.False(t, res.Success)
}

func TestNotificationHandler(t *testing.T) {
	h := NewNotificationHandler(slog.New(slog.DiscardHandler))
	res, err := h.Handle(context.Background(), map[string]any{"message": "Order {{id}} shipped", "level": "warning"}, map[string]any{"id": "42"})
	require.NoError(t, err)
	assert.Equal(t, "Order 42 shipped", res.Output["message"])
	assert.Equal(t, "Notification sent: Order 42 shipped", res.Message)
}

func TestAnnotationHandler(t *testing.T) {
	res, err := AnnotationHandler{}.Handle(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Empty(t, res.Output)
}
