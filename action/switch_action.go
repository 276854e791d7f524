package action

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/mohitkumar/eventflow/logger"
	"github.com/mohitkumar/eventflow/recovery"
	"github.com/oliveagle/jsonpath"
	"go.uber.org/zap"
)

func validateExpression(expression string) (string, error) {
	if !strings.HasPrefix(expression, "{") || !strings.HasSuffix(expression, "}") {
		return "", fmt.Errorf("expression should be enclosed in {}")
	}
	tmatch := strings.TrimSuffix(strings.TrimPrefix(expression, "{"), "}")
	if _, err := jsonpath.Compile(tmatch); err != nil {
		return "", fmt.Errorf("expression should be a valid jsonpath expression")
	}
	return tmatch, nil
}

func switchHandler(ctx context.Context, params map[string]any, ec *ExecutionContext) (map[string]any, error) {
	expression, _ := params["expression"].(string)
	tmatch, err := validateExpression(expression)
	if err != nil {
		return nil, recovery.Wrap(recovery.KindValidation, "switch action", err)
	}
	logger.Debug("running switch action", zap.String("name", ec.ActionName), zap.String("executionId", ec.ExecutionID))
	expressionValue, err := jsonpath.JsonPathLookup(ec.Data, tmatch)
	if err != nil {
		expressionValue = nil
	}
	value := ""
	switch v := expressionValue.(type) {
	case int:
		value = strconv.Itoa(v)
	case int64:
		value = strconv.FormatInt(v, 10)
	case float64:
		value = strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		value = strconv.FormatBool(v)
	case string:
		value = v
	}

	event := value
	if cases, ok := params["cases"].(map[string]any); ok {
		event = ""
		if e, ok := cases[value].(string); ok {
			event = e
		}
	}
	if event == "" {
		event, _ = params["default"].(string)
	}
	if event == "" {
		return nil, recovery.Errorf(recovery.KindValidation, "switch action", "no event for value %q", value)
	}
	return map[string]any{"value": value, NextEventKey: event}, nil
}
