package action

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dop251/goja"
	"github.com/mohitkumar/eventflow/logger"
	"github.com/mohitkumar/eventflow/recovery"
	"go.uber.org/zap"
)

// jsHandler runs the script with the execution data bound to $ and returns
// $ afterwards. The script is interrupted when ctx is done.
func jsHandler(ctx context.Context, params map[string]any, ec *ExecutionContext) (map[string]any, error) {
	script, _ := params["script"].(string)
	logger.Debug("running javascript action", zap.String("name", ec.ActionName), zap.String("executionId", ec.ExecutionID))
	data, err := json.Marshal(ec.Data)
	if err != nil {
		return nil, recovery.Wrap(recovery.KindValidation, "javascript action", err)
	}
	vm := goja.New()
	stop := context.AfterFunc(ctx, func() {
		vm.Interrupt("context done")
	})
	defer stop()

	expression := fmt.Sprintf("var $ = %s;\n%s", data, script)
	if _, err := vm.RunString(expression); err != nil {
		return nil, recovery.Wrap(recovery.KindValidation, "javascript action", fmt.Errorf("error executing javascript %w", err))
	}
	val, err := vm.RunString("$")
	if err != nil {
		return nil, recovery.Wrap(recovery.KindValidation, "javascript action", fmt.Errorf("error executing javascript %w", err))
	}
	res, err := json.Marshal(val.Export())
	if err != nil {
		return nil, recovery.Wrap(recovery.KindValidation, "javascript action", err)
	}
	var output map[string]any
	if err := json.Unmarshal(res, &output); err != nil {
		return nil, recovery.Wrap(recovery.KindValidation, "javascript action", fmt.Errorf("$ is not an object: %w", err))
	}
	return output, nil
}
