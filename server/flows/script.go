package flows

import (
	"fmt"

	"github.com/dop251/goja"
	"github.com/mohitkumar/flock/server/engine"
	"github.com/mohitkumar/flock/server/model"
)

// Script runs one request against the client and post-processes the
// response with a user-supplied javascript expression. The expression
// sees the response payload as `response` and the client id as
// `client`; its value becomes the flow result.
func Script() *engine.Definition {
	return &engine.Definition{
		Name:  "script",
		Start: scriptStart,
		Handlers: map[string]engine.HandlerFunc{
			"ProcessResult": processResult,
		},
	}
}

func scriptStart(run *engine.Run, _ *model.Response) error {
	action := "query"
	if v, ok := run.GetVar("action"); ok {
		if s, ok := v.(string); ok && s != "" {
			action = s
		}
	}
	payload := map[string]any{}
	if v, ok := run.GetVar("payload"); ok {
		if m, ok := v.(map[string]any); ok {
			payload = m
		}
	}
	run.CallClient(action, payload, "ProcessResult")
	return nil
}

func processResult(run *engine.Run, resp *model.Response) error {
	if !resp.Success() {
		return fmt.Errorf("client error: %s", resp.Error)
	}
	expression, _ := run.GetVar("script")
	expr, _ := expression.(string)
	if expr == "" {
		run.SetVar("result", resp.Payload)
		return nil
	}
	vm := goja.New()
	if err := vm.Set("response", resp.Payload); err != nil {
		return err
	}
	if err := vm.Set("client", run.ClientId()); err != nil {
		return err
	}
	value, err := vm.RunString(expr)
	if err != nil {
		return fmt.Errorf("error executing javascript %w", err)
	}
	run.SetVar("result", value.Export())
	return nil
}
