package flows

import (
	"fmt"

	"github.com/mohitkumar/flock/server/engine"
	"github.com/mohitkumar/flock/server/model"
)

// Collect issues one file collection request per configured path and
// gathers the responses into the flow's variable bag. The flow
// completes once every outstanding request has been answered.
func Collect() *engine.Definition {
	return &engine.Definition{
		Name:  "collect",
		Start: collectStart,
		Handlers: map[string]engine.HandlerFunc{
			"StoreResults": storeResults,
		},
	}
}

func collectStart(run *engine.Run, _ *model.Response) error {
	paths, ok := run.GetVar("paths")
	if !ok {
		return fmt.Errorf("collect flow requires a paths argument")
	}
	pathList, ok := paths.([]any)
	if !ok || len(pathList) == 0 {
		return fmt.Errorf("collect flow requires a non-empty paths list")
	}
	for _, path := range pathList {
		run.CallClient("collect_file", map[string]any{"path": path}, "StoreResults")
	}
	return nil
}

func storeResults(run *engine.Run, resp *model.Response) error {
	if !resp.Success() {
		failed, _ := run.GetVar("failed")
		failedList, _ := failed.([]any)
		run.SetVar("failed", append(failedList, resp.Error))
		return nil
	}
	results, _ := run.GetVar("results")
	resultList, _ := results.([]any)
	run.SetVar("results", append(resultList, resp.Payload))
	return nil
}
