package worker

// Worker executes one named action on behalf of the client. The
// returned map becomes the response payload; a returned error is
// reported to the server and fails the request, not the client.
type Worker interface {
	Execute(map[string]any) (map[string]any, error)
	GetName() string
}

type workerFunc struct {
	name string
	fn   func(map[string]any) (map[string]any, error)
}

func NewWorker(name string, fn func(map[string]any) (map[string]any, error)) Worker {
	return &workerFunc{name: name, fn: fn}
}

func (w *workerFunc) Execute(payload map[string]any) (map[string]any, error) {
	return w.fn(payload)
}

func (w *workerFunc) GetName() string {
	return w.name
}
