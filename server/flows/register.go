package flows

import "github.com/mohitkumar/flock/server/engine"

func RegisterAll(registry *engine.Registry) error {
	for _, def := range []*engine.Definition{
		Collect(),
		Script(),
	} {
		if err := registry.Register(def); err != nil {
			return err
		}
	}
	return nil
}
