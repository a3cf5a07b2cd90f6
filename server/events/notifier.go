package events

import "context"

// Notification is published once per successful per-client hunt
// completion when the hunt has a notification event configured.
type Notification struct {
	HuntId   string `json:"huntId"`
	ClientId string `json:"clientId"`
}

type Notifier interface {
	Notify(ctx context.Context, event string, notification Notification) error
}
