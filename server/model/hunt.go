package model

type HuntState int

const HUNT_PAUSED HuntState = 1
const HUNT_STARTED HuntState = 2
const HUNT_STOPPED HuntState = 3

// Hunt fans one flow out across many clients under rate and
// population limits. A hunt is itself addressed by a session id and
// persisted like any other flow record.
type Hunt struct {
	Id                string         `json:"id"`
	FlowName          string         `json:"flowName"`
	State             HuntState      `json:"state"`
	RegexRules        []RegexRule    `json:"regexRules,omitempty"`
	IntegerRules      []IntegerRule  `json:"integerRules,omitempty"`
	ClientLimit       int            `json:"clientLimit"`
	ClientRate        int            `json:"clientRate"`
	NotificationEvent string         `json:"notificationEvent,omitempty"`
	Args              map[string]any `json:"args,omitempty"`
	// Timestamps are nanoseconds since epoch, matching rule
	// creation order granularity.
	CreateTime int64    `json:"createTime"`
	StartTime  int64    `json:"startTime"`
	Expires    int64    `json:"expires"`
	Started    []string `json:"started,omitempty"`
	Finished   []string `json:"finished,omitempty"`
	Errored    []string `json:"errored,omitempty"`
}

func (h *Hunt) HasStarted(clientId string) bool {
	return contains(h.Started, clientId)
}

func (h *Hunt) HasFinished(clientId string) bool {
	return contains(h.Finished, clientId)
}

func (h *Hunt) HasErrored(clientId string) bool {
	return contains(h.Errored, clientId)
}

func contains(list []string, item string) bool {
	for _, v := range list {
		if v == item {
			return true
		}
	}
	return false
}
