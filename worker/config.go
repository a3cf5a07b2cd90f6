package worker

type WorkerConfiguration struct {
	ServerUrl                string
	ClientId                 string
	PollIntervalSeconds      int
	MaxRetryBeforeResultPush int
	RetryIntervalSecond      int
	Attributes               map[string]any
}
