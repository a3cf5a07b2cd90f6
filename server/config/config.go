package config

type StorageType string

const STORAGE_TYPE_REDIS StorageType = "redis"

type Config struct {
	RedisConfig          RedisStorageConfig
	HttpPort             int
	StorageType          StorageType
	SweepIntervalSeconds int
	LeaseTTLSeconds      int
	PollBatchSize        int
}

type RedisStorageConfig struct {
	Addrs     []string
	Namespace string
}
