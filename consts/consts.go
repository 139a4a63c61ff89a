package consts

const (
	GlobalPrefix = "github.com/zhimiaox/zmqx-retained"
	Redis        = "redis"
	Memory       = "memory"
	Bolt         = "bbolt"
)

// MaxTopicLength is the longest topic a length prefixed MQTT string can carry.
const MaxTopicLength = 65535

// ReadBufferSize is the buffered reader size of an ingest connection.
const ReadBufferSize = 1024

const (
	// BucketCount is the default number of retained message partitions.
	BucketCount = 64
	// QueueDepth is the default number of pending tasks a single writer lane accepts.
	QueueDepth = 4096
)
