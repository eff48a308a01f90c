package nats

import "time"

// RetentionPolicy determines when messages are removed from a stream.
type RetentionPolicy string

const (
	LimitsRetention    RetentionPolicy = "limits"
	InterestRetention  RetentionPolicy = "interest"
	WorkQueueRetention RetentionPolicy = "workqueue"
)

// StorageType determines how a stream is persisted.
type StorageType string

const (
	FileStorage   StorageType = "file"
	MemoryStorage StorageType = "memory"
)

// DiscardPolicy determines what happens when a stream hits its limits.
type DiscardPolicy string

const (
	DiscardOld DiscardPolicy = "old"
	DiscardNew DiscardPolicy = "new"
)

// DeliverPolicy determines the first message a consumer delivers.
type DeliverPolicy string

const (
	DeliverAll            DeliverPolicy = "all"
	DeliverLast           DeliverPolicy = "last"
	DeliverNew            DeliverPolicy = "new"
	DeliverByStartSeq     DeliverPolicy = "by_start_sequence"
	DeliverByStartTime    DeliverPolicy = "by_start_time"
	DeliverLastPerSubject DeliverPolicy = "last_per_subject"
)

// AckPolicy determines how delivered messages are acknowledged.
type AckPolicy string

const (
	AckNonePolicy     AckPolicy = "none"
	AckAllPolicy      AckPolicy = "all"
	AckExplicitPolicy AckPolicy = "explicit"
)

// ReplayPolicy determines the pacing of replayed messages.
type ReplayPolicy string

const (
	ReplayInstant  ReplayPolicy = "instant"
	ReplayOriginal ReplayPolicy = "original"
)

// StreamConfig is the caller-constructed stream configuration, sent verbatim
// to the server on create and update.
type StreamConfig struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Subjects    []string        `json:"subjects,omitempty"`
	Retention   RetentionPolicy `json:"retention"`
	Storage     StorageType     `json:"storage"`
	Discard     DiscardPolicy   `json:"discard,omitempty"`
	MaxMsgs     int64           `json:"max_msgs,omitempty"`
	MaxBytes    int64           `json:"max_bytes,omitempty"`
	MaxAge      time.Duration   `json:"max_age,omitempty"`
	MaxMsgSize  int32           `json:"max_msg_size,omitempty"`
	Replicas    int             `json:"num_replicas,omitempty"`
	NoAck       bool            `json:"no_ack,omitempty"`
	Duplicates  time.Duration   `json:"duplicate_window,omitempty"`
}

// StreamState carries the server-reported stream counters.
type StreamState struct {
	Msgs      uint64    `json:"messages"`
	Bytes     uint64    `json:"bytes"`
	FirstSeq  uint64    `json:"first_seq"`
	FirstTime time.Time `json:"first_ts"`
	LastSeq   uint64    `json:"last_seq"`
	LastTime  time.Time `json:"last_ts"`
	Consumers int       `json:"consumer_count"`
}

// StreamInfo is the server-reported stream snapshot. It may be stale
// immediately after the fetch; it is never cached by the client.
type StreamInfo struct {
	Config  StreamConfig `json:"config"`
	Created time.Time    `json:"created"`
	State   StreamState  `json:"state"`
}

// ConsumerConfig is the caller-constructed consumer configuration. A
// consumer without a durable name is ephemeral.
type ConsumerConfig struct {
	Durable         string          `json:"durable_name,omitempty"`
	Description     string          `json:"description,omitempty"`
	DeliverPolicy   DeliverPolicy   `json:"deliver_policy"`
	OptStartSeq     uint64          `json:"opt_start_seq,omitempty"`
	OptStartTime    *time.Time      `json:"opt_start_time,omitempty"`
	AckPolicy       AckPolicy       `json:"ack_policy"`
	AckWait         time.Duration   `json:"ack_wait,omitempty"`
	MaxDeliver      int             `json:"max_deliver,omitempty"`
	BackOff         []time.Duration `json:"backoff,omitempty"`
	FilterSubject   string          `json:"filter_subject,omitempty"`
	ReplayPolicy    ReplayPolicy    `json:"replay_policy"`
	MaxAckPending   int             `json:"max_ack_pending,omitempty"`
	MaxWaiting      int             `json:"max_waiting,omitempty"`
	SampleFrequency string          `json:"sample_freq,omitempty"`
}

// SequenceInfo pairs the consumer and stream sequence positions.
type SequenceInfo struct {
	Consumer uint64 `json:"consumer_seq"`
	Stream   uint64 `json:"stream_seq"`
}

// ConsumerInfo is the server-reported consumer snapshot.
type ConsumerInfo struct {
	Stream         string         `json:"stream_name"`
	Name           string         `json:"name"`
	Created        time.Time      `json:"created"`
	Config         ConsumerConfig `json:"config"`
	Delivered      SequenceInfo   `json:"delivered"`
	AckFloor       SequenceInfo   `json:"ack_floor"`
	NumAckPending  int            `json:"num_ack_pending"`
	NumRedelivered int            `json:"num_redelivered"`
	NumWaiting     int            `json:"num_waiting"`
	NumPending     uint64         `json:"num_pending"`
}

// ConsumerPage is one page of a consumer listing.
type ConsumerPage struct {
	Total     int             `json:"total"`
	Offset    int             `json:"offset"`
	Limit     int             `json:"limit"`
	Consumers []*ConsumerInfo `json:"consumers"`
}

// PubAck is the server acknowledgment for a publish into a stream.
type PubAck struct {
	Stream    string `json:"stream"`
	Sequence  uint64 `json:"seq"`
	Duplicate bool   `json:"duplicate,omitempty"`
}

// AccountInfo reports the account's persistence usage and limits.
type AccountInfo struct {
	Memory    uint64 `json:"memory"`
	Store     uint64 `json:"storage"`
	Streams   int    `json:"streams"`
	Consumers int    `json:"consumers"`
}

// apiResponse is the envelope every JetStream API reply shares.
type apiResponse struct {
	Type  string    `json:"type"`
	Error *APIError `json:"error,omitempty"`
}

type apiPagedRequest struct {
	Offset int `json:"offset"`
	Limit  int `json:"limit,omitempty"`
}

type streamInfoResponse struct {
	apiResponse
	StreamInfo
}

type streamDeleteResponse struct {
	apiResponse
	Success bool `json:"success"`
}

type streamPurgeResponse struct {
	apiResponse
	Success bool   `json:"success"`
	Purged  uint64 `json:"purged"`
}

type createConsumerRequest struct {
	Stream string         `json:"stream_name"`
	Config ConsumerConfig `json:"config"`
}

type consumerInfoResponse struct {
	apiResponse
	ConsumerInfo
}

type consumerDeleteResponse struct {
	apiResponse
	Success bool `json:"success"`
}

type consumerListResponse struct {
	apiResponse
	ConsumerPage
}

type storedMsg struct {
	Subject string    `json:"subject"`
	Seq     uint64    `json:"seq"`
	Header  []byte    `json:"hdrs,omitempty"`
	Data    []byte    `json:"data,omitempty"`
	Time    time.Time `json:"time"`
}

type msgGetRequest struct {
	Seq uint64 `json:"seq"`
}

type msgGetResponse struct {
	apiResponse
	Message *storedMsg `json:"message"`
}

type msgDeleteRequest struct {
	Seq uint64 `json:"seq"`
}

type msgDeleteResponse struct {
	apiResponse
	Success bool `json:"success"`
}

type pubAckResponse struct {
	apiResponse
	PubAck
}

type accountInfoResponse struct {
	apiResponse
	AccountInfo
}

type nextMsgRequest struct {
	Batch   int           `json:"batch,omitempty"`
	NoWait  bool          `json:"no_wait,omitempty"`
	Expires time.Duration `json:"expires,omitempty"`
}
