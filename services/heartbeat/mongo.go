package heartbeat

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"

	"github.com/gocrud/servicehost/logging"
)

// MongoOptions MongoDB 归档配置选项
type MongoOptions struct {
	Uri         string
	Database    string
	Collection  string
	Username    string
	Password    string
	MaxPoolSize uint64
	Timeout     time.Duration
	Logger      logging.Logger
}

// NewDefaultMongoOptions 创建默认配置
func NewDefaultMongoOptions(uri string) MongoOptions {
	return MongoOptions{
		Uri:         uri,
		Database:    "servicehost",
		Collection:  "heartbeats",
		MaxPoolSize: 4,
		Timeout:     5 * time.Second,
	}
}

// Validate 验证配置
func (o *MongoOptions) Validate() error {
	if o.Uri == "" {
		return fmt.Errorf("mongo uri is required")
	}
	if o.Database == "" || o.Collection == "" {
		return fmt.Errorf("mongo database and collection are required")
	}
	if o.Timeout <= 0 {
		return fmt.Errorf("mongo timeout must be positive")
	}
	return nil
}

// MongoRecorder 把心跳写入 MongoDB 集合，实现 Recorder
type MongoRecorder struct {
	client     *mongo.Client
	collection *mongo.Collection
	timeout    time.Duration
	logger     logging.Logger
}

type mongoRecord struct {
	Kind    string    `bson:"kind"`
	Message string    `bson:"message"`
	Payload any       `bson:"payload,omitempty"`
	Time    time.Time `bson:"time"`
}

// NewMongoRecorder 连接并 Ping，失败时断开并返回错误
func NewMongoRecorder(ctx context.Context, opts MongoOptions) (*MongoRecorder, error) {
	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("heartbeat: %w", err)
	}
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}

	clientOpts := options.Client().
		ApplyURI(opts.Uri).
		SetConnectTimeout(opts.Timeout).
		SetServerSelectionTimeout(opts.Timeout)
	if opts.Username != "" || opts.Password != "" {
		clientOpts.SetAuth(options.Credential{
			Username: opts.Username,
			Password: opts.Password,
		})
	}
	if opts.MaxPoolSize > 0 {
		clientOpts.SetMaxPoolSize(opts.MaxPoolSize)
	}

	client, err := mongo.Connect(clientOpts)
	if err != nil {
		return nil, fmt.Errorf("heartbeat: failed to create mongo client: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("heartbeat: mongo ping failed: %w", err)
	}

	return &MongoRecorder{
		client:     client,
		collection: client.Database(opts.Database).Collection(opts.Collection),
		timeout:    opts.Timeout,
		logger:     opts.Logger,
	}, nil
}

// Record 同步写入一条记录，失败只记录日志
func (r *MongoRecorder) Record(kind, message string, payload any) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	_, err := r.collection.InsertOne(ctx, mongoRecord{
		Kind:    kind,
		Message: message,
		Payload: payload,
		Time:    time.Now(),
	})
	if err != nil {
		r.logger.Warn("Failed to archive heartbeat", logging.Err(err))
	}
}

// Shutdown 断开连接
func (r *MongoRecorder) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	if err := r.client.Disconnect(ctx); err != nil {
		r.logger.Warn("Failed to disconnect mongo client", logging.Err(err))
	}
}

// Recorders 把多个 Recorder 合并为一个，按顺序依次调用
func Recorders(rs ...Recorder) Recorder {
	out := make(multiRecorder, 0, len(rs))
	for _, r := range rs {
		if r != nil {
			out = append(out, r)
		}
	}
	return out
}

type multiRecorder []Recorder

func (m multiRecorder) Record(kind, message string, payload any) {
	for _, r := range m {
		r.Record(kind, message, payload)
	}
}
