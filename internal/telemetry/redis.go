package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisSink caches the last known pose of each route and announces updates
// on a pub/sub channel, so other processes can follow the robot.
type RedisSink struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisSink connects to Redis at addr ("host:port" or a redis:// URL).
func NewRedisSink(addr string, ttl time.Duration) (*RedisSink, error) {
	opts, err := redisOptions(addr)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return &RedisSink{client: rdb, ttl: ttl}, nil
}

func redisOptions(addr string) (*redis.Options, error) {
	if addr == "" {
		return nil, errors.New("redis address is empty")
	}
	if strings.HasPrefix(addr, "redis://") || strings.HasPrefix(addr, "rediss://") {
		return redis.ParseURL(addr)
	}
	return &redis.Options{
		Addr:         addr,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}, nil
}

func PoseKey(route string) string    { return "odometry:" + route }
func UpdatesKey(route string) string { return "odometry:" + route + ":updates" }

// Publish stores pose under PoseKey(route) and publishes it on
// UpdatesKey(route). A nil sink does nothing.
func (s *RedisSink) Publish(ctx context.Context, route string, pose Odometry) error {
	if s == nil || s.client == nil {
		return nil
	}
	payload, err := json.Marshal(pose)
	if err != nil {
		return err
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, PoseKey(route), payload, s.ttl)
		pipe.Publish(ctx, UpdatesKey(route), payload)
		return nil
	})
	return err
}

// Last reads the cached pose of route. ok is false when none is cached.
func (s *RedisSink) Last(ctx context.Context, route string) (pose Odometry, ok bool, err error) {
	if s == nil || s.client == nil {
		return Odometry{}, false, nil
	}
	raw, err := s.client.Get(ctx, PoseKey(route)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Odometry{}, false, nil
	}
	if err != nil {
		return Odometry{}, false, err
	}
	if err := json.Unmarshal(raw, &pose); err != nil {
		return Odometry{}, false, err
	}
	return pose, true, nil
}

func (s *RedisSink) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}
