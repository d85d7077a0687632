package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"SafeCircle/pkg/logger"
)

// ClusterRelay 通过 Redis pub/sub 把组消息同步到其它节点，
// 每个节点只向本地连接投递
type ClusterRelay struct {
	hub     *Hub
	client  *redis.Client
	channel string
	nodeID  string

	pubsub *redis.PubSub
	wg     sync.WaitGroup
	once   sync.Once
}

type relayEnvelope struct {
	Node  string          `json:"node"`
	Group string          `json:"group"`
	Type  string          `json:"type"`
	Data  json.RawMessage `json:"data"`
}

func NewClusterRelay(hub *Hub, client *redis.Client, channel string) *ClusterRelay {
	nodeID := hub.config.ClusterNodeID
	if nodeID == "" {
		nodeID = uuid.NewString()
	}
	return &ClusterRelay{hub: hub, client: client, channel: channel, nodeID: nodeID}
}

// Start 订阅集群频道，ctx 取消或 Close 后退出
func (r *ClusterRelay) Start(ctx context.Context) error {
	r.pubsub = r.client.Subscribe(ctx, r.channel)
	if _, err := r.pubsub.Receive(ctx); err != nil {
		_ = r.pubsub.Close()
		return fmt.Errorf("subscribe %s: %w", r.channel, err)
	}

	ch := r.pubsub.Channel()
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				r.deliver(msg.Payload)
			}
		}
	}()
	logger.Info("websocket cluster relay started", zap.String("node", r.nodeID), zap.String("channel", r.channel))
	return nil
}

func (r *ClusterRelay) deliver(payload string) {
	var env relayEnvelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		logger.Warn("websocket relay: bad envelope", zap.Error(err))
		return
	}
	if env.Node == r.nodeID {
		return
	}
	r.hub.Publish(env.Group, env.Type, env.Data)
}

// Publish 本地投递并广播给其它节点，返回本地投递数
func (r *ClusterRelay) Publish(group, msgType string, data interface{}) int {
	n := r.hub.Publish(group, msgType, data)

	raw, err := json.Marshal(data)
	if err != nil {
		return n
	}
	body, err := json.Marshal(relayEnvelope{Node: r.nodeID, Group: group, Type: msgType, Data: raw})
	if err != nil {
		return n
	}
	if err := r.client.Publish(context.Background(), r.channel, body).Err(); err != nil {
		logger.Error("websocket relay publish failed", zap.String("group", group), zap.Error(err))
	}
	return n
}

func (r *ClusterRelay) NodeID() string { return r.nodeID }

func (r *ClusterRelay) Close() error {
	var err error
	r.once.Do(func() {
		if r.pubsub != nil {
			err = r.pubsub.Close()
		}
		r.wg.Wait()
	})
	return err
}
