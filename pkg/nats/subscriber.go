// 文件: pkg/nats/subscriber.go
// NATS 事件订阅

package nats

import (
	"encoding/json"
	"fmt"
	"log"

	"github.com/nats-io/nats.go"
)

// MessageHandler 消息处理函数
type MessageHandler func(subject string, data []byte) error

// Subscriber NATS 订阅者
type Subscriber struct {
	conn    *nats.Conn
	subs    []*nats.Subscription
	handler MessageHandler
	owned   bool // 连接由本订阅者创建，Close 时一并关闭
}

// NewSubscriber 连接并创建订阅者
func NewSubscriber(url string, handler MessageHandler) (*Subscriber, error) {
	conn, err := Connect(url, "econsim-subscriber")
	if err != nil {
		return nil, err
	}
	return &Subscriber{conn: conn, handler: handler, owned: true}, nil
}

// NewSubscriberWithConn 复用已有连接
func NewSubscriberWithConn(conn *nats.Conn, handler MessageHandler) *Subscriber {
	return &Subscriber{conn: conn, handler: handler}
}

func (s *Subscriber) dispatch(msg *nats.Msg) {
	if err := s.handler(msg.Subject, msg.Data); err != nil {
		log.Printf("[NATS] handle error: subject=%s, err=%v", msg.Subject, err)
	}
}

// Subscribe 订阅主题
func (s *Subscriber) Subscribe(subjects ...string) error {
	for _, subject := range subjects {
		sub, err := s.conn.Subscribe(subject, s.dispatch)
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", subject, err)
		}
		s.subs = append(s.subs, sub)
	}
	return nil
}

// SubscribeQueue 队列订阅，同组内每条消息只投递给一个实例
func (s *Subscriber) SubscribeQueue(subject, queue string) error {
	sub, err := s.conn.QueueSubscribe(subject, queue, s.dispatch)
	if err != nil {
		return fmt.Errorf("queue subscribe %s/%s: %w", subject, queue, err)
	}
	s.subs = append(s.subs, sub)
	return nil
}

// Close 退订并 (必要时) 关闭连接
func (s *Subscriber) Close() error {
	for _, sub := range s.subs {
		if err := sub.Unsubscribe(); err != nil {
			log.Printf("[NATS] unsubscribe %s: %v", sub.Subject, err)
		}
	}
	s.subs = nil
	if s.owned {
		s.conn.Close()
	}
	return nil
}

// =============================================================================
// 便捷方法
// =============================================================================

// UnmarshalJSON 反序列化 JSON
func UnmarshalJSON[T any](data []byte) (*T, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return &v, nil
}
