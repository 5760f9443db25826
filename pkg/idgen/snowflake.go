// 文件: pkg/idgen/snowflake.go
// 雪花算法 ID 生成器 (订单/成交)
// 使用开源库: github.com/bwmarrin/snowflake

package idgen

import (
	"fmt"

	"github.com/bwmarrin/snowflake"
)

// Generator ID 生成器
type Generator interface {
	NextID() int64
}

// Snowflake 基于雪花算法的生成器
// 同一进程内单调递增，按 ID 排序即按生成时间排序
type Snowflake struct {
	node *snowflake.Node
}

// NewSnowflake 创建生成器
// nodeID: 节点ID (0-1023)，多实例部署时必须互不相同
func NewSnowflake(nodeID int64) (*Snowflake, error) {
	node, err := snowflake.NewNode(nodeID)
	if err != nil {
		return nil, fmt.Errorf("snowflake node %d: %w", nodeID, err)
	}
	return &Snowflake{node: node}, nil
}

// NextID 生成下一个 ID
func (s *Snowflake) NextID() int64 {
	return s.node.Generate().Int64()
}
