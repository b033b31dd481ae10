// 文件: pkg/agent/id.go
// Agent ID 生成
// - 用户铸造的 Agent: 雪花 ID (github.com/bwmarrin/snowflake)
// - 本地机器人: "bot-" + uuid，永不落库

package agent

import (
	"strings"
	"sync"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
)

// BotPrefix 本地机器人 ID 前缀，仅用于展示，路由看 Origin
const BotPrefix = "bot-"

var (
	node     *snowflake.Node
	initOnce sync.Once
	initErr  error
)

// InitIDNode 初始化雪花节点
// nodeID: 节点ID (0-1023)
func InitIDNode(nodeID int64) error {
	initOnce.Do(func() {
		node, initErr = snowflake.NewNode(nodeID)
	})
	return initErr
}

// NewID 生成持久化 Agent ID
func NewID() string {
	if node == nil {
		// 未初始化则使用默认节点0
		_ = InitIDNode(0)
	}
	return node.Generate().String()
}

// NewBotID 生成本地机器人 ID
func NewBotID() string {
	return BotPrefix + uuid.NewString()
}

// LooksLikeBot 按前缀判断 (只用于校验加载数据)
func LooksLikeBot(id string) bool {
	return strings.HasPrefix(id, BotPrefix)
}
