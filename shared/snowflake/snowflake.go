// Package snowflake 64 位有序 ID：41 位毫秒时间戳 | 10 位节点号 | 12 位序号
// 会话和消息都用它作主键，同一节点生成的 ID 严格递增
package snowflake

import (
	"fmt"
	"strconv"
	"sync"
	"time"
)

const (
	epoch int64 = 1704067200000 // 2024-01-01 UTC

	seqBits  = 12
	nodeBits = 10

	seqMask  = 1<<seqBits - 1
	nodeMask = 1<<nodeBits - 1
)

type ID int64

func (id ID) String() string { return strconv.FormatInt(int64(id), 10) }

func (id ID) Int64() int64 { return int64(id) }

// Time 生成时的毫秒时间
func (id ID) Time() time.Time {
	return time.UnixMilli(int64(id)>>(seqBits+nodeBits) + epoch)
}

// Node 生成该 ID 的节点号
func (id ID) Node() int64 {
	return int64(id) >> seqBits & nodeMask
}

// ParseID 解析十进制字符串
func ParseID(s string) (ID, error) {
	v, err := strconv.ParseInt(s, 10, 64)
	return ID(v), err
}

// Node 单节点 ID 生成器
// tick 保存 (毫秒 << seqBits | 序号)，每次取 max(tick+1, now<<seqBits)。
// 时钟回拨或单毫秒序号用尽时借用后续毫秒，不会阻塞
type Node struct {
	node int64
	now  func() int64

	mu   sync.Mutex
	tick int64
}

// NewNode nodeID 取值 [0, 1023]
func NewNode(nodeID int64) (*Node, error) {
	if nodeID < 0 || nodeID > nodeMask {
		return nil, fmt.Errorf("snowflake: node id %d out of range [0, %d]", nodeID, nodeMask)
	}
	return &Node{
		node: nodeID,
		now:  func() int64 { return time.Now().UnixMilli() },
	}, nil
}

func (n *Node) Generate() ID {
	n.mu.Lock()
	n.tick = max(n.tick+1, (n.now()-epoch)<<seqBits)
	t := n.tick
	n.mu.Unlock()

	ms, seq := t>>seqBits, t&seqMask
	return ID(ms<<(seqBits+nodeBits) | n.node<<seqBits | seq)
}
