// Package delivery 消息投递状态机
//
//	sending -> sent | failed
//	sent -> delivered -> read
//	failed -> sending (仅重试)
//
// 成功路径上状态单调前进，迟到的低级状态被忽略。
package delivery

import (
	"github.com/incyashraj/ParkShare-sub000/shared/model"
)

// rank 成功路径上的顺序
var rank = map[model.MessageStatus]int{
	model.StatusSending:   0,
	model.StatusSent:      1,
	model.StatusDelivered: 2,
	model.StatusRead:      3,
}

// Valid 是否为已知状态
func Valid(s model.MessageStatus) bool {
	if s == model.StatusFailed {
		return true
	}
	_, ok := rank[s]
	return ok
}

// Advance 计算 current 收到 next 后的状态
// 返回新状态以及是否发生变化；不合法或倒退的迁移保持原状态
func Advance(current, next model.MessageStatus) (model.MessageStatus, bool) {
	if current == next || !Valid(next) {
		return current, false
	}

	switch current {
	case model.StatusSending:
		// 确认回包可能晚于 delivered/read 推送，允许跳跃
		return next, true
	case model.StatusFailed:
		// failed 只能通过 Retry 离开
		return current, false
	}

	if next == model.StatusFailed || next == model.StatusSending {
		return current, false
	}
	if rank[next] > rank[current] {
		return next, true
	}
	return current, false
}

// Retry 重试：只有 failed 可以回到 sending
func Retry(current model.MessageStatus) (model.MessageStatus, bool) {
	if current != model.StatusFailed {
		return current, false
	}
	return model.StatusSending, true
}

// Terminal 是否为终态（read，或等待重试的 failed）
func Terminal(s model.MessageStatus) bool {
	return s == model.StatusRead || s == model.StatusFailed
}

// Max 返回成功路径上更靠后的状态
func Max(a, b model.MessageStatus) model.MessageStatus {
	if rank[b] > rank[a] {
		return b
	}
	return a
}
