package model

// User 用户公开信息（会话列表、公钥目录等场景使用）
type User struct {
	UserID      int64          `json:"userId"`              // 用户ID
	DisplayName string         `json:"displayName"`         // 显示名称
	PublicKey   string         `json:"publicKey,omitempty"` // 装甲（PEM）格式公钥
	Presence    PresenceStatus `json:"presence,omitempty"`  // 在线状态
}
