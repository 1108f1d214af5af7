package nats

const (
	// SubjectUpstream access -> web：客户端上报的状态回执、上下线
	SubjectUpstream = "parkshare.chat.upstream"

	// SubjectBroadcast web/access -> 所有 access 节点，节点内按房间和用户扇出
	SubjectBroadcast = "parkshare.chat.broadcast"

	// QueueGroupWeb web 实例消费上行消息的队列组
	QueueGroupWeb = "parkshare-web"
)
