package notify

import "context"

// Message 是一封待发送的邮件。
type Message struct {
	To      string
	Subject string
	HTML    string
	Kind    string // 邮件类别: verification / reset / receipt，仅用于指标与日志
}

// Sender 定义邮件发送接口。
//
// 实现需要在消息未能交付时返回错误，调用方据此回滚状态。
type Sender interface {
	Send(ctx context.Context, msg Message) error
}
