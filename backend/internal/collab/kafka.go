package collab

import (
	"context"
	"encoding/json"
	"time"
)

// 发给通知服务的事件类型
const (
	DocEventCommentAdded      = "COMMENT_ADDED"
	DocEventMention           = "MENTION"
	DocEventVersionSaved      = "VERSION_SAVED"
	DocEventVersionRolledBack = "VERSION_ROLLED_BACK"
	DocEventPermissionChanged = "PERMISSION_CHANGED"
)

// DocEvent 协作引擎对外发出的事件；投递（邮件/站内信）由下游服务负责
type DocEvent struct {
	EventID      string          `json:"eventId"`
	EventType    string          `json:"eventType"`
	DocID        string          `json:"docId"`
	DocType      string          `json:"docType,omitempty"`
	ActorID      string          `json:"actorId"`
	ActorName    string          `json:"actorName,omitempty"`
	TargetUserID string          `json:"targetUserId,omitempty"`
	VersionID    string          `json:"versionId,omitempty"`
	Payload      json.RawMessage `json:"payload,omitempty"`
	OccurredAt   time.Time       `json:"occurredAt"`
}

type EventPublisher interface {
	Publish(ctx context.Context, evt DocEvent) error
}

// 没有配置 Kafka 时使用
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, DocEvent) error { return nil }
