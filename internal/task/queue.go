package task

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Message 是队列中流转的任务引用。批次步骤附带批次位置，
// 处理器据此投递下一步或终止剩余步骤。
type Message struct {
	TaskID  string `json:"taskId"`
	BatchID string `json:"batchId,omitempty"`
	Step    int    `json:"step,omitempty"`
	Total   int    `json:"total,omitempty"`
	// Attempt 是投递时任务已执行的次数，首次投递为 0。
	Attempt int `json:"attempt,omitempty"`
}

// MessageFor 根据任务当前状态构造队列消息。
func MessageFor(t *Task) Message {
	return Message{
		TaskID:  t.ID,
		BatchID: t.BatchID,
		Step:    t.Step,
		Total:   t.Total,
		Attempt: t.Attempts,
	}
}

// StepID 返回批次第 step 步的任务 ID。
func StepID(batchID string, step int) string {
	return fmt.Sprintf("%s-%d", batchID, step)
}

// Next 返回同一批次下一步的消息，最后一步或非批次消息返回 false。
func (m Message) Next() (Message, bool) {
	if m.BatchID == "" || m.Step >= m.Total {
		return Message{}, false
	}
	return Message{
		TaskID:  StepID(m.BatchID, m.Step+1),
		BatchID: m.BatchID,
		Step:    m.Step + 1,
		Total:   m.Total,
	}, true
}

// Remaining 返回当前步骤之后尚未执行的步骤 ID。
func (m Message) Remaining() []string {
	if m.BatchID == "" || m.Step >= m.Total {
		return nil
	}
	ids := make([]string, 0, m.Total-m.Step)
	for step := m.Step + 1; step <= m.Total; step++ {
		ids = append(ids, StepID(m.BatchID, step))
	}
	return ids
}

// Encode 将消息编码为 broker 载荷。
func (m Message) Encode() ([]byte, error) {
	if strings.TrimSpace(m.TaskID) == "" {
		return nil, fmt.Errorf("队列消息缺少任务 ID")
	}
	return json.Marshal(m)
}

// DecodeMessage 解析 broker 载荷。非 JSON 载荷按纯文本任务 ID 处理，
// 兼容升级前已在队列中的消息。
func DecodeMessage(body []byte) (Message, error) {
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" {
		return Message{}, fmt.Errorf("空的队列消息")
	}
	if !strings.HasPrefix(trimmed, "{") {
		return Message{TaskID: trimmed}, nil
	}
	var m Message
	if err := json.Unmarshal([]byte(trimmed), &m); err != nil {
		return Message{}, fmt.Errorf("解析队列消息失败: %w", err)
	}
	if m.TaskID == "" {
		return Message{}, fmt.Errorf("队列消息缺少任务 ID")
	}
	return m, nil
}

// Handler 处理一条队列消息。返回错误表示状态未能落库，驱动应重新投递。
type Handler func(ctx context.Context, msg Message) error

// Producer 负责向队列投递消息。
type Producer interface {
	Publish(ctx context.Context, msg Message) error
	Close() error
}

// Consumer 负责从队列中消费消息。
type Consumer interface {
	Consume(ctx context.Context, workerCount int, handler Handler) error
	Close() error
}

// Queue 同时具备生产者与消费者能力。
type Queue interface {
	Producer
	Consumer
}
