package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"task-notification-service/internal/config"
	"task-notification-service/internal/logging"
	"task-notification-service/internal/models"
)

// Task lifecycle events published by the task store.
const (
	EventTaskCreated   = "task.created"
	EventTaskUpdated   = "task.updated"
	EventTaskCompleted = "task.completed"
	EventTaskDeleted   = "task.deleted"
)

var ErrInvalidMessage = errors.New("invalid task event")

// TaskScheduler is the part of the notification service driven by task events.
type TaskScheduler interface {
	ScheduleTask(task models.Task) int
	CancelTask(taskID string) int
}

// TaskEvent is one decoded lifecycle message. Task is nil for deletes.
type TaskEvent struct {
	Event  string
	TaskID string
	Task   *models.Task
}

type message struct {
	Event  string          `json:"event"`
	TaskID string          `json:"task_id"`
	Task   json.RawMessage `json:"task"`
}

// Decode parses and validates a lifecycle message.
func Decode(value []byte) (TaskEvent, error) {
	var msg message
	if err := json.Unmarshal(value, &msg); err != nil {
		return TaskEvent{}, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}

	switch msg.Event {
	case EventTaskDeleted:
		if msg.TaskID == "" {
			return TaskEvent{}, fmt.Errorf("%w: %s without task_id", ErrInvalidMessage, msg.Event)
		}
		return TaskEvent{Event: msg.Event, TaskID: msg.TaskID}, nil
	case EventTaskCreated, EventTaskUpdated, EventTaskCompleted:
	default:
		return TaskEvent{}, fmt.Errorf("%w: unknown event %q", ErrInvalidMessage, msg.Event)
	}

	if len(msg.Task) == 0 {
		return TaskEvent{}, fmt.Errorf("%w: %s without task snapshot", ErrInvalidMessage, msg.Event)
	}
	task, err := models.DecodeTask(msg.Task)
	if err != nil {
		return TaskEvent{}, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if msg.TaskID != "" && msg.TaskID != task.ID {
		return TaskEvent{}, fmt.Errorf("%w: task_id %s does not match snapshot %s", ErrInvalidMessage, msg.TaskID, task.ID)
	}
	if msg.Event == EventTaskCompleted {
		task.Status = models.StatusCompleted
	}
	return TaskEvent{Event: msg.Event, TaskID: task.ID, Task: &task}, nil
}

// Consumer feeds task lifecycle messages from Kafka into the scheduler.
type Consumer struct {
	reader *kafka.Reader
	sched  TaskScheduler
	logger *logging.Logger
}

func NewConsumer(cfg config.Config, sched TaskScheduler, logger *logging.Logger) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        []string{cfg.Kafka.Broker},
		Topic:          cfg.Kafka.Topic,
		GroupID:        cfg.Kafka.GroupID,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: time.Second,
		StartOffset:    kafka.FirstOffset,
	})
	return &Consumer{reader: r, sched: sched, logger: logger}
}

// Start reads messages until ctx is cancelled.
func (c *Consumer) Start(ctx context.Context, wg *sync.WaitGroup) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.logger.Infof("Kafka consumer started on topic %s", c.reader.Config().Topic)
		for {
			msg, err := c.reader.ReadMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					c.logger.Infof("Kafka consumer stopped")
					return
				}
				c.logger.Errorf("Read message failed: %v", err)
				select {
				case <-ctx.Done():
					return
				case <-time.After(time.Second):
				}
				continue
			}
			if err := c.Handle(msg.Value); err != nil {
				c.logger.Errorf("Skipping message at %s/%d offset %d: %v", msg.Topic, msg.Partition, msg.Offset, err)
			}
		}
	}()
}

// Handle applies one message to the scheduler.
func (c *Consumer) Handle(value []byte) error {
	ev, err := Decode(value)
	if err != nil {
		return err
	}
	if ev.Event == EventTaskDeleted {
		n := c.sched.CancelTask(ev.TaskID)
		c.logger.Infof("Processed %s for task %s (%d timer(s) cancelled)", ev.Event, ev.TaskID, n)
		return nil
	}
	n := c.sched.ScheduleTask(*ev.Task)
	c.logger.Infof("Processed %s for task %s (%d timer(s) armed)", ev.Event, ev.TaskID, n)
	return nil
}

func (c *Consumer) Close() {
	if err := c.reader.Close(); err != nil {
		c.logger.Errorf("Kafka reader close failed: %v", err)
	}
}
