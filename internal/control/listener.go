// Package control provides a Kafka listener for operator commands: starting
// a discovery scan and cancelling a task.
package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/helixir/paper-radar-service/internal/domain"
	"github.com/helixir/paper-radar-service/internal/radar"
)

// Command names.
const (
	CommandScan       = "scan"
	CommandCancelTask = "cancel_task"
)

// Command is a control message read from the topic.
type Command struct {
	Command string `json:"command" validate:"required,oneof=scan cancel_task"`
	TaskID  string `json:"task_id,omitempty" validate:"required_if=Command cancel_task"`
	Owner   string `json:"owner,omitempty" validate:"required_if=Command cancel_task"`
}

// ScanTrigger starts a background scan.
type ScanTrigger interface {
	Trigger(trigger string) error
}

// TaskCanceller cancels a live task on behalf of its owner.
type TaskCanceller interface {
	Cancel(ctx context.Context, id uuid.UUID, owner string) (*domain.Task, error)
}

// messageReader is the part of kafka.Reader the listener uses.
type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// Config holds configuration for the control listener.
type Config struct {
	// Brokers is the list of Kafka broker addresses.
	Brokers []string
	// Topic is the Kafka topic for control commands.
	Topic string
	// GroupID is the consumer group ID.
	GroupID string
}

// Listener consumes control commands from Kafka.
type Listener struct {
	reader   messageReader
	scanner  ScanTrigger
	tasks    TaskCanceller
	validate *validator.Validate
	logger   zerolog.Logger
}

// NewListener creates a control listener reading from cfg.Topic.
func NewListener(cfg Config, scanner ScanTrigger, tasks TaskCanceller, logger zerolog.Logger) *Listener {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MinBytes: 1,
		MaxBytes: 1e6,
		MaxWait:  3 * time.Second,
	})
	return newListener(reader, scanner, tasks, logger)
}

func newListener(reader messageReader, scanner ScanTrigger, tasks TaskCanceller, logger zerolog.Logger) *Listener {
	return &Listener{
		reader:   reader,
		scanner:  scanner,
		tasks:    tasks,
		validate: validator.New(),
		logger:   logger.With().Str("component", "control_listener").Logger(),
	}
}

// Run starts the listener loop. Blocks until context is cancelled.
func (l *Listener) Run(ctx context.Context) error {
	l.logger.Info().Msg("starting control listener")

	for {
		msg, err := l.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				l.logger.Info().Msg("control listener stopped via context cancellation")
				return ctx.Err()
			}
			l.logger.Error().Err(err).Msg("failed to read message from Kafka")
			continue
		}

		l.logger.Debug().
			Int("partition", msg.Partition).
			Int64("offset", msg.Offset).
			Msg("received control command")

		if err := l.handle(ctx, msg.Value); err != nil {
			l.logger.Error().Err(err).
				Str("raw_value", string(msg.Value)).
				Msg("failed to handle control command")
		}
	}
}

// handle decodes and executes one command. A scan command that finds a scan
// already running is not an error.
func (l *Listener) handle(ctx context.Context, value []byte) error {
	var cmd Command
	if err := json.Unmarshal(value, &cmd); err != nil {
		return fmt.Errorf("decode command: %w", err)
	}
	if err := l.validate.Struct(cmd); err != nil {
		return fmt.Errorf("invalid command: %w", err)
	}

	switch cmd.Command {
	case CommandScan:
		err := l.scanner.Trigger(radar.TriggerManual)
		switch {
		case errors.Is(err, domain.ErrScanInProgress):
			l.logger.Info().Msg("scan command ignored, scan already running")
			return nil
		case err != nil:
			return fmt.Errorf("trigger scan: %w", err)
		}
		l.logger.Info().Msg("scan started by control command")
		return nil

	case CommandCancelTask:
		id, err := uuid.Parse(cmd.TaskID)
		if err != nil {
			return fmt.Errorf("invalid task id: %w", err)
		}
		task, err := l.tasks.Cancel(ctx, id, cmd.Owner)
		if err != nil {
			return fmt.Errorf("cancel task %s: %w", id, err)
		}
		l.logger.Info().
			Str("task_id", id.String()).
			Str("owner", cmd.Owner).
			Str("status", string(task.Status)).
			Msg("task cancelled by control command")
		return nil
	}
	return fmt.Errorf("unknown command %q", cmd.Command)
}

// Close closes the Kafka reader.
func (l *Listener) Close() error {
	l.logger.Info().Msg("closing control listener")
	return l.reader.Close()
}
