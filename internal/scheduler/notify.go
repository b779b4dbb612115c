package scheduler

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
)

// runNotification is the payload published to the configured Kafka topic
// after each cron run, for operators who want to fan cron activity out to
// their own alerting rather than poll cron_runs.
type runNotification struct {
	JobName  string `json:"job_name"`
	Status   string `json:"status"`
	Error    string `json:"error,omitempty"`
	Finished string `json:"finished_at"`
}

// notifier publishes cron run outcomes to Kafka. newNotifier returns nil
// when no brokers or topic are configured; publish and close are no-ops on
// a nil notifier.
type notifier struct {
	writer *kafka.Writer
}

func newNotifier(brokers []string, topic string) *notifier {
	if len(brokers) == 0 || topic == "" {
		return nil
	}
	return &notifier{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.LeastBytes{},
			RequiredAcks: kafka.RequireOne,
			Async:        true,
		},
	}
}

// publish sends one run outcome. Best-effort: a delivery failure is logged,
// never surfaced to the cron dispatch path.
func (n *notifier) publish(ctx context.Context, jobName string, ok bool, errMsg string) {
	if n == nil || n.writer == nil {
		return
	}
	status := "succeeded"
	if !ok {
		status = "failed"
	}
	body, err := json.Marshal(runNotification{
		JobName:  jobName,
		Status:   status,
		Error:    errMsg,
		Finished: time.Now().UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return
	}

	writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := n.writer.WriteMessages(writeCtx, kafka.Message{
		Key:   []byte(jobName),
		Value: body,
	}); err != nil {
		slog.Warn("scheduler: cron run notification failed", "job", jobName, "error", err)
	}
}

func (n *notifier) close() error {
	if n == nil || n.writer == nil {
		return nil
	}
	return n.writer.Close()
}

func splitBrokers(raw []string) []string {
	out := make([]string, 0, len(raw))
	for _, b := range raw {
		b = strings.TrimSpace(b)
		if b != "" {
			out = append(out, b)
		}
	}
	return out
}
