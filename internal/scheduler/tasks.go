package scheduler

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const TaskAggregateRefresh = "analytics.aggregate.refresh"

// AggregateRefreshPayload parameterizes one scheduled refresh run. Empty
// fields mean "use the stored watermark and configured lookback".
type AggregateRefreshPayload struct {
	Watermark     string `json:"watermark,omitempty"`
	LookbackHours int    `json:"lookbackHours,omitempty"`
}

func NewAggregateRefreshTask(payload AggregateRefreshPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskAggregateRefresh, data), nil
}

func ParseAggregateRefreshPayload(task *asynq.Task) (AggregateRefreshPayload, error) {
	var payload AggregateRefreshPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return AggregateRefreshPayload{}, err
	}
	return payload, nil
}
