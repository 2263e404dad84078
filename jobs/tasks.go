package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskStockReconcile replays inventory ledgers against the stock table.
	TaskStockReconcile = "inventory:reconcile"
	// TaskLowStockScan reports SKUs below their reorder point.
	TaskLowStockScan = "inventory:low_stock"
)

// StorePayload scopes a task to one store. An empty StoreID means every store.
type StorePayload struct {
	StoreID string `json:"store_id,omitempty"`
}

// NewStockReconcileTask constructs a reconcile task.
func NewStockReconcileTask(storeID string) (*asynq.Task, error) {
	return newStoreTask(TaskStockReconcile, storeID)
}

// NewLowStockScanTask constructs a low-stock scan task.
func NewLowStockScanTask(storeID string) (*asynq.Task, error) {
	return newStoreTask(TaskLowStockScan, storeID)
}

func newStoreTask(taskType, storeID string) (*asynq.Task, error) {
	data, err := json.Marshal(StorePayload{StoreID: storeID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(taskType, data), nil
}

func decodeStorePayload(t *asynq.Task) (StorePayload, error) {
	var payload StorePayload
	if len(t.Payload()) == 0 {
		return payload, nil
	}
	err := json.Unmarshal(t.Payload(), &payload)
	return payload, err
}
