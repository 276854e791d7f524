package analytics

import "fmt"

type DataCollectorConfig struct {
	FileName      string
	CollectorType DataCollectorType
}

type DataCollectorType string

const LOG_FILE_DATA_COLLECTOR DataCollectorType = "LOG_FILE_DATA_COLLECTOR"
const NOOP_DATA_COLLECTOR DataCollectorType = "NOOP_DATA_COLLECTOR"

// WorkflowDataCollector records the outcome of every action run.
type WorkflowDataCollector interface {
	RecordActionSuccess(wfName string, executionID string, actionName string, data map[string]any)
	RecordActionFailure(wfName string, executionID string, actionName string, reason string)
	Close() error
}

func NewDataCollector(config DataCollectorConfig) (WorkflowDataCollector, error) {
	switch config.CollectorType {
	case LOG_FILE_DATA_COLLECTOR:
		return NewLogFileDataCollector(config.FileName)
	case NOOP_DATA_COLLECTOR, "":
		return NoopDataCollector{}, nil
	}
	return nil, fmt.Errorf("unknown data collector type %s", config.CollectorType)
}

type NoopDataCollector struct{}

func (NoopDataCollector) RecordActionSuccess(string, string, string, map[string]any) {}
func (NoopDataCollector) RecordActionFailure(string, string, string, string)         {}
func (NoopDataCollector) Close() error                                               { return nil }
