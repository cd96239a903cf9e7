package submission

import (
	"context"

	"sgpa-enrollment/internal/common/logger"
	"sgpa-enrollment/internal/enrollment"
)

// ProcessStarter creates workflow instances; *camunda.Client implements it.
type ProcessStarter interface {
	CreateInstance(ctx context.Context, processID string, variables interface{}) (int64, error)
}

// ZeebeSubmitter hands the FieldSet to a BPMN process as its variables.
type ZeebeSubmitter struct {
	starter   ProcessStarter
	processID string
	log       logger.Logger
}

func NewZeebeSubmitter(starter ProcessStarter, processID string, log logger.Logger) *ZeebeSubmitter {
	return &ZeebeSubmitter{
		starter:   starter,
		processID: processID,
		log:       log.WithFields(map[string]interface{}{"component": "zeebe-submitter"}),
	}
}

func (z *ZeebeSubmitter) Submit(ctx context.Context, fields enrollment.FieldSet) error {
	key, err := z.starter.CreateInstance(ctx, z.processID, fields)
	if err != nil {
		return err
	}
	z.log.Debug("process instance created", map[string]interface{}{
		"processId":          z.processID,
		"processInstanceKey": key,
	})
	return nil
}
