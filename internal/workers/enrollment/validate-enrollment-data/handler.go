// internal/workers/enrollment/validate-enrollment-data/handler.go
package validateenrollmentdata

import (
	"context"
	"fmt"
	"strings"
	"time"

	"sgpa-enrollment/internal/common/config"
	"sgpa-enrollment/internal/common/errors"
	"sgpa-enrollment/internal/common/logger"
	"sgpa-enrollment/internal/common/metrics"
	"sgpa-enrollment/internal/common/validation"
	"sgpa-enrollment/internal/enrollment"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
)

const TaskType = "validate-enrollment-data"

type Handler struct {
	config       *Config
	logger       logger.Logger
	schema       *validation.Schema
	errorHandler *errors.ErrorHandler
}

type HandlerOptions struct {
	AppConfig *config.Config
	Logger    logger.Logger
}

func NewHandler(opts HandlerOptions) *Handler {
	log := opts.Logger
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	log = log.WithFields(map[string]interface{}{"taskType": TaskType})

	return &Handler{
		config:       createConfigFromAppConfig(opts.AppConfig),
		logger:       log,
		schema:       validation.MustCompile(enrollment.FieldSetSchema()),
		errorHandler: errors.NewErrorHandler(log),
	}
}

func (h *Handler) Handle(client worker.JobClient, job entities.Job) {
	startTime := time.Now()

	ctx, cancel := context.WithTimeout(context.Background(), h.config.Timeout)
	defer cancel()

	h.logger.Info("Processing enrollment validation", map[string]interface{}{
		"jobKey":             job.GetKey(),
		"processInstanceKey": job.GetProcessInstanceKey(),
	})

	input, err := h.parseInput(job)
	if err != nil {
		metrics.WorkerJobsFailed.WithLabelValues(TaskType, string(errors.CodeOf(err))).Inc()
		h.errorHandler.HandleJobError(ctx, client, job, err)
		return
	}

	output, err := h.Execute(ctx, input)
	if err != nil {
		metrics.WorkerJobsFailed.WithLabelValues(TaskType, string(errors.CodeOf(err))).Inc()
		h.errorHandler.HandleJobError(ctx, client, job, err)
		return
	}

	h.completeJob(ctx, client, job, output)
	metrics.WorkerJobsCompleted.WithLabelValues(TaskType).Inc()
	metrics.WorkerJobDuration.WithLabelValues(TaskType).Observe(time.Since(startTime).Seconds())
}

// parseInput reads the sixteen enrollment keys from the job variables.
// Other process variables are ignored.
func (h *Handler) parseInput(job entities.Job) (*Input, error) {
	variables, err := job.GetVariablesAsMap()
	if err != nil {
		return nil, errors.NewInputParsingError(err)
	}

	result, err := h.schema.ValidateInput(variables)
	if err != nil {
		return nil, errors.NewInputParsingError(err)
	}
	if !result.Valid {
		return nil, errors.NewEnrollmentValidationError(
			fmt.Sprintf("Validation errors: %s", strings.Join(result.GetErrorMessages(), "; ")))
	}

	input := &Input{}
	for _, f := range enrollment.AllFields {
		value, _ := variables[string(f)].(string)
		if err := input.Fields.Set(f, value); err != nil {
			return nil, errors.NewInputParsingError(err)
		}
	}
	return input, nil
}

// Execute runs every step's rules. Invalid data is a normal result, not a
// job failure.
func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.NewTimeoutError(TaskType, err)
	}

	errs := enrollment.ValidateAll(input.Fields)
	output := &Output{
		IsValid:          len(errs) == 0,
		ValidationErrors: make([]ValidationError, 0, len(errs)),
		FirstInvalidStep: -1,
	}
	for _, f := range errs.Fields() {
		output.ValidationErrors = append(output.ValidationErrors, ValidationError{
			Field:   string(f),
			Step:    int(enrollment.StepOf(f)),
			Message: errs[f],
		})
	}
	if step, invalid := enrollment.FirstInvalidStep(input.Fields); invalid {
		output.FirstInvalidStep = int(step)
	}

	h.logger.Info("Enrollment validation completed", map[string]interface{}{
		"isValid":          output.IsValid,
		"errorCount":       len(output.ValidationErrors),
		"firstInvalidStep": output.FirstInvalidStep,
	})
	return output, nil
}

func (h *Handler) completeJob(ctx context.Context, client worker.JobClient, job entities.Job, output *Output) {
	request, err := client.NewCompleteJobCommand().JobKey(job.GetKey()).VariablesFromObject(output)
	if err != nil {
		h.logger.Error("Failed to create complete job command", map[string]interface{}{
			"jobKey": job.GetKey(),
			"error":  err.Error(),
		})
		return
	}

	if _, err := request.Send(ctx); err != nil {
		h.logger.Error("Failed to complete job", map[string]interface{}{
			"jobKey": job.GetKey(),
			"error":  err.Error(),
		})
		return
	}

	h.logger.Info("Completed enrollment validation job", map[string]interface{}{
		"jobKey":  job.GetKey(),
		"isValid": output.IsValid,
	})
}
