package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"ensemble/internal/logging"
	"ensemble/internal/pipeline/workflows"

	"github.com/google/uuid"
	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/sdk/client"
)

// ErrPipelineDisabled is returned when the daemon runs without a Temporal
// connection.
var ErrPipelineDisabled = errors.New("pipeline is disabled")

// Service is the daemon-facing front for document workflows. A nil client
// leaves every operation failing with ErrPipelineDisabled so the rest of
// the daemon can run without Temporal.
type Service struct {
	client WorkflowClient
	logger *logging.Logger
}

type Submission struct {
	WorkflowID string `json:"workflow_id"`
	RunID      string `json:"run_id"`
	DocumentID string `json:"document_id"`
}

func NewService(workflowClient WorkflowClient, logger *logging.Logger) *Service {
	return &Service{client: workflowClient, logger: logger}
}

func (service *Service) Enabled() bool {
	return service != nil && service.client != nil
}

func (service *Service) Submit(ctx context.Context, request workflows.DocumentRequest) (Submission, error) {
	if !service.Enabled() {
		return Submission{}, ErrPipelineDisabled
	}
	if strings.TrimSpace(request.DocumentID) == "" {
		request.DocumentID = uuid.NewString()
	}

	options := client.StartWorkflowOptions{
		ID:        "document-" + request.DocumentID,
		TaskQueue: workflows.DocumentTaskQueueName,
	}
	run, startError := service.client.ExecuteWorkflow(ctx, options, workflows.DocumentWorkflowName, request)
	if startError != nil {
		return Submission{}, fmt.Errorf("start document workflow: %w", startError)
	}

	if service.logger != nil {
		service.logger.Info("document workflow started", map[string]string{
			"workflow_id": run.GetID(),
			"document_id": request.DocumentID,
		})
	}
	return Submission{
		WorkflowID: run.GetID(),
		RunID:      run.GetRunID(),
		DocumentID: request.DocumentID,
	}, nil
}

func (service *Service) Status(ctx context.Context, workflowID string) (workflows.DocumentState, error) {
	if !service.Enabled() {
		return workflows.DocumentState{}, ErrPipelineDisabled
	}
	value, queryError := service.client.QueryWorkflow(ctx, workflowID, "", workflows.StatusQueryName)
	if queryError != nil {
		return workflows.DocumentState{}, fmt.Errorf("query document workflow: %w", queryError)
	}
	var state workflows.DocumentState
	if decodeError := value.Get(&state); decodeError != nil {
		return workflows.DocumentState{}, fmt.Errorf("decode document status: %w", decodeError)
	}
	return state, nil
}

func (service *Service) Cancel(ctx context.Context, workflowID, reason string) error {
	if !service.Enabled() {
		return ErrPipelineDisabled
	}
	signal := workflows.CancelSignal{Reason: reason}
	if signalError := service.client.SignalWorkflow(ctx, workflowID, "", workflows.CancelSignalName, signal); signalError != nil {
		return fmt.Errorf("cancel document workflow: %w", signalError)
	}
	return nil
}

// History lists the event types recorded for a workflow, oldest first.
func (service *Service) History(ctx context.Context, workflowID string) ([]string, error) {
	if !service.Enabled() {
		return nil, ErrPipelineDisabled
	}
	iterator := service.client.GetWorkflowHistory(ctx, workflowID, "", false, enumspb.HISTORY_EVENT_FILTER_TYPE_ALL_EVENT)
	var events []string
	for iterator.HasNext() {
		historyEvent, nextError := iterator.Next()
		if nextError != nil {
			return nil, fmt.Errorf("document workflow history: %w", nextError)
		}
		events = append(events, historyEvent.GetEventType().String())
	}
	return events, nil
}

// Result blocks until the workflow finishes and returns its outcome.
func (service *Service) Result(ctx context.Context, workflowID string) (workflows.DocumentResult, error) {
	if !service.Enabled() {
		return workflows.DocumentResult{}, ErrPipelineDisabled
	}
	run := service.client.GetWorkflow(ctx, workflowID, "")
	var result workflows.DocumentResult
	if getError := run.Get(ctx, &result); getError != nil {
		return workflows.DocumentResult{}, fmt.Errorf("document workflow result: %w", getError)
	}
	return result, nil
}

func (service *Service) Close() {
	if service != nil && service.client != nil {
		service.client.Close()
	}
}
