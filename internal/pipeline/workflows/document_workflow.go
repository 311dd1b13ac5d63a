package workflows

import (
	"time"

	"ensemble/internal/metrics"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

const (
	DocumentStatusRunning   = "running"
	DocumentStatusCompleted = "completed"
	DocumentStatusFailed    = "failed"
	DocumentStatusCancelled = "cancelled"

	DocumentTaskQueueName = "ensemble-pipeline"

	DocumentWorkflowName = "DocumentWorkflow"

	AnalyzeDocumentActivityName = "AnalyzeDocument"
	MatchTemplateActivityName   = "MatchTemplate"
	GenerateDraftActivityName   = "GenerateDraft"
	PackageArtifactActivityName = "PackageArtifact"

	DefaultActivityTimeout       = 30 * time.Second
	DefaultActivityRetryAttempts = 5

	CancelSignalName = "document.cancel"
	StatusQueryName  = "document.status"

	StageAnalyze  = "analyze"
	StageMatch    = "match"
	StageGenerate = "generate"
	StagePackage  = "package"
)

type DocumentRequest struct {
	DocumentID string            `json:"document_id"`
	Title      string            `json:"title"`
	Content    string            `json:"content"`
	Fields     map[string]string `json:"fields,omitempty"`
}

type DocumentResult struct {
	DocumentID    string    `json:"document_id"`
	TemplateID    string    `json:"template_id"`
	MatchScore    int       `json:"match_score"`
	ArtifactName  string    `json:"artifact_name"`
	ArtifactBytes int       `json:"artifact_bytes"`
	Checksum      string    `json:"checksum"`
	CompletedAt   time.Time `json:"completed_at"`
}

type DocumentState struct {
	DocumentID string        `json:"document_id"`
	Status     string        `json:"status"`
	Stage      string        `json:"stage"`
	Stages     []StageRecord `json:"stages"`
}

type StageRecord struct {
	Stage      string    `json:"stage"`
	Status     string    `json:"status"`
	Detail     string    `json:"detail,omitempty"`
	FinishedAt time.Time `json:"finished_at"`
}

type Analysis struct {
	WordCount int
	Fields    map[string]string
	Text      string
}

type TemplateMatch struct {
	TemplateID string
	Score      int
}

type DraftRequest struct {
	TemplateID string
	Fields     map[string]string
}

type Draft struct {
	TemplateID string
	Body       string
}

type ArtifactRequest struct {
	DocumentID string
	TemplateID string
	Body       string
}

type Artifact struct {
	Name      string
	SizeBytes int
	Checksum  string
}

type CancelSignal struct {
	Reason string
}

// DocumentWorkflow drives one document through analyze, match, generate
// and package. A cancel signal is honored between stages, and the status
// query exposes per-stage progress while the workflow runs.
func DocumentWorkflow(workflowContext workflow.Context, request DocumentRequest) (result DocumentResult, err error) {
	metrics.Default.IncWorkflowStarted()
	defer func() {
		if err != nil {
			metrics.Default.IncWorkflowFailed()
		} else {
			metrics.Default.IncWorkflowCompleted()
		}
	}()

	state := DocumentState{
		DocumentID: request.DocumentID,
		Status:     DocumentStatusRunning,
	}

	queryError := workflow.SetQueryHandler(workflowContext, StatusQueryName, func() (DocumentState, error) {
		return state, nil
	})
	if queryError != nil {
		err = queryError
		return DocumentResult{}, queryError
	}

	cancelChannel := workflow.GetSignalChannel(workflowContext, CancelSignalName)
	cancelled := func() bool {
		var signal CancelSignal
		if !cancelChannel.ReceiveAsync(&signal) {
			return false
		}
		state.Status = DocumentStatusCancelled
		return true
	}

	activityContext := workflow.WithActivityOptions(workflowContext, workflow.ActivityOptions{
		StartToCloseTimeout: DefaultActivityTimeout,
		RetryPolicy:         defaultActivityRetryPolicy(),
	})
	logger := workflow.GetLogger(workflowContext)

	runStage := func(stage string, execute func() error) error {
		if cancelled() {
			return temporal.NewApplicationError("document generation cancelled", "cancelled")
		}
		state.Stage = stage
		if stageErr := execute(); stageErr != nil {
			state.Status = DocumentStatusFailed
			state.Stages = append(state.Stages, StageRecord{
				Stage:      stage,
				Status:     DocumentStatusFailed,
				Detail:     stageErr.Error(),
				FinishedAt: workflow.Now(workflowContext),
			})
			logger.Warn("document stage failed", "stage", stage, "error", stageErr)
			return stageErr
		}
		state.Stages = append(state.Stages, StageRecord{
			Stage:      stage,
			Status:     DocumentStatusCompleted,
			FinishedAt: workflow.Now(workflowContext),
		})
		return nil
	}

	var analysis Analysis
	if err = runStage(StageAnalyze, func() error {
		return workflow.ExecuteActivity(activityContext, AnalyzeDocumentActivityName, request).Get(activityContext, &analysis)
	}); err != nil {
		return DocumentResult{}, err
	}

	var match TemplateMatch
	if err = runStage(StageMatch, func() error {
		return workflow.ExecuteActivity(activityContext, MatchTemplateActivityName, request.DocumentID, analysis).Get(activityContext, &match)
	}); err != nil {
		return DocumentResult{}, err
	}

	var draft Draft
	if err = runStage(StageGenerate, func() error {
		return workflow.ExecuteActivity(activityContext, GenerateDraftActivityName, request.DocumentID, DraftRequest{
			TemplateID: match.TemplateID,
			Fields:     analysis.Fields,
		}).Get(activityContext, &draft)
	}); err != nil {
		return DocumentResult{}, err
	}

	var artifact Artifact
	if err = runStage(StagePackage, func() error {
		return workflow.ExecuteActivity(activityContext, PackageArtifactActivityName, ArtifactRequest{
			DocumentID: request.DocumentID,
			TemplateID: draft.TemplateID,
			Body:       draft.Body,
		}).Get(activityContext, &artifact)
	}); err != nil {
		return DocumentResult{}, err
	}

	state.Status = DocumentStatusCompleted
	state.Stage = ""

	result = DocumentResult{
		DocumentID:    request.DocumentID,
		TemplateID:    match.TemplateID,
		MatchScore:    match.Score,
		ArtifactName:  artifact.Name,
		ArtifactBytes: artifact.SizeBytes,
		Checksum:      artifact.Checksum,
		CompletedAt:   workflow.Now(workflowContext),
	}
	return result, nil
}

func defaultActivityRetryPolicy() *temporal.RetryPolicy {
	return &temporal.RetryPolicy{
		InitialInterval:    time.Second,
		BackoffCoefficient: 2.0,
		MaximumInterval:    30 * time.Second,
		MaximumAttempts:    DefaultActivityRetryAttempts,
	}
}
