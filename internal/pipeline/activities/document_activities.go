package activities

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"ensemble/internal/catalog"
	"ensemble/internal/event"
	"ensemble/internal/logging"
	"ensemble/internal/metrics"
	"ensemble/internal/pipeline"
	"ensemble/internal/pipeline/workflows"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"
)

const noTemplateMatchErrorType = "no_template_match"

type DocumentActivities struct {
	Catalog *catalog.Catalog
	Bus     *event.Bus[pipeline.Event]
	Logger  *logging.Logger
}

func NewDocumentActivities(cat *catalog.Catalog, bus *event.Bus[pipeline.Event], logger *logging.Logger) *DocumentActivities {
	return &DocumentActivities{
		Catalog: cat,
		Bus:     bus,
		Logger:  logger,
	}
}

func (activities *DocumentActivities) AnalyzeDocument(activityContext context.Context, request workflows.DocumentRequest) (analysis workflows.Analysis, activityErr error) {
	start := time.Now()
	attempt := activityAttempt(activityContext)
	defer func() {
		metrics.Default.RecordActivity(workflows.AnalyzeDocumentActivityName, time.Since(start), activityErr, attempt)
	}()

	if activityErr = activityContext.Err(); activityErr != nil {
		return workflows.Analysis{}, activityErr
	}
	activities.emitStage(request.DocumentID, workflows.StageAnalyze, pipeline.EventTypeStageStarted, "")

	fields := make(map[string]string, len(request.Fields))
	for key, value := range request.Fields {
		trimmedKey := strings.TrimSpace(key)
		trimmedValue := strings.TrimSpace(value)
		if trimmedKey == "" || trimmedValue == "" {
			continue
		}
		fields[trimmedKey] = trimmedValue
	}

	analysis = workflows.Analysis{
		WordCount: len(strings.Fields(request.Content)),
		Fields:    fields,
		Text:      strings.ToLower(request.Title + " " + request.Content),
	}

	activities.emitStage(request.DocumentID, workflows.StageAnalyze, pipeline.EventTypeStageFinished,
		fmt.Sprintf("%d words, %d fields", analysis.WordCount, len(fields)))
	return analysis, nil
}

func (activities *DocumentActivities) MatchTemplate(activityContext context.Context, documentID string, analysis workflows.Analysis) (match workflows.TemplateMatch, activityErr error) {
	start := time.Now()
	attempt := activityAttempt(activityContext)
	defer func() {
		metrics.Default.RecordActivity(workflows.MatchTemplateActivityName, time.Since(start), activityErr, attempt)
	}()

	if activityErr = activityContext.Err(); activityErr != nil {
		return workflows.TemplateMatch{}, activityErr
	}
	if activities.Catalog == nil {
		activityErr = errors.New("catalog is required")
		return workflows.TemplateMatch{}, activityErr
	}
	activities.emitStage(documentID, workflows.StageMatch, pipeline.EventTypeStageStarted, "")

	winner, matchError := pipeline.MatchTemplate(activities.Catalog.Templates(), analysis.Fields, analysis.Text)
	if matchError != nil {
		activities.logWarn("template match failed", map[string]string{
			"document_id": documentID,
			"error":       matchError.Error(),
		})
		if errors.Is(matchError, pipeline.ErrNoTemplateMatch) {
			// Scoring is deterministic, retrying cannot change the outcome.
			activityErr = temporal.NewNonRetryableApplicationError(matchError.Error(), noTemplateMatchErrorType, matchError)
			return workflows.TemplateMatch{}, activityErr
		}
		activityErr = matchError
		return workflows.TemplateMatch{}, activityErr
	}

	activities.emitStage(documentID, workflows.StageMatch, pipeline.EventTypeStageFinished,
		fmt.Sprintf("%s score %d", winner.TemplateID, winner.Score))
	return workflows.TemplateMatch{TemplateID: winner.TemplateID, Score: winner.Score}, nil
}

func (activities *DocumentActivities) GenerateDraft(activityContext context.Context, documentID string, request workflows.DraftRequest) (draft workflows.Draft, activityErr error) {
	start := time.Now()
	attempt := activityAttempt(activityContext)
	defer func() {
		metrics.Default.RecordActivity(workflows.GenerateDraftActivityName, time.Since(start), activityErr, attempt)
	}()

	if activityErr = activityContext.Err(); activityErr != nil {
		return workflows.Draft{}, activityErr
	}
	if activities.Catalog == nil {
		activityErr = errors.New("catalog is required")
		return workflows.Draft{}, activityErr
	}
	activities.emitStage(documentID, workflows.StageGenerate, pipeline.EventTypeStageStarted, "")

	tmpl, templateError := activities.Catalog.Template(request.TemplateID)
	if templateError != nil {
		activityErr = templateError
		return workflows.Draft{}, activityErr
	}

	body := tmpl.Body
	for key, value := range request.Fields {
		body = strings.ReplaceAll(body, "{{"+key+"}}", value)
	}

	activities.emitStage(documentID, workflows.StageGenerate, pipeline.EventTypeStageFinished, tmpl.ID)
	return workflows.Draft{TemplateID: tmpl.ID, Body: body}, nil
}

func (activities *DocumentActivities) PackageArtifact(activityContext context.Context, request workflows.ArtifactRequest) (artifact workflows.Artifact, activityErr error) {
	start := time.Now()
	attempt := activityAttempt(activityContext)
	defer func() {
		metrics.Default.RecordActivity(workflows.PackageArtifactActivityName, time.Since(start), activityErr, attempt)
	}()

	if activityErr = activityContext.Err(); activityErr != nil {
		return workflows.Artifact{}, activityErr
	}
	if strings.TrimSpace(request.DocumentID) == "" {
		activityErr = errors.New("document id is required")
		return workflows.Artifact{}, activityErr
	}
	activities.emitStage(request.DocumentID, workflows.StagePackage, pipeline.EventTypeStageStarted, "")

	sum := sha256.Sum256([]byte(request.Body))
	artifact = workflows.Artifact{
		Name:      request.DocumentID + ".md",
		SizeBytes: len(request.Body),
		Checksum:  hex.EncodeToString(sum[:]),
	}

	activities.emitStage(request.DocumentID, workflows.StagePackage, pipeline.EventTypeStageFinished, artifact.Name)
	return artifact, nil
}

func (activities *DocumentActivities) emitStage(documentID, stage, eventType, detail string) {
	if activities.Bus == nil {
		return
	}
	activities.Bus.Publish(pipeline.Event{
		EventType:  eventType,
		DocumentID: documentID,
		Stage:      stage,
		Detail:     detail,
		OccurredAt: time.Now().UTC(),
	})
}

func (activities *DocumentActivities) logWarn(message string, fields map[string]string) {
	if activities.Logger != nil {
		activities.Logger.Warn(message, fields)
	}
}

func activityAttempt(activityContext context.Context) int32 {
	if activityContext == nil || !activity.IsActivity(activityContext) {
		return 1
	}
	return activity.GetInfo(activityContext).Attempt
}
