package pipelineworker

import (
	"errors"
	"sync"
	"time"

	"ensemble/internal/pipeline"
	"ensemble/internal/pipeline/activities"
	"ensemble/internal/pipeline/workflows"

	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
)

const defaultMaxConcurrentActivities = 10
const defaultMaxConcurrentWorkflowTasks = 10
const defaultWorkerStopTimeout = 5 * time.Second
const defaultDeadlockDetectionTimeout = 10 * time.Second

var workerMutex sync.Mutex
var activeWorker worker.Worker

func StartWorker(workflowClient pipeline.WorkflowClient, handlers *activities.DocumentActivities) error {
	if workflowClient == nil {
		return errors.New("workflow client is required")
	}
	if handlers == nil {
		return errors.New("document activities are required")
	}

	sdkClient, ok := workflowClient.(client.Client)
	if !ok {
		return errors.New("workflow client does not support worker")
	}

	workerMutex.Lock()
	if activeWorker != nil {
		workerMutex.Unlock()
		return errors.New("pipeline worker already running")
	}
	workerMutex.Unlock()

	workerOptions := worker.Options{
		MaxConcurrentActivityExecutionSize:     defaultMaxConcurrentActivities,
		MaxConcurrentWorkflowTaskExecutionSize: defaultMaxConcurrentWorkflowTasks,
		MaxConcurrentActivityTaskPollers:       2,
		MaxConcurrentWorkflowTaskPollers:       2,
		WorkerStopTimeout:                      defaultWorkerStopTimeout,
		DeadlockDetectionTimeout:               defaultDeadlockDetectionTimeout,
	}

	workerInstance := worker.New(sdkClient, workflows.DocumentTaskQueueName, workerOptions)
	workerInstance.RegisterWorkflow(workflows.DocumentWorkflow)
	workerInstance.RegisterActivity(handlers)

	startError := workerInstance.Start()
	if startError != nil {
		return startError
	}

	workerMutex.Lock()
	activeWorker = workerInstance
	workerMutex.Unlock()

	if handlers.Logger != nil {
		handlers.Logger.Info("pipeline worker started", map[string]string{
			"task_queue": workflows.DocumentTaskQueueName,
		})
	}

	return nil
}

func StopWorker() {
	workerMutex.Lock()
	workerInstance := activeWorker
	activeWorker = nil
	workerMutex.Unlock()

	if workerInstance != nil {
		workerInstance.Stop()
	}
}
