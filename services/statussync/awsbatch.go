package statussync

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/batch"
	batchtypes "github.com/aws/aws-sdk-go-v2/service/batch/types"

	"simrunner/services/lifecycle"
)

// batchAPI is the slice of the AWS Batch client the runner needs.
type batchAPI interface {
	SubmitJob(ctx context.Context, params *batch.SubmitJobInput, optFns ...func(*batch.Options)) (*batch.SubmitJobOutput, error)
	DescribeJobs(ctx context.Context, params *batch.DescribeJobsInput, optFns ...func(*batch.Options)) (*batch.DescribeJobsOutput, error)
}

// BatchRunner submits and inspects simulation runs on AWS Batch.
type BatchRunner struct {
	client        batchAPI
	jobQueue      string
	jobDefinition string
}

// NewBatchRunner wires a runner over an existing Batch client.
func NewBatchRunner(client batchAPI, jobQueue, jobDefinition string) (*BatchRunner, error) {
	if client == nil {
		return nil, errors.New("batch client is required")
	}
	if strings.TrimSpace(jobQueue) == "" {
		return nil, errors.New("job queue is required")
	}
	if strings.TrimSpace(jobDefinition) == "" {
		return nil, errors.New("job definition is required")
	}
	return &BatchRunner{client: client, jobQueue: jobQueue, jobDefinition: jobDefinition}, nil
}

// NewBatchRunnerFromEnv builds a runner from the environment.
//
// Required environment variables:
//   - BATCH_JOB_QUEUE: AWS Batch job queue name or ARN.
//   - BATCH_JOB_DEFINITION: job definition name or ARN.
//
// Region and credentials follow the default AWS chain.
func NewBatchRunnerFromEnv(ctx context.Context) (*BatchRunner, error) {
	jobQueue := strings.TrimSpace(os.Getenv("BATCH_JOB_QUEUE"))
	jobDefinition := strings.TrimSpace(os.Getenv("BATCH_JOB_DEFINITION"))
	if jobQueue == "" || jobDefinition == "" {
		return nil, errors.New("BATCH_JOB_QUEUE and BATCH_JOB_DEFINITION are required")
	}
	return NewDefaultBatchRunner(ctx, jobQueue, jobDefinition)
}

// NewDefaultBatchRunner builds a runner for the given queue and definition
// using the default AWS credential chain.
func NewDefaultBatchRunner(ctx context.Context, jobQueue, jobDefinition string) (*BatchRunner, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithHTTPClient(&http.Client{Timeout: 30 * time.Second}),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return NewBatchRunner(batch.NewFromConfig(cfg), jobQueue, jobDefinition)
}

// Submit places the run on the queue under its natural key and returns the
// Batch job id as the external handle.
func (r *BatchRunner) Submit(ctx context.Context, run *lifecycle.Run) (string, error) {
	if run == nil {
		return "", errors.New("nil run")
	}

	out, err := r.client.SubmitJob(ctx, &batch.SubmitJobInput{
		JobName:       aws.String(run.NaturalKey()),
		JobQueue:      aws.String(r.jobQueue),
		JobDefinition: aws.String(r.jobDefinition),
		ContainerOverrides: &batchtypes.ContainerOverrides{
			Command: []string{
				"run",
				"--job-id", run.JobID.String(),
				"--run-id", run.ID.String(),
			},
		},
	})
	if err != nil {
		return "", fmt.Errorf("submit batch job: %w", err)
	}
	if out.JobId == nil || *out.JobId == "" {
		return "", errors.New("batch accepted the job without returning an id")
	}
	return *out.JobId, nil
}

// Describe queries Batch for the run's current phase by external handle.
func (r *BatchRunner) Describe(ctx context.Context, run *lifecycle.Run) (RunState, error) {
	if run == nil || run.ExternalHandle == "" {
		return RunState{}, errors.New("run has no external handle")
	}

	out, err := r.client.DescribeJobs(ctx, &batch.DescribeJobsInput{
		Jobs: []string{run.ExternalHandle},
	})
	if err != nil {
		return RunState{}, fmt.Errorf("describe batch job: %w", err)
	}
	if len(out.Jobs) == 0 {
		return RunState{}, fmt.Errorf("%w: %s", ErrHandleNotFound, run.ExternalHandle)
	}

	job := out.Jobs[0]
	state := RunState{Phase: string(job.Status)}
	if job.StatusReason != nil {
		state.Detail = *job.StatusReason
	}
	return state, nil
}
