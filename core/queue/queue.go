// Package queue carries transcoding jobs from the API and CLI to workers.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrQueueClosed is returned once Close has been called.
var ErrQueueClosed = errors.New("queue closed")

// Kind selects what a worker does with a job.
type Kind string

const (
	KindHLS       Kind = "hls"
	KindThumbnail Kind = "thumbnail"
)

// Job is one unit of background work for a video.
type Job struct {
	Kind          Kind   `json:"kind"`
	VideoID       uint   `json:"video_id"`
	SourcePath    string `json:"source_path,omitempty"`
	MakeTrailer   bool   `json:"make_trailer"`
	MakeThumbnail bool   `json:"make_thumbnail"`
}

// Key identifies jobs that must not run concurrently.
func (j Job) Key() string {
	return fmt.Sprintf("%s:%d", j.Kind, j.VideoID)
}

// Validate rejects jobs a worker could not execute.
func (j Job) Validate() error {
	switch j.Kind {
	case KindHLS:
		if j.SourcePath == "" {
			return fmt.Errorf("hls job for video %d has no source path", j.VideoID)
		}
	case KindThumbnail:
	default:
		return fmt.Errorf("unknown job kind %q", j.Kind)
	}
	if j.VideoID == 0 {
		return errors.New("job has no video id")
	}
	return nil
}

// Queue is a FIFO of jobs.
type Queue interface {
	// Enqueue blocks until the job is accepted or ctx ends.
	Enqueue(ctx context.Context, job Job) error
	// Dequeue blocks until a job is available or ctx ends.
	Dequeue(ctx context.Context) (Job, error)
	Close() error
}

// MemoryQueue is an in-process Queue backed by a buffered channel.
type MemoryQueue struct {
	jobs      chan Job
	done      chan struct{}
	closeOnce sync.Once
}

// NewMemoryQueue creates a MemoryQueue holding up to size pending jobs.
func NewMemoryQueue(size int) *MemoryQueue {
	if size <= 0 {
		size = 64
	}
	return &MemoryQueue{
		jobs: make(chan Job, size),
		done: make(chan struct{}),
	}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, job Job) error {
	if err := job.Validate(); err != nil {
		return err
	}
	select {
	case <-q.done:
		return ErrQueueClosed
	default:
	}
	select {
	case q.jobs <- job:
		return nil
	case <-q.done:
		return ErrQueueClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *MemoryQueue) Dequeue(ctx context.Context) (Job, error) {
	select {
	case job := <-q.jobs:
		return job, nil
	case <-q.done:
		return Job{}, ErrQueueClosed
	case <-ctx.Done():
		return Job{}, ctx.Err()
	}
}

// Len returns the number of pending jobs.
func (q *MemoryQueue) Len() int {
	return len(q.jobs)
}

func (q *MemoryQueue) Close() error {
	q.closeOnce.Do(func() { close(q.done) })
	return nil
}
