// Harmonia - Listening History Analytics and Music Recommendations
// Copyright 2026 Harmonia contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/harmonia-fm/harmonia

package scheduler

import (
	"context"
	"time"

	"github.com/thejerf/suture/v4"
	"github.com/thejerf/sutureslog"

	"github.com/harmonia-fm/harmonia/internal/logging"
)

// Tree supervises the HTTP server and the optional pipeline scheduler.
// The two run under separate child supervisors, so a crashing pipeline
// pass never takes the serving layer down with it.
type Tree struct {
	root     *suture.Supervisor
	serving  *suture.Supervisor
	pipeline *suture.Supervisor
}

// NewTree builds the supervisor hierarchy with restart backoff defaults.
func NewTree() *Tree {
	hook := (&sutureslog.Handler{Logger: logging.NewSlogLogger()}).MustHook()
	spec := suture.Spec{
		EventHook:        hook,
		FailureThreshold: 5,
		FailureDecay:     30,
		FailureBackoff:   15 * time.Second,
		Timeout:          10 * time.Second,
	}
	childSpec := spec
	childSpec.EventHook = nil

	root := suture.New("harmonia", spec)
	serving := suture.New("serving", childSpec)
	pipeline := suture.New("pipeline", childSpec)
	root.Add(serving)
	root.Add(pipeline)

	return &Tree{root: root, serving: serving, pipeline: pipeline}
}

// AddServing supervises a serving-layer service (the HTTP server).
func (t *Tree) AddServing(svc suture.Service) suture.ServiceToken {
	return t.serving.Add(svc)
}

// AddPipeline supervises a pipeline service (the scheduler).
func (t *Tree) AddPipeline(svc suture.Service) suture.ServiceToken {
	return t.pipeline.Add(svc)
}

// Serve runs the tree until the context is canceled.
func (t *Tree) Serve(ctx context.Context) error {
	return t.root.Serve(ctx)
}

// ServeBackground starts the tree and returns its terminal error channel.
func (t *Tree) ServeBackground(ctx context.Context) <-chan error {
	return t.root.ServeBackground(ctx)
}
