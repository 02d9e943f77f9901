// Copyright 2024 Google, LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package cor (Chain of Responsibility) holds the pieces every workflow in the
// place saver is assembled from: commands, chains of commands and the shared
// context that carries data, errors and temp files between them.
package cor

import (
	"context"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Keys the chain uses to pipe one command's output into the next command.
const (
	// CtxIn holds the input of the command about to run. The chain fills it
	// with whatever the previous command left in CtxOut.
	CtxIn = "__IN__"
	// CtxOut is where a command leaves its primary output.
	CtxOut = "__OUT__"
)

// Context is the shared state of a single workflow execution. Implementations
// must be safe for use by the goroutines a command may fan out to.
type Context interface {
	// SetContext replaces the Go context (cancellation and span propagation).
	SetContext(context context.Context)

	// GetContext returns the current Go context.
	GetContext() context.Context

	// Add stores a value under key and returns the Context for chaining.
	Add(key string, value interface{}) Context

	// AddError records the failure of the command named key.
	AddError(key string, err error)

	// GetErrors returns a copy of the recorded errors keyed by command name.
	GetErrors() map[string]error

	// Get returns the value stored under key, or nil.
	Get(key string) interface{}

	// Remove deletes the value stored under key.
	Remove(key string)

	// HasErrors reports whether any command recorded an error.
	HasErrors() bool

	// AddTempFile registers a local path (file or directory) removed by Close.
	AddTempFile(file string)

	// GetTempFiles returns the registered temp paths.
	GetTempFiles() []string

	// MarkExecuted appends a command name to the execution trail.
	MarkExecuted(name string)

	// Trail returns the names of the commands that ran, in order.
	Trail() []string

	// Close removes the registered temp paths. Defer it right after creation.
	Close()
}

// Executable is anything with a unit of work driven by a Context.
type Executable interface {
	Execute(context Context)
}

// Command is a named, instrumented step of a workflow.
type Command interface {
	Executable

	// GetName returns the name used for spans, counters and error keys.
	GetName() string

	// GetInputParam returns the context key the command reads its input from.
	GetInputParam() string

	// GetOutputParam returns the context key the command writes its output to.
	GetOutputParam() string

	// IsExecutable is the precondition checked before Execute.
	IsExecutable(context Context) bool

	GetTracer() trace.Tracer
	GetMeter() metric.Meter
	GetSuccessCounter() metric.Int64Counter
	GetErrorCounter() metric.Int64Counter
}

// Chain runs commands in order. A Chain is itself a Command, so chains nest.
type Chain interface {
	Command

	// ContinueOnFailure makes the chain run every command even after one of
	// them recorded an error.
	ContinueOnFailure(bool) Chain

	// AddCommand appends a command to the chain.
	AddCommand(command Command) Chain
}
