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

// BaseChain is the default Chain.
//
// Logic Flow:
//  1. Execute opens a span for the chain and one child span per command.
//  2. Before each command the chain stops when an earlier command recorded an
//     error (unless continueOnFailure is set) or the Go context is done.
//  3. Executable commands are announced to the ProgressFunc of the context,
//     then run with the Go context of their own span. A panic inside a
//     command is recovered and recorded as that command's error.
//  4. After each command the value in CtxOut moves to CtxIn so the next
//     command receives it.
//  5. The chain span status reflects whether any error was recorded.

package cor

import (
	"fmt"
	"log/slog"
	"runtime/debug"

	"go.opentelemetry.io/otel/codes"
)

// BaseChain executes an ordered list of commands.
type BaseChain struct {
	BaseCommand
	continueOnFailure bool
	commands          []Command
}

// NewBaseChain creates an empty chain named name.
func NewBaseChain(name string) *BaseChain {
	return &BaseChain{BaseCommand: *NewBaseCommand(name)}
}

func (c *BaseChain) ContinueOnFailure(continueOnFailure bool) Chain {
	c.continueOnFailure = continueOnFailure
	return c
}

func (c *BaseChain) AddCommand(command Command) Chain {
	c.commands = append(c.commands, command)
	return c
}

// Commands returns the names of the chained commands in execution order.
func (c *BaseChain) Commands() []string {
	out := make([]string, 0, len(c.commands))
	for _, cmd := range c.commands {
		out = append(out, cmd.GetName())
	}
	return out
}

// IsExecutable only needs a Go context. Chains read their inputs through
// their commands.
func (c *BaseChain) IsExecutable(context Context) bool {
	return context != nil && context.GetContext() != nil
}

func (c *BaseChain) Execute(chCtx Context) {
	parentCtx := chCtx.GetContext()
	outerCtx, chainSpan := c.Tracer.Start(parentCtx, fmt.Sprintf("%s_execute", c.GetName()))
	defer chainSpan.End()
	defer chCtx.SetContext(parentCtx)

	for _, command := range c.commands {
		if !c.continueOnFailure && (chCtx.HasErrors() || outerCtx.Err() != nil) {
			slog.DebugContext(outerCtx, "chain stopped", "chain", c.GetName(), "next", command.GetName())
			break
		}

		commandCtx, commandSpan := c.Tracer.Start(outerCtx, command.GetName())
		if command.IsExecutable(chCtx) {
			ReportProgress(outerCtx, command.GetName())
			chCtx.SetContext(commandCtx)
			c.run(command, chCtx)
			chCtx.SetContext(outerCtx)
		} else {
			commandSpan.SetStatus(codes.Error, fmt.Sprintf("command not executable: %s", command.GetName()))
		}

		if err, failed := chCtx.GetErrors()[command.GetName()]; failed {
			commandSpan.RecordError(err)
			commandSpan.SetStatus(codes.Error, err.Error())
		} else {
			commandSpan.SetStatus(codes.Ok, "")
		}
		commandSpan.End()

		out := chCtx.Get(CtxOut)
		chCtx.Remove(CtxIn)
		if out != nil {
			chCtx.Add(CtxIn, out)
		}
		chCtx.Remove(CtxOut)
	}

	if chCtx.HasErrors() {
		chainSpan.SetStatus(codes.Error, "chain failed to execute")
	} else {
		chainSpan.SetStatus(codes.Ok, "chain completed successfully")
	}
}

func (c *BaseChain) run(command Command, chCtx Context) {
	chCtx.MarkExecuted(command.GetName())
	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(chCtx.GetContext(), "command panicked",
				"command", command.GetName(), "panic", r, "stack", string(debug.Stack()))
			if counter := command.GetErrorCounter(); counter != nil {
				counter.Add(chCtx.GetContext(), 1)
			}
			chCtx.AddError(command.GetName(), fmt.Errorf("panic in %s: %v", command.GetName(), r))
		}
	}()
	command.Execute(chCtx)
}
