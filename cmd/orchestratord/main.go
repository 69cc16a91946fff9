/*
Copyright 2025 Jordi Gil.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Command orchestratord wires pkg/domain through pkg/orchestrator's
// DAG scheduler against a live trace/outcome store pair, exposed as
// either a one-shot CLI (run/replay/replay-audit) or a thin HTTP
// façade (serve), mirroring the teacher's one-binary-per-bounded-
// context cmd/ layout.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jordigilh/orchestrator-core/internal/appconfig"
	"github.com/jordigilh/orchestrator-core/internal/obslog"
	"github.com/jordigilh/orchestrator-core/pkg/domain"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	sugar, err := obslog.New()
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to build logger:", err)
		os.Exit(1)
	}
	defer sugar.Sync()
	log := obslog.NewLogr(sugar.Desugar())

	cfg := appconfig.DefaultConfig()
	cfg.LoadFromEnv()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := buildApp(ctx, cfg, log)
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to initialize orchestratord:", err)
		os.Exit(1)
	}
	defer a.Close()

	var cmdErr error
	switch os.Args[1] {
	case "run":
		cmdErr = runWorkflowCmd(ctx, a, os.Args[2:])
	case "replay-audit":
		cmdErr = replayAuditCmd(ctx, a, os.Args[2:])
	case "replay":
		cmdErr = replayCmd(ctx, a, os.Args[2:])
	case "serve":
		cmdErr = serveCmd(ctx, a)
	default:
		usage()
		os.Exit(2)
	}
	if cmdErr != nil {
		fmt.Fprintln(os.Stderr, "error:", cmdErr)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage:
  orchestratord run <workflow.yaml>
  orchestratord replay-audit <run-id>
  orchestratord replay <run-id>
  orchestratord serve`)
}

func runWorkflowCmd(ctx context.Context, a *app, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("run requires exactly one workflow file argument")
	}
	envelope, err := loadWorkflowEnvelope(args[0])
	if err != nil {
		return err
	}
	run, err := a.orch.Run(ctx, envelope, runOptionsFor(a, nil))
	if err != nil {
		return err
	}
	return printJSON(run)
}

func replayAuditCmd(ctx context.Context, a *app, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("replay-audit requires exactly one run id argument")
	}
	runID, err := domain.ParseRunID(args[0])
	if err != nil {
		return err
	}
	result, err := a.orch.ReplayAudit(ctx, runID)
	if err != nil {
		return err
	}
	return printJSON(result)
}

func replayCmd(ctx context.Context, a *app, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("replay requires exactly one run id argument")
	}
	runID, err := domain.ParseRunID(args[0])
	if err != nil {
		return err
	}
	newRun, err := a.orch.ReplayWithProviderRerun(ctx, runID)
	if err != nil {
		return err
	}
	return printJSON(newRun)
}

func printJSON(v interface{}) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(b))
	return nil
}
