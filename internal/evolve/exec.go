package evolve

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"

	"alphaevolve/internal/model"
	"alphaevolve/internal/patch"
)

// ExecMutator runs an external mutation engine as a subprocess. The parent
// code is written to stdin and the process must print a JSON diff on
// stdout: {"code": "..."} for a full replacement or
// {"blocks": {"name": "..."}} for surgical block edits. The block name and
// guidance travel in EVOLVE_BLOCK_NAME and EVOLVE_GUIDANCE.
type ExecMutator struct {
	Command []string
}

func (m ExecMutator) Mutate(ctx context.Context, req MutationRequest) (MutationResult, error) {
	stdout, err := runCommand(ctx, m.Command, req.ParentCode,
		"EVOLVE_BLOCK_NAME="+req.BlockName,
		"EVOLVE_GUIDANCE="+req.Guidance,
	)
	if err != nil {
		return MutationResult{}, fmt.Errorf("mutator: %w", err)
	}

	var diff struct {
		Code   string            `json:"code"`
		Blocks map[string]string `json:"blocks"`
	}
	if err := json.Unmarshal(stdout, &diff); err != nil {
		return MutationResult{}, fmt.Errorf("mutator: decode diff: %w", err)
	}
	if diff.Code == "" && len(diff.Blocks) == 0 {
		return MutationResult{}, fmt.Errorf("mutator: empty diff")
	}
	return MutationResult{Diff: patch.Diff{Code: diff.Code, Blocks: diff.Blocks}}, nil
}

// ExecEvaluator runs an external backtest engine as a subprocess. The
// strategy code is written to stdin and the process must print the fitness
// metrics as JSON on stdout.
type ExecEvaluator struct {
	Command []string
}

func (e ExecEvaluator) Evaluate(ctx context.Context, code string) (model.FitnessMetrics, error) {
	stdout, err := runCommand(ctx, e.Command, code)
	if err != nil {
		return model.FitnessMetrics{}, fmt.Errorf("evaluator: %w", err)
	}

	var metrics model.FitnessMetrics
	if err := json.Unmarshal(stdout, &metrics); err != nil {
		return model.FitnessMetrics{}, fmt.Errorf("evaluator: decode metrics: %w", err)
	}
	return metrics, nil
}

func runCommand(ctx context.Context, command []string, stdin string, env ...string) ([]byte, error) {
	if len(command) == 0 {
		return nil, fmt.Errorf("command is required")
	}

	cmd := exec.CommandContext(ctx, command[0], command[1:]...)
	cmd.Stdin = bytes.NewBufferString(stdin)
	cmd.Env = append(cmd.Environ(), env...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if stderr.Len() > 0 {
			return nil, fmt.Errorf("%s: %w: %s", command[0], err, stderr.String())
		}
		return nil, fmt.Errorf("%s: %w", command[0], err)
	}
	return stdout.Bytes(), nil
}
