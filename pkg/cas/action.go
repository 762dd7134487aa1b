package cas

import (
	"context"
	"fmt"
	"sort"
	"time"

	repb "github.com/bazelbuild/remote-apis/build/bazel/remote/execution/v2"
	"google.golang.org/protobuf/types/known/durationpb"
)

// ExecutableAction describes a command run against a content-addressed
// input root. Its action digest is the remote cache key: two actions with
// the same command, environment, and input tree share one digest and
// therefore one cached result.
type ExecutableAction struct {
	Action  *repb.Action
	Command *repb.Command

	ActionDigest    Digest
	CommandDigest   Digest
	InputRootDigest Digest

	// InputTree is retained so callers can feed the action's inputs into
	// an UploadManifest without walking the directory again.
	InputTree *Tree
}

// NewExecutableAction builds an action for running args inside inputDir
// with the given environment. A zero timeout leaves the action without a
// timeout field. Environment variables are sorted by name before the
// Command message is digested.
func NewExecutableAction(inputDir string, args []string, env map[string]string, timeout time.Duration) (*ExecutableAction, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("executable action: command arguments are required")
	}

	tree, err := BuildTree(inputDir)
	if err != nil {
		return nil, fmt.Errorf("executable action: %w", err)
	}

	cmd := &repb.Command{Arguments: args}
	names := make([]string, 0, len(env))
	for name := range env {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		cmd.EnvironmentVariables = append(cmd.EnvironmentVariables,
			&repb.Command_EnvironmentVariable{Name: name, Value: env[name]})
	}
	cmdDigest, err := FromMessage(cmd)
	if err != nil {
		return nil, fmt.Errorf("executable action: %w", err)
	}

	action := &repb.Action{
		CommandDigest:   cmdDigest.ToProto(),
		InputRootDigest: tree.RootDigest.ToProto(),
	}
	if timeout > 0 {
		action.Timeout = durationpb.New(timeout)
	}
	actionDigest, err := FromMessage(action)
	if err != nil {
		return nil, fmt.Errorf("executable action: %w", err)
	}

	return &ExecutableAction{
		Action:          action,
		Command:         cmd,
		ActionDigest:    actionDigest,
		CommandDigest:   cmdDigest,
		InputRootDigest: tree.RootDigest,
		InputTree:       tree,
	}, nil
}

// ExecutableActionResult is the local outcome of an executed action.
// Stdout and Stderr are file paths and may be empty when the action
// produced no output on that stream.
type ExecutableActionResult struct {
	ExitCode int32
	Stdout   string
	Stderr   string
}

// CacheClient stores and retrieves action results in a remote cache. The
// core only produces the action/result pairs and upload manifests; the
// transport behind this interface is a separate concern.
type CacheClient interface {
	// UploadCache stores or updates the cached result for an action.
	UploadCache(ctx context.Context, action *ExecutableAction, result ExecutableActionResult) error

	// LookupCache retrieves the cached result for an action. A cache
	// miss returns (nil, nil), not an error.
	LookupCache(ctx context.Context, action *ExecutableAction) (*ExecutableActionResult, error)
}
