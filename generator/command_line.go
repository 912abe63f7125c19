package generator

import (
	"fmt"
	"strings"

	"github.com/google/shlex"
)

// Placeholders expanded in each argument of a generator command.
const (
	ParamsFilePlaceholder = "${PARAMS_FILE}"
	OutputFilePlaceholder = "${OUTPUT_FILE}"
	TaskIDPlaceholder     = "${TASK_ID}"
)

// SplitCommand splits a command template into arguments without a shell.
func SplitCommand(command string) ([]string, error) {
	args, err := shlex.Split(command)
	if err != nil {
		return nil, fmt.Errorf("invalid command syntax: %w", err)
	}
	return args, nil
}

// ValidateArgs checks a split command template before it is used.
func ValidateArgs(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("generator command is empty")
	}
	if strings.Contains(args[0], "${") {
		return fmt.Errorf("generator binary must not be a placeholder: %s", args[0])
	}
	for _, arg := range args[1:] {
		if strings.Contains(arg, ParamsFilePlaceholder) {
			return nil
		}
	}
	return fmt.Errorf("command must include the parameters placeholder '%s'", ParamsFilePlaceholder)
}

// ExpandArgs substitutes the placeholders in every argument. Substitution
// happens after splitting so paths with spaces stay one argument.
func ExpandArgs(args []string, paramsFile, outputFile, taskID string) []string {
	r := strings.NewReplacer(
		ParamsFilePlaceholder, paramsFile,
		OutputFilePlaceholder, outputFile,
		TaskIDPlaceholder, taskID,
	)
	out := make([]string, len(args))
	for i, arg := range args {
		out[i] = r.Replace(arg)
	}
	return out
}
