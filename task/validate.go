package task

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

const (
	MaxSequences = 10000
	SequenceLen  = 20
	MinGenNum    = 1
	MaxGenNum    = 10000
	maxIDLen     = 128

	// ParamsFile is the name of the staged parameter file; attachments may
	// not use it.
	ParamsFile = "form_data.json"
)

var idPattern = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// Validate checks a submission before anything is persisted. The first
// violation is returned.
func Validate(s *Submission) error {
	if err := ValidateID(s.ID); err != nil {
		return err
	}
	if strings.TrimSpace(s.Name) == "" {
		return &ValidationError{Reason: "task_name is required"}
	}
	if err := ValidateSeedSequences(s.SeedSeqs); err != nil {
		return err
	}
	if err := ValidateGenNum(s.GenNum); err != nil {
		return err
	}
	seen := make(map[string]bool, len(s.Attachments))
	for _, a := range s.Attachments {
		name, err := AttachmentName(a.Filename)
		if err != nil {
			return err
		}
		if seen[name] {
			return &ValidationError{Reason: fmt.Sprintf("duplicate attachment name %q", name)}
		}
		seen[name] = true
	}
	return nil
}

// AttachmentName reduces an uploaded file name to a safe base name.
func AttachmentName(filename string) (string, error) {
	name := filepath.Base(filepath.Clean("/" + filename))
	if name == "/" || name == "." || name == ParamsFile || strings.HasPrefix(name, ".") {
		return "", &ValidationError{Reason: fmt.Sprintf("invalid attachment name %q", filename)}
	}
	return name, nil
}

// ValidateID requires the id to be usable as a single path component.
func ValidateID(id string) error {
	switch {
	case id == "":
		return &ValidationError{Reason: "task_id is required"}
	case len(id) > maxIDLen:
		return &ValidationError{Reason: fmt.Sprintf("task_id must be at most %d characters", maxIDLen)}
	case id == "." || id == ".." || !idPattern.MatchString(id):
		return &ValidationError{Reason: "task_id may only contain letters, digits, '.', '_' and '-'"}
	}
	return nil
}

// SeedLines returns the trimmed, non-empty lines of a sequence set.
func SeedLines(seqs string) []string {
	var lines []string
	for _, line := range strings.Split(seqs, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

// ValidateSeedSequences checks each non-empty line. An empty set is
// accepted and left to the generator.
func ValidateSeedSequences(seqs string) error {
	lines := SeedLines(seqs)
	if len(lines) > MaxSequences {
		return &ValidationError{Reason: fmt.Sprintf("Maximum %d sequences allowed. Got: %d", MaxSequences, len(lines))}
	}
	for i, line := range lines {
		if !isRNA(line) {
			return &ValidationError{Line: i + 1, Reason: "Invalid characters. Only A, C, G, U allowed"}
		}
		if len(line) != SequenceLen {
			return &ValidationError{Line: i + 1, Reason: fmt.Sprintf("Sequence must be %d characters long. Got: %d", SequenceLen, len(line))}
		}
	}
	return nil
}

func ValidateGenNum(n int) error {
	if n < MinGenNum || n > MaxGenNum {
		return &ValidationError{Reason: fmt.Sprintf("Generated sequences count must be between %d and %d", MinGenNum, MaxGenNum)}
	}
	return nil
}

func isRNA(s string) bool {
	for _, c := range s {
		switch c {
		case 'A', 'C', 'G', 'U', 'a', 'c', 'g', 'u':
		default:
			return false
		}
	}
	return true
}
