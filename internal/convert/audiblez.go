package convert

import (
	"context"
	"strconv"
)

// SynthesisRunner launches the text-to-speech tool that turns an epub
// into a chaptered audiobook file.
type SynthesisRunner struct {
	Command string
}

// NewSynthesisRunner uses the audiblez binary from PATH
func NewSynthesisRunner() *SynthesisRunner {
	return &SynthesisRunner{Command: "audiblez"}
}

// Start implements Runner
func (r *SynthesisRunner) Start(ctx context.Context, req Request) (Handle, error) {
	// the tool is a python entry point; without unbuffered output its
	// progress lines arrive only at exit
	env := []string{"PYTHONUNBUFFERED=1"}
	return startProcess(ctx, &synthesisParser{}, env, r.Command, buildSynthesisArgs(req)...)
}

func buildSynthesisArgs(req Request) []string {
	args := []string{
		req.EpubPath,
		"-v", req.Voice,
		"-s", strconv.FormatFloat(req.Speed, 'f', -1, 64),
	}
	if req.UseCuda {
		args = append(args, "-c")
	}
	return append(args, "-o", req.OutputDir)
}
