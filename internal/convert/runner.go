package convert

import "context"

// Request carries everything a stage needs to launch. The synthesis
// stage reads the source and voice fields; the compression stage reads
// the input/output paths and bitrate.
type Request struct {
	JobID     string
	EpubPath  string
	Voice     string
	Speed     float64
	UseCuda   bool
	OutputDir string

	InputPath  string
	OutputPath string
	Bitrate    string
}

// Progress is one observed sample from a running stage
type Progress struct {
	Percent int
	Line    string
}

// Handle tracks one launched external process. Poll never blocks;
// Done closes once the process has been reaped and Err holds the
// final outcome from then on.
type Handle interface {
	Poll() Progress
	Done() <-chan struct{}
	Err() error
	Cancel() error
}

// Runner launches one pipeline stage as an external process. Both
// concrete stages implement it, and engine tests substitute fakes.
type Runner interface {
	Start(ctx context.Context, req Request) (Handle, error)
}
