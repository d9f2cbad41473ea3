package convert

import "context"

// CompressionRunner launches the audio encoder that shrinks a
// finished audiobook file.
type CompressionRunner struct {
	Command string
}

// NewCompressionRunner uses the ffmpeg binary from PATH
func NewCompressionRunner() *CompressionRunner {
	return &CompressionRunner{Command: "ffmpeg"}
}

// Start implements Runner
func (r *CompressionRunner) Start(ctx context.Context, req Request) (Handle, error) {
	return startProcess(ctx, &ffmpegParser{}, nil, r.Command, buildCompressionArgs(req)...)
}

// buildCompressionArgs re-encodes the audio track at the target
// bitrate and copies the embedded cover stream untouched.
func buildCompressionArgs(req Request) []string {
	return []string{
		"-i", req.InputPath,
		"-map", "0:a",
		"-map", "0:v?",
		"-c:a", "aac",
		"-b:a", req.Bitrate,
		"-c:v", "copy",
		req.OutputPath,
		"-y",
	}
}
