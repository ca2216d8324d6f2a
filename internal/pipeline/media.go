package pipeline

import (
	"context"

	"github.com/gopxl/beep"

	"github.com/keagan/reelcut/internal/ffmpeg"
)

// FFmpeg adapts an executor to the render backend.
func FFmpeg(e *ffmpeg.Executor) Media {
	return ffmpegMedia{e}
}

type ffmpegMedia struct {
	exec *ffmpeg.Executor
}

func (m ffmpegMedia) OpenFrames(ctx context.Context, req ffmpeg.FrameRequest) (FrameStream, error) {
	r, err := m.exec.OpenFrames(ctx, req)
	if err != nil {
		return nil, err
	}
	return r, nil
}

func (m ffmpegMedia) DecodePCM(ctx context.Context, req ffmpeg.PCMRequest) (*beep.Buffer, error) {
	return m.exec.DecodePCM(ctx, req)
}

func (m ffmpegMedia) NewEncoder(ctx context.Context, opts ffmpeg.StreamOptions) (Encoder, error) {
	enc, err := m.exec.NewStreamEncoder(ctx, opts)
	if err != nil {
		return nil, err
	}
	return enc, nil
}
