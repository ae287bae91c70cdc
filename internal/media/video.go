package media

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	execute "github.com/alexellis/go-execute/v2"

	"github.com/memohai/metaeraser/internal/prune"
)

const (
	DefaultFFmpegPath  = "ffmpeg"
	DefaultFFprobePath = "ffprobe"
	DefaultVideoCodec  = "libx264"
	DefaultAudioCodec  = "aac"
)

// VideoOptions configures the transcode pass.
type VideoOptions struct {
	FFmpegPath  string
	FFprobePath string
	VideoCodec  string
	AudioCodec  string
}

// VideoStripper transcodes video through ffmpeg with a fixed codec pair into a
// fresh MP4 container. Container and chapter metadata are not mapped across.
type VideoStripper struct {
	opts   VideoOptions
	logger *slog.Logger
}

// NewVideoStripper creates a video stripper, filling unset options with defaults.
func NewVideoStripper(log *slog.Logger, opts VideoOptions) *VideoStripper {
	if log == nil {
		log = slog.Default()
	}
	if strings.TrimSpace(opts.FFmpegPath) == "" {
		opts.FFmpegPath = DefaultFFmpegPath
	}
	if strings.TrimSpace(opts.FFprobePath) == "" {
		opts.FFprobePath = DefaultFFprobePath
	}
	if strings.TrimSpace(opts.VideoCodec) == "" {
		opts.VideoCodec = DefaultVideoCodec
	}
	if strings.TrimSpace(opts.AudioCodec) == "" {
		opts.AudioCodec = DefaultAudioCodec
	}
	return &VideoStripper{
		opts:   opts,
		logger: log.With(slog.String("stripper", "video")),
	}
}

// Strip extracts the audio track into a temporary file beside outPath, then
// muxes it with the re-encoded video stream. The temporary is always removed.
func (s *VideoStripper) Strip(ctx context.Context, stagedPath string, hints Hints, outPath string) (ProcessedFile, error) {
	if err := ctx.Err(); err != nil {
		return ProcessedFile{}, processingError(CategoryVideo, "start", err)
	}
	hasAudio, err := s.hasAudio(ctx, stagedPath)
	if err != nil {
		return ProcessedFile{}, processingError(CategoryVideo, "probe", err)
	}

	args := []string{"-y", "-hide_banner", "-loglevel", "error", "-i", stagedPath}
	if hasAudio {
		audioPath := TempAudioPath(outPath)
		defer func() {
			if err := os.Remove(audioPath); err != nil && !os.IsNotExist(err) {
				s.logger.Warn("remove temp audio failed", slog.String("path", audioPath), slog.Any("error", err))
			}
		}()
		if err := s.run(ctx, s.opts.FFmpegPath,
			"-y", "-hide_banner", "-loglevel", "error",
			"-i", stagedPath,
			"-vn", "-map_metadata", "-1",
			"-c:a", s.opts.AudioCodec,
			"-f", "mp4", audioPath,
		); err != nil {
			return ProcessedFile{}, processingError(CategoryVideo, "extract audio", err)
		}
		args = append(args, "-i", audioPath, "-map", "0:v:0", "-map", "1:a:0", "-c:a", "copy")
	} else {
		args = append(args, "-map", "0:v:0", "-an")
	}
	args = append(args,
		"-c:v", s.opts.VideoCodec,
		"-pix_fmt", "yuv420p",
		"-map_metadata", "-1",
		"-map_chapters", "-1",
		"-fflags", "+bitexact",
		"-movflags", "+faststart",
		"-f", "mp4", outPath,
	)
	if err := s.run(ctx, s.opts.FFmpegPath, args...); err != nil {
		_ = os.Remove(outPath)
		return ProcessedFile{}, processingError(CategoryVideo, "transcode", err)
	}
	return ProcessedFile{
		Path: outPath,
		Name: withExtension(hints.Name, ".mp4"),
		Mime: "video/mp4",
	}, nil
}

// TempAudioPath is the scoped audio extraction file used while transcoding to outPath.
func TempAudioPath(outPath string) string {
	return outPath + ".audio.m4a"
}

func (s *VideoStripper) hasAudio(ctx context.Context, path string) (bool, error) {
	task := execute.ExecTask{
		Command: s.opts.FFprobePath,
		Args: []string{
			"-v", "error",
			"-select_streams", "a",
			"-show_entries", "stream=index",
			"-of", "csv=p=0",
			path,
		},
	}
	res, err := task.Execute(ctx)
	if err != nil {
		return false, err
	}
	if res.ExitCode != 0 {
		return false, fmt.Errorf("%s exited with code %d: %s", s.opts.FFprobePath, res.ExitCode, prune.Edges(res.Stderr, prune.Stderr))
	}
	return strings.TrimSpace(res.Stdout) != "", nil
}

func (s *VideoStripper) run(ctx context.Context, command string, args ...string) error {
	s.logger.Debug("executing", slog.String("command", command), slog.Any("args", args))
	task := execute.ExecTask{
		Command: command,
		Args:    args,
	}
	res, err := task.Execute(ctx)
	if err != nil {
		return err
	}
	if res.Cancelled {
		return fmt.Errorf("%s cancelled", command)
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("%s exited with code %d: %s", command, res.ExitCode, prune.Edges(res.Stderr, prune.Stderr))
	}
	return nil
}
