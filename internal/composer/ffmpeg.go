package composer

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// findBinary locates a helper binary, falling back to common install paths
// when PATH is stripped (systemd units).
func findBinary(name string) string {
	if p, err := exec.LookPath(name); err == nil {
		return p
	}
	if p := filepath.Join("/usr/bin", name); fileExists(p) {
		return p
	}
	if p := filepath.Join("/usr/local/bin", name); fileExists(p) {
		return p
	}
	// Return the name and let exec.Command fail naturally with a clear error
	return name
}

func fileExists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}

func ffmpegAvailable() bool {
	_, err := exec.LookPath("ffmpeg")
	return err == nil || fileExists("/usr/bin/ffmpeg") || fileExists("/usr/local/bin/ffmpeg")
}

// scaleFilter letterboxes an input to the target frame without distortion.
func scaleFilter(w, h int) string {
	return fmt.Sprintf(
		"scale=%d:%d:force_original_aspect_ratio=decrease,pad=%d:%d:(ow-iw)/2:(oh-ih)/2,setsar=1",
		w, h, w, h)
}

func runFFmpeg(ctx context.Context, args []string) error {
	cmd := exec.CommandContext(ctx, findBinary("ffmpeg"), args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		// ffmpeg writes diagnostics to stderr; keep the tail for the error.
		msg := string(out)
		if len(msg) > 512 {
			msg = msg[len(msg)-512:]
		}
		return fmt.Errorf("ffmpeg: %w: %s", err, strings.TrimSpace(msg))
	}
	return nil
}

// ffmpegXfade renders with crossfade transitions between images.
type ffmpegXfade struct{}

func (s *ffmpegXfade) name() string    { return "ffmpeg-xfade" }
func (s *ffmpegXfade) available() bool { return ffmpegAvailable() }

func (s *ffmpegXfade) supports(images []string, params Params) bool {
	// A crossfade needs at least two images and must be shorter than the
	// time each image is on screen.
	return params.UseTransitions &&
		len(images) > 1 &&
		params.TransitionDuration < params.DurationPerImage
}

func (s *ffmpegXfade) compose(ctx context.Context, images []string, outPath string, params Params) error {
	dur := params.DurationPerImage.Seconds()
	td := params.TransitionDuration.Seconds()

	args := []string{"-y"}
	for _, img := range images {
		args = append(args,
			"-loop", "1",
			"-t", fmt.Sprintf("%.3f", dur),
			"-i", img)
	}

	var graph strings.Builder
	for i := range images {
		fmt.Fprintf(&graph, "[%d:v]%s,fps=%d[v%d];", i, scaleFilter(params.Width, params.Height), params.FPS, i)
	}
	// Chain: v0 xfade v1 -> x0, x0 xfade v2 -> x1, ...
	prev := "v0"
	for i := 1; i < len(images); i++ {
		out := fmt.Sprintf("x%d", i-1)
		offset := float64(i) * (dur - td)
		fmt.Fprintf(&graph, "[%s][v%d]xfade=transition=fade:duration=%.3f:offset=%.3f[%s];",
			prev, i, td, offset, out)
		prev = out
	}
	filter := strings.TrimSuffix(graph.String(), ";")

	args = append(args,
		"-filter_complex", filter,
		"-map", "["+prev+"]",
		"-c:v", "libx264",
		"-preset", "veryfast",
		"-pix_fmt", "yuv420p",
		"-movflags", "+faststart",
		outPath)
	return runFFmpeg(ctx, args)
}

// ffmpegConcat renders a cut-based slideshow via the concat demuxer. Handles
// the degenerate single-image case and acts as the fallback when transitions
// are disabled.
type ffmpegConcat struct{}

func (s *ffmpegConcat) name() string    { return "ffmpeg-concat" }
func (s *ffmpegConcat) available() bool { return ffmpegAvailable() }

func (s *ffmpegConcat) supports(images []string, params Params) bool {
	return len(images) > 0
}

func (s *ffmpegConcat) compose(ctx context.Context, images []string, outPath string, params Params) error {
	list, err := writeConcatList(images, params.DurationPerImage.Seconds())
	if err != nil {
		return err
	}
	defer os.Remove(list)

	args := []string{
		"-y",
		"-f", "concat",
		"-safe", "0",
		"-i", list,
		"-vf", scaleFilter(params.Width, params.Height) + fmt.Sprintf(",fps=%d", params.FPS),
		"-c:v", "libx264",
		"-preset", "veryfast",
		"-pix_fmt", "yuv420p",
		"-movflags", "+faststart",
		outPath,
	}
	return runFFmpeg(ctx, args)
}

// writeConcatList produces a concat-demuxer input file. The final image is
// listed twice because the demuxer ignores the duration of the last entry.
func writeConcatList(images []string, duration float64) (string, error) {
	f, err := os.CreateTemp("", "lumacast_concat_*.txt")
	if err != nil {
		return "", fmt.Errorf("create concat list: %w", err)
	}
	defer f.Close()

	for _, img := range images {
		abs, err := filepath.Abs(img)
		if err != nil {
			abs = img
		}
		fmt.Fprintf(f, "file '%s'\nduration %.3f\n", abs, duration)
	}
	if last, err := filepath.Abs(images[len(images)-1]); err == nil {
		fmt.Fprintf(f, "file '%s'\n", last)
	}
	return f.Name(), nil
}
