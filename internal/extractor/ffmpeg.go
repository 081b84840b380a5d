package extractor

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"math"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"github.com/bdougie/vibematch/internal/models"
)

// FFmpegDecoder decodes video with the ffprobe and ffmpeg binaries
type FFmpegDecoder struct {
	FFmpeg  string
	FFprobe string
}

// NewFFmpegDecoder returns a decoder using the given binaries, falling back to
// the ones on PATH when empty.
func NewFFmpegDecoder(ffmpegBin, ffprobeBin string) *FFmpegDecoder {
	ffmpegBin = strings.TrimSpace(ffmpegBin)
	if ffmpegBin == "" {
		ffmpegBin = "ffmpeg"
	}
	ffprobeBin = strings.TrimSpace(ffprobeBin)
	if ffprobeBin == "" {
		ffprobeBin = "ffprobe"
	}
	return &FFmpegDecoder{FFmpeg: ffmpegBin, FFprobe: ffprobeBin}
}

type probeResult struct {
	Streams []probeStream `json:"streams"`
}

type probeStream struct {
	Width        int               `json:"width"`
	Height       int               `json:"height"`
	AvgFrameRate string            `json:"avg_frame_rate"`
	RFrameRate   string            `json:"r_frame_rate"`
	Tags         map[string]string `json:"tags"`
	SideData     []probeSideData   `json:"side_data_list"`
}

type probeSideData struct {
	Rotation *float64 `json:"rotation"`
}

// Rotation returns the display rotation in degrees, normalized to [0, 360).
// The display matrix side data wins over the legacy rotate tag.
func (s probeStream) Rotation() int {
	deg := 0
	found := false
	for _, sd := range s.SideData {
		if sd.Rotation != nil {
			deg = int(math.Round(*sd.Rotation))
			found = true
			break
		}
	}
	if !found {
		if v, err := strconv.ParseFloat(strings.TrimSpace(s.Tags["rotate"]), 64); err == nil {
			deg = int(math.Round(v))
		}
	}
	return ((deg % 360) + 360) % 360
}

// DisplaySize returns the frame size ffmpeg emits once it has applied the
// stream rotation. Quarter turns swap width and height.
func (s probeStream) DisplaySize() (width, height int) {
	switch s.Rotation() {
	case 90, 270:
		return s.Height, s.Width
	default:
		return s.Width, s.Height
	}
}

// Rate returns the stream's frame rate, preferring the average rate
func (s probeStream) Rate() float64 {
	if r := ParseRate(s.AvgFrameRate); r > 0 {
		return r
	}
	return ParseRate(s.RFrameRate)
}

// ParseRate parses an ffprobe rational such as "30000/1001". Unparseable or
// undefined rates ("0/0") return 0.
func ParseRate(value string) float64 {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	num, den, found := strings.Cut(value, "/")
	n, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0
	}
	if !found {
		return n
	}
	d, err := strconv.ParseFloat(den, 64)
	if err != nil || d == 0 {
		return 0
	}
	return n / d
}

func (d *FFmpegDecoder) probe(ctx context.Context, path string) (probeStream, error) {
	cmd := exec.CommandContext(ctx, d.FFprobe,
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=width,height,avg_frame_rate,r_frame_rate:stream_tags=rotate:stream_side_data=rotation",
		"-of", "json",
		"--", path,
	)
	output, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return probeStream{}, fmt.Errorf("ffprobe failed: %w: %s", err, strings.TrimSpace(string(exitErr.Stderr)))
		}
		return probeStream{}, fmt.Errorf("ffprobe failed: %w", err)
	}

	var result probeResult
	if err := json.Unmarshal(output, &result); err != nil {
		return probeStream{}, fmt.Errorf("ffprobe parse: %w", err)
	}
	if len(result.Streams) == 0 {
		return probeStream{}, fmt.Errorf("no video stream found")
	}
	stream := result.Streams[0]
	if stream.Width <= 0 || stream.Height <= 0 {
		return probeStream{}, fmt.Errorf("invalid frame size %dx%d", stream.Width, stream.Height)
	}
	return stream, nil
}

// Open probes the video and starts an ffmpeg process streaming raw RGB frames
func (d *FFmpegDecoder) Open(ctx context.Context, path string) (Stream, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, models.Wrap(models.ErrUnreadableVideo, "extractor", "open", err)
	}

	info, err := d.probe(ctx, path)
	if err != nil {
		return nil, models.Wrap(models.ErrUnreadableVideo, "extractor", "probe", err)
	}

	cmd := exec.CommandContext(ctx, d.FFmpeg,
		"-v", "error",
		"-nostdin",
		"-i", path,
		"-map", "0:v:0",
		"-vsync", "passthrough",
		"-f", "rawvideo",
		"-pix_fmt", "rgb24",
		"-",
	)
	stderr := &limitedBuffer{max: 8 << 10}
	cmd.Stderr = stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start ffmpeg: %w", err)
	}

	width, height := info.DisplaySize()
	return &ffmpegStream{
		cmd:    cmd,
		reader: bufio.NewReaderSize(stdout, 1<<20),
		stderr: stderr,
		width:  width,
		height: height,
		rate:   info.Rate(),
		buf:    make([]byte, width*height*3),
	}, nil
}

type ffmpegStream struct {
	cmd    *exec.Cmd
	reader *bufio.Reader
	stderr *limitedBuffer
	width  int
	height int
	rate   float64
	buf    []byte

	waitOnce sync.Once
	waitErr  error
}

func (s *ffmpegStream) FrameRate() float64 { return s.rate }

func (s *ffmpegStream) Next() (image.Image, error) {
	_, err := io.ReadFull(s.reader, s.buf)
	switch {
	case err == nil:
		return rgb24ToNRGBA(s.buf, s.width, s.height), nil
	case errors.Is(err, io.EOF):
		if werr := s.wait(); werr != nil {
			return nil, fmt.Errorf("ffmpeg: %w: %s", werr, strings.TrimSpace(s.stderr.String()))
		}
		return nil, io.EOF
	default:
		return nil, fmt.Errorf("read frame: %w", err)
	}
}

func (s *ffmpegStream) wait() error {
	s.waitOnce.Do(func() {
		s.waitErr = s.cmd.Wait()
	})
	return s.waitErr
}

// Close stops ffmpeg if it is still running and reaps the process
func (s *ffmpegStream) Close() error {
	if s.cmd.ProcessState == nil && s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
	}
	_ = s.wait()
	return nil
}

func rgb24ToNRGBA(buf []byte, width, height int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for i, j := 0, 0; i+2 < len(buf); i, j = i+3, j+4 {
		img.Pix[j] = buf[i]
		img.Pix[j+1] = buf[i+1]
		img.Pix[j+2] = buf[i+2]
		img.Pix[j+3] = 0xff
	}
	return img
}

// limitedBuffer keeps the first max bytes written to it
type limitedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
	max int
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if remaining := b.max - b.buf.Len(); remaining > 0 {
		if len(p) > remaining {
			b.buf.Write(p[:remaining])
		} else {
			b.buf.Write(p)
		}
	}
	return len(p), nil
}

func (b *limitedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
