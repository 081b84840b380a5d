package extractor

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bdougie/vibematch/internal/models"
)

func TestParseRate(t *testing.T) {
	tests := map[string]float64{
		"30/1":       30,
		"30000/1001": 30000.0 / 1001.0,
		"25":         25,
		"0/0":        0,
		"":           0,
		"abc":        0,
		"30/x":       0,
	}
	for in, want := range tests {
		assert.InDelta(t, want, ParseRate(in), 1e-9, "input %q", in)
	}
}

func TestProbeStreamPrefersAverageRate(t *testing.T) {
	assert.Equal(t, 24.0, probeStream{AvgFrameRate: "24/1", RFrameRate: "48/1"}.Rate())
	assert.Equal(t, 48.0, probeStream{AvgFrameRate: "0/0", RFrameRate: "48/1"}.Rate())
}

func TestRGB24ToNRGBA(t *testing.T) {
	img := rgb24ToNRGBA([]byte{1, 2, 3, 4, 5, 6}, 2, 1)
	assert.Equal(t, []uint8{1, 2, 3, 255, 4, 5, 6, 255}, img.Pix)
}

func TestFFmpegDecoderMissingFile(t *testing.T) {
	_, err := NewFFmpegDecoder("", "").Open(context.Background(), filepath.Join(t.TempDir(), "nope.mp4"))
	assert.ErrorIs(t, err, models.ErrUnreadableVideo)
}

// writeScript installs a fake binary that prints the given shell body.
func writeScript(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0755))
	return path
}

func requireShell(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts not supported")
	}
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

const probeJSON = `echo '{"streams":[{"width":2,"height":1,"avg_frame_rate":"2/1","r_frame_rate":"2/1"}]}'`

func TestFFmpegDecoderStreamsFrames(t *testing.T) {
	requireShell(t)
	dir := t.TempDir()
	video := filepath.Join(dir, "clip.mp4")
	require.NoError(t, os.WriteFile(video, []byte("not really a video"), 0644))

	dec := NewFFmpegDecoder(
		writeScript(t, dir, "ffmpeg", `printf '\001\001\001\002\002\002\003\003\003\004\004\004\005\005\005\006\006\006'`),
		writeScript(t, dir, "ffprobe", probeJSON),
	)

	sampler, err := NewSampler(dec, 1, 15, nil)
	require.NoError(t, err)

	frames, err := sampler.Sample(context.Background(), video)
	require.NoError(t, err)
	require.Len(t, frames, 2)
	assert.Equal(t, 0, frames[0].Source)
	assert.Equal(t, 2, frames[1].Source)
	assert.Equal(t, 2, frames[1].Width())
	assert.Equal(t, 1, frames[1].Height())

	r, g, b, _ := frames[1].Image.At(0, 0).RGBA()
	assert.EqualValues(t, []uint32{5 * 0x101, 5 * 0x101, 5 * 0x101}, []uint32{r, g, b})
}

func TestFFmpegDecoderTruncatedStream(t *testing.T) {
	requireShell(t)
	dir := t.TempDir()
	video := filepath.Join(dir, "clip.mp4")
	require.NoError(t, os.WriteFile(video, []byte("corrupt"), 0644))

	dec := NewFFmpegDecoder(
		writeScript(t, dir, "ffmpeg", `printf '\001\001\001\002\002\002\003\003'; exit 1`),
		writeScript(t, dir, "ffprobe", probeJSON),
	)

	sampler, err := NewSampler(dec, 2, 15, nil)
	require.NoError(t, err)

	frames, err := sampler.Sample(context.Background(), video)
	assert.ErrorIs(t, err, models.ErrUnreadableVideo)
	assert.Nil(t, frames)
}

func TestFFmpegDecoderProbeFailure(t *testing.T) {
	requireShell(t)
	dir := t.TempDir()
	video := filepath.Join(dir, "clip.mp4")
	require.NoError(t, os.WriteFile(video, []byte("x"), 0644))

	dec := NewFFmpegDecoder(
		writeScript(t, dir, "ffmpeg", "exit 0"),
		writeScript(t, dir, "ffprobe", "echo 'Invalid data found' >&2; exit 1"),
	)
	_, err := dec.Open(context.Background(), video)
	assert.ErrorIs(t, err, models.ErrUnreadableVideo)
	assert.ErrorContains(t, err, "Invalid data found")
}

func TestProbeStreamDisplaySize(t *testing.T) {
	deg := func(v float64) *float64 { return &v }

	tests := []struct {
		name     string
		stream   probeStream
		rotation int
		width    int
		height   int
	}{
		{"no rotation", probeStream{Width: 1920, Height: 1080}, 0, 1920, 1080},
		{"display matrix -90", probeStream{Width: 1920, Height: 1080, SideData: []probeSideData{{Rotation: deg(-90)}}}, 270, 1080, 1920},
		{"display matrix 90", probeStream{Width: 1920, Height: 1080, SideData: []probeSideData{{}, {Rotation: deg(90)}}}, 90, 1080, 1920},
		{"display matrix 180", probeStream{Width: 1920, Height: 1080, SideData: []probeSideData{{Rotation: deg(180)}}}, 180, 1920, 1080},
		{"rotate tag", probeStream{Width: 1920, Height: 1080, Tags: map[string]string{"rotate": "270"}}, 270, 1080, 1920},
		{"side data wins over tag", probeStream{Width: 4, Height: 2, Tags: map[string]string{"rotate": "90"}, SideData: []probeSideData{{Rotation: deg(0)}}}, 0, 4, 2},
		{"bad tag", probeStream{Width: 4, Height: 2, Tags: map[string]string{"rotate": "sideways"}}, 0, 4, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.rotation, tt.stream.Rotation())
			w, h := tt.stream.DisplaySize()
			assert.Equal(t, tt.width, w)
			assert.Equal(t, tt.height, h)
		})
	}
}

func TestFFmpegDecoderRotatedStream(t *testing.T) {
	requireShell(t)
	dir := t.TempDir()
	video := filepath.Join(dir, "portrait.mov")
	require.NoError(t, os.WriteFile(video, []byte("phone clip"), 0644))

	// Stored as 2x1 landscape with a -90 display matrix; ffmpeg emits it upright as 1x2
	dec := NewFFmpegDecoder(
		writeScript(t, dir, "ffmpeg", `printf '\001\001\001\002\002\002'`),
		writeScript(t, dir, "ffprobe", `echo '{"streams":[{"width":2,"height":1,"avg_frame_rate":"1/1","r_frame_rate":"1/1","side_data_list":[{"side_data_type":"Display Matrix","rotation":-90}]}]}'`),
	)

	sampler, err := NewSampler(dec, 1, 15, nil)
	require.NoError(t, err)

	frames, err := sampler.Sample(context.Background(), video)
	require.NoError(t, err)
	require.Len(t, frames, 1)
	assert.Equal(t, 1, frames[0].Width())
	assert.Equal(t, 2, frames[0].Height())

	r, _, _, _ := frames[0].Image.At(0, 1).RGBA()
	assert.EqualValues(t, 2*0x101, r)
}
