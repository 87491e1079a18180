package encoder

import (
	"bufio"
	"bytes"
	"strconv"
	"strings"

	"github.com/okian/facefx/internal/recorder"
)

type container struct {
	muxer string
	video string
	audio string
}

var containers = map[string]container{
	recorder.FormatWebMVP9: {muxer: "webm", video: "libvpx-vp9", audio: "libopus"},
	recorder.FormatWebMVP8: {muxer: "webm", video: "libvpx", audio: "libopus"},
	recorder.FormatWebM:    {muxer: "webm", video: "libvpx", audio: "libopus"},
	recorder.FormatMP4:     {muxer: "mp4", video: "libx264", audio: "aac"},
}

func lookup(mime string) (container, bool) {
	c, ok := containers[strings.ToLower(strings.ReplaceAll(mime, " ", ""))]
	return c, ok
}

// audioFD is the descriptor ffmpeg reads PCM from; ExtraFiles[0] lands on 3.
const audioFD = 3

// buildArgs returns the ffmpeg arguments for raw RGBA frames of inW×inH at
// inFPS on stdin, optional s16le audio on fd 3, and the container on stdout.
// The output is resampled when opts.FPS differs from inFPS.
func buildArgs(c container, inW, inH, inFPS int, opts recorder.EncoderOptions, audio *recorder.AudioFormat) []string {
	args := []string{
		"-hide_banner", "-loglevel", "error", "-nostdin",
		"-f", "rawvideo", "-pix_fmt", "rgba",
		"-s", strconv.Itoa(inW) + "x" + strconv.Itoa(inH),
		"-r", strconv.Itoa(inFPS),
		"-i", "pipe:0",
	}
	if audio != nil {
		args = append(args,
			"-f", "s16le",
			"-ar", strconv.Itoa(audio.SampleRate),
			"-ac", strconv.Itoa(audio.Channels),
			"-i", "pipe:"+strconv.Itoa(audioFD))
	}
	args = append(args, "-c:v", c.video, "-pix_fmt", "yuv420p")
	if opts.VideoBitsPerSecond > 0 {
		args = append(args, "-b:v", strconv.Itoa(opts.VideoBitsPerSecond))
	}
	if opts.FPS > 0 && opts.FPS != inFPS {
		args = append(args, "-r", strconv.Itoa(opts.FPS))
	}
	if opts.Width > 0 && opts.Height > 0 && (opts.Width != inW || opts.Height != inH) {
		args = append(args, "-s", strconv.Itoa(opts.Width)+"x"+strconv.Itoa(opts.Height))
	}
	switch c.video {
	case "libvpx", "libvpx-vp9":
		args = append(args, "-deadline", "realtime", "-cpu-used", "8")
	case "libx264":
		args = append(args, "-preset", "ultrafast", "-tune", "zerolatency")
	}
	if audio != nil {
		args = append(args, "-c:a", c.audio)
	}
	if c.muxer == "mp4" {
		args = append(args, "-movflags", "frag_keyframe+empty_moov+default_base_moof")
	}
	return append(args, "-f", c.muxer, "pipe:1")
}

// parseEncoders extracts encoder names from `ffmpeg -encoders` output.
func parseEncoders(out []byte) map[string]bool {
	names := make(map[string]bool)
	sc := bufio.NewScanner(bytes.NewReader(out))
	started := false
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if !started {
			started = strings.HasPrefix(line, "------")
			continue
		}
		fields := strings.Fields(line)
		if len(fields) >= 2 && len(fields[0]) == 6 {
			names[fields[1]] = true
		}
	}
	return names
}
