package sampler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/disintegration/imaging"
	"github.com/kdimtricp/drivewatch/internal/logging"
)

var ErrPlayerClosed = errors.New("player closed")

type PlayerConfig struct {
	FFmpegPath  string
	FFprobePath string
}

// Player is an ffmpeg-backed video surface. Playback is a wall-clock
// playhead; Snapshot decodes the frame under the playhead on demand.
type Player struct {
	path    string
	ffmpeg  string
	ffprobe string

	width    int
	height   int
	duration time.Duration

	mu        sync.Mutex
	offset    time.Duration
	startedAt time.Time
	playing   bool
	closed    bool
	endTimer  *time.Timer
	ended     chan struct{}
	now       func() time.Time
}

type probeOutput struct {
	Streams []struct {
		Width  int `json:"width"`
		Height int `json:"height"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

// OpenPlayer probes the video at path and returns a paused player at 0.
func OpenPlayer(ctx context.Context, path string, cfg PlayerConfig) (*Player, error) {
	ffmpegPath, err := lookTool(cfg.FFmpegPath, "ffmpeg")
	if err != nil {
		return nil, err
	}
	ffprobePath, err := lookTool(cfg.FFprobePath, "ffprobe")
	if err != nil {
		return nil, err
	}

	cmd := exec.CommandContext(ctx, ffprobePath,
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=width,height:format=duration",
		"-of", "json",
		path)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("failed to probe video: %w (%s)", err, strings.TrimSpace(stderr.String()))
	}

	width, height, duration, err := parseProbe(out)
	if err != nil {
		return nil, err
	}

	logging.Debug("[SAMPLER] Opened %s: %dx%d, %v", path, width, height, duration)

	return &Player{
		path:     path,
		ffmpeg:   ffmpegPath,
		ffprobe:  ffprobePath,
		width:    width,
		height:   height,
		duration: duration,
		now:      time.Now,
	}, nil
}

func lookTool(configured, name string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	p, err := exec.LookPath(name)
	if err != nil {
		return "", fmt.Errorf("%s not found in PATH: %w", name, err)
	}
	return p, nil
}

func parseProbe(out []byte) (int, int, time.Duration, error) {
	var res probeOutput
	if err := json.Unmarshal(out, &res); err != nil {
		return 0, 0, 0, fmt.Errorf("failed to parse ffprobe output: %w", err)
	}
	if len(res.Streams) == 0 {
		return 0, 0, 0, fmt.Errorf("no video stream found")
	}

	seconds, err := strconv.ParseFloat(strings.TrimSpace(res.Format.Duration), 64)
	if err != nil || seconds <= 0 {
		return 0, 0, 0, fmt.Errorf("invalid video duration: %q", res.Format.Duration)
	}

	return res.Streams[0].Width, res.Streams[0].Height, time.Duration(seconds * float64(time.Second)), nil
}

func (p *Player) Duration() time.Duration { return p.duration }

func (p *Player) Dimensions() (int, int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, 0
	}
	return p.width, p.height
}

// Position returns the playhead.
func (p *Player) Position() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.positionLocked()
}

func (p *Player) positionLocked() time.Duration {
	pos := p.offset
	if p.playing {
		pos += p.now().Sub(p.startedAt)
	}
	if pos > p.duration {
		pos = p.duration
	}
	return pos
}

func (p *Player) Playing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playing
}

// Play resumes from the playhead, or from the start once the video has
// ended. Calling Play while playing returns the current end channel.
func (p *Player) Play() (<-chan struct{}, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, ErrPlayerClosed
	}
	if p.playing {
		return p.ended, nil
	}

	if p.offset >= p.duration {
		p.offset = 0
	}

	ended := make(chan struct{})
	p.ended = ended
	p.playing = true
	p.startedAt = p.now()
	p.endTimer = time.AfterFunc(p.duration-p.offset, func() { p.finish(ended) })

	return ended, nil
}

func (p *Player) finish(ended chan struct{}) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.ended != ended || !p.playing {
		return
	}
	p.offset = p.duration
	p.playing = false
	close(ended)
}

func (p *Player) Pause() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrPlayerClosed
	}
	if !p.playing {
		return nil
	}
	p.offset = p.positionLocked()
	p.playing = false
	if p.endTimer != nil {
		p.endTimer.Stop()
	}
	return nil
}

func (p *Player) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	if p.endTimer != nil {
		p.endTimer.Stop()
	}
	p.playing = false
	p.closed = true
	return nil
}

// Snapshot decodes the frame at the current playhead.
func (p *Player) Snapshot(ctx context.Context) (image.Image, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrCaptureUnavailable
	}
	pos := p.positionLocked()
	p.mu.Unlock()

	cmd := exec.CommandContext(ctx, p.ffmpeg,
		"-hide_banner", "-loglevel", "error",
		"-ss", fmt.Sprintf("%.3f", pos.Seconds()),
		"-i", p.path,
		"-frames:v", "1",
		"-f", "image2pipe",
		"-vcodec", "mjpeg",
		"-")

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ffmpeg failed at %v: %w (%s)", pos, err, strings.TrimSpace(stderr.String()))
	}

	// Seeking onto the very last timestamp can yield no frame.
	if stdout.Len() == 0 {
		return nil, ErrCaptureUnavailable
	}

	img, err := imaging.Decode(&stdout)
	if err != nil {
		return nil, fmt.Errorf("failed to decode frame: %w", err)
	}
	return img, nil
}
