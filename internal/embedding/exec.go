package embedding

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"os/exec"
	"strconv"
	"sync"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	shellwords "github.com/mattn/go-shellwords"

	"github.com/roomkit-live/roomkit-voice/internal/config"
)

// execExtractor shells out to an external embedding model CLI per
// window. The window is handed over as a temporary WAV file and the
// command prints {"embedding": [...]} on stdout.
type execExtractor struct {
	cmd []string
	cfg config.ExtractorConfig
	mu  sync.Mutex
}

type execOutput struct {
	Embedding []float32 `json:"embedding"`
}

func NewExecExtractor(cfg config.ExtractorConfig) (Extractor, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(cfg.Command)
	if err != nil {
		return nil, fmt.Errorf("parse extractor command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("extractor command is empty")
	}
	return &execExtractor{cmd: args, cfg: cfg}, nil
}

type bufferedStream struct {
	sampleRate int
	samples    []float32
	finished   bool
}

func (s *bufferedStream) AcceptWaveform(sampleRate int, waveform []float32) {
	if s.finished {
		return
	}
	s.sampleRate = sampleRate
	s.samples = append(s.samples, waveform...)
}

func (s *bufferedStream) InputFinished() {
	s.finished = true
}

// hasUsableSignal gates streams that are too short or too quiet for a
// meaningful embedding.
func hasUsableSignal(s *bufferedStream, minSeconds, minRMS float64) bool {
	if !s.finished || s.sampleRate <= 0 {
		return false
	}
	if float64(len(s.samples)) < minSeconds*float64(s.sampleRate) {
		return false
	}
	var sum float64
	for _, v := range s.samples {
		sum += float64(v) * float64(v)
	}
	rms := math.Sqrt(sum / float64(len(s.samples)))
	return rms >= minRMS
}

func (e *execExtractor) CreateStream() Stream {
	return &bufferedStream{}
}

func (e *execExtractor) IsReady(s Stream) bool {
	bs, ok := s.(*bufferedStream)
	if !ok {
		return false
	}
	return hasUsableSignal(bs, e.cfg.MinSeconds, e.cfg.MinRMS)
}

func (e *execExtractor) Compute(s Stream) ([]float32, error) {
	bs, ok := s.(*bufferedStream)
	if !ok {
		return nil, fmt.Errorf("stream was not created by this extractor")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	file, err := os.CreateTemp(os.TempDir(), "roomkit_embed_*.wav")
	if err != nil {
		return nil, fmt.Errorf("temp file: %w", err)
	}
	defer os.Remove(file.Name())
	defer file.Close()

	if err := writeWindowWav(file, bs.samples, bs.sampleRate); err != nil {
		return nil, err
	}

	args := append([]string{}, e.cmd[1:]...)
	args = append(args, "--audio", file.Name())
	if e.cfg.ModelPath != "" {
		args = append(args, "--model", e.cfg.ModelPath)
	}
	if e.cfg.NumThreads > 0 {
		args = append(args, "--num-threads", strconv.Itoa(e.cfg.NumThreads))
	}
	if e.cfg.Provider != "" {
		args = append(args, "--provider", e.cfg.Provider)
	}

	command := exec.Command(e.cmd[0], args...)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		return nil, fmt.Errorf("extractor command failed: %w: %s", err, stderr.String())
	}

	var out execOutput
	if err := json.Unmarshal(stdout.Bytes(), &out); err != nil {
		return nil, fmt.Errorf("decode extractor output: %w", err)
	}
	if len(out.Embedding) == 0 {
		return nil, fmt.Errorf("extractor returned empty embedding")
	}
	if e.cfg.Dimension > 0 && len(out.Embedding) != e.cfg.Dimension {
		return nil, fmt.Errorf("extractor returned %d-dim embedding, expected %d",
			len(out.Embedding), e.cfg.Dimension)
	}
	return out.Embedding, nil
}

func (e *execExtractor) Dimension() int {
	return e.cfg.Dimension
}

func (e *execExtractor) Close() error {
	return nil
}

func writeWindowWav(file *os.File, samples []float32, sampleRate int) error {
	buffer := &goaudio.IntBuffer{Format: &goaudio.Format{NumChannels: 1, SampleRate: sampleRate}}
	data := make([]int, len(samples))
	for i, v := range samples {
		scaled := v * 32768.0
		if scaled > 32767 {
			scaled = 32767
		} else if scaled < -32768 {
			scaled = -32768
		}
		data[i] = int(scaled)
	}
	buffer.Data = data

	enc := wav.NewEncoder(file, sampleRate, 16, 1, 1)
	if err := enc.Write(buffer); err != nil {
		return fmt.Errorf("write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("close wav encoder: %w", err)
	}
	return nil
}
