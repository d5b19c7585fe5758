// Package synthetic is an offline provider that renders deterministic
// placeholder media. It is registered when no vendor credentials are
// configured so the API stays usable in development.
package synthetic

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/Namann-14/artifex/internal/domain"
	"github.com/Namann-14/artifex/internal/infra"
	"github.com/Namann-14/artifex/internal/providers"
)

// Name is the registry name of the synthetic provider.
const Name = "synthetic"

// Options configures the synthetic provider. BaseSize is the long edge of a
// square render; PollsUntilDone > 0 switches to asynchronous tasks that report
// running for that many polls.
type Options struct {
	BaseSize       int
	PollsUntilDone int
	Logger         *infra.Logger
}

type task struct {
	req   providers.SubmitRequest
	polls int
}

// Client implements providers.Client without network access.
type Client struct {
	baseSize       int
	pollsUntilDone int
	logger         *infra.Logger

	mu    sync.Mutex
	tasks map[string]*task
}

// NewClient builds a synthetic client.
func NewClient(opts Options) *Client {
	size := opts.BaseSize
	if size <= 0 {
		size = 512
	}
	logger := opts.Logger
	if logger == nil {
		nop := infra.NopLogger()
		logger = &nop
	}
	return &Client{
		baseSize:       size,
		pollsUntilDone: opts.PollsUntilDone,
		logger:         logger,
		tasks:          make(map[string]*task),
	}
}

// Name implements providers.Client.
func (c *Client) Name() string { return Name }

// Submit renders immediately, or registers a task when polling is simulated.
func (c *Client) Submit(_ context.Context, req providers.SubmitRequest) (providers.SubmitResult, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return providers.SubmitResult{}, &providers.Error{Provider: Name, Kind: providers.KindValidationRejected, Message: "prompt is required"}
	}
	taskID := "syn-" + uuid.NewString()
	if c.pollsUntilDone > 0 {
		c.mu.Lock()
		c.tasks[taskID] = &task{req: req}
		c.mu.Unlock()
		return providers.SubmitResult{TaskID: taskID}, nil
	}
	result := c.render(req)
	return providers.SubmitResult{TaskID: taskID, Immediate: &result}, nil
}

// Poll advances a simulated task and returns its state.
func (c *Client) Poll(_ context.Context, taskID string) (providers.PollResult, error) {
	c.mu.Lock()
	t, ok := c.tasks[taskID]
	if ok {
		t.polls++
	}
	c.mu.Unlock()
	if !ok {
		return providers.PollResult{}, &providers.Error{Provider: Name, Kind: providers.KindValidationRejected, Message: "unknown task " + taskID}
	}
	if t.polls < c.pollsUntilDone {
		return providers.PollResult{Status: providers.StatusRunning}, nil
	}
	c.mu.Lock()
	delete(c.tasks, taskID)
	c.mu.Unlock()
	return c.render(t.req), nil
}

func (c *Client) render(req providers.SubmitRequest) providers.PollResult {
	if req.Kind.IsVideo() {
		seed := deterministicSeed(req.JobID, req.Prompt, 0)
		body := videoPlaceholder(seed, req.Prompt, req.Parameters.DurationSeconds)
		return providers.PollResult{
			Status:  providers.StatusSucceeded,
			Outputs: []string{dataURI("video/mp4", body)},
		}
	}

	width, height := c.dimensions(req.Parameters.AspectRatio)
	count := req.Parameters.Batch()
	outputs := make([]string, 0, count)
	for i := 0; i < count; i++ {
		seed := deterministicSeed(req.JobID, req.Prompt, req.Kind, i)
		img := renderImage(width, height, seed)
		if img == nil {
			return providers.PollResult{Status: providers.StatusFailed, Error: "synthetic render failed"}
		}
		outputs = append(outputs, dataURI("image/png", img))
	}
	c.logger.Debug().
		Str("job_id", req.JobID).
		Str("kind", string(req.Kind)).
		Int("quantity", count).
		Msg("synthetic: rendered images")
	return providers.PollResult{Status: providers.StatusSucceeded, Outputs: outputs}
}

func (c *Client) dimensions(aspect string) (int, int) {
	w, h := normalizeAspect(aspect)
	if w >= h {
		return c.baseSize, maxInt(1, c.baseSize*h/w)
	}
	return maxInt(1, c.baseSize*w/h), c.baseSize
}

func dataURI(mime string, data []byte) string {
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data)
}

func renderImage(width, height int, seed string) []byte {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	base := colorFromSeed(seed, 0)
	accent := colorFromSeed(seed, 1)
	draw.Draw(img, img.Bounds(), &image.Uniform{base}, image.Point{}, draw.Src)

	stripe := maxInt(4, height/12)
	for y := 0; y < height; y += stripe * 2 {
		draw.Draw(img, image.Rect(0, y, width, minInt(height, y+stripe)), &image.Uniform{accent}, image.Point{}, draw.Over)
	}

	diagonal := colorFromSeed(seed, 2)
	for x := 0; x < maxInt(width, height); x += maxInt(8, width/32) {
		for y := 0; y < height && x+y < width; y++ {
			img.Set(x+y, y, diagonal)
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil
	}
	return buf.Bytes()
}

func videoPlaceholder(seed, prompt string, seconds int) []byte {
	if seconds <= 0 {
		seconds = domain.DefaultVideoSeconds
	}
	lines := []string{
		"Synthetic video placeholder",
		"Seed: " + seed,
		fmt.Sprintf("Duration: %ds", seconds),
		"Prompt: " + strings.TrimSpace(prompt),
	}
	return []byte(strings.Join(lines, "\n"))
}

func colorFromSeed(seed string, shift int) color.RGBA {
	if seed == "" {
		seed = "000000"
	}
	doubled := seed + seed
	start := (shift * 6) % len(seed)
	segment := doubled[start : start+6]
	return color.RGBA{R: hexByte(segment[0:2]), G: hexByte(segment[2:4]), B: hexByte(segment[4:6]), A: 255}
}

func hexByte(s string) uint8 {
	v, err := strconv.ParseUint(s, 16, 8)
	if err != nil {
		return 0
	}
	return uint8(v)
}

func deterministicSeed(parts ...any) string {
	hasher := sha256.New()
	for _, part := range parts {
		fmt.Fprintf(hasher, "%v|", part)
	}
	return hex.EncodeToString(hasher.Sum(nil))[:16]
}

func normalizeAspect(aspect string) (int, int) {
	switch strings.TrimSpace(strings.ToLower(aspect)) {
	case "16:9":
		return 16, 9
	case "9:16":
		return 9, 16
	case "4:5":
		return 4, 5
	case "3:2":
		return 3, 2
	case "1:1", "square", "":
		return 1, 1
	}
	parts := strings.Split(aspect, ":")
	if len(parts) == 2 {
		a, errA := strconv.Atoi(strings.TrimSpace(parts[0]))
		b, errB := strconv.Atoi(strings.TrimSpace(parts[1]))
		if errA == nil && errB == nil && a > 0 && b > 0 {
			return a, b
		}
	}
	return 1, 1
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

var _ providers.Client = (*Client)(nil)
