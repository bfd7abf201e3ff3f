package rembg

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"mime/multipart"
	"net/http"
	"path"
	"sort"
	"time"

	"github.com/chaos-io/logo-rembg/util"
	nhttp "github.com/chaos-io/logo-rembg/util/http"
	"github.com/nfnt/resize"
	"github.com/segmentio/ksuid"
)

const (
	ComfyName = "comfyui-birefnet"

	uploadPath  = "/api/upload/image"
	promptPath  = "/api/prompt"
	historyPath = "/api/history/"
	viewPath    = "/api/view"
	statsPath   = "/api/system_stats"

	// workflow.json 中 LoadImage 节点的 id
	loadImageNode = "1"

	defaultPollInterval = 500 * time.Millisecond
	defaultWaitTimeout  = 5 * time.Minute
	probeTimeout        = 5 * time.Second
)

//go:embed workflow.json
var workflowData []byte

// ComfyRemBG 通过 ComfyUI 的 BiRefNet 工作流去除背景
//
// 流程：上传图片 -> 提交 prompt -> 轮询 history -> 下载输出图片
type ComfyRemBG struct {
	baseURL      string
	cli          nhttp.IClient
	pollInterval time.Duration
	waitTimeout  time.Duration
}

type ComfyOption func(*ComfyRemBG)

func WithHTTPClient(cli nhttp.IClient) ComfyOption {
	return func(c *ComfyRemBG) { c.cli = cli }
}

func WithPollInterval(d time.Duration) ComfyOption {
	return func(c *ComfyRemBG) { c.pollInterval = d }
}

// WithWaitTimeout 等待 prompt 执行完成的最长时间
func WithWaitTimeout(d time.Duration) ComfyOption {
	return func(c *ComfyRemBG) { c.waitTimeout = d }
}

func NewComfyRemBG(baseURL string, opts ...ComfyOption) *ComfyRemBG {
	c := &ComfyRemBG{
		baseURL:      baseURL,
		cli:          nhttp.NewHTTPClient(),
		pollInterval: defaultPollInterval,
		waitTimeout:  defaultWaitTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.pollInterval <= 0 {
		c.pollInterval = defaultPollInterval
	}
	if c.waitTimeout <= 0 {
		c.waitTimeout = defaultWaitTimeout
	}
	return c
}

func (c *ComfyRemBG) Name() string { return ComfyName }

func (c *ComfyRemBG) Kind() Kind { return KindExternal }

// Available 请求 system_stats 判断服务是否在线
func (c *ComfyRemBG) Available(ctx context.Context) error {
	if c.baseURL == "" {
		return errors.New("comfyui endpoint not configured")
	}

	var stats systemStats
	err := c.cli.DoHTTPRequest(ctx, &nhttp.RequestParam{
		RequestURI: c.baseURL + statsPath,
		Method:     http.MethodGet,
		Response:   &stats,
		Timeout:    probeTimeout,
	})
	if err != nil {
		return fmt.Errorf("probe comfyui: %w", err)
	}

	slog.Debug("comfyui online", "version", stats.System.ComfyUIVersion, "devices", len(stats.Devices))
	return nil
}

func (c *ComfyRemBG) Remove(ctx context.Context, input []byte) ([]byte, error) {
	src, _, err := util.DecodeImage(input)
	if err != nil {
		return nil, err
	}

	uploaded, err := c.uploadImage(ctx, ksuid.New().String()+".png", input)
	if err != nil {
		return nil, err
	}

	promptID, err := c.prompt(ctx, uploaded)
	if err != nil {
		return nil, err
	}

	ref, err := c.waitForOutput(ctx, promptID)
	if err != nil {
		return nil, err
	}

	output, err := c.download(ctx, ref)
	if err != nil {
		return nil, err
	}

	return fitToBounds(output, src.Bounds())
}

type systemStats struct {
	System struct {
		ComfyUIVersion string `json:"comfyui_version"`
	} `json:"system"`
	Devices []json.RawMessage `json:"devices"`
}

type uploadImageResp struct {
	Name      string `json:"name"`
	Subfolder string `json:"subfolder"`
	Type      string `json:"type"`
}

// loadImageName LoadImage 节点引用上传文件时使用的名字
func (u uploadImageResp) loadImageName() string {
	if u.Subfolder == "" {
		return u.Name
	}
	return path.Join(u.Subfolder, u.Name)
}

/*
	curl -X POST "$BASE_URL/api/upload/image" \
	  -F "image=@my_image.png" \
	  -F "type=input" \
	  -F "overwrite=true"

{"name": "my_image1.png", "subfolder": "", "type": "input"}
*/
func (c *ComfyRemBG) uploadImage(ctx context.Context, name string, data []byte) (uploadImageResp, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	part, err := writer.CreateFormFile("image", name)
	if err != nil {
		return uploadImageResp{}, fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return uploadImageResp{}, fmt.Errorf("write form file: %w", err)
	}

	_ = writer.WriteField("type", "input")
	_ = writer.WriteField("overwrite", "true")
	if err := writer.Close(); err != nil {
		return uploadImageResp{}, fmt.Errorf("close multipart writer: %w", err)
	}

	resp := uploadImageResp{}
	reqParam := &nhttp.RequestParam{
		RequestURI: c.baseURL + uploadPath,
		Method:     http.MethodPost,
		Header:     map[string]string{"Content-Type": writer.FormDataContentType()},
		Body:       body,
		Response:   &resp,
	}
	if err := c.cli.DoHTTPRequest(ctx, reqParam); err != nil {
		return uploadImageResp{}, fmt.Errorf("upload image: %w", err)
	}
	if resp.Name == "" {
		return uploadImageResp{}, errors.New("upload image: empty name in response")
	}

	slog.Debug("uploaded image", "name", resp.Name, "subfolder", resp.Subfolder)
	return resp, nil
}

type promptReq struct {
	Prompt   map[string]any `json:"prompt"`
	ClientID string         `json:"client_id"`
}

type promptResp struct {
	PromptID   string                     `json:"prompt_id"`
	Number     int                        `json:"number"`
	NodeErrors map[string]json.RawMessage `json:"node_errors"`
}

/*
	curl -X POST "$BASE_URL/api/prompt" \
	  -H "Content-Type: application/json" \
	  -d '{"prompt": '"$(cat workflow.json)"'}'
*/
func (c *ComfyRemBG) prompt(ctx context.Context, uploaded uploadImageResp) (string, error) {
	wk, err := buildWorkflow(uploaded.loadImageName())
	if err != nil {
		return "", err
	}

	resp := promptResp{}
	reqParam := &nhttp.RequestParam{
		RequestURI: c.baseURL + promptPath,
		Method:     http.MethodPost,
		Header:     map[string]string{"Content-Type": "application/json"},
		Body:       promptReq{Prompt: wk, ClientID: ksuid.New().String()},
		Response:   &resp,
	}
	if err := c.cli.DoHTTPRequest(ctx, reqParam); err != nil {
		return "", fmt.Errorf("queue prompt: %w", err)
	}
	if len(resp.NodeErrors) > 0 {
		return "", fmt.Errorf("queue prompt: node errors in %d node(s)", len(resp.NodeErrors))
	}
	if resp.PromptID == "" {
		return "", errors.New("queue prompt: empty prompt_id in response")
	}

	slog.Debug("queued prompt", "prompt_id", resp.PromptID, "number", resp.Number)
	return resp.PromptID, nil
}

// buildWorkflow 每次重新解析内嵌的工作流，把 LoadImage 指向上传的文件
func buildWorkflow(imageName string) (map[string]any, error) {
	wk := map[string]any{}
	if err := json.Unmarshal(workflowData, &wk); err != nil {
		return nil, fmt.Errorf("unmarshal workflow data: %w", err)
	}

	node, ok := wk[loadImageNode].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("workflow: missing LoadImage node %q", loadImageNode)
	}
	inputs, ok := node["inputs"].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("workflow: node %q has no inputs", loadImageNode)
	}
	inputs["image"] = imageName

	return wk, nil
}

type imageRef struct {
	Filename  string `json:"filename"`
	Subfolder string `json:"subfolder"`
	Type      string `json:"type"`
}

type historyEntry struct {
	Outputs map[string]struct {
		Images []imageRef `json:"images"`
	} `json:"outputs"`
	Status struct {
		StatusStr string            `json:"status_str"`
		Completed bool              `json:"completed"`
		Messages  []json.RawMessage `json:"messages"`
	} `json:"status"`
}

// firstImage 按节点 id 排序取第一张输出图片
func (h historyEntry) firstImage() (imageRef, bool) {
	ids := make([]string, 0, len(h.Outputs))
	for id := range h.Outputs {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		if imgs := h.Outputs[id].Images; len(imgs) > 0 {
			return imgs[0], true
		}
	}
	return imageRef{}, false
}

// executionError 从 status.messages 中提取 execution_error 的信息
// messages 形如 [["execution_start", {...}], ["execution_error", {"exception_message": "..."}]]
func (h historyEntry) executionError() string {
	for _, raw := range h.Status.Messages {
		var msg []json.RawMessage
		if err := json.Unmarshal(raw, &msg); err != nil || len(msg) != 2 {
			continue
		}
		var event string
		if err := json.Unmarshal(msg[0], &event); err != nil || event != "execution_error" {
			continue
		}
		var detail struct {
			NodeType         string `json:"node_type"`
			ExceptionMessage string `json:"exception_message"`
		}
		if err := json.Unmarshal(msg[1], &detail); err == nil {
			return fmt.Sprintf("%s: %s", detail.NodeType, detail.ExceptionMessage)
		}
	}
	return "unknown error"
}

func (c *ComfyRemBG) waitForOutput(ctx context.Context, promptID string) (imageRef, error) {
	ctx, cancel := context.WithTimeout(ctx, c.waitTimeout)
	defer cancel()

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		history := map[string]historyEntry{}
		err := c.cli.DoHTTPRequest(ctx, &nhttp.RequestParam{
			RequestURI: c.baseURL + historyPath + promptID,
			Method:     http.MethodGet,
			Response:   &history,
		})
		if err != nil {
			return imageRef{}, fmt.Errorf("get history: %w", err)
		}

		// prompt 还在队列里时 history 为空
		if entry, ok := history[promptID]; ok {
			if entry.Status.StatusStr == "error" {
				return imageRef{}, fmt.Errorf("prompt %s failed: %s", promptID, entry.executionError())
			}
			if entry.Status.Completed {
				ref, ok := entry.firstImage()
				if !ok {
					return imageRef{}, fmt.Errorf("prompt %s produced no image", promptID)
				}
				return ref, nil
			}
		}

		select {
		case <-ctx.Done():
			return imageRef{}, fmt.Errorf("wait for prompt %s: %w", promptID, ctx.Err())
		case <-ticker.C:
		}
	}
}

func (c *ComfyRemBG) download(ctx context.Context, ref imageRef) ([]byte, error) {
	var data []byte
	err := c.cli.DoHTTPRequest(ctx, &nhttp.RequestParam{
		RequestURI: c.baseURL + viewPath,
		Method:     http.MethodGet,
		Query: map[string]string{
			"filename":  ref.Filename,
			"subfolder": ref.Subfolder,
			"type":      ref.Type,
		},
		Response: &data,
	})
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", ref.Filename, err)
	}

	slog.Debug("downloaded output", "filename", ref.Filename, "bytes", len(data))
	return data, nil
}

// fitToBounds 保证输出与输入尺寸一致，并且是 PNG
func fitToBounds(data []byte, bounds image.Rectangle) ([]byte, error) {
	img, format, err := util.DecodeImage(data)
	if err != nil {
		return nil, fmt.Errorf("comfyui output: %w", err)
	}

	w, h := bounds.Dx(), bounds.Dy()
	if img.Bounds().Dx() == w && img.Bounds().Dy() == h {
		if format == "png" {
			return data, nil
		}
		return util.EncodePNG(img)
	}

	slog.Debug("resize comfyui output", "from", img.Bounds().Size(), "to", bounds.Size())
	resized := resize.Resize(uint(w), uint(h), img, resize.Lanczos3)
	return util.EncodePNG(util.ToNRGBA(resized))
}
