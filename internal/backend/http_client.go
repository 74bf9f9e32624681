package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/flowkit/flowkit-editor/internal/timeline"
)

const errorBodyLimit = 4096

// HTTPClient talks to a remote analysis server. Analyze pushes the upload set to
// the server before asking for the similarity map; Render downloads the rendered
// file into resultsDir so the editor serves it locally.
type HTTPClient struct {
	baseURL    string
	token      string
	resultsDir string
	httpClient *http.Client
	logger     *slog.Logger
}

func NewHTTPClient(baseURL, token, resultsDir string, logger *slog.Logger) *HTTPClient {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		resultsDir: resultsDir,
		httpClient: &http.Client{
			// analysis runs pose detection over every frame
			Timeout: 60 * time.Minute,
		},
		logger: logger,
	}
}

func (c *HTTPClient) Analyze(ctx context.Context, paths []string) (*AnalysisResult, error) {
	if len(paths) == 0 {
		return nil, ErrNoVideos
	}

	if err := c.upload(ctx, paths); err != nil {
		return nil, err
	}

	var result AnalysisResult
	if err := c.postJSON(ctx, "analyze", "/process/analyze", nil, &result); err != nil {
		return nil, err
	}
	if err := result.Validate(); err != nil {
		return nil, err
	}

	c.logger.Info("analysis received",
		"videos", len(result.VideoFiles),
		"frames", len(result.FrameSimilarities),
	)
	return &result, nil
}

func (c *HTTPClient) Render(ctx context.Context, sequence []timeline.SwitchPoint) (string, error) {
	var resp renderResponse
	if err := c.postJSON(ctx, "render", "/process/render", renderRequest{Sequence: sequence}, &resp); err != nil {
		return "", err
	}
	if resp.VideoURL == "" {
		return "", fmt.Errorf("backend render returned no video_url")
	}

	name, err := c.fetchResult(ctx, resp.VideoURL)
	if err != nil {
		return "", err
	}
	return "/result/" + name, nil
}

func (c *HTTPClient) Auto(ctx context.Context, paths []string) (string, error) {
	if len(paths) == 0 {
		return "", ErrNoVideos
	}

	if err := c.upload(ctx, paths); err != nil {
		return "", err
	}

	var resp renderResponse
	if err := c.postJSON(ctx, "auto edit", "/process/auto", nil, &resp); err != nil {
		return "", err
	}
	if resp.VideoURL == "" {
		return "", fmt.Errorf("backend auto edit returned no video_url")
	}

	name, err := c.fetchResult(ctx, resp.VideoURL)
	if err != nil {
		return "", err
	}
	return "/result/" + name, nil
}

// upload streams the files as one multipart request so large videos are never
// buffered in memory.
func (c *HTTPClient) upload(ctx context.Context, paths []string) error {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		err := writeParts(mw, paths)
		if cerr := mw.Close(); err == nil {
			err = cerr
		}
		pw.CloseWithError(err)
	}()

	req, err := c.newRequest(ctx, http.MethodPost, "/upload", pr)
	if err != nil {
		pr.Close()
		return err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	c.logger.Info("uploading sources to backend", "files", len(paths))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	return checkStatus("upload", resp)
}

func writeParts(mw *multipart.Writer, paths []string) error {
	for _, p := range paths {
		f, err := os.Open(p)
		if err != nil {
			return err
		}
		part, err := mw.CreateFormFile("files", filepath.Base(p))
		if err == nil {
			_, err = io.Copy(part, f)
		}
		f.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

func (c *HTTPClient) postJSON(ctx context.Context, op, endpoint string, in, out any) error {
	var body io.Reader = http.NoBody
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal %s request: %w", op, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := c.newRequest(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	if err := checkStatus(op, resp); err != nil {
		return err
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", op, err)
	}
	return nil
}

// fetchResult copies the rendered file behind locator into resultsDir and returns
// its file name.
func (c *HTTPClient) fetchResult(ctx context.Context, locator string) (string, error) {
	u, err := url.Parse(locator)
	if err != nil {
		return "", fmt.Errorf("invalid video_url %q: %w", locator, err)
	}
	id, err := timeline.ParseVideoID(path.Base(u.Path))
	if err != nil {
		return "", fmt.Errorf("invalid video_url %q: %w", locator, err)
	}
	name := id.String()

	var req *http.Request
	if u.IsAbs() {
		req, err = http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
		if err == nil {
			c.authorize(req)
		}
	} else {
		req, err = c.newRequest(ctx, http.MethodGet, u.Path, nil)
	}
	if err != nil {
		return "", err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	if err := checkStatus("fetch result", resp); err != nil {
		return "", err
	}

	if err := os.MkdirAll(c.resultsDir, 0755); err != nil {
		return "", fmt.Errorf("create results dir: %w", err)
	}

	// write beside the target and rename so a half-downloaded file is never served
	tmp, err := os.CreateTemp(c.resultsDir, ".download-*")
	if err != nil {
		return "", err
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, resp.Body)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return "", fmt.Errorf("download result: %w", err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(c.resultsDir, name)); err != nil {
		return "", err
	}

	c.logger.Info("render result downloaded", "name", name, "bytes", n)
	return name, nil
}

func (c *HTTPClient) newRequest(ctx context.Context, method, endpoint string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	c.authorize(req)
	return req, nil
}

func (c *HTTPClient) authorize(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	req.Header.Set("X-Request-ID", uuid.NewString())
}

func checkStatus(op string, resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))
	return &StatusError{Op: op, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
}
