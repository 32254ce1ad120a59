package retrieval

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

const (
	datasetSingleLevels   = "reanalysis-era5-single-levels"
	datasetPressureLevels = "reanalysis-era5-pressure-levels"

	defaultPollInterval = 2 * time.Second
)

// Client is a thin CDS API client: submit the request, poll the task
// until it completes, download the result into the download directory.
type Client struct {
	baseURL      string
	apiKey       string
	downloadDir  string
	httpClient   *http.Client
	pollInterval time.Duration
}

// NewClient creates a CDS client writing finished files into downloadDir.
func NewClient(baseURL, apiKey, downloadDir string) *Client {
	return &Client{
		baseURL:      baseURL,
		apiKey:       apiKey,
		downloadDir:  downloadDir,
		httpClient:   &http.Client{},
		pollInterval: defaultPollInterval,
	}
}

type taskState struct {
	State     string `json:"state"`
	RequestID string `json:"request_id"`
	Location  string `json:"location"`
	Error     string `json:"error"`
}

// Retrieve runs the submit/poll/download cycle. The context bounds the
// whole cycle, including the file transfer.
func (c *Client) Retrieve(ctx context.Context, req Request) (Result, error) {
	dataset := datasetSingleLevels
	if len(req.PressureLevel) > 0 {
		dataset = datasetPressureLevels
	}

	task, err := c.submit(ctx, dataset, req)
	if err != nil {
		return Result{}, err
	}

	location, err := c.waitForCompletion(ctx, task)
	if err != nil {
		return Result{}, err
	}

	return c.download(ctx, location, req)
}

func (c *Client) submit(ctx context.Context, dataset string, req Request) (taskState, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return taskState{}, err
	}

	url := fmt.Sprintf("%s/resources/%s", c.baseURL, dataset)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return taskState{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	c.authorize(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return taskState{}, fmt.Errorf("failed to submit retrieval: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return taskState{}, fmt.Errorf("retrieval submission rejected: %s", resp.Status)
	}

	var task taskState
	if err := json.NewDecoder(resp.Body).Decode(&task); err != nil {
		return taskState{}, fmt.Errorf("invalid submission response: %w", err)
	}
	log.Printf("Retrieval submitted to %s, request %s", dataset, task.RequestID)
	return task, nil
}

func (c *Client) waitForCompletion(ctx context.Context, task taskState) (string, error) {
	for {
		switch task.State {
		case "completed":
			return task.Location, nil
		case "failed":
			return "", fmt.Errorf("retrieval failed upstream: %s", task.Error)
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(c.pollInterval):
		}

		url := fmt.Sprintf("%s/tasks/%s", c.baseURL, task.RequestID)
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return "", err
		}
		c.authorize(httpReq)

		resp, err := c.httpClient.Do(httpReq)
		if err != nil {
			return "", fmt.Errorf("failed to poll retrieval task: %w", err)
		}

		var next taskState
		err = json.NewDecoder(resp.Body).Decode(&next)
		resp.Body.Close()
		if err != nil {
			return "", fmt.Errorf("invalid task response: %w", err)
		}
		if next.RequestID == "" {
			next.RequestID = task.RequestID
		}
		task = next
	}
}

func (c *Client) download(ctx context.Context, location string, req Request) (Result, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
	if err != nil {
		return Result{}, err
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return Result{}, fmt.Errorf("failed to download result: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Result{}, fmt.Errorf("result download rejected: %s", resp.Status)
	}

	filename := resultFilename(req)
	filePath := filepath.Join(c.downloadDir, filename)

	out, err := os.Create(filePath)
	if err != nil {
		return Result{}, err
	}

	size, err := io.Copy(out, resp.Body)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(filePath)
		return Result{}, fmt.Errorf("failed to store result file: %w", err)
	}

	log.Printf("Retrieval complete: %s (%d bytes)", filename, size)
	return Result{Filename: filename, FilePath: filePath, SizeBytes: size}, nil
}

func (c *Client) authorize(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}

// resultFilename derives a collision-free local name from the request
// signature and the current time.
func resultFilename(req Request) string {
	ext := "nc"
	if req.Format == "grib" {
		ext = "grib"
	}
	return fmt.Sprintf("era5_%s_%s.%s", req.Signature()[:8], time.Now().UTC().Format("20060102T150405"), ext)
}
