// Package pinner uploads credential artwork to an IPFS pinning service.
package pinner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
)

// Pinner stores a blob on IPFS and renders its retrieval URL.
type Pinner interface {
	PinFile(ctx context.Context, name string, data []byte) (string, error)
	URL(cid string) string
}

// HTTPPinner implements Pinner against a Pinata-compatible API.
type HTTPPinner struct {
	baseURL string
	gateway string
	jwt     string
	http    *http.Client
}

// New builds a pinner for the given API base URL authenticated with a JWT.
// Pinned content is served through the gateway host.
func New(baseURL, gateway, jwt string) *HTTPPinner {
	return &HTTPPinner{
		baseURL: strings.TrimRight(baseURL, "/"),
		gateway: strings.TrimRight(gateway, "/"),
		jwt:     jwt,
		http: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type pinResponse struct {
	IpfsHash string `json:"IpfsHash"`
}

// PinFile pins raw bytes as a file and returns its CID.
func (p *HTTPPinner) PinFile(ctx context.Context, name string, data []byte) (string, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", name)
	if err != nil {
		return "", fmt.Errorf("pinner: build form: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return "", fmt.Errorf("pinner: write form: %w", err)
	}
	if err := writer.WriteField("pinataOptions", `{"cidVersion": 1}`); err != nil {
		return "", fmt.Errorf("pinner: write options: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("pinner: close form: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/pinning/pinFileToIPFS", &body)
	if err != nil {
		return "", fmt.Errorf("pinner: build request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return p.do(req)
}

func (p *HTTPPinner) do(req *http.Request) (string, error) {
	req.Header.Set("Authorization", "Bearer "+p.jwt)
	resp, err := p.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("pinner: request: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("pinner: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("pinner: unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	var decoded pinResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return "", fmt.Errorf("pinner: decode response: %w", err)
	}
	if decoded.IpfsHash == "" {
		return "", fmt.Errorf("pinner: response missing hash")
	}
	return decoded.IpfsHash, nil
}

// URL renders a CID as a gateway retrieval URL.
func (p *HTTPPinner) URL(cid string) string {
	return p.gateway + "/ipfs/" + cid
}
