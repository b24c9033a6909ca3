// Package provider is a client for the data service provider that fronts the compute
// backend: order initialization and signed compute job requests.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/lagrangedao/go-c2d-flow/internal/models"
)

const (
	noncePath          = "/api/v1/services/nonce"
	initializePath     = "/api/v1/services/initialize"
	computePath        = "/api/v1/services/compute"
	computeResultPath  = "/api/v1/services/computeResult"
	downloadPath       = "/api/v1/services/download"
	defaultHttpTimeout = 60 * time.Second
)

// Signer authenticates provider requests, *wallet.Identity satisfies it.
type Signer interface {
	Hex() string
	Sign(msg []byte) (string, error)
}

type Client struct {
	baseUrl    string
	httpClient *http.Client
}

func NewClient(baseUrl string) *Client {
	return &Client{
		baseUrl:    strings.TrimRight(baseUrl, "/"),
		httpClient: &http.Client{Timeout: defaultHttpTimeout},
	}
}

func (c *Client) Url() string {
	return c.baseUrl
}

// ServiceEndpoint is the endpoint advertised in service descriptors of the given type.
func (c *Client) ServiceEndpoint(serviceType models.ServiceType) string {
	if serviceType == models.ComputeService {
		return c.baseUrl + computePath
	}
	return c.baseUrl + downloadPath
}

// Error is returned for any non 2xx provider answer.
type Error struct {
	StatusCode int
	Message    string
}

func (e *Error) Error() string {
	return fmt.Sprintf("provider responded %d: %s", e.StatusCode, e.Message)
}

// Rejected reports whether the provider refused the request itself rather than failing.
func (e *Error) Rejected() bool {
	return e.StatusCode >= 400 && e.StatusCode < 500
}

type InitializeResponse struct {
	From           string `json:"from"`
	To             string `json:"to"`
	NumTokens      string `json:"numTokens"`
	DataToken      string `json:"dataToken"`
	ComputeAddress string `json:"computeAddress"`
}

type ComputeJob struct {
	JobId       string             `json:"jobId"`
	Owner       string             `json:"owner"`
	DocumentId  string             `json:"documentId"`
	Status      int                `json:"status"`
	StatusText  string             `json:"statusText"`
	DateCreated string             `json:"dateCreated"`
	Results     []models.JobResult `json:"results"`
}

type startComputeRequest struct {
	Signature             string                `json:"signature"`
	DocumentId            string                `json:"documentId"`
	ServiceId             int                   `json:"serviceId"`
	ServiceType           models.ServiceType    `json:"serviceType"`
	ConsumerAddress       string                `json:"consumerAddress"`
	TransferTxId          string                `json:"transferTxId"`
	AlgorithmDid          string                `json:"algorithmDid"`
	AlgorithmServiceId    int                   `json:"algorithmServiceId"`
	AlgorithmDataToken    string                `json:"algorithmDataToken"`
	AlgorithmTransferTxId string                `json:"algorithmTransferTxId"`
	AdditionalInputs      []models.ComputeInput `json:"additionalInputs,omitempty"`
	Nonce                 string                `json:"nonce"`
}

func (c *Client) Nonce(ctx context.Context, address string) (string, error) {
	query := url.Values{}
	query.Set("userAddress", address)

	var resp struct {
		Nonce json.Number `json:"nonce"`
	}
	if err := c.getJSON(ctx, noncePath, query, &resp); err != nil {
		return "", err
	}
	return resp.Nonce.String(), nil
}

func (c *Client) Initialize(ctx context.Context, did string, serviceIndex int, serviceType models.ServiceType,
	dataToken, consumerAddress string) (*InitializeResponse, error) {
	query := url.Values{}
	query.Set("documentId", did)
	query.Set("serviceId", strconv.Itoa(serviceIndex))
	query.Set("serviceType", string(serviceType))
	query.Set("dataToken", dataToken)
	query.Set("consumerAddress", consumerAddress)

	var resp InitializeResponse
	if err := c.getJSON(ctx, initializePath, query, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// StartCompute submits a job; the first input is the main dataset, the rest are passed
// as additional inputs.
func (c *Client) StartCompute(ctx context.Context, inputs []models.ComputeInput, algorithm models.AlgorithmRef, consumer Signer) (*ComputeJob, error) {
	if len(inputs) == 0 {
		return nil, fmt.Errorf("at least one compute input is required")
	}
	main := inputs[0]

	nonce, signature, err := c.sign(ctx, consumer, consumer.Hex()+main.Did)
	if err != nil {
		return nil, err
	}

	req := startComputeRequest{
		Signature:             signature,
		DocumentId:            main.Did,
		ServiceId:             main.ServiceIndex,
		ServiceType:           models.ComputeService,
		ConsumerAddress:       consumer.Hex(),
		TransferTxId:          main.TransferTxId,
		AlgorithmDid:          algorithm.Did,
		AlgorithmServiceId:    algorithm.ServiceIndex,
		AlgorithmDataToken:    algorithm.DataToken,
		AlgorithmTransferTxId: algorithm.TransferTxId,
		AdditionalInputs:      inputs[1:],
		Nonce:                 nonce,
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed convert to json, error: %+v", err)
	}

	body, err := c.do(ctx, http.MethodPost, computePath, nil, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	var jobs []ComputeJob
	if err := json.Unmarshal(body, &jobs); err != nil {
		return nil, fmt.Errorf("decode start compute response, error: %+v", err)
	}
	if len(jobs) == 0 {
		return nil, fmt.Errorf("provider returned no job for %s", main.Did)
	}
	return &jobs[0], nil
}

func (c *Client) ComputeStatus(ctx context.Context, did, jobId string, consumer Signer) (*ComputeJob, error) {
	nonce, signature, err := c.sign(ctx, consumer, consumer.Hex()+jobId+did)
	if err != nil {
		return nil, err
	}
	query := url.Values{}
	query.Set("documentId", did)
	query.Set("jobId", jobId)
	query.Set("consumerAddress", consumer.Hex())
	query.Set("nonce", nonce)
	query.Set("signature", signature)

	var jobs []ComputeJob
	if err := c.getJSON(ctx, computePath, query, &jobs); err != nil {
		return nil, err
	}
	for i := range jobs {
		if jobs[i].JobId == jobId {
			return &jobs[i], nil
		}
	}
	return nil, &Error{StatusCode: http.StatusNotFound, Message: fmt.Sprintf("job %s not found", jobId)}
}

func (c *Client) ComputeResult(ctx context.Context, jobId string, index int, consumer Signer) ([]byte, error) {
	nonce, signature, err := c.sign(ctx, consumer, consumer.Hex()+jobId+strconv.Itoa(index))
	if err != nil {
		return nil, err
	}
	query := url.Values{}
	query.Set("jobId", jobId)
	query.Set("index", strconv.Itoa(index))
	query.Set("consumerAddress", consumer.Hex())
	query.Set("nonce", nonce)
	query.Set("signature", signature)

	return c.do(ctx, http.MethodGet, computeResultPath, query, nil)
}

func (c *Client) sign(ctx context.Context, signer Signer, message string) (string, string, error) {
	nonce, err := c.Nonce(ctx, signer.Hex())
	if err != nil {
		return "", "", fmt.Errorf("get provider nonce, error: %+v", err)
	}
	signature, err := signer.Sign([]byte(message + nonce))
	if err != nil {
		return "", "", err
	}
	return nonce, signature, nil
}

func (c *Client) getJSON(ctx context.Context, path string, query url.Values, out interface{}) error {
	body, err := c.do(ctx, http.MethodGet, path, query, nil)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode provider response %s, error: %+v", path, err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, payload io.Reader) ([]byte, error) {
	reqUrl := c.baseUrl + path
	if len(query) > 0 {
		reqUrl += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, reqUrl, payload)
	if err != nil {
		return nil, fmt.Errorf("error creating request: %v", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed send a request, error: %+v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &Error{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(body))}
	}
	return body, nil
}
