package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/brojonat/weektoken/service/txn"
	"github.com/gagliardetto/solana-go"
)

// Client is the HTTP client for the weektoken validator API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

var _ txn.Sender = (*Client)(nil)

// NewClient creates a new API client.
func NewClient(baseURL string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		logger:     logger,
	}
}

// TransactionResult is the outcome of a transaction the server accepted.
type TransactionResult struct {
	Signature        string   `json:"signature"`
	Slot             uint64   `json:"slot"`
	Fee              uint64   `json:"fee"`
	Logs             []string `json:"logs"`
	Error            string   `json:"error,omitempty"`
	InstructionIndex *int     `json:"instruction_index,omitempty"`
	ErrorCode        *uint32  `json:"error_code,omitempty"`
}

// TransactionError is returned by SendTransaction when the transaction was
// accepted but one of its instructions failed.
type TransactionError struct {
	Signature        solana.Signature
	Logs             []string
	Message          string
	InstructionIndex *int
	Code             *uint32
}

func (e *TransactionError) Error() string {
	return fmt.Sprintf("transaction %s failed: %s", e.Signature, e.Message)
}

// ErrNotFound is returned when the requested account does not exist.
var ErrNotFound = errors.New("not found")

// ProcessTransaction submits a signed transaction and returns its outcome.
// An error means the server rejected the transaction before executing it.
func (c *Client) ProcessTransaction(ctx context.Context, tx *solana.Transaction) (*TransactionResult, error) {
	raw, err := tx.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("failed to encode transaction: %w", err)
	}

	var result TransactionResult
	if err := c.do(ctx, http.MethodPost, "/api/v1/transactions", map[string]string{
		"transaction": base64.StdEncoding.EncodeToString(raw),
	}, &result); err != nil {
		return nil, err
	}

	c.logger.Debug("transaction processed", "signature", result.Signature, "error", result.Error)
	return &result, nil
}

// SendTransaction submits a signed transaction. Instruction failures are
// reported as *TransactionError.
func (c *Client) SendTransaction(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	result, err := c.ProcessTransaction(ctx, tx)
	if err != nil {
		return solana.Signature{}, err
	}

	sig, err := solana.SignatureFromBase58(result.Signature)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("invalid signature in response: %w", err)
	}

	if result.Error != "" {
		return sig, &TransactionError{
			Signature:        sig,
			Logs:             result.Logs,
			Message:          result.Error,
			InstructionIndex: result.InstructionIndex,
			Code:             result.ErrorCode,
		}
	}
	return sig, nil
}

// LatestBlockhash returns the server's most recent blockhash.
func (c *Client) LatestBlockhash(ctx context.Context) (solana.Hash, error) {
	var resp struct {
		Blockhash string `json:"blockhash"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/blockhash", nil, &resp); err != nil {
		return solana.Hash{}, err
	}
	return solana.HashFromBase58(resp.Blockhash)
}

// Airdrop credits lamports to address.
func (c *Client) Airdrop(ctx context.Context, address solana.PublicKey, lamports uint64) (solana.Signature, error) {
	var resp struct {
		Signature string `json:"signature"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/v1/airdrop", map[string]interface{}{
		"address":  address.String(),
		"lamports": lamports,
	}, &resp); err != nil {
		return solana.Signature{}, err
	}
	return solana.SignatureFromBase58(resp.Signature)
}

// Account is a raw account.
type Account struct {
	Address    string `json:"address"`
	Lamports   uint64 `json:"lamports"`
	Owner      string `json:"owner"`
	Executable bool   `json:"executable"`
	Data       []byte `json:"data"`
}

// GetAccount fetches a raw account.
func (c *Client) GetAccount(ctx context.Context, address solana.PublicKey) (*Account, error) {
	var acct Account
	if err := c.do(ctx, http.MethodGet, "/api/v1/accounts/"+url.PathEscape(address.String()), nil, &acct); err != nil {
		return nil, err
	}
	return &acct, nil
}

// Mint is the decoded state of a token mint.
type Mint struct {
	Address       string  `json:"address"`
	MintAuthority *string `json:"mint_authority,omitempty"`
	Supply        uint64  `json:"supply"`
	Decimals      uint8   `json:"decimals"`
	IsInitialized bool    `json:"is_initialized"`
}

// GetMint fetches a mint.
func (c *Client) GetMint(ctx context.Context, address solana.PublicKey) (*Mint, error) {
	var mint Mint
	if err := c.do(ctx, http.MethodGet, "/api/v1/mints/"+url.PathEscape(address.String()), nil, &mint); err != nil {
		return nil, err
	}
	return &mint, nil
}

// MintRecord is a mint the server saw initialized through the WEEK program.
type MintRecord struct {
	Address       string    `json:"address"`
	Decimals      uint8     `json:"decimals"`
	MintAuthority string    `json:"mint_authority"`
	CreatedSlot   uint64    `json:"created_slot"`
	Signature     string    `json:"signature"`
	CreatedAt     time.Time `json:"created_at"`
}

// ListMints lists the mints recorded in the event log, oldest first.
func (c *Client) ListMints(ctx context.Context, limit, offset int) ([]*MintRecord, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if offset > 0 {
		q.Set("offset", strconv.Itoa(offset))
	}
	path := "/api/v1/mints"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var resp struct {
		Mints []*MintRecord `json:"mints"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Mints, nil
}

// TokenAccount is the decoded state of a token account.
type TokenAccount struct {
	Address string `json:"address"`
	Mint    string `json:"mint"`
	Owner   string `json:"owner"`
	Amount  uint64 `json:"amount"`
	State   string `json:"state"`
}

// GetTokenAccount fetches a token account.
func (c *Client) GetTokenAccount(ctx context.Context, address solana.PublicKey) (*TokenAccount, error) {
	var acct TokenAccount
	if err := c.do(ctx, http.MethodGet, "/api/v1/token-accounts/"+url.PathEscape(address.String()), nil, &acct); err != nil {
		return nil, err
	}
	return &acct, nil
}

// Event is a recorded WEEK instruction.
type Event struct {
	Signature        string    `json:"signature"`
	InstructionIndex int       `json:"instruction_index"`
	Instruction      string    `json:"instruction"`
	Mint             string    `json:"mint,omitempty"`
	Source           string    `json:"source,omitempty"`
	Destination      string    `json:"destination,omitempty"`
	Authority        string    `json:"authority,omitempty"`
	Amount           uint64    `json:"amount,omitempty"`
	Decimals         *uint8    `json:"decimals,omitempty"`
	Slot             uint64    `json:"slot"`
	Status           string    `json:"status"`
	Error            string    `json:"error,omitempty"`
	CreatedAt        time.Time `json:"created_at,omitempty"`
}

// EventFilter narrows ListEvents. Zero values are ignored.
type EventFilter struct {
	Mint        string
	Account     string
	Instruction string
	Limit       int
	Offset      int
}

// ListEvents lists recorded instruction events, newest first.
func (c *Client) ListEvents(ctx context.Context, filter EventFilter) ([]*Event, error) {
	q := url.Values{}
	if filter.Mint != "" {
		q.Set("mint", filter.Mint)
	}
	if filter.Account != "" {
		q.Set("account", filter.Account)
	}
	if filter.Instruction != "" {
		q.Set("instruction", filter.Instruction)
	}
	if filter.Limit > 0 {
		q.Set("limit", strconv.Itoa(filter.Limit))
	}
	if filter.Offset > 0 {
		q.Set("offset", strconv.Itoa(filter.Offset))
	}

	path := "/api/v1/events"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var resp struct {
		Events []*Event `json:"events"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Events, nil
}

// Health checks that the server is up.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.parseErrorResponse(resp)
	}
	return nil
}

// Stream subscribes to live instruction events, for one mint or for all
// mints when mint is empty, and calls handle for each event until ctx is
// done or handle returns an error.
func (c *Client) Stream(ctx context.Context, mint string, handle func(*Event) error) error {
	path := "/api/v1/stream/events"
	if mint != "" {
		path += "/" + url.PathEscape(mint)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	// No timeout for streaming
	streamClient := &http.Client{Transport: c.httpClient.Transport}
	resp, err := streamClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("failed to connect to SSE endpoint: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.parseErrorResponse(resp)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)
	var currentEvent, currentData string

	for scanner.Scan() {
		line := scanner.Text()

		// Empty line indicates end of event
		if line == "" {
			if currentData != "" && (currentEvent == "" || currentEvent == "instruction") {
				var event Event
				if err := json.Unmarshal([]byte(currentData), &event); err != nil {
					c.logger.Warn("failed to decode stream event", "error", err)
				} else if err := handle(&event); err != nil {
					return err
				}
			}
			currentEvent, currentData = "", ""
			continue
		}

		if strings.HasPrefix(line, "event:") {
			currentEvent = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		} else if strings.HasPrefix(line, "data:") {
			currentData = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		}
	}

	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("error reading SSE stream: %w", err)
	}
	return io.EOF
}

var errMatched = errors.New("matched")

// Await blocks until an event of mint satisfies matcher and returns it.
// It returns ctx.Err() when ctx is done first.
func (c *Client) Await(ctx context.Context, mint string, matcher func(*Event) bool) (*Event, error) {
	var found *Event
	err := c.Stream(ctx, mint, func(e *Event) error {
		if matcher(e) {
			found = e
			return errMatched
		}
		return nil
	})
	if errors.Is(err, errMatched) {
		return found, nil
	}
	return nil, err
}

func (c *Client) do(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.parseErrorResponse(resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// parseErrorResponse attempts to parse an error response from the server.
func (c *Client) parseErrorResponse(resp *http.Response) error {
	var errResp struct {
		Error string `json:"error"`
	}

	body, _ := io.ReadAll(resp.Body)
	if err := json.Unmarshal(body, &errResp); err != nil || errResp.Error == "" {
		err := fmt.Errorf("request failed with status %d: %s", resp.StatusCode, string(body))
		if resp.StatusCode == http.StatusNotFound {
			return fmt.Errorf("%w: %v", ErrNotFound, err)
		}
		return err
	}

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %s", ErrNotFound, errResp.Error)
	}
	return fmt.Errorf("request failed: %s", errResp.Error)
}
