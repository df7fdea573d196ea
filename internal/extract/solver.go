package extract

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
)

// ChallengeParams describes an anti-bot challenge to solve.
type ChallengeParams struct {
	Type    string `json:"type"`
	SiteKey string `json:"site_key,omitempty"`
	PageURL string `json:"page_url"`
}

// Solver is the challenge-solving collaborator. Providers and protocols are
// outside the core; this is a capability the retry engine may invoke.
type Solver interface {
	Solve(ctx context.Context, params ChallengeParams) (token string, err error)
}

// HTTPSolver posts challenges to a JSON endpoint.
type HTTPSolver struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

// NewHTTPSolver creates a solver client for the given endpoint.
func NewHTTPSolver(endpoint, apiKey string) *HTTPSolver {
	return &HTTPSolver{
		endpoint: endpoint,
		apiKey:   apiKey,
		client:   &http.Client{Timeout: 90 * time.Second},
	}
}

// Solve submits the challenge and waits for a token.
func (s *HTTPSolver) Solve(ctx context.Context, params ChallengeParams) (string, error) {
	body, err := json.Marshal(params)
	if err != nil {
		return "", fmt.Errorf("marshal challenge: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build solve request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("solve request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read solve response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("solver returned %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var out struct {
		Token string `json:"token"`
		Error string `json:"error"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("decode solve response: %w", err)
	}
	if out.Error != "" {
		return "", fmt.Errorf("solver failure: %s", out.Error)
	}
	if out.Token == "" {
		return "", fmt.Errorf("solver returned empty token")
	}
	return out.Token, nil
}

// GRPCSolveFunc wraps a generated client call against the solver service.
// The solver manages the connection; the wiring supplies the invoke, the
// same split used for load-balanced gRPC providers.
type GRPCSolveFunc func(ctx context.Context, conn grpc.ClientConnInterface, params ChallengeParams) (string, error)

// GRPCSolver solves challenges over a gRPC connection.
type GRPCSolver struct {
	endpoint string
	conn     *grpc.ClientConn
	invoke   GRPCSolveFunc
}

// NewGRPCSolver dials the solver endpoint. TLS is inferred from the scheme.
func NewGRPCSolver(ctx context.Context, endpoint string, invoke GRPCSolveFunc) (*GRPCSolver, error) {
	target := endpoint
	var opts []grpc.DialOption

	if strings.HasPrefix(endpoint, "https://") || strings.HasSuffix(endpoint, ":443") {
		opts = append(opts, grpc.WithTransportCredentials(credentials.NewTLS(&tls.Config{})))
		target = strings.TrimPrefix(target, "https://")
	} else {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
		target = strings.TrimPrefix(target, "http://")
	}

	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, fmt.Errorf("dial solver endpoint %s: %w", target, err)
	}
	return &GRPCSolver{endpoint: endpoint, conn: conn, invoke: invoke}, nil
}

// Solve executes the wrapped client call.
func (s *GRPCSolver) Solve(ctx context.Context, params ChallengeParams) (string, error) {
	if s.invoke == nil {
		return "", fmt.Errorf("grpc solver has no invoke configured")
	}
	return s.invoke(ctx, s.conn, params)
}

// Close releases the connection.
func (s *GRPCSolver) Close() error {
	return s.conn.Close()
}
