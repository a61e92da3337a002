package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"pairlink/internal/core/domain"
	"pairlink/internal/core/ports"
	apperrors "pairlink/pkg/errors"
	"pairlink/pkg/retry"

	"go.uber.org/zap"
)

// HTTPRegistry talks to the relay's REST surface. It is the client-side
// counterpart of the room handler routes. Transient failures (network errors
// and 5xx responses) are retried with backoff; 4xx responses are not.
type HTTPRegistry struct {
	baseURL     string
	client      *http.Client
	retryPolicy retry.Config
	logger      *zap.SugaredLogger
}

var _ ports.RoomRegistry = (*HTTPRegistry)(nil)

func NewHTTPRegistry(baseURL string, timeout time.Duration, logger *zap.SugaredLogger) *HTTPRegistry {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &HTTPRegistry{
		baseURL:     baseURL,
		client:      &http.Client{Timeout: timeout},
		retryPolicy: retry.DefaultConfig(),
		logger:      logger,
	}
}

type createRoomRequest struct {
	Password string `json:"password,omitempty"`
}

type createRoomResponse struct {
	RoomID       string `json:"room_id"`
	CreatorToken string `json:"creator_token"`
}

type roomExistsResponse struct {
	Exists            bool `json:"exists"`
	PasswordProtected bool `json:"password_protected"`
}

type verifyPasswordRequest struct {
	Password string `json:"password"`
}

type verifyPasswordResponse struct {
	Valid bool `json:"valid"`
}

type iceConfigResponse struct {
	ICEServers []struct {
		URLs       []string `json:"urls"`
		Username   string   `json:"username,omitempty"`
		Credential string   `json:"credential,omitempty"`
	} `json:"iceServers"`
}

func (r *HTTPRegistry) CreateRoom(ctx context.Context, password string) (domain.RoomID, string, error) {
	var resp createRoomResponse
	err := r.do(ctx, http.MethodPost, "/api/create-room", createRoomRequest{Password: password}, &resp)
	if err != nil {
		return "", "", err
	}
	return domain.RoomID(resp.RoomID), resp.CreatorToken, nil
}

func (r *HTTPRegistry) RoomExists(ctx context.Context, id domain.RoomID) (bool, bool, error) {
	var resp roomExistsResponse
	err := r.do(ctx, http.MethodGet, fmt.Sprintf("/api/room/%s/exists", id), nil, &resp)
	if err != nil {
		return false, false, err
	}
	return resp.Exists, resp.PasswordProtected, nil
}

func (r *HTTPRegistry) VerifyPassword(ctx context.Context, id domain.RoomID, password string) (bool, error) {
	var resp verifyPasswordResponse
	err := r.do(ctx, http.MethodPost, fmt.Sprintf("/api/room/%s/password/verify", id), verifyPasswordRequest{Password: password}, &resp)
	if err != nil {
		if apperrors.CodeOf(err) == apperrors.ErrCodeRoomInvalidPassword {
			return false, nil
		}
		return false, err
	}
	return resp.Valid, nil
}

// ICEConfig fetches relay connectivity credentials, falling back to the
// public STUN default when the relay has none configured or is unreachable.
func (r *HTTPRegistry) ICEConfig(ctx context.Context) domain.ICEConfig {
	var resp iceConfigResponse
	if err := r.do(ctx, http.MethodGet, "/api/turn-config", nil, &resp); err != nil {
		r.logger.Warnw("ice config fetch failed, using default", "error", err)
		return domain.DefaultICEConfig()
	}
	if len(resp.ICEServers) == 0 || len(resp.ICEServers[0].URLs) == 0 {
		return domain.DefaultICEConfig()
	}
	first := resp.ICEServers[0]
	return domain.ICEConfig{
		URLs:       first.URLs,
		Username:   first.Username,
		Credential: first.Credential,
	}
}

// RandomOccupied asks the relay for a random occupied room id.
func (r *HTTPRegistry) RandomOccupied(ctx context.Context) (domain.RoomID, error) {
	var resp struct {
		RoomID string `json:"room_id"`
	}
	if err := r.do(ctx, http.MethodGet, "/api/roulette", nil, &resp); err != nil {
		return "", err
	}
	return domain.RoomID(resp.RoomID), nil
}

// SetPassword changes the room password using the creator credential issued
// at creation time.
func (r *HTTPRegistry) SetPassword(ctx context.Context, id domain.RoomID, password, creatorToken string) error {
	body := struct {
		Password     string `json:"password"`
		CreatorToken string `json:"creator_token"`
	}{Password: password, CreatorToken: creatorToken}
	return r.do(ctx, http.MethodPost, fmt.Sprintf("/api/room/%s/password", id), body, nil)
}

func (r *HTTPRegistry) do(ctx context.Context, method, path string, body, out interface{}) error {
	var payload []byte
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		payload = data
	}

	return retry.Do(ctx, r.retryPolicy, func() error {
		return r.doOnce(ctx, method, path, payload, out)
	})
}

// doOnce performs a single request. Network errors and 5xx responses return
// retriable errors; everything else is marked permanent so retry.Do stops.
func (r *HTTPRegistry) doOnce(ctx context.Context, method, path string, payload []byte, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, method, r.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return retry.Permanent(fmt.Errorf("build request: %w", err))
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeChannelUnreachable, "registry request failed", 0)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var errPayload struct {
			Error string `json:"error"`
		}
		json.NewDecoder(resp.Body).Decode(&errPayload)
		appErr := apperrors.New(codeForStatus(resp.StatusCode), errPayload.Error, resp.StatusCode)
		if resp.StatusCode >= 500 {
			return appErr
		}
		return retry.Permanent(appErr)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return retry.Permanent(fmt.Errorf("decode response: %w", err))
	}
	return nil
}

func codeForStatus(status int) apperrors.ErrorCode {
	switch status {
	case http.StatusNotFound:
		return apperrors.ErrCodeRoomNotFound
	case http.StatusForbidden:
		return apperrors.ErrCodeRoomInvalidPassword
	case http.StatusConflict:
		return apperrors.ErrCodeRoomFull
	case http.StatusTooManyRequests:
		return apperrors.ErrCodeRateLimit
	default:
		return apperrors.ErrCodeInternal
	}
}
