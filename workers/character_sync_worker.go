package workers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"quest-progress-engine/services"
	"quest-progress-engine/utils"

	"go.uber.org/zap"
)

// RemoteProfile is the part of the profile service's record the engine cares about.
type RemoteProfile struct {
	ExternalID    string    `json:"external_id"`
	Username      string    `json:"username"`
	AccountStatus string    `json:"account_status"`
	UpdatedAt     time.Time `json:"updated_at"`
}

type profileChangesResponse struct {
	Users []RemoteProfile `json:"users"`
}

// CharacterSyncWorker polls the profile service and makes sure every active user has a character.
type CharacterSyncWorker struct {
	characters   *services.CharacterService
	interval     time.Duration
	baseURL      string
	endpointPath string
	serviceToken string
	httpClient   *http.Client

	since time.Time
}

func NewCharacterSyncWorker(characters *services.CharacterService, baseURL, endpointPath, serviceToken string, interval time.Duration) *CharacterSyncWorker {
	if interval <= 0 {
		interval = time.Minute
	}
	return &CharacterSyncWorker{
		characters:   characters,
		interval:     interval,
		baseURL:      baseURL,
		endpointPath: endpointPath,
		serviceToken: serviceToken,
		httpClient:   &http.Client{Timeout: 30 * time.Second},
	}
}

func (w *CharacterSyncWorker) Start(ctx context.Context) {
	utils.Logger.Info("starting character sync worker", zap.String("source", w.baseURL))
	go w.run(ctx)
}

func (w *CharacterSyncWorker) run(ctx context.Context) {
	if _, err := w.SyncOnce(ctx); err != nil {
		utils.Logger.Warn("initial character sync failed", zap.Error(err))
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := w.SyncOnce(ctx); err != nil {
				utils.Logger.Error("character sync failed", zap.Error(err))
			}
		case <-ctx.Done():
			utils.Logger.Info("character sync worker stopped")
			return
		}
	}
}

// SyncOnce fetches profile changes since the last watermark and ensures characters for active users.
// Returns the number of profiles handled.
func (w *CharacterSyncWorker) SyncOnce(ctx context.Context) (int, error) {
	profiles, err := w.fetch(ctx, w.since)
	if err != nil {
		return 0, err
	}

	handled := 0
	latest := w.since
	for _, p := range profiles {
		if p.UpdatedAt.After(latest) {
			latest = p.UpdatedAt
		}
		if p.ExternalID == "" || (p.AccountStatus != "" && p.AccountStatus != "active") {
			continue
		}
		if _, err := w.characters.EnsureCharacter(p.ExternalID); err != nil {
			utils.Logger.Warn("ensure character failed", zap.String("user_id", p.ExternalID), zap.Error(err))
			continue
		}
		handled++
	}
	w.since = latest
	return handled, nil
}

func (w *CharacterSyncWorker) fetch(ctx context.Context, since time.Time) ([]RemoteProfile, error) {
	base, err := url.Parse(w.baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid profile service URL %q: %w", w.baseURL, err)
	}
	endpointURL := base.JoinPath(w.endpointPath)
	q := endpointURL.Query()
	q.Set("since", since.UTC().Format(time.RFC3339))
	endpointURL.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpointURL.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-Service-Token", w.serviceToken)

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("profile service request failed: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("profile service returned %d: %s", resp.StatusCode, body)
	}

	var out profileChangesResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode profile changes: %w", err)
	}
	return out.Users, nil
}
