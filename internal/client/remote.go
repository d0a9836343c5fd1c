package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"runtime"
	"strings"

	"github.com/hashicorp/go-retryablehttp"

	"licensekit/internal/config"
	"licensekit/pkg/contracts/domain"
)

const maxResponseBytes = 1 << 20

// ErrUndecodable reports a response body that carries no license status
var ErrUndecodable = errors.New("authority response could not be decoded")

// TransportError is any failure to obtain an authoritative answer: network
// errors, timeouts, 5xx and 429 responses, and bodies without a status
type TransportError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: status %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Response is an authoritative answer to activate, deactivate or check
type Response struct {
	StatusCode int
	domain.LicenseResponse
}

// UpdateResponse is an authoritative answer to an update check
type UpdateResponse struct {
	StatusCode int
	domain.UpdateCheckResponse
}

// Remote talks to the license authority
type Remote interface {
	Activate(ctx context.Context, licenseKey string) (*Response, error)
	Deactivate(ctx context.Context, licenseKey string) (*Response, error)
	Check(ctx context.Context, licenseKey string) (*Response, error)
	CheckUpdate(ctx context.Context, licenseKey, currentVersion string) (*UpdateResponse, error)
	Download(ctx context.Context, packageURL string, w io.Writer) (int64, error)
}

// Identity is the base payload sent with every request
type Identity struct {
	ProductSlug    string
	ProductVersion string
	SiteURL        string
	HostVersion    string
	InstallURL     string
}

// IdentityFromConfig builds the identity of this installation
func IdentityFromConfig(cfg config.ClientConfig) Identity {
	return Identity{
		ProductSlug:    cfg.ProductSlug,
		ProductVersion: cfg.ProductVersion,
		SiteURL:        cfg.SiteURL,
		HostVersion:    cfg.HostVersion,
		InstallURL:     cfg.SiteURL,
	}
}

// HTTPRemote is a Remote over HTTP with bounded retries
type HTTPRemote struct {
	baseURL  string
	identity Identity
	client   *retryablehttp.Client
	logger   *slog.Logger
}

// NewHTTPRemote creates a remote for the authority at baseURL.
// Transport errors, 429 and 5xx responses are retried up to retryMax times.
func NewHTTPRemote(baseURL string, identity Identity, retryMax int, logger *slog.Logger) *HTTPRemote {
	if logger == nil {
		logger = slog.Default()
	}
	if retryMax < 0 {
		retryMax = 0
	}

	rc := retryablehttp.NewClient()
	rc.RetryMax = retryMax
	rc.Logger = logger.With(slog.String("component", "authority_client"))
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler

	return &HTTPRemote{
		baseURL:  strings.TrimRight(baseURL, "/"),
		identity: identity,
		client:   rc,
		logger:   logger.With(slog.String("component", "authority_client")),
	}
}

func (r *HTTPRemote) basePayload(licenseKey string) map[string]string {
	return map[string]string{
		"license_key":     licenseKey,
		"plugin_slug":     r.identity.ProductSlug,
		"plugin_version":  r.identity.ProductVersion,
		"site_url":        r.identity.SiteURL,
		"host_version":    r.identity.HostVersion,
		"runtime_version": runtime.Version(),
	}
}

func (r *HTTPRemote) Activate(ctx context.Context, licenseKey string) (*Response, error) {
	payload := r.basePayload(licenseKey)
	if r.identity.InstallURL != "" {
		payload["wp_install_url"] = r.identity.InstallURL
	}
	return r.postLicense(ctx, "activate", config.RouteActivate, payload)
}

func (r *HTTPRemote) Deactivate(ctx context.Context, licenseKey string) (*Response, error) {
	return r.postLicense(ctx, "deactivate", config.RouteDeactivate, r.basePayload(licenseKey))
}

func (r *HTTPRemote) Check(ctx context.Context, licenseKey string) (*Response, error) {
	req, err := r.newGet(ctx, config.RouteCheck, r.basePayload(licenseKey))
	if err != nil {
		return nil, &TransportError{Op: "check", Err: err}
	}
	return r.doLicense(req, "check")
}

func (r *HTTPRemote) CheckUpdate(ctx context.Context, licenseKey, currentVersion string) (*UpdateResponse, error) {
	params := r.basePayload(licenseKey)
	params["current_version"] = currentVersion

	req, err := r.newGet(ctx, config.RouteUpdateCheck, params)
	if err != nil {
		return nil, &TransportError{Op: "update_check", Err: err}
	}

	out := &UpdateResponse{}
	code, err := r.do(req, "update_check", &out.UpdateCheckResponse)
	if err != nil {
		return nil, err
	}
	out.StatusCode = code
	if out.LicenseStatus == "" {
		return nil, &TransportError{Op: "update_check", StatusCode: code, Err: ErrUndecodable}
	}
	out.LicenseStatus = domain.ParseLicenseStatus(string(out.LicenseStatus))
	return out, nil
}

// Download streams a package into w and returns the number of bytes written
func (r *HTTPRemote) Download(ctx context.Context, packageURL string, w io.Writer) (int64, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, packageURL, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to build download request: %w", err)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return 0, &TransportError{Op: "download", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var body domain.LicenseResponse
		_ = json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&body)
		if resp.StatusCode >= http.StatusInternalServerError {
			return 0, &TransportError{Op: "download", StatusCode: resp.StatusCode, Err: fmt.Errorf("download failed: %s", body.Message)}
		}
		return 0, fmt.Errorf("download failed with status %d: %s", resp.StatusCode, body.Message)
	}

	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return n, &TransportError{Op: "download", StatusCode: resp.StatusCode, Err: err}
	}
	return n, nil
}

func (r *HTTPRemote) postLicense(ctx context.Context, op, path string, payload map[string]string) (*Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, &TransportError{Op: op, Err: err}
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, &TransportError{Op: op, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	return r.doLicense(req, op)
}

func (r *HTTPRemote) newGet(ctx context.Context, path string, params map[string]string) (*retryablehttp.Request, error) {
	q := url.Values{}
	for k, v := range params {
		if v != "" {
			q.Set(k, v)
		}
	}
	return retryablehttp.NewRequestWithContext(ctx, http.MethodGet, r.baseURL+path+"?"+q.Encode(), nil)
}

func (r *HTTPRemote) doLicense(req *retryablehttp.Request, op string) (*Response, error) {
	out := &Response{}
	code, err := r.do(req, op, &out.LicenseResponse)
	if err != nil {
		return nil, err
	}
	out.StatusCode = code
	if out.LicenseStatus == "" {
		return nil, &TransportError{Op: op, StatusCode: code, Err: ErrUndecodable}
	}
	out.LicenseStatus = domain.ParseLicenseStatus(string(out.LicenseStatus))
	return out, nil
}

// do executes req and decodes the body into out. Only 4xx (except 429) and
// 2xx responses are considered authoritative.
func (r *HTTPRemote) do(req *retryablehttp.Request, op string, out any) (int, error) {
	req.Header.Set("Accept", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return 0, &TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return resp.StatusCode, &TransportError{Op: op, StatusCode: resp.StatusCode, Err: err}
	}

	if resp.StatusCode >= http.StatusInternalServerError || resp.StatusCode == http.StatusTooManyRequests {
		return resp.StatusCode, &TransportError{
			Op:         op,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("authority returned status %d", resp.StatusCode),
		}
	}

	if err := json.Unmarshal(body, out); err != nil {
		r.logger.WarnContext(req.Context(), "undecodable authority response",
			slog.String("op", op),
			slog.Int("status_code", resp.StatusCode),
			slog.String("error", err.Error()),
		)
		return resp.StatusCode, &TransportError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("%w: %v", ErrUndecodable, err)}
	}
	return resp.StatusCode, nil
}
