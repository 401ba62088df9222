package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"usagegen/internal/auth"
	"usagegen/internal/jobs"
	"usagegen/internal/logging"
	"usagegen/internal/metrics"
	"usagegen/internal/rest"
)

// Invoker performs one call and classifies it. Implementations never retry.
type Invoker interface {
	Invoke(ctx context.Context, spec TestSpec, cred auth.Credential, index int) Result
}

// InvokerConfig configures an HTTPInvoker.
type InvokerConfig struct {
	Timeout         time.Duration
	JobPollInterval time.Duration
	Referer         string
}

// HTTPInvoker issues requests over HTTP with a fixed set of base headers.
type HTTPInvoker struct {
	Client  *http.Client
	Headers http.Header
	Jobs    *jobs.Client
}

func NewHTTPInvoker(cfg InvokerConfig) *HTTPInvoker {
	t := http.DefaultTransport.(*http.Transport).Clone()
	t.MaxIdleConns = 512
	t.MaxIdleConnsPerHost = 256

	client := &http.Client{
		Timeout:   cfg.Timeout,
		Transport: t,
	}

	referer := cfg.Referer
	if referer == "" {
		referer = rest.DefaultReferer
	}
	headers := http.Header{}
	headers.Set("Accept", "*/*")
	headers.Set("Accept-Language", "en-US,en;q=0.9")
	headers.Set("Referer", referer)
	headers.Set("User-Agent", "usagegen")

	return &HTTPInvoker{
		Client:  client,
		Headers: headers,
		Jobs:    jobs.NewClient(&rest.Client{HTTP: client, Referer: referer}, cfg.JobPollInterval),
	}
}

func (inv *HTTPInvoker) Invoke(ctx context.Context, spec TestSpec, cred auth.Credential, index int) Result {
	res := Result{
		Test:      spec.Name,
		Index:     index,
		RequestID: uuid.NewString(),
		TimeStamp: time.Now(),
	}

	metrics.InflightRequests.Inc()
	defer metrics.InflightRequests.Dec()

	if spec.Job != nil {
		return inv.invokeJob(ctx, spec, cred, res)
	}

	req, err := spec.Request(index)
	if err != nil {
		res.Outcome = OutcomeBuildError
		res.Err = fmt.Errorf("build request: %w", err)
		return res
	}
	res.URL = req.URL

	httpReq, err := inv.newRequest(ctx, req, cred)
	if err != nil {
		res.Outcome = OutcomeBuildError
		res.Err = err
		return res
	}
	httpReq.Header.Set("X-Request-Id", res.RequestID)

	start := time.Now()
	resp, err := inv.Client.Do(httpReq)
	if err != nil {
		res.ServiceTime = time.Since(start)
		res.Outcome = OutcomeTransportError
		res.Err = err
		return res
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			logging.Debug().Err(cerr).Str("test", spec.Name).Msg("close response body")
		}
	}()

	body, err := io.ReadAll(resp.Body)
	res.ServiceTime = time.Since(start)
	res.Status = resp.StatusCode
	if err != nil {
		res.Outcome = OutcomeTransportError
		res.Err = fmt.Errorf("read body: %w", err)
		return res
	}
	res.Bytes = int64(len(body))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		res.Outcome = OutcomeHTTPError
		res.Err = &rest.StatusError{StatusCode: resp.StatusCode, Body: rest.Snippet(body)}
		return res
	}

	if spec.Response == ResponseBinary {
		res.Payload = body
		res.Outcome = OutcomeSuccess
		return res
	}

	// Many services answer 200 with an error envelope.
	if remote := rest.ErrorFromBody(body); remote != nil {
		res.Outcome = OutcomeHTTPError
		res.Status = remote.Code
		res.Err = remote
		return res
	}
	var payload any
	if err := json.Unmarshal(body, &payload); err != nil {
		res.Outcome = OutcomeHTTPError
		res.Err = fmt.Errorf("decode json: %w", err)
		return res
	}
	res.Payload = payload
	res.Outcome = OutcomeSuccess
	return res
}

func (inv *HTTPInvoker) newRequest(ctx context.Context, req Request, cred auth.Credential) (*http.Request, error) {
	params := url.Values{}
	for k, vs := range req.Params {
		params[k] = append([]string(nil), vs...)
	}
	if tok := cred.Token(); tok != "" {
		params.Set("token", tok)
	}

	method := strings.ToUpper(req.Method)
	if method == "" {
		method = http.MethodGet
	}

	var (
		httpReq *http.Request
		err     error
	)
	if method == http.MethodPost {
		httpReq, err = http.NewRequestWithContext(ctx, method, req.URL, strings.NewReader(params.Encode()))
		if err == nil {
			httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded;charset=UTF-8")
		}
	} else {
		u, perr := url.Parse(req.URL)
		if perr != nil {
			return nil, fmt.Errorf("parse url: %w", perr)
		}
		q := u.Query()
		for k, vs := range params {
			q[k] = vs
		}
		u.RawQuery = q.Encode()
		httpReq, err = http.NewRequestWithContext(ctx, method, u.String(), nil)
	}
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	for k, vs := range inv.Headers {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	return httpReq, nil
}

func (inv *HTTPInvoker) invokeJob(ctx context.Context, spec TestSpec, cred auth.Credential, res Result) Result {
	res.URL = spec.Job.URL
	start := time.Now()
	out, err := inv.Jobs.Run(ctx, *spec.Job, cred.Token())
	res.ServiceTime = time.Since(start)
	if err != nil {
		classifyErr(err, &res)
		return res
	}
	res.Status = http.StatusOK
	res.Outcome = OutcomeSuccess
	res.Payload = out.Results
	return res
}

// classifyErr maps an error from the rest or jobs clients onto an outcome.
func classifyErr(err error, res *Result) {
	res.Err = err

	var statusErr *rest.StatusError
	var remote *rest.Error
	switch {
	case errors.As(err, &statusErr):
		res.Outcome = OutcomeHTTPError
		res.Status = statusErr.StatusCode
	case errors.As(err, &remote):
		res.Outcome = OutcomeHTTPError
		res.Status = remote.Code
	case errors.Is(err, jobs.ErrJobFailed), errors.Is(err, jobs.ErrStopped):
		res.Outcome = OutcomeHTTPError
	default:
		res.Outcome = OutcomeTransportError
	}
}
