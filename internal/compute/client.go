package compute

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"syscall"
	"time"

	"slide_analyzer/internal/observability"

	"github.com/sirupsen/logrus"
)

var (
	ErrUnavailable = errors.New("compute service unavailable")
	ErrTimeout     = errors.New("compute service timed out")
	ErrRejected    = errors.New("compute service rejected the request")
)

type Request struct {
	Filename string `json:"filename"`
}

type Parameters struct {
	CellCount   int     `json:"cell_count"`
	CellArea    int     `json:"cell_area"`
	TotalArea   int     `json:"total_area"`
	CellRatio   float64 `json:"cell_ratio"`
	AvgCellSize float64 `json:"avg_cell_size"`
}

// UnmarshalJSON accepts integral metrics written as floats (42.0) and
// truncates them.
func (p *Parameters) UnmarshalJSON(data []byte) error {
	var raw struct {
		CellCount   float64 `json:"cell_count"`
		CellArea    float64 `json:"cell_area"`
		TotalArea   float64 `json:"total_area"`
		CellRatio   float64 `json:"cell_ratio"`
		AvgCellSize float64 `json:"avg_cell_size"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*p = Parameters{
		CellCount:   int(raw.CellCount),
		CellArea:    int(raw.CellArea),
		TotalArea:   int(raw.TotalArea),
		CellRatio:   raw.CellRatio,
		AvgCellSize: raw.AvgCellSize,
	}
	return nil
}

type Response struct {
	Filename         string      `json:"filename"`
	ResultImagePath  string      `json:"result_image_path"`
	OverlayImagePath string      `json:"overlay_image_path"`
	Parameters       *Parameters `json:"parameters"`
	Status           string      `json:"status"`
	Message          string      `json:"message"`
	// AnalysisTime is nil when the service sent none or sent an unreadable one.
	AnalysisTime *time.Time `json:"-"`
}

const StatusSuccess = "success"

// The service stamps analysisTime as wall-clock time in UTC+8.
const analysisTimeLayout = "2006-01-02 15:04:05"

var analysisTimeZone = time.FixedZone("UTC+8", 8*60*60)

func (r *Response) UnmarshalJSON(data []byte) error {
	type wire Response
	var aux struct {
		wire
		AnalysisTime string `json:"analysisTime"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*r = Response(aux.wire)
	r.AnalysisTime = parseAnalysisTime(aux.AnalysisTime)
	return nil
}

func parseAnalysisTime(s string) *time.Time {
	if s == "" {
		return nil
	}
	if t, err := time.ParseInLocation(analysisTimeLayout, s, analysisTimeZone); err == nil {
		return &t
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return &t
	}
	logrus.WithField("analysis_time", s).Warn("Unreadable analysis time from compute service, using local time")
	return nil
}

type Analyzer interface {
	Analyze(ctx context.Context, filename string) (*Response, error)
}

type Options struct {
	BaseURL        string
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	Metrics        *observability.Metrics
}

// Client calls the Fullnet endpoint of the compute service. A single call
// can legitimately take minutes; the read timeout bounds the whole exchange,
// body included.
type Client struct {
	baseURL     string
	readTimeout time.Duration
	httpClient  *http.Client
	metrics     *observability.Metrics
}

func NewClient(opts Options) *Client {
	dialer := &net.Dialer{
		Timeout:   opts.ConnectTimeout,
		KeepAlive: 30 * time.Second,
	}
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ResponseHeaderTimeout: opts.ReadTimeout,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
	}
	return &Client{
		baseURL:     opts.BaseURL,
		readTimeout: opts.ReadTimeout,
		httpClient:  &http.Client{Transport: transport},
		metrics:     opts.Metrics,
	}
}

// Analyze submits filename for analysis and blocks until the service answers.
// Errors wrap ErrUnavailable, ErrTimeout or ErrRejected.
func (c *Client) Analyze(ctx context.Context, filename string) (*Response, error) {
	start := time.Now()
	resp, err := c.analyze(ctx, filename)
	c.observe(start, err)
	return resp, err
}

func (c *Client) analyze(parent context.Context, filename string) (*Response, error) {
	payload, err := json.Marshal(Request{Filename: filename})
	if err != nil {
		return nil, err
	}

	ctx := parent
	if c.readTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(parent, c.readTimeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/fullnet", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	logrus.WithField("filename", filename).Info("Sending analysis request to compute service")

	httpResp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, c.failure(parent, ctx, err)
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, c.failure(parent, ctx, err)
	}

	var out Response
	decodeErr := json.Unmarshal(body, &out)

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		msg := out.Message
		if decodeErr != nil || msg == "" {
			msg = string(bytes.TrimSpace(body))
		}
		return nil, fmt.Errorf("%w: status=%d: %s", ErrRejected, httpResp.StatusCode, msg)
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("%w: malformed response: %v", ErrRejected, decodeErr)
	}
	if out.Status != StatusSuccess {
		msg := out.Message
		if msg == "" {
			msg = "unknown error"
		}
		return nil, fmt.Errorf("%w: %s", ErrRejected, msg)
	}

	if out.Parameters == nil {
		logrus.WithField("filename", filename).Warn("Compute service returned no parameters")
	}
	return &out, nil
}

// failure reports expiry of the read deadline as ErrTimeout. Cancellation of
// parent is passed through so callers can tell a shutdown from a timeout.
func (c *Client) failure(parent, ctx context.Context, err error) error {
	if parent.Err() == nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: no complete response within %s: %v", ErrTimeout, c.readTimeout, err)
	}
	return classify(err)
}

func classify(err error) error {
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, os.ErrDeadlineExceeded):
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	case errors.As(err, &netErr) && netErr.Timeout():
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	case errors.Is(err, syscall.ECONNREFUSED):
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return err
}

func (c *Client) observe(start time.Time, err error) {
	if c.metrics == nil {
		return
	}
	outcome := "success"
	switch {
	case err == nil:
	case errors.Is(err, ErrTimeout):
		outcome = "timeout"
	case errors.Is(err, ErrUnavailable):
		outcome = "unavailable"
	case errors.Is(err, ErrRejected):
		outcome = "rejected"
	default:
		outcome = "error"
	}
	c.metrics.ComputeRequestDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
}
