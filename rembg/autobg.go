package rembg

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/chaos-io/carstudio/errs"
	nhttp "github.com/chaos-io/carstudio/util/http"
)

const (
	AutoBGName = "autobg"

	DefaultAutoBGEndpoint     = "https://api.autobg.ai/v1"
	DefaultAutoBGPollInterval = 3 * time.Second
	DefaultAutoBGDeadline     = 120 * time.Second

	requestTimeout = 60 * time.Second
	// maxPollFailures consecutive failed polls end the wait with the last error.
	maxPollFailures = 3
)

type AutoBGOptions struct {
	APIKey       string
	Endpoint     string
	PollInterval time.Duration
	Deadline     time.Duration
}

// AutoBG drives an asynchronous batch API: submit, poll until every item is
// terminal, then fetch each result. Submissions bound to a template come back
// already composited on the template background.
type AutoBG struct {
	apiKey       string
	endpoint     string
	pollInterval time.Duration
	deadline     time.Duration
	cli          nhttp.IClient
	logger       *slog.Logger
	now          func() time.Time
}

func NewAutoBG(opts AutoBGOptions, cli nhttp.IClient, logger *slog.Logger) *AutoBG {
	if opts.Endpoint == "" {
		opts.Endpoint = DefaultAutoBGEndpoint
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultAutoBGPollInterval
	}
	if opts.Deadline <= 0 {
		opts.Deadline = DefaultAutoBGDeadline
	}
	if cli == nil {
		cli = nhttp.NewHTTPClient()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &AutoBG{
		apiKey:       opts.APIKey,
		endpoint:     strings.TrimSuffix(opts.Endpoint, "/"),
		pollInterval: opts.PollInterval,
		deadline:     opts.Deadline,
		cli:          cli,
		logger:       logger,
		now:          time.Now,
	}
}

func (a *AutoBG) Name() string {
	return AutoBGName
}

func (a *AutoBG) Strategy() Strategy {
	return StrategyAsyncRemote
}

func (a *AutoBG) Available() error {
	if a.apiKey == "" {
		return &errs.Error{Kind: errs.KindUnavailableProvider, Op: "configure", Provider: AutoBGName, Message: "api key not configured"}
	}
	return nil
}

type batchItem struct {
	ID     string `json:"id"`
	Status string `json:"status,omitempty"`
	Error  string `json:"error,omitempty"`
}

type batchResponse struct {
	BatchID string      `json:"batch_id"`
	Items   []batchItem `json:"items"`
}

func (r *batchResponse) validate() error {
	if r.BatchID == "" {
		return fmt.Errorf("missing batch_id")
	}
	if len(r.Items) == 0 {
		return fmt.Errorf("batch %s has no items", r.BatchID)
	}
	for _, item := range r.Items {
		if item.ID == "" {
			return fmt.Errorf("batch %s has an item without id", r.BatchID)
		}
	}
	return nil
}

type batchStatus struct {
	Status string      `json:"status"`
	Items  []batchItem `json:"items"`
}

type Template struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type templateList struct {
	Templates []Template `json:"templates"`
}

func (a *AutoBG) Remove(ctx context.Context, src *Source) (*image.NRGBA, error) {
	data, err := a.run(ctx, src, "")
	if err != nil {
		return nil, err
	}
	return decodeSubject(AutoBGName, data)
}

// Composite submits src bound to templateID and returns the image rendered by
// the provider.
func (a *AutoBG) Composite(ctx context.Context, src *Source, templateID string) (image.Image, error) {
	if templateID == "" {
		return nil, errs.New(errs.KindInvalidImage, "composite", "template id is empty")
	}
	data, err := a.run(ctx, src, templateID)
	if err != nil {
		return nil, err
	}
	return decodeSubject(AutoBGName, data)
}

func (a *AutoBG) run(ctx context.Context, src *Source, templateID string) ([]byte, error) {
	if err := a.Available(); err != nil {
		return nil, err
	}

	job, err := a.Submit(ctx, src, templateID)
	if err != nil {
		return nil, err
	}
	if err = a.Wait(ctx, job); err != nil {
		return nil, err
	}
	if job.State == JobFailed {
		return nil, &errs.Error{Kind: errs.KindUpstream, Op: "poll", Provider: AutoBGName, Message: job.failure()}
	}
	return a.Fetch(ctx, job.Items[0].ID)
}

/*
	curl -H "Authorization: Bearer $KEY" \
	  -F "images=@car.jpg" \
	  -F "template_id=tpl_123" \
	  $BASE_URL/batches

{"batch_id": "b_1", "items": [{"id": "i_1"}]}
*/
func (a *AutoBG) Submit(ctx context.Context, src *Source, templateID string) (*RemovalJob, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("images", "image."+src.Ext())
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err = part.Write(src.Data); err != nil {
		return nil, fmt.Errorf("write form file: %w", err)
	}
	if templateID != "" {
		_ = writer.WriteField("template_id", templateID)
	}
	_ = writer.Close()

	var resp batchResponse
	reqParam := &nhttp.RequestParam{
		RequestURI: a.endpoint + "/batches",
		Method:     http.MethodPost,
		Header:     a.header(writer.FormDataContentType()),
		Body:       body,
		Response:   &resp,
		Timeout:    requestTimeout,
	}
	if err = a.cli.DoHTTPRequest(ctx, reqParam); err != nil {
		return nil, classify(ctx, AutoBGName, "submit", err)
	}
	if err = resp.validate(); err != nil {
		return nil, a.malformed("submit", err)
	}

	job := newRemovalJob(resp, a.now(), a.deadline)
	a.logger.Debug("submitted batch", "batch", job.ID, "items", len(job.Items), "template", templateID)
	return job, nil
}

// Wait polls job until it is terminal. The loop ends with a timeout error at
// the job deadline or when ctx ends, whichever comes first. Transient poll
// failures are retried on the next tick, up to maxPollFailures in a row.
func (a *AutoBG) Wait(ctx context.Context, job *RemovalJob) error {
	ctx, cancel := context.WithDeadline(ctx, job.Deadline)
	defer cancel()

	ticker := time.NewTicker(a.pollInterval)
	defer ticker.Stop()

	failures := 0
	for !job.State.Terminal() {
		select {
		case <-ctx.Done():
			return &errs.Error{
				Kind:     errs.KindTimeout,
				Op:       "poll",
				Provider: AutoBGName,
				Message:  fmt.Sprintf("batch %s not finished after %d polls", job.ID, job.Polls),
				Cause:    ctx.Err(),
			}
		case <-ticker.C:
		}

		status, err := a.status(ctx, job.ID)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			failures++
			if errs.Retriable(err) && failures < maxPollFailures {
				a.logger.Warn("poll batch failed", "batch", job.ID, "failures", failures, "error", err)
				continue
			}
			return err
		}
		failures = 0
		if err = job.apply(status); err != nil {
			return a.malformed("poll", err)
		}
	}

	a.logger.Debug("batch finished", "batch", job.ID, "state", job.State, "polls", job.Polls,
		"elapsed", a.now().Sub(job.Created))
	return nil
}

func (a *AutoBG) status(ctx context.Context, batchID string) (batchStatus, error) {
	var status batchStatus
	reqParam := &nhttp.RequestParam{
		RequestURI: a.endpoint + "/batches/" + url.PathEscape(batchID),
		Method:     http.MethodGet,
		Header:     a.header(""),
		Response:   &status,
		Timeout:    requestTimeout,
	}
	if err := a.cli.DoHTTPRequest(ctx, reqParam); err != nil {
		return batchStatus{}, classify(ctx, AutoBGName, "poll", err)
	}
	return status, nil
}

// Fetch downloads the processed image of one item.
func (a *AutoBG) Fetch(ctx context.Context, itemID string) ([]byte, error) {
	var raw []byte
	reqParam := &nhttp.RequestParam{
		RequestURI:       a.endpoint + "/items/" + url.PathEscape(itemID) + "/result",
		Method:           http.MethodGet,
		Header:           a.header(""),
		Response:         &raw,
		MaxResponseBytes: maxResultBytes,
		Timeout:          requestTimeout,
	}
	if err := a.cli.DoHTTPRequest(ctx, reqParam); err != nil {
		return nil, classify(ctx, AutoBGName, "fetch", err)
	}
	return raw, nil
}

func (a *AutoBG) ListTemplates(ctx context.Context) ([]Template, error) {
	if err := a.Available(); err != nil {
		return nil, err
	}

	var list templateList
	reqParam := &nhttp.RequestParam{
		RequestURI: a.endpoint + "/templates",
		Method:     http.MethodGet,
		Header:     a.header(""),
		Response:   &list,
		Timeout:    requestTimeout,
	}
	if err := a.cli.DoHTTPRequest(ctx, reqParam); err != nil {
		return nil, classify(ctx, AutoBGName, "list templates", err)
	}
	for _, t := range list.Templates {
		if t.ID == "" {
			return nil, a.malformed("list templates", fmt.Errorf("template %q has no id", t.Name))
		}
	}
	return list.Templates, nil
}

func (a *AutoBG) CreateTemplate(ctx context.Context, name string, background []byte) (Template, error) {
	if err := a.Available(); err != nil {
		return Template{}, err
	}

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	_ = writer.WriteField("name", name)
	part, err := writer.CreateFormFile("background", name+".jpg")
	if err != nil {
		return Template{}, fmt.Errorf("create form file: %w", err)
	}
	if _, err = part.Write(background); err != nil {
		return Template{}, fmt.Errorf("write form file: %w", err)
	}
	_ = writer.Close()

	var tpl Template
	reqParam := &nhttp.RequestParam{
		RequestURI: a.endpoint + "/templates",
		Method:     http.MethodPost,
		Header:     a.header(writer.FormDataContentType()),
		Body:       body,
		Response:   &tpl,
		Timeout:    requestTimeout,
	}
	if err = a.cli.DoHTTPRequest(ctx, reqParam); err != nil {
		return Template{}, classify(ctx, AutoBGName, "create template", err)
	}
	if tpl.ID == "" {
		return Template{}, a.malformed("create template", fmt.Errorf("missing template id"))
	}

	a.logger.Info("created remote template", "name", name, "id", tpl.ID)
	return tpl, nil
}

func (a *AutoBG) header(contentType string) map[string]string {
	h := map[string]string{"Authorization": "Bearer " + a.apiKey}
	if contentType != "" {
		h["Content-Type"] = contentType
	}
	return h
}

func (a *AutoBG) malformed(op string, err error) error {
	return &errs.Error{Kind: errs.KindUpstream, Op: op, Provider: AutoBGName, Message: "malformed response", Cause: err}
}
