package rembg

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/chaos-io/carstudio/errs"
	"github.com/chaos-io/carstudio/util"
	nhttp "github.com/chaos-io/carstudio/util/http"
)

const (
	RemoveBGName = "removebg"

	DefaultRemoveBGEndpoint = "https://api.remove.bg/v1.0/removebg"
	DefaultRemoveBGTimeout  = 60 * time.Second

	maxResultBytes = 64 << 20
)

type RemoveBGOptions struct {
	APIKey   string
	Endpoint string
	Timeout  time.Duration
}

// RemoveBG calls a synchronous removal API that answers with the processed
// image, either inline or as JSON carrying base64 data or a download URL.
type RemoveBG struct {
	apiKey   string
	endpoint string
	timeout  time.Duration
	cli      nhttp.IClient
	logger   *slog.Logger
}

func NewRemoveBG(opts RemoveBGOptions, cli nhttp.IClient, logger *slog.Logger) *RemoveBG {
	if opts.Endpoint == "" {
		opts.Endpoint = DefaultRemoveBGEndpoint
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultRemoveBGTimeout
	}
	if cli == nil {
		cli = nhttp.NewHTTPClient()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RemoveBG{
		apiKey:   opts.APIKey,
		endpoint: opts.Endpoint,
		timeout:  opts.Timeout,
		cli:      cli,
		logger:   logger,
	}
}

func (r *RemoveBG) Name() string {
	return RemoveBGName
}

func (r *RemoveBG) Strategy() Strategy {
	return StrategySyncRemote
}

func (r *RemoveBG) Available() error {
	if r.apiKey == "" {
		return &errs.Error{Kind: errs.KindUnavailableProvider, Op: "configure", Provider: RemoveBGName, Message: "api key not configured"}
	}
	return nil
}

// removeBGResult is the JSON form of a successful answer. Exactly one of the
// two fields is set.
type removeBGResult struct {
	Data struct {
		ResultB64 string `json:"result_b64"`
		URL       string `json:"url"`
	} `json:"data"`
}

func (res *removeBGResult) validate() error {
	hasB64, hasURL := res.Data.ResultB64 != "", res.Data.URL != ""
	if hasB64 == hasURL {
		return fmt.Errorf("expected exactly one of result_b64 and url")
	}
	return nil
}

/*
	curl -H "X-Api-Key: $KEY" \
	  -F "image_file=@car.jpg" \
	  -F "size=auto" \
	  https://api.remove.bg/v1.0/removebg
*/
func (r *RemoveBG) Remove(ctx context.Context, src *Source) (*image.NRGBA, error) {
	if err := r.Available(); err != nil {
		return nil, err
	}

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("image_file", "image."+src.Ext())
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err = part.Write(src.Data); err != nil {
		return nil, fmt.Errorf("write form file: %w", err)
	}
	_ = writer.WriteField("size", "auto")
	_ = writer.Close()

	var raw []byte
	reqParam := &nhttp.RequestParam{
		RequestURI: r.endpoint,
		Method:     http.MethodPost,
		Header: map[string]string{
			"Content-Type": writer.FormDataContentType(),
			"X-Api-Key":    r.apiKey,
			"Accept":       "image/png, application/json",
		},
		Body:             body,
		Response:         &raw,
		MaxResponseBytes: maxResultBytes,
		Timeout:          r.timeout,
	}
	if err = r.cli.DoHTTPRequest(ctx, reqParam); err != nil {
		return nil, classify(ctx, RemoveBGName, "remove", err)
	}

	data, err := r.result(ctx, reqParam.ResponseHeader.Get("Content-Type"), raw)
	if err != nil {
		return nil, err
	}

	r.logger.Debug("get the response", "provider", RemoveBGName, "bytes", len(data))
	return decodeSubject(RemoveBGName, data)
}

func (r *RemoveBG) result(ctx context.Context, contentType string, raw []byte) ([]byte, error) {
	if !strings.HasPrefix(contentType, "application/json") {
		return raw, nil
	}

	var res removeBGResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, errs.WithProvider(RemoveBGName, errs.Wrap(errs.KindUpstream, "remove", "malformed response", err))
	}
	if err := res.validate(); err != nil {
		return nil, errs.WithProvider(RemoveBGName, errs.Wrap(errs.KindUpstream, "remove", "malformed response", err))
	}

	if res.Data.ResultB64 != "" {
		data, err := base64.StdEncoding.DecodeString(res.Data.ResultB64)
		if err != nil {
			return nil, errs.WithProvider(RemoveBGName, errs.Wrap(errs.KindUpstream, "remove", "malformed base64 result", err))
		}
		return data, nil
	}

	data, err := util.DownloadImage(ctx, r.cli, res.Data.URL, maxResultBytes)
	if err != nil {
		if errs.Is(err, errs.KindInvalidImage) {
			err = &errs.Error{Kind: errs.KindUpstream, Op: "download result", Message: "unusable result url", Cause: err}
		}
		return nil, errs.WithProvider(RemoveBGName, err)
	}
	return data, nil
}
