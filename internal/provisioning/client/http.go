package client

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/smallbiznis/simstore/internal/config"
	"github.com/smallbiznis/simstore/internal/provisioning/domain"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
)

const (
	headerAccessCode = "RT-AccessCode"
	headerTimestamp  = "RT-Timestamp"
	headerRequestID  = "RT-RequestID"
	headerSignature  = "RT-Signature"
)

type envelope struct {
	Success   bool            `json:"success"`
	ErrorCode string          `json:"errorCode"`
	ErrorMsg  string          `json:"errorMsg"`
	Obj       json.RawMessage `json:"obj"`
}

type packageInfo struct {
	PackageCode string `json:"packageCode"`
	Count       int    `json:"count"`
	Price       int64  `json:"price"`
}

type orderBody struct {
	TransactionID   string        `json:"transactionId"`
	Amount          int64         `json:"amount"`
	PackageInfoList []packageInfo `json:"packageInfoList"`
}

type orderObj struct {
	OrderNo string `json:"orderNo"`
}

type pager struct {
	PageNum  int `json:"pageNum"`
	PageSize int `json:"pageSize"`
}

type queryBody struct {
	OrderNo string `json:"orderNo"`
	Pager   pager  `json:"pager"`
}

type esimRecord struct {
	OrderNo       string `json:"orderNo"`
	TransactionID string `json:"transactionId"`
	EsimTranNo    string `json:"esimTranNo"`
	ICCID         string `json:"iccid"`
	AC            string `json:"ac"`
	QRCodeURL     string `json:"qrCodeUrl"`
	EsimStatus    string `json:"esimStatus"`
	TotalVolume   int64  `json:"totalVolume"`
	OrderUsage    int64  `json:"orderUsage"`
	ExpiredTime   string `json:"expiredTime"`
}

type queryObj struct {
	EsimList []esimRecord `json:"esimList"`
}

type refBody struct {
	ICCID      string `json:"iccid,omitempty"`
	EsimTranNo string `json:"esimTranNo,omitempty"`
}

type usageBody struct {
	EsimTranNoList []string `json:"esimTranNoList"`
}

type usageRecord struct {
	EsimTranNo     string `json:"esimTranNo"`
	DataUsage      int64  `json:"dataUsage"`
	TotalData      int64  `json:"totalData"`
	LastUpdateTime string `json:"lastUpdateTime"`
}

type usageObj struct {
	EsimUsageList []usageRecord `json:"esimUsageList"`
}

type packageBody struct {
	PackageCode string `json:"packageCode,omitempty"`
	Type        string `json:"type"`
}

type packageRecord struct {
	PackageCode  string `json:"packageCode"`
	Name         string `json:"name"`
	Price        int64  `json:"price"`
	Volume       int64  `json:"volume"`
	Duration     int    `json:"duration"`
	DurationUnit string `json:"durationUnit"`
}

type packageObj struct {
	PackageList []packageRecord `json:"packageList"`
}

// HTTPClient talks to the provider's open API. Requests are signed with
// HMAC-SHA256 and guarded by a circuit breaker that only counts
// unavailability, not business rejections.
type HTTPClient struct {
	baseURL    string
	accessCode string
	secret     string
	client     *http.Client
	breaker    *gobreaker.CircuitBreaker[[]byte]
	log        *zap.Logger
	now        func() time.Time
}

func NewHTTPClient(cfg config.Config, log *zap.Logger) *HTTPClient {
	timeout := time.Duration(cfg.Provider.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	log = log.Named("provisioning.client")

	breaker := gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        "provisioning-provider",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !errors.Is(err, domain.ErrProviderUnavailable)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})

	return &HTTPClient{
		baseURL:    strings.TrimRight(cfg.Provider.BaseURL, "/"),
		accessCode: cfg.Provider.AccessCode,
		secret:     cfg.Provider.Secret,
		client:     &http.Client{Timeout: timeout},
		breaker:    breaker,
		log:        log,
		now:        time.Now,
	}
}

func (c *HTTPClient) Order(ctx context.Context, req domain.OrderRequest) (domain.OrderResult, error) {
	count := req.Count
	if count <= 0 {
		count = 1
	}
	body := orderBody{
		TransactionID: req.TransactionID,
		Amount:        req.PriceUnits * int64(count),
		PackageInfoList: []packageInfo{{
			PackageCode: req.PackageCode,
			Count:       count,
			Price:       req.PriceUnits,
		}},
	}
	var obj orderObj
	if err := c.call(ctx, "/esim/order", body, &obj); err != nil {
		return domain.OrderResult{}, err
	}
	return domain.OrderResult{OrderNo: strings.TrimSpace(obj.OrderNo)}, nil
}

func (c *HTTPClient) Query(ctx context.Context, orderNo string) ([]domain.Resource, error) {
	var obj queryObj
	body := queryBody{OrderNo: orderNo, Pager: pager{PageNum: 1, PageSize: 50}}
	if err := c.call(ctx, "/esim/query", body, &obj); err != nil {
		return nil, err
	}
	resources := make([]domain.Resource, 0, len(obj.EsimList))
	for _, rec := range obj.EsimList {
		if strings.TrimSpace(rec.ICCID) == "" {
			continue
		}
		resources = append(resources, domain.Resource{
			OrderNo:        rec.OrderNo,
			TransactionID:  rec.TransactionID,
			TranNo:         rec.EsimTranNo,
			ICCID:          rec.ICCID,
			ActivationCode: rec.AC,
			QRCodeURL:      rec.QRCodeURL,
			Status:         rec.EsimStatus,
			TotalBytes:     rec.TotalVolume,
			UsedBytes:      rec.OrderUsage,
			ExpiresAt:      parseProviderTime(rec.ExpiredTime),
		})
	}
	return resources, nil
}

func (c *HTTPClient) Suspend(ctx context.Context, ref domain.ResourceRef) error {
	return c.call(ctx, "/esim/suspend", refBody{ICCID: ref.ICCID, EsimTranNo: ref.TranNo}, nil)
}

func (c *HTTPClient) Unsuspend(ctx context.Context, ref domain.ResourceRef) error {
	return c.call(ctx, "/esim/unsuspend", refBody{ICCID: ref.ICCID, EsimTranNo: ref.TranNo}, nil)
}

func (c *HTTPClient) Revoke(ctx context.Context, ref domain.ResourceRef) error {
	return c.call(ctx, "/esim/revoke", refBody{ICCID: ref.ICCID, EsimTranNo: ref.TranNo}, nil)
}

func (c *HTTPClient) Usage(ctx context.Context, tranNos []string) ([]domain.Usage, error) {
	if len(tranNos) == 0 {
		return nil, nil
	}
	var obj usageObj
	if err := c.call(ctx, "/esim/usage/query", usageBody{EsimTranNoList: tranNos}, &obj); err != nil {
		return nil, err
	}
	usages := make([]domain.Usage, 0, len(obj.EsimUsageList))
	for _, rec := range obj.EsimUsageList {
		usages = append(usages, domain.Usage{
			TranNo:     rec.EsimTranNo,
			UsedBytes:  rec.DataUsage,
			TotalBytes: rec.TotalData,
			UpdatedAt:  parseProviderTime(rec.LastUpdateTime),
		})
	}
	return usages, nil
}

func (c *HTTPClient) Packages(ctx context.Context, packageCode string) ([]domain.Package, error) {
	var obj packageObj
	if err := c.call(ctx, "/package/list", packageBody{PackageCode: packageCode, Type: "BASE"}, &obj); err != nil {
		return nil, err
	}
	packages := make([]domain.Package, 0, len(obj.PackageList))
	for _, rec := range obj.PackageList {
		days := rec.Duration
		if strings.EqualFold(rec.DurationUnit, "MONTH") {
			days = rec.Duration * 30
		}
		packages = append(packages, domain.Package{
			Code:         rec.PackageCode,
			Name:         rec.Name,
			PriceUnits:   rec.Price,
			VolumeBytes:  rec.Volume,
			DurationDays: days,
		})
	}
	return packages, nil
}

func (c *HTTPClient) call(ctx context.Context, path string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}

	raw, err := c.breaker.Execute(func() ([]byte, error) {
		return c.do(ctx, path, payload)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return fmt.Errorf("%w: %v", domain.ErrProviderUnavailable, err)
		}
		return err
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("%w: decode %s: %v", domain.ErrProviderUnavailable, path, err)
	}
	if !env.Success {
		return fmt.Errorf("%w: %s %s", domain.ErrProviderRejected, env.ErrorCode, env.ErrorMsg)
	}
	if out == nil || len(env.Obj) == 0 || string(env.Obj) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Obj, out); err != nil {
		return fmt.Errorf("%w: decode %s obj: %v", domain.ErrProviderUnavailable, path, err)
	}
	return nil
}

func (c *HTTPClient) do(ctx context.Context, path string, payload []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	timestamp := strconv.FormatInt(c.now().UnixMilli(), 10)
	requestID := uuid.NewString()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(headerAccessCode, c.accessCode)
	req.Header.Set(headerTimestamp, timestamp)
	req.Header.Set(headerRequestID, requestID)
	req.Header.Set(headerSignature, Sign(c.secret, timestamp, requestID, c.accessCode, payload))

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrProviderUnavailable, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", domain.ErrProviderUnavailable, path, err)
	}
	switch {
	case resp.StatusCode >= http.StatusInternalServerError || resp.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("%w: %s status %d", domain.ErrProviderUnavailable, path, resp.StatusCode)
	case resp.StatusCode >= http.StatusBadRequest:
		return nil, fmt.Errorf("%w: %s status %d", domain.ErrProviderRejected, path, resp.StatusCode)
	}
	return raw, nil
}

// Sign computes the request signature: hex(HMAC-SHA256(secret,
// timestamp + requestID + accessCode + body)), upper-cased.
func Sign(secret, timestamp, requestID, accessCode string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte(requestID))
	mac.Write([]byte(accessCode))
	mac.Write(body)
	return strings.ToUpper(hex.EncodeToString(mac.Sum(nil)))
}

func parseProviderTime(value string) *time.Time {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05-0700", "2006-01-02 15:04:05"} {
		if parsed, err := time.Parse(layout, value); err == nil {
			utc := parsed.UTC()
			return &utc
		}
	}
	return nil
}
