package sippy

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/didport/didport/internal/config"
	"github.com/didport/didport/internal/sippy/domain"
	"go.uber.org/zap"
)

// Client is an XML-RPC client for the external billing ledger.
type Client struct {
	endpoint string
	username string
	password string
	http     *http.Client
	log      *zap.Logger
}

// NewLedger builds the ledger client when credentials are configured. Without
// credentials the portal still runs: debits are recorded as failed billing
// rows and credits surface as needing manual processing.
func NewLedger(cfg config.Config, log *zap.Logger) (domain.Client, error) {
	if cfg.Sippy.Endpoint == "" || cfg.Sippy.Username == "" {
		log.Warn("ledger credentials not configured, money movement is disabled")
		return nil, nil
	}
	return NewClient(cfg, log)
}

func NewClient(cfg config.Config, log *zap.Logger) (*Client, error) {
	sippyCfg := cfg.Sippy
	if sippyCfg.Endpoint == "" || sippyCfg.Username == "" {
		return nil, domain.ErrMissingCredentials
	}

	timeout := time.Duration(sippyCfg.Timeout) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &Client{
		endpoint: sippyCfg.Endpoint,
		username: sippyCfg.Username,
		password: sippyCfg.Password,
		http:     &http.Client{Timeout: timeout},
		log:      log.Named("sippy.client"),
	}, nil
}

func (c *Client) GetAccountInfo(ctx context.Context, accountID int64) (*domain.AccountInfo, error) {
	result, err := c.call(ctx, "getAccountInfo", map[string]any{
		"i_account": accountID,
	})
	if err != nil {
		return nil, err
	}

	info := &domain.AccountInfo{
		PreferredCurrency: firstString(result, "payment_currency", "base_currency"),
	}
	if balance, ok := result["balance"]; ok {
		info.Balance = toFloat(balance)
	}
	if blocked, ok := result["blocked"]; ok {
		info.Blocked = toFloat(blocked) != 0
	}
	return info, nil
}

func (c *Client) AccountDebit(ctx context.Context, accountID int64, amount float64, currency string, note string) (domain.Result, error) {
	return c.call(ctx, "accountDebit", map[string]any{
		"i_account":     accountID,
		"amount":        amount,
		"currency":      strings.ToUpper(strings.TrimSpace(currency)),
		"payment_notes": note,
	})
}

func (c *Client) AccountCredit(ctx context.Context, accountID int64, amount float64, currency string, note string) (domain.Result, error) {
	return c.call(ctx, "accountAddFunds", map[string]any{
		"i_account":     accountID,
		"amount":        amount,
		"currency":      strings.ToUpper(strings.TrimSpace(currency)),
		"payment_notes": note,
	})
}

func (c *Client) call(ctx context.Context, method string, params map[string]any) (domain.Result, error) {
	body := encodeMethodCall(method, c.username, c.password, params)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "text/xml")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	c.log.Debug("ledger call completed",
		zap.String("method", method),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(start)),
	)

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: http %d", domain.ErrBadResponse, resp.StatusCode)
	}
	return decodeMethodResponse(raw)
}

// encodeMethodCall renders an XML-RPC methodCall with a single struct param.
// Keys are emitted in sorted order so payloads are stable for logging and tests.
func encodeMethodCall(method, username, password string, params map[string]any) []byte {
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	buf.WriteString("<methodCall><methodName>")
	_ = xml.EscapeText(&buf, []byte(method))
	buf.WriteString("</methodName><params><param><value><struct>")

	merged := map[string]any{
		"username": username,
		"password": password,
	}
	for key, value := range params {
		merged[key] = value
	}

	keys := make([]string, 0, len(merged))
	for key := range merged {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		buf.WriteString("<member><name>")
		_ = xml.EscapeText(&buf, []byte(key))
		buf.WriteString("</name>")
		writeValue(&buf, merged[key])
		buf.WriteString("</member>")
	}

	buf.WriteString("</struct></value></param></params></methodCall>")
	return buf.Bytes()
}

func writeValue(buf *bytes.Buffer, value any) {
	buf.WriteString("<value>")
	switch cast := value.(type) {
	case int:
		fmt.Fprintf(buf, "<int>%d</int>", cast)
	case int64:
		fmt.Fprintf(buf, "<int>%d</int>", cast)
	case float64:
		fmt.Fprintf(buf, "<double>%s</double>", strconv.FormatFloat(cast, 'f', -1, 64))
	case bool:
		if cast {
			buf.WriteString("<boolean>1</boolean>")
		} else {
			buf.WriteString("<boolean>0</boolean>")
		}
	default:
		buf.WriteString("<string>")
		_ = xml.EscapeText(buf, []byte(fmt.Sprintf("%v", cast)))
		buf.WriteString("</string>")
	}
	buf.WriteString("</value>")
}

type methodResponse struct {
	XMLName xml.Name `xml:"methodResponse"`
	Params  struct {
		Param struct {
			Value xmlValue `xml:"value"`
		} `xml:"param"`
	} `xml:"params"`
	Fault *struct {
		Value xmlValue `xml:"value"`
	} `xml:"fault"`
}

type xmlValue struct {
	Int     *string    `xml:"int"`
	I4      *string    `xml:"i4"`
	Double  *string    `xml:"double"`
	Boolean *string    `xml:"boolean"`
	Str     *string    `xml:"string"`
	Struct  *xmlStruct `xml:"struct"`
	Raw     string     `xml:",chardata"`
}

type xmlStruct struct {
	Members []xmlMember `xml:"member"`
}

type xmlMember struct {
	Name  string   `xml:"name"`
	Value xmlValue `xml:"value"`
}

func decodeMethodResponse(raw []byte) (domain.Result, error) {
	var resp methodResponse
	if err := xml.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrBadResponse, err)
	}

	if resp.Fault != nil {
		fault := valueToMap(resp.Fault.Value)
		return nil, fmt.Errorf("%w: %v %v", domain.ErrFault, fault["faultCode"], fault["faultString"])
	}

	value := resp.Params.Param.Value
	if value.Struct == nil {
		return domain.Result{"result": valueToGo(value)}, nil
	}
	return valueToMap(value), nil
}

func valueToMap(value xmlValue) domain.Result {
	out := domain.Result{}
	if value.Struct == nil {
		return out
	}
	for _, member := range value.Struct.Members {
		out[member.Name] = valueToGo(member.Value)
	}
	return out
}

func valueToGo(value xmlValue) any {
	switch {
	case value.Int != nil:
		parsed, err := strconv.ParseInt(strings.TrimSpace(*value.Int), 10, 64)
		if err == nil {
			return parsed
		}
		return *value.Int
	case value.I4 != nil:
		parsed, err := strconv.ParseInt(strings.TrimSpace(*value.I4), 10, 64)
		if err == nil {
			return parsed
		}
		return *value.I4
	case value.Double != nil:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(*value.Double), 64)
		if err == nil {
			return parsed
		}
		return *value.Double
	case value.Boolean != nil:
		return strings.TrimSpace(*value.Boolean) == "1"
	case value.Str != nil:
		return *value.Str
	case value.Struct != nil:
		return valueToMap(value)
	default:
		// Untyped values are strings per the XML-RPC spec.
		return strings.TrimSpace(value.Raw)
	}
}

func toFloat(value any) float64 {
	switch cast := value.(type) {
	case float64:
		return cast
	case int64:
		return float64(cast)
	case int:
		return float64(cast)
	case bool:
		if cast {
			return 1
		}
		return 0
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(cast), 64)
		if err == nil {
			return parsed
		}
	}
	return 0
}
