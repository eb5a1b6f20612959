package notify

import (
    "context"
    "encoding/json"
    "fmt"
    "strings"
    "sync"
    "time"

    "github.com/go-resty/resty/v2"

    "amaksub.vtu/internal/logging"
)

// Alert tells the operator that a purchase needs attention. Payload is the
// raw vendor answer.
type Alert struct {
    UserName   string          `json:"user_name"`
    UserEmail  string          `json:"user_email"`
    Vendor     string          `json:"vendor"`
    APIKeyHint string          `json:"api_key_hint"`
    Service    string          `json:"service"`
    OrderID    string          `json:"order_id"`
    Kind       string          `json:"kind"`
    Message    string          `json:"message"`
    Payload    json.RawMessage `json:"payload,omitempty"`
}

type Notifier interface {
    Notify(ctx context.Context, alert Alert) error
}

// EmailFunction posts alerts to the serverless e-mail function.
type EmailFunction struct {
    client    *resty.Client
    url       string
    recipient string
}

func NewEmailFunction(url, token, recipient string) *EmailFunction {
    return &EmailFunction{
        client:    resty.New().SetAuthToken(token).SetHeader("Content-Type", "application/json"),
        url:       url,
        recipient: recipient,
    }
}

type emailRequest struct {
    To      string `json:"to"`
    Subject string `json:"subject"`
    Text    string `json:"text"`
    Alert   Alert  `json:"alert"`
}

func (e *EmailFunction) Notify(ctx context.Context, alert Alert) error {
    resp, err := e.client.R().
        SetContext(ctx).
        SetBody(emailRequest{
            To:      e.recipient,
            Subject: fmt.Sprintf("[%s] %s purchase %s", alert.Kind, alert.Service, alert.OrderID),
            Text:    renderText(alert),
            Alert:   alert,
        }).
        Post(e.url)
    if err != nil {
        return fmt.Errorf("send alert: %w", err)
    }
    if resp.IsError() {
        return fmt.Errorf("send alert: status %d", resp.StatusCode())
    }
    return nil
}

func renderText(a Alert) string {
    var b strings.Builder
    fmt.Fprintf(&b, "User: %s <%s>\n", a.UserName, a.UserEmail)
    fmt.Fprintf(&b, "Vendor: %s (key %s)\n", a.Vendor, a.APIKeyHint)
    fmt.Fprintf(&b, "Service: %s\n", a.Service)
    fmt.Fprintf(&b, "Order: %s\n", a.OrderID)
    fmt.Fprintf(&b, "Error: %s: %s\n", a.Kind, a.Message)
    if len(a.Payload) > 0 {
        fmt.Fprintf(&b, "Vendor response: %s\n", a.Payload)
    }
    return b.String()
}

// Dispatcher delivers alerts in the background. Fire never blocks the caller
// and delivery errors are only logged.
type Dispatcher struct {
    notifier Notifier
    timeout  time.Duration
    logger   logging.Logger
    wg       sync.WaitGroup
}

// NewDispatcher accepts a nil notifier, in which case alerts are only logged.
func NewDispatcher(n Notifier, timeout time.Duration, logger logging.Logger) *Dispatcher {
    if timeout <= 0 {
        timeout = 10 * time.Second
    }
    return &Dispatcher{
        notifier: n,
        timeout:  timeout,
        logger:   logging.OrNop(logger),
    }
}

func (d *Dispatcher) Fire(alert Alert) {
    logging.Event(d.logger, "operator_alert", map[string]any{
        "kind":     alert.Kind,
        "vendor":   alert.Vendor,
        "service":  alert.Service,
        "order_id": alert.OrderID,
    })
    if d.notifier == nil {
        return
    }

    d.wg.Add(1)
    go func() {
        defer d.wg.Done()
        ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
        defer cancel()
        if err := d.notifier.Notify(ctx, alert); err != nil {
            logging.Event(d.logger, "operator_alert_failed", map[string]any{
                "order_id": alert.OrderID,
                "error":    err.Error(),
            })
        }
    }()
}

// Wait blocks until in-flight alerts finish or time out.
func (d *Dispatcher) Wait() {
    d.wg.Wait()
}

// MaskKey keeps the first and last four characters.
func MaskKey(key string) string {
    if len(key) <= 8 {
        return strings.Repeat("*", len(key))
    }
    return key[:4] + strings.Repeat("*", len(key)-8) + key[len(key)-4:]
}
