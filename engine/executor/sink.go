package executor

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/flowcraft/flowengine/engine"
)

// SinkType is the Data["sinkType"] discriminator a sink node carries.
type SinkType string

const (
	SinkOutput       SinkType = "output"
	SinkWebhook      SinkType = "webhook"
	SinkDatabase     SinkType = "database"
	SinkNotification SinkType = "notification"
)

const webhookTimeout = 10 * time.Second

// identifierRe matches a safe SQL table/column identifier: letters, digits,
// underscores, not starting with a digit. Anything else is rejected rather
// than interpolated into a query string.
var identifierRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// SinkExecutor implements engine.Executor for engine.KindSinkNode across
// its four variants. DB is optional: only the "database" variant
// uses it, and a nil DB makes that variant fail with RESOURCE_NOT_FOUND
// rather than panicking.
type SinkExecutor struct {
	HTTPClient *http.Client
	DB         *sql.DB
}

// NewSinkExecutor returns a sink executor. db may be nil if no flow in this
// process uses the database sink variant.
func NewSinkExecutor(db *sql.DB) *SinkExecutor {
	return &SinkExecutor{HTTPClient: &http.Client{Timeout: webhookTimeout}, DB: db}
}

// Execute dispatches to the configured sinkType.
func (s *SinkExecutor) Execute(node *engine.Node, input interface{}, ec *engine.ExecContext) (interface{}, error) {
	if e := wrapCancelled(ec, node.NodeID); e != nil {
		return nil, e
	}

	switch SinkType(getString(node.Data, "sinkType")) {
	case SinkWebhook:
		return s.webhook(node, input, ec)
	case SinkDatabase:
		return s.database(node, input, ec)
	case SinkNotification:
		return s.notification(node, input, ec)
	case SinkOutput, "":
		return input, nil
	default:
		return nil, engine.New(engine.KindValidationFailed, "unknown sink type", errContext(ec, node.NodeID))
	}
}

// webhookResult is the {delivered, statusCode?} shape a webhook sink returns.
type webhookResult struct {
	Delivered  bool `json:"delivered"`
	StatusCode int  `json:"statusCode,omitempty"`
}

func (s *SinkExecutor) webhook(node *engine.Node, input interface{}, ec *engine.ExecContext) (interface{}, error) {
	ctx := errContext(ec, node.NodeID)
	target := getString(node.Data, "target")
	if target == "" {
		return nil, engine.New(engine.KindValidationFailed, "webhook sink missing target url", ctx)
	}
	if err := rejectUnsafeHost(target); err != nil {
		return nil, engine.New(engine.KindValidationFailed, err.Error(), ctx)
	}

	body, err := json.Marshal(input)
	if err != nil {
		return nil, engine.Wrap(engine.KindExecutionFailed, err, ctx)
	}

	reqCtx, cancel := context.WithTimeout(ec.Context, webhookTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return nil, engine.Wrap(engine.KindInvalidInput, err, ctx)
	}
	req.Header.Set("Content-Type", "application/json")

	if secret := getString(node.Data, "signingSecret"); secret != "" {
		mac := hmac.New(sha256.New, []byte(secret))
		mac.Write(body)
		req.Header.Set("X-FlowEngine-Signature", "sha256="+hex.EncodeToString(mac.Sum(nil)))
	}

	resp, err := s.HTTPClient.Do(req)
	if err != nil {
		return webhookResult{Delivered: false}, engine.Adapt(err, ctx)
	}
	defer resp.Body.Close()

	return webhookResult{Delivered: resp.StatusCode >= 200 && resp.StatusCode < 300, StatusCode: resp.StatusCode}, nil
}

// rejectUnsafeHost denies webhook targets resolving to loopback, private, or
// link-local ranges, guarding against SSRF into the cluster's internal
// network.
func rejectUnsafeHost(rawURL string) error {
	host := rawURL
	if idx := strings.Index(rawURL, "://"); idx >= 0 {
		host = rawURL[idx+3:]
	}
	if idx := strings.IndexAny(host, "/:"); idx >= 0 {
		host = host[:idx]
	}
	if host == "" {
		return fmt.Errorf("webhook target has no host")
	}

	ips, err := net.LookupIP(host)
	if err != nil {
		if ip := net.ParseIP(host); ip != nil {
			ips = []net.IP{ip}
		} else {
			return fmt.Errorf("webhook target host %q could not be resolved", host)
		}
	}
	for _, ip := range ips {
		if ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() || ip.IsUnspecified() {
			return fmt.Errorf("webhook target resolves to a private or internal address")
		}
	}
	return nil
}

func (s *SinkExecutor) database(node *engine.Node, input interface{}, ec *engine.ExecContext) (interface{}, error) {
	ctx := errContext(ec, node.NodeID)
	if s.DB == nil {
		return nil, engine.New(engine.KindResourceNotFound, "database sink configured with no database connection", ctx)
	}

	table := getString(node.Data, "target")
	if !identifierRe.MatchString(table) {
		return nil, engine.New(engine.KindValidationFailed, "database sink target is not a valid table identifier", ctx)
	}

	row, ok := input.(map[string]interface{})
	if !ok {
		return nil, engine.New(engine.KindInvalidInput, "database sink requires a map input to insert as columns", ctx)
	}

	columns := make([]string, 0, len(row))
	placeholders := make([]string, 0, len(row))
	values := make([]interface{}, 0, len(row))
	for col, val := range row {
		if !identifierRe.MatchString(col) {
			return nil, engine.New(engine.KindValidationFailed, fmt.Sprintf("column %q is not a valid identifier", col), ctx)
		}
		columns = append(columns, col)
		placeholders = append(placeholders, "?")
		values = append(values, val)
	}

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", table, strings.Join(columns, ", "), strings.Join(placeholders, ", "))
	if _, err := s.DB.ExecContext(ec.Context, query, values...); err != nil {
		return nil, engine.Wrap(engine.KindExecutionFailed, err, ctx)
	}
	return map[string]interface{}{"inserted": true, "table": table}, nil
}

func (s *SinkExecutor) notification(node *engine.Node, input interface{}, ec *engine.ExecContext) (interface{}, error) {
	// Notification delivery (email/SMS/push) is an external collaborator;
	// this records the intent through the event stream rather than wiring
	// a concrete provider.
	_ = ec.Emitter.Emit(ec.Context, engine.EventNodeStream, map[string]interface{}{
		"nodeId": node.NodeID, "notification": input,
	})
	return map[string]interface{}{"notified": true}, nil
}
